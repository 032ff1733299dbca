package coord

import (
	"context"
	"time"
)

// Coordinator is the per-shard client to the shared coordination service.
// All operations are atomic from the perspective of competing shards;
// implementations must not allow two Lock calls for the same key to both
// report held=true.
type Coordinator interface {
	// Lock attempts an atomic "set if absent" of key's ownership record
	// to ownerID, with the given expiry. held is true on success.
	// Otherwise held is false and currentHolder names the existing
	// owner (if known).
	Lock(ctx context.Context, key, ownerID string, ttl time.Duration) (held bool, currentHolder string, err error)

	// Unlock performs an atomic compare-and-delete: the ownership
	// record is removed only if it still names ownerID. Returns
	// ErrNotHolder if another owner has since taken the key (the lock
	// expired and was seized by a different owner in the meantime).
	Unlock(ctx context.Context, key, ownerID string) error

	// Renew extends key's ownership record expiry to ttl from now, iff
	// it still names ownerID. Returns ErrNotHolder otherwise.
	Renew(ctx context.Context, key, ownerID string, ttl time.Duration) error

	// RequestRelease publishes a release request for key, asking
	// whichever shard currently owns it to begin an unload.
	RequestRelease(ctx context.Context, key string) error

	// Subscribe delivers every RequestRelease publish for a key sharing
	// prefix to handler, until the returned cancel func is called or ctx
	// is done. handler is invoked with the full key, not the prefix.
	Subscribe(ctx context.Context, prefix string, handler func(key string)) (cancel func(), err error)

	// ForceUnlock unconditionally removes key's ownership record,
	// regardless of current holder. Used by a peer that has waited past
	// autoUnlockTimeout for an unresponsive owner.
	ForceUnlock(ctx context.Context, key string) error
}

// ErrNotHolder is returned by Unlock/Renew when the caller no longer (or
// never did) hold the named key's ownership record.
type ErrNotHolder struct {
	Key           string
	CurrentHolder string
}

func (e *ErrNotHolder) Error() string {
	if e.CurrentHolder == "" {
		return "coord: not the current holder of " + e.Key
	}
	return "coord: not the current holder of " + e.Key + " (held by " + e.CurrentHolder + ")"
}
