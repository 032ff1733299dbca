package backend

import (
	"context"
	"errors"
)

// ErrTransient wraps a backend failure the caller should treat as
// retryable rather than a permanent error. Drivers are not required to use
// this wrapper, but doing so lets the persistence pipeline's backoff
// policy distinguish "try again" from a hard failure.
var ErrTransient = errors.New("backend: transient failure")

// Store is the uniform interface the lifecycle manager and persistence
// pipeline use to reach the durable backend. Every operation is scoped to
// a (collection, id) pair derived from a key's leading "collection:" token
// (the core, not the driver, performs that parse).
type Store interface {
	// Start prepares the driver for use (opening files, dialing a
	// server, etc). Called once per shard, before any Get/Set/Del/Drop.
	Start(ctx context.Context) error

	// Stop releases driver resources. Idempotent after the first call.
	Stop(ctx context.Context) error

	// Get returns the document stored at (collection, id). found is
	// false — with a nil doc and nil err — when the key has never been
	// written or has been deleted; that is distinct from an empty but
	// present document, which returns found=true with an empty byte
	// slice.
	Get(ctx context.Context, collection, id string) (doc []byte, found bool, err error)

	// Set stores doc at (collection, id), overwriting any existing
	// value. Idempotent.
	Set(ctx context.Context, collection, id string, doc []byte) error

	// Del removes (collection, id). Deleting an absent key is success.
	Del(ctx context.Context, collection, id string) error

	// Drop removes every document in collection. Used only by the test
	// harness.
	Drop(ctx context.Context, collection string) error
}

// Stats reports point-in-time driver statistics for monitoring; not part
// of the core Store contract but implemented by every driver here.
type Stats struct {
	Collections int
	Keys        int
	Bytes       int
}

// StatsProvider is optionally implemented by a Store driver that can
// report Stats cheaply.
type StatsProvider interface {
	Stats(ctx context.Context) (Stats, error)
}
