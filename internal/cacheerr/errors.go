package cacheerr

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Kind identifies one of the four error categories the core produces.
type Kind string

const (
	// KindContractViolation marks a caller precondition failure, e.g.
	// insert without holding the lock, or update on an absent document.
	KindContractViolation Kind = "contract_violation"

	// KindBackendUnavailable marks a transient backend I/O failure that
	// has exhausted its internal retry budget.
	KindBackendUnavailable Kind = "backend_unavailable"

	// KindLockLost marks a coordinator lock that expired before a
	// pending write could be flushed; affected keys are force-evicted.
	KindLockLost Kind = "lock_lost"

	// KindShutdown marks a call made after Stop() began draining.
	KindShutdown Kind = "shutdown"
)

// Error is the concrete error type for all four kinds. Key is empty for
// errors not tied to a specific document key.
type Error struct {
	Err  error
	Key  string
	Kind Kind
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s[%s]: %v", e.Kind, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, cacheerr.KindLockLost) style checks by
// comparing kinds when the target is itself a *Error with no wrapped
// cause, matching the common "is this a LockLost error" query.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Err == nil
}

// ContractViolation builds a synchronous, non-retried precondition error.
func ContractViolation(key, format string, args ...any) error {
	return &Error{Kind: KindContractViolation, Key: key, Err: fmt.Errorf(format, args...)}
}

// BackendUnavailable wraps a transient backend I/O failure that has
// exhausted retries and must now be surfaced to the caller.
func BackendUnavailable(key string, cause error) error {
	return &Error{Kind: KindBackendUnavailable, Key: key, Err: cause}
}

// Shutdown builds the fail-fast error that Lock and Find return, including
// while blocked waiting, once Stop() has begun draining. Insert, Update,
// Remove, Commit and Rollback do not check for shutdown; once Stop has
// removed a key's slot they fail with a ContractViolation instead.
func Shutdown() error {
	return &Error{Kind: KindShutdown, Err: fmt.Errorf("shard is stopping")}
}

// LockLostSet aggregates the keys whose coordinator lock was discovered
// to be lost during a save cycle, naming every affected key in one
// multierror rather than failing the whole batch opaquely (see
// DESIGN.md).
type LockLostSet struct {
	errs *multierror.Error
	Keys []string
}

// NewLockLostSet returns an empty set ready to accumulate lost keys.
func NewLockLostSet() *LockLostSet {
	return &LockLostSet{errs: &multierror.Error{}}
}

// Add records that key's coordinator lock was lost before its dirty write
// could be flushed, and that the slot was force-evicted as a result.
func (s *LockLostSet) Add(key string, cause error) {
	s.Keys = append(s.Keys, key)
	s.errs = multierror.Append(s.errs, &Error{Kind: KindLockLost, Key: key, Err: cause})
}

// Empty reports whether any key was lost.
func (s *LockLostSet) Empty() bool { return len(s.Keys) == 0 }

// Err returns nil if no key was lost, or an aggregated error naming every
// lost key otherwise.
func (s *LockLostSet) Err() error {
	if s.Empty() {
		return nil
	}
	return s.errs.ErrorOrNil()
}
