// Package cacheerr defines the error kinds produced by the document cache
// core, as distinct Go types so callers can discriminate with errors.As
// instead of string matching.
//
// # Overview
//
// Four kinds are produced by the lifecycle manager and persistence
// pipeline:
//
//	ContractViolation  - caller broke a precondition; synchronous, never retried
//	BackendUnavailable - transient backend I/O failure; retried internally first
//	LockLost           - the coordinator lock expired before a write was flushed
//	Shutdown           - the shard is stopping; new Lock/Find calls fail fast
//
// Errors on commit/rollback/find/lock propagate to the caller unchanged.
// Errors during background unload or persistence are logged and surfaced
// through the shard's error channel instead (see pkg/cache), so they never
// corrupt local state silently.
package cacheerr
