// Package lifecycle implements the document lifecycle manager: the state
// machine that mediates every transition of a slot.Slot, and the
// cross-shard ownership protocol layered on top of a coord.Coordinator.
// This is the core the rest of the module is built around.
//
// # Overview
//
// The manager exposes seven entry points: Lock, Find, Insert, Update,
// Remove, Commit, Rollback — plus the test/ops introspection hooks
// IsLoaded and SaveAll. Lock and Find share a residency-acquisition path
// (load on first touch, wait behind an in-progress unload); Insert/
// Update/Remove/Commit/Rollback all require the caller to already hold
// the slot's write lease.
//
// # Concurrency
//
// Structural changes to the slot table happen under the table's lock;
// everything else happens under the individual slot's lock, so two
// different keys never contend with each other. Three background
// goroutines run for the lifetime of a started manager: a lock renewer
// (ticking at autoUnlockTimeout/3), an idle-timeout sweep, and the
// release-request subscription handler.
//
// # Consistency safety net
//
// Two paths can discover that this shard no longer actually holds a key's
// coordinator lock: the renewer, proactively, on its next tick; and
// SaveAll, which re-verifies before every flush. Both call the same
// forceEvict, which discards the slot's local mutations without writing
// them — a narrow, accepted data-loss window.
package lifecycle
