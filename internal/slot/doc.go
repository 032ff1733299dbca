// Package slot implements the in-memory residency unit for one cached
// document key, and the per-shard table that maps key to *Slot.
//
// # Overview
//
// A Slot is the unit of in-memory residency for one document key: it
// holds the current (possibly uncommitted) document, a shadow for
// rollback, the connection currently holding the write lease, a lifecycle
// state, and a FIFO queue of pending lock acquisitions. All transitions of
// these fields are driven exclusively by internal/lifecycle; this package
// only provides the data structure and its synchronization primitives —
// not the state machine itself.
//
// # Lifecycle
//
//	absent → Loading → Loaded → (... mutations ...) → Unloading → Unloaded → absent
//
// # Concurrency
//
// Each Slot carries its own mutex, so field mutations for different keys
// never contend: every key gets its own serialized scheduler rather than
// one lock shared by the whole table. Waiters are served FIFO via a
// github.com/gammazero/deque-backed queue, woken with closed channels
// rather than polled.
package slot
