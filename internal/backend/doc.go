// Package backend defines the durable document store interface the
// lifecycle manager persists dirty slots through, and the driver variants
// that implement it.
//
// # Overview
//
// backend.Store is intentionally narrow — start/stop/get/set/del/drop —
// so the core never depends on a specific storage engine. Three drivers
// ship with this module:
//
//	memstore   - in-memory map, the zero-dependency default for tests
//	boltstore  - github.com/etcd-io/bbolt, a single-file key/value store
//	badgerstore - github.com/dgraph-io/badger, an LSM-backed document store
//
// All three are bucketed/keyed by (collection, id), matching the core's
// key model of "collection:id": the core parses only the leading
// collection token to route I/O.
//
// # Thread safety
//
// Implementations must be safe for concurrent Get/Set/Del/Drop calls; the
// lifecycle manager only ever serializes access to a single key's slot,
// not to the backend itself, since multiple keys in different collections
// may be flushed by the persistence pipeline concurrently.
package backend
