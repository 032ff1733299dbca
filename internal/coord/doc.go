// Package coord defines the coordination-service client interface the
// lifecycle manager uses to arbitrate per-key ownership across shards, and
// the driver variants that implement it.
//
// # Overview
//
// coord.Coordinator wraps six operations: lock, unlock, renew,
// requestRelease, subscribe, forceUnlock. Two drivers ship with this
// module:
//
//	memcoord  - in-process, mutex-guarded map plus channel pub/sub;
//	            used by unit tests and by multiple in-process shards
//	            that want to exercise the cross-shard protocol without
//	            a live coordination service.
//	etcdcoord - backed by go.etcd.io/etcd/client/v3: lock is a
//	            lease-scoped transactional put, unlock is a
//	            compare-and-delete, renew is a lease keep-alive, and
//	            requestRelease/subscribe ride etcd's Watch API.
//
// The coordinator lock's ttl is the shard's autoUnlockTimeout; expiration
// without an explicit unlock means the owner is presumed hung, handled by
// the peer's force-unlock path and the owner's own consistency safety
// net.
package coord
