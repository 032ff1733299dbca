// Package cache is the public API of a torua-cache shard: a single Go
// process's embeddable document cache, composing internal/lifecycle, a
// chosen internal/backend driver, and a chosen internal/coord driver
// behind Lock/Find/Insert/Update/Remove/Commit/Rollback.
//
// A typical embedder builds a Store once at process startup:
//
//	store, err := cache.Open(ctx, cfg, cache.WithLogger(logger))
//	defer store.Close(ctx)
//
//	if err := store.Lock(ctx, connID, "users:42"); err != nil { ... }
//	defer store.Commit(ctx, connID, "users:42")
//	doc, err := store.Find(ctx, connID, "users:42", "")
//	_, err = store.Update(ctx, connID, "users:42", cache.Document{"age": 31})
package cache
