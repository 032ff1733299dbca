// Package integration exercises multiple shard instances coordinating
// over a shared lock service in one process, in place of torua's
// subprocess-spawning harness: this module's shards are library-embedded,
// not standalone binaries talking HTTP to each other.
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/torua-cache/internal/backend"
	"github.com/dreamware/torua-cache/internal/backend/memstore"
	"github.com/dreamware/torua-cache/internal/config"
	"github.com/dreamware/torua-cache/internal/coord"
	"github.com/dreamware/torua-cache/internal/coord/memcoord"
	"github.com/dreamware/torua-cache/pkg/cache"
)

// openShard opens a Store sharing backend and coordinator with every
// other shard opened against the same pair, the in-process equivalent of
// several shard processes pointed at the same durable store and the same
// coordination service.
func openShard(t *testing.T, shardID string, sharedBackend backend.Store, sharedCoordinator coord.Coordinator) *cache.Store {
	t.Helper()
	cfg := config.Default()
	cfg.ShardID = shardID
	cfg.UnloadDelay = 20 * time.Millisecond
	cfg.AutoUnlockTimeout = 100 * time.Millisecond
	cfg.PersistInterval = 50 * time.Millisecond

	store, err := cache.Open(context.Background(), cfg,
		cache.WithLogger(zerolog.Nop()),
		cache.WithBackend(sharedBackend),
		cache.WithCoordinator(sharedCoordinator),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

// TestCrossShardOwnershipHandoff exercises the core cross-shard invariant:
// at most one shard owns an active copy of a key, and a second shard's
// lock request for a key another shard is writing blocks until the first
// shard releases it, then sees that shard's committed write.
func TestCrossShardOwnershipHandoff(t *testing.T) {
	ctx := context.Background()

	sharedBackend := memstore.New()
	sharedCoordinator := memcoord.New()
	shardA := openShard(t, "shard-a", sharedBackend, sharedCoordinator)
	shardB := openShard(t, "shard-b", sharedBackend, sharedCoordinator)

	connA, connB := cache.NewConnID(), cache.NewConnID()

	require.NoError(t, shardA.Lock(ctx, connA, "order:42"))
	require.NoError(t, shardA.Insert(ctx, connA, "order:42", cache.Document{"status": "pending"}))

	lockedB := make(chan error, 1)
	go func() { lockedB <- shardB.Lock(ctx, connB, "order:42") }()

	select {
	case <-lockedB:
		t.Fatal("expected shard-b's Lock to block while shard-a holds order:42")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, shardA.Commit(ctx, connA, "order:42"))

	select {
	case err := <-lockedB:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for shard-b to acquire order:42 after shard-a committed")
	}

	doc, err := shardB.Find(ctx, connB, "order:42", "")
	require.NoError(t, err)
	require.Equal(t, cache.Document{"status": "pending"}, doc)

	require.NoError(t, shardB.Commit(ctx, connB, "order:42"))
}

// TestHungPeerIsForceUnlockedByAnotherShard covers a shard that locks a
// key and never releases it (simulating a hang): it must
// not block other shards forever — a waiting shard force-unlocks it once
// the coordinator's auto-unlock timeout elapses.
func TestHungPeerIsForceUnlockedByAnotherShard(t *testing.T) {
	ctx := context.Background()

	sharedBackend := memstore.New()
	sharedCoordinator := memcoord.New()
	shardA := openShard(t, "shard-hang-a", sharedBackend, sharedCoordinator)
	shardB := openShard(t, "shard-hang-b", sharedBackend, sharedCoordinator)

	connA, connB := cache.NewConnID(), cache.NewConnID()

	require.NoError(t, shardA.Lock(ctx, connA, "session:1"))
	require.NoError(t, shardA.Insert(ctx, connA, "session:1", cache.Document{"touched": true}))
	// shard-a hangs here: no Commit, no Rollback, no Unlock.

	start := time.Now()
	require.NoError(t, shardB.Lock(ctx, connB, "session:1"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond,
		"expected shard-b's Lock to wait out roughly the auto-unlock timeout")

	doc, err := shardB.Find(ctx, connB, "session:1", "")
	require.NoError(t, err)
	require.Nil(t, doc, "shard-a's uncommitted insert must not have reached shard-b")

	require.Eventually(t, func() bool { return !shardA.IsLoaded("session:1") },
		time.Second, 5*time.Millisecond,
		"shard-a should self-evict session:1 once it notices its lock was stolen")

	require.NoError(t, shardB.Commit(ctx, connB, "session:1"))
}
