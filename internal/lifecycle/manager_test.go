package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/torua-cache/internal/backend/memstore"
	"github.com/dreamware/torua-cache/internal/cacheerr"
	"github.com/dreamware/torua-cache/internal/coord/memcoord"
	"github.com/dreamware/torua-cache/internal/docenc"
)

func newTestManager(t *testing.T, mutate func(*Config)) (*Manager, func()) {
	t.Helper()
	cfg := Config{
		ShardID:           "shard-test",
		UnloadDelay:       20 * time.Millisecond,
		DocIdleTimeout:    0,
		AutoUnlockTimeout: 300 * time.Millisecond,
		ShutdownGrace:     50 * time.Millisecond,
		IdleSweepInterval: 20 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	store := memstore.New()
	coordinator := memcoord.New()
	mgr := New(cfg, store, coordinator, nil, zerolog.Nop())

	ctx := context.Background()
	require.NoError(t, mgr.Start(ctx))

	return mgr, func() { _ = mgr.Stop(ctx) }
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met within timeout")
	}
}

// Scenario 1: Basic CRUD.
func TestBasicCRUD(t *testing.T) {
	ctx := context.Background()
	mgr, stop := newTestManager(t, nil)
	defer stop()

	require.NoError(t, mgr.Lock(ctx, "c1", "user:1"))
	require.NoError(t, mgr.Insert(ctx, "c1", "user:1", docenc.Document{
		"_id": "1", "name": "rain", "age": int64(30),
	}))
	require.NoError(t, mgr.Commit(ctx, "c1", "user:1"))

	mgr.onReleaseRequested("user:1")

	waitFor(t, 200*time.Millisecond, func() bool { return !mgr.IsLoaded("user:1") })

	doc, err := mgr.Find(ctx, "c1", "user:1", "")
	require.NoError(t, err)
	require.Equal(t, docenc.Document{"_id": "1", "name": "rain", "age": int64(30)}, doc)
}

// Scenario 2: Rollback.
func TestRollback(t *testing.T) {
	ctx := context.Background()
	mgr, stop := newTestManager(t, nil)
	defer stop()

	require.NoError(t, mgr.Lock(ctx, "c1", "user:1"))
	require.NoError(t, mgr.Insert(ctx, "c1", "user:1", docenc.Document{"age": int64(30)}))
	require.NoError(t, mgr.Commit(ctx, "c1", "user:1"))

	require.NoError(t, mgr.Lock(ctx, "c1", "user:1"))
	_, err := mgr.Update(ctx, "c1", "user:1", docenc.Document{"age": int64(31)})
	require.NoError(t, err)

	age, err := mgr.Find(ctx, "c1", "user:1", "age")
	require.NoError(t, err)
	require.Equal(t, int64(31), age)

	require.NoError(t, mgr.Rollback(ctx, "c1", "user:1"))

	age, err = mgr.Find(ctx, "c1", "user:1", "age")
	require.NoError(t, err)
	require.Equal(t, int64(30), age)
}

// Scenario 6: Re-entrant lock.
func TestReentrantLockAndConcurrentBlock(t *testing.T) {
	ctx := context.Background()
	mgr, stop := newTestManager(t, nil)
	defer stop()

	require.NoError(t, mgr.Lock(ctx, "c1", "user:1"))
	require.NoError(t, mgr.Lock(ctx, "c1", "user:1")) // re-entrant, must not deadlock

	done := make(chan error, 1)
	go func() { done <- mgr.Lock(ctx, "c2", "user:1") }()

	select {
	case <-done:
		t.Fatal("expected concurrent Lock to block while c1 holds the lease")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, mgr.Commit(ctx, "c1", "user:1"))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for c2's Lock to unblock after c1's commit")
	}
}

// Scenario 5: Idle timeout.
func TestIdleTimeoutUnloadsAutomatically(t *testing.T) {
	ctx := context.Background()
	mgr, stop := newTestManager(t, func(cfg *Config) {
		cfg.DocIdleTimeout = 60 * time.Millisecond
		cfg.IdleSweepInterval = 10 * time.Millisecond
	})
	defer stop()

	_, err := mgr.Find(ctx, "c1", "user:1", "")
	require.NoError(t, err)
	require.True(t, mgr.IsLoaded("user:1"))

	waitFor(t, time.Second, func() bool { return !mgr.IsLoaded("user:1") })
}

// Scenario 4: Peer-hang force-unlock + eviction of the displaced owner's
// copy by its renewer.
func TestPeerHangForceUnlockAndLockLost(t *testing.T) {
	ctx := context.Background()
	coordinator := memcoord.New()

	cfgA := Config{
		ShardID:           "shard-a",
		UnloadDelay:       20 * time.Millisecond,
		AutoUnlockTimeout: 80 * time.Millisecond,
		ShutdownGrace:     50 * time.Millisecond,
		IdleSweepInterval: 20 * time.Millisecond,
	}
	storeA := memstore.New()
	mgrA := New(cfgA, storeA, coordinator, nil, zerolog.Nop())
	require.NoError(t, mgrA.Start(ctx))
	defer mgrA.Stop(ctx)

	// shard-a locks and writes, but never commits/unlocks (simulating a
	// hang), so its lease never frees and shard-b must force-unlock it.
	require.NoError(t, mgrA.Lock(ctx, "c1", "user:1"))
	require.NoError(t, mgrA.Insert(ctx, "c1", "user:1", docenc.Document{"age": int64(30)}))

	cfgB := Config{
		ShardID:           "shard-b",
		UnloadDelay:       20 * time.Millisecond,
		AutoUnlockTimeout: 80 * time.Millisecond,
		ShutdownGrace:     50 * time.Millisecond,
		IdleSweepInterval: 20 * time.Millisecond,
	}
	storeB := memstore.New()
	mgrB := New(cfgB, storeB, coordinator, nil, zerolog.Nop())
	require.NoError(t, mgrB.Start(ctx))
	defer mgrB.Stop(ctx)

	// shard-b's find blocks on the coordinator lock; since shard-a never
	// wrote the insert, once shard-b force-unlocks and loads, it must see
	// an absent document, not shard-a's uncommitted insert.
	doc, err := mgrB.Find(ctx, "c2", "user:1", "")
	require.NoError(t, err)
	require.Nil(t, doc)

	// shard-a's renewer should notice the lost lock on its next tick and
	// force-evict the key.
	waitFor(t, time.Second, func() bool { return !mgrA.IsLoaded("user:1") })
}

// A Lock call queued behind another connection's lease must not leave
// the caller stuck if the manager is stopped mid-wait.
func TestStopUnblocksWaiters(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, nil)

	require.NoError(t, mgr.Lock(ctx, "c1", "user:1"))

	done := make(chan error, 1)
	go func() { done <- mgr.Lock(ctx, "c2", "user:1") }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, mgr.Stop(ctx))

	select {
	case err := <-done:
		var cacheErr *cacheerr.Error
		require.True(t, errors.As(err, &cacheErr))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for blocked Lock to unblock on Stop")
	}
}
