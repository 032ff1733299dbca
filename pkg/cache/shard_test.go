package cache

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/torua-cache/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.Default()
	cfg.ShardID = "shard-pkg-test"
	cfg.UnloadDelay = 10 * time.Millisecond
	cfg.PersistInterval = 20 * time.Millisecond

	store, err := Open(context.Background(), cfg, WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func TestOpenInsertFindRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	connID := NewConnID()
	if err := store.Lock(ctx, connID, "user:1"); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := store.Insert(ctx, connID, "user:1", Document{"name": "maya"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := store.Commit(ctx, connID, "user:1"); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	doc, err := store.Find(ctx, connID, "user:1", "")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	got, ok := doc.(Document)
	if !ok || got["name"] != "maya" {
		t.Fatalf("unexpected document: %#v", doc)
	}
}

func TestNewConnIDIsUnique(t *testing.T) {
	a, b := NewConnID(), NewConnID()
	if a == b {
		t.Fatal("expected distinct connection ids")
	}
}

func TestSaveAllFlushesDirtySlot(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	connID := NewConnID()
	if err := store.Lock(ctx, connID, "user:2"); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := store.Insert(ctx, connID, "user:2", Document{"name": "kel"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := store.Commit(ctx, connID, "user:2"); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := store.SaveAll(ctx); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	if store.ResidentSlots() != 1 {
		t.Fatalf("expected key to remain resident after a flush-only SaveAll, got %d", store.ResidentSlots())
	}
}
