package boltstore

import (
	"context"
	"path/filepath"
	"testing"
)

func TestGetSetDelDrop(t *testing.T) {
	ctx := context.Background()
	s := New(filepath.Join(t.TempDir(), "cache.bolt"))
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(ctx)

	if _, found, err := s.Get(ctx, "users", "1"); err != nil || found {
		t.Fatalf("expected absent key, got found=%v err=%v", found, err)
	}

	if err := s.Set(ctx, "users", "1", []byte("alice")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	raw, found, err := s.Get(ctx, "users", "1")
	if err != nil || !found || string(raw) != "alice" {
		t.Fatalf("unexpected Get result: raw=%s found=%v err=%v", raw, found, err)
	}

	if err := s.Del(ctx, "users", "1"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, found, _ := s.Get(ctx, "users", "1"); found {
		t.Fatal("expected absent after Del")
	}

	// A missing bucket (never created) is a success for Drop.
	if err := s.Drop(ctx, "ghost"); err != nil {
		t.Fatalf("Drop on never-created bucket should succeed, got %v", err)
	}

	_ = s.Set(ctx, "users", "2", []byte("bob"))
	if err := s.Drop(ctx, "users"); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if _, found, _ := s.Get(ctx, "users", "2"); found {
		t.Fatal("expected users collection empty after Drop")
	}
}

func TestStatsAcrossCollections(t *testing.T) {
	ctx := context.Background()
	s := New(filepath.Join(t.TempDir(), "cache.bolt"))
	_ = s.Start(ctx)
	defer s.Stop(ctx)

	_ = s.Set(ctx, "users", "1", []byte("abc"))
	_ = s.Set(ctx, "docs", "1", []byte("de"))

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Collections != 2 || stats.Keys != 2 || stats.Bytes != 5 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
