package memstore

import (
	"context"
	"testing"
)

func TestGetSetDel(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(ctx)

	if _, found, err := s.Get(ctx, "users", "1"); err != nil || found {
		t.Fatalf("expected absent key, got found=%v err=%v", found, err)
	}

	if err := s.Set(ctx, "users", "1", []byte(`{"name":"alice"}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	raw, found, err := s.Get(ctx, "users", "1")
	if err != nil || !found {
		t.Fatalf("expected found, got found=%v err=%v", found, err)
	}
	if string(raw) != `{"name":"alice"}` {
		t.Fatalf("unexpected value: %s", raw)
	}

	if err := s.Del(ctx, "users", "1"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, found, _ := s.Get(ctx, "users", "1"); found {
		t.Fatal("expected key absent after Del")
	}

	// Deleting an absent key is success.
	if err := s.Del(ctx, "users", "1"); err != nil {
		t.Fatalf("Del on absent key should succeed, got %v", err)
	}
}

func TestDrop(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Start(ctx)
	defer s.Stop(ctx)

	_ = s.Set(ctx, "users", "1", []byte("a"))
	_ = s.Set(ctx, "users", "2", []byte("b"))
	_ = s.Set(ctx, "docs", "1", []byte("c"))

	if err := s.Drop(ctx, "users"); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if _, found, _ := s.Get(ctx, "users", "1"); found {
		t.Fatal("expected users:1 gone after Drop")
	}
	if _, found, _ := s.Get(ctx, "docs", "1"); !found {
		t.Fatal("expected docs:1 unaffected by dropping users")
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Start(ctx)
	defer s.Stop(ctx)

	_ = s.Set(ctx, "users", "1", []byte("abc"))
	_ = s.Set(ctx, "users", "2", []byte("de"))

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Keys != 2 {
		t.Fatalf("expected 2 keys, got %d", stats.Keys)
	}
	if stats.Bytes != 5 {
		t.Fatalf("expected 5 bytes, got %d", stats.Bytes)
	}
}
