// Package memstore implements backend.Store with an in-memory map,
// providing a zero-dependency default so the lifecycle manager is
// exercisable without a live bbolt file or badger directory: an
// RWMutex-protected map that copies values in and out to prevent
// external mutation.
package memstore

import (
	"context"
	"sync"

	"github.com/dreamware/torua-cache/internal/backend"
)

type key struct {
	collection, id string
}

// Store is an in-memory backend.Store driver. The zero value is not
// usable; construct with New.
type Store struct {
	data map[key][]byte
	mu   sync.RWMutex
}

// New returns an empty, ready-to-use in-memory store.
func New() *Store {
	return &Store{data: make(map[key][]byte)}
}

func (s *Store) Start(context.Context) error { return nil }
func (s *Store) Stop(context.Context) error  { return nil }

// Get returns a copy of the stored document, or found=false if absent.
func (s *Store) Get(_ context.Context, collection, id string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key{collection, id}]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Set stores a copy of doc, overwriting any existing value.
func (s *Store) Set(_ context.Context, collection, id string, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(doc))
	copy(stored, doc)
	s.data[key{collection, id}] = stored
	return nil
}

// Del removes (collection, id); absent keys are a no-op success.
func (s *Store) Del(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key{collection, id})
	return nil
}

// Drop removes every document in collection.
func (s *Store) Drop(_ context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.data {
		if k.collection == collection {
			delete(s.data, k)
		}
	}
	return nil
}

// Stats reports the current key count and total byte size.
func (s *Store) Stats(context.Context) (backend.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	collections := make(map[string]struct{})
	total := 0
	for k, v := range s.data {
		collections[k.collection] = struct{}{}
		total += len(v)
	}
	return backend.Stats{Collections: len(collections), Keys: len(s.data), Bytes: total}, nil
}

var _ backend.Store = (*Store)(nil)
var _ backend.StatsProvider = (*Store)(nil)
