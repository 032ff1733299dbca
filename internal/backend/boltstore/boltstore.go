// Package boltstore implements backend.Store on top of go.etcd.io/bbolt,
// a key/value store driver variant: one bucket per collection, documents
// stored as the bucket's byte values.
package boltstore

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/dreamware/torua-cache/internal/backend"
)

// Store is a bbolt-backed backend.Store driver persisting to a single
// file, with one bucket per collection.
type Store struct {
	db   *bbolt.DB
	path string
}

// New returns a driver that will open path on Start.
func New(path string) *Store {
	return &Store{path: path}
}

// Start opens the bbolt file, creating it if necessary.
func (s *Store) Start(context.Context) error {
	db, err := bbolt.Open(s.path, 0o600, nil)
	if err != nil {
		return fmt.Errorf("boltstore: open %s: %w", s.path, err)
	}
	s.db = db
	return nil
}

// Stop closes the underlying bbolt file.
func (s *Store) Stop(context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the document stored under id in collection's bucket. A
// missing bucket or a missing key both mean found=false — neither is an
// error, since a collection with nothing written to it yet is normal.
func (s *Store) Get(_ context.Context, collection, id string) (doc []byte, found bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(id))
		if v == nil {
			return nil
		}
		found = true
		doc = make([]byte, len(v))
		copy(doc, v)
		return nil
	})
	return doc, found, err
}

// Set stores doc under id in collection's bucket, creating the bucket on
// first write.
func (s *Store) Set(_ context.Context, collection, id string, doc []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return err
		}
		return b.Put([]byte(id), doc)
	})
}

// Del removes id from collection's bucket; a missing bucket or key is
// success, per the backend.Store contract's idempotent delete.
func (s *Store) Del(_ context.Context, collection, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(id))
	})
}

// Drop deletes collection's entire bucket.
func (s *Store) Drop(_ context.Context, collection string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		err := tx.DeleteBucket([]byte(collection))
		if err == bbolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

// Stats reports bucket/key/byte counts across the whole file.
func (s *Store) Stats(context.Context) (backend.Stats, error) {
	var st backend.Stats
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			st.Collections++
			return b.ForEach(func(k, v []byte) error {
				st.Keys++
				st.Bytes += len(v)
				return nil
			})
		})
	})
	return st, err
}

var _ backend.Store = (*Store)(nil)
var _ backend.StatsProvider = (*Store)(nil)
