// Package badgerstore implements backend.Store on top of
// github.com/dgraph-io/badger/v3, a document store driver variant. Keys
// are composed as "collection/id" (with any '/' or '%' in the collection
// percent-escaped, so the first '/' always ends the collection) in a
// single LSM tree rather than
// bucketed per collection, which is the usual shape for badger-backed
// document stores (no native bucket concept; the collection lives in the
// key prefix instead).
package badgerstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v3"

	"github.com/dreamware/torua-cache/internal/backend"
)

// Store is a badger-backed backend.Store driver.
type Store struct {
	db  *badger.DB
	dir string
}

// New returns a driver that will open dir on Start.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// collectionEscaper keeps a '/' inside a collection name from being read
// as the collection/id separator.
var collectionEscaper = strings.NewReplacer("%", "%25", "/", "%2F")

func composite(collection, id string) []byte {
	return []byte(collectionEscaper.Replace(collection) + "/" + id)
}

func prefix(collection string) []byte {
	return []byte(collectionEscaper.Replace(collection) + "/")
}

// Start opens the badger directory, creating it if necessary.
func (s *Store) Start(context.Context) error {
	opts := badger.DefaultOptions(s.dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("badgerstore: open %s: %w", s.dir, err)
	}
	s.db = db
	return nil
}

// Stop closes the underlying badger database.
func (s *Store) Stop(context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the document stored at (collection, id).
func (s *Store) Get(_ context.Context, collection, id string) (doc []byte, found bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(composite(collection, id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(v []byte) error {
			doc = make([]byte, len(v))
			copy(doc, v)
			return nil
		})
	})
	return doc, found, err
}

// Set stores doc at (collection, id), overwriting any existing value.
func (s *Store) Set(_ context.Context, collection, id string, doc []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(composite(collection, id), doc)
	})
}

// Del removes (collection, id); absent keys are a no-op success.
func (s *Store) Del(_ context.Context, collection, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(composite(collection, id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

// Drop removes every key under collection's prefix.
func (s *Store) Drop(ctx context.Context, collection string) error {
	return s.db.DropPrefix(prefix(collection))
}

// Stats scans all keys to report collection/key/byte counts; badger has
// no native per-prefix counter, so this is O(n) in the number of stored
// keys.
func (s *Store) Stats(context.Context) (backend.Stats, error) {
	var st backend.Stats
	collections := make(map[string]struct{})
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			st.Keys++
			st.Bytes += int(item.ValueSize())
			k := string(item.Key())
			if idx := indexOfSlash(k); idx >= 0 {
				collections[k[:idx]] = struct{}{}
			}
		}
		return nil
	})
	st.Collections = len(collections)
	return st, err
}

func indexOfSlash(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

var _ backend.Store = (*Store)(nil)
var _ backend.StatsProvider = (*Store)(nil)
