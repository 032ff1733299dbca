// Package docenc encodes the core's document values — a
// map[string]any, or the "absent" sentinel — to and from the opaque byte
// slices that backend.Store drivers persist. Keeping this at the edge of
// the backend adapter means every driver (memory, bbolt, badger) only ever
// deals in []byte, matching the "opaque structured value" data model of
// the core's Document type.
package docenc

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Document is the core's in-memory representation of a stored value.
// A nil map is the "absent" sentinel, distinct from a non-nil empty map.
type Document map[string]any

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic("docenc: building canonical cbor encoder: " + err.Error())
	}
	// IntDecConvertSigned decodes every CBOR integer into Go int64 rather
	// than uint64-for-unsigned/int64-for-signed; callers otherwise see a
	// field's type flip between int64 and uint64 depending on its sign.
	// DefaultMapType decodes nested maps as map[string]any, the same type
	// Document and Equal use, instead of map[interface{}]interface{}.
	decMode, err = cbor.DecOptions{
		IntDec:         cbor.IntDecConvertSigned,
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("docenc: building cbor decoder: " + err.Error())
	}
}

// Encode serializes doc to bytes. Encoding a nil (absent) document
// returns a nil slice; callers should treat that as "nothing to store"
// rather than calling Encode at all.
func Encode(doc Document) ([]byte, error) {
	if doc == nil {
		return nil, nil
	}
	return encMode.Marshal(doc)
}

// Decode is the inverse of Encode. An empty/nil byte slice decodes to a
// nil (absent) Document rather than an error, since that is how a deleted
// or never-written key reads back from every driver.
func Decode(b []byte) (Document, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var doc Document
	if err := decMode.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Clone returns a shallow copy of doc, sufficient for the core's shadow
// snapshots: field values themselves are never mutated in place by
// update/patch, so a shallow copy is enough to make rollback exact.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	clone := make(Document, len(doc))
	for k, v := range doc {
		clone[k] = v
	}
	return clone
}

// Equal performs a deep structural comparison of two Documents (used by
// tests, and by the lifecycle manager's SaveAll to decide whether a slot
// changed while it was being flushed).
func Equal(a, b Document) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || !valueEqual(v, bv) {
			return false
		}
	}
	return true
}

func valueEqual(a, b any) bool {
	am, aok := a.(map[string]any)
	bm, bok := b.(map[string]any)
	if aok || bok {
		if !aok || !bok || len(am) != len(bm) {
			return false
		}
		for k, v := range am {
			if bv, ok := bm[k]; !ok || !valueEqual(v, bv) {
				return false
			}
		}
		return true
	}
	return a == b
}
