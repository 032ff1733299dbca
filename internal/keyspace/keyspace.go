// Package keyspace implements the one piece of key parsing the core
// does: split the leading "collection" token (up to the first ':') from
// a key so backend I/O can be routed, while passing the remainder through
// untouched.
package keyspace

import "strings"

// Split parses key into its collection and id: the leading token up to
// the first ':' is the collection; everything after is the id, untouched
// (it may itself contain colons). A key with no ':' is its own
// collection with an empty id — callers that need a non-empty id should
// treat that as a malformed key.
func Split(key string) (collection, id string) {
	if idx := strings.IndexByte(key, ':'); idx >= 0 {
		return key[:idx], key[idx+1:]
	}
	return key, ""
}
