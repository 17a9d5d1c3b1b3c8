// Package kv provides a small key-value store interface with hierarchical
// path-based keys, backed by BadgerDB for production use and an in-memory
// map for testing.
//
// Keys are string slices (e.g. ["lec", "cs101", "tr", "000042"]) joined
// with ':' for storage. Segments must not contain the separator.
package kv

import (
	"context"
	"errors"
	"iter"
	"strings"
)

// Separator joins key segments in the encoded representation.
const Separator = ":"

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("kv: not found")

// Key is a hierarchical path represented as a slice of string segments.
type Key []string

// String returns the encoded form of the key.
func (k Key) String() string {
	return strings.Join(k, Separator)
}

// Child returns a new key with extra segments appended.
func (k Key) Child(segments ...string) Key {
	out := make(Key, 0, len(k)+len(segments))
	out = append(out, k...)
	return append(out, segments...)
}

// Entry is a key-value pair yielded by List and consumed by BatchSet.
type Entry struct {
	Key   Key
	Value []byte
}

// Store is the interface for a key-value store with path-based keys.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves the value for a key. Returns ErrNotFound if absent.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Set stores a key-value pair, overwriting any existing value.
	Set(ctx context.Context, key Key, value []byte) error

	// Delete removes a key. Removing an absent key is not an error.
	Delete(ctx context.Context, key Key) error

	// List iterates entries under the given prefix in lexicographic
	// order of the encoded key. The prefix matches whole segments:
	// listing ["lec","a"] does not yield keys under ["lec","ab"].
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]

	// BatchSet atomically stores multiple entries.
	BatchSet(ctx context.Context, entries []Entry) error

	// BatchDelete atomically removes multiple keys.
	BatchDelete(ctx context.Context, keys []Key) error

	// Close releases resources held by the store.
	Close() error
}

// encode joins key segments with the separator.
func encode(k Key) []byte {
	return []byte(strings.Join(k, Separator))
}

// decode splits an encoded key back into segments.
func decode(b []byte) Key {
	return Key(strings.Split(string(b), Separator))
}

// listPrefix returns the byte prefix used to scan under a key. A trailing
// separator is appended so that sibling keys sharing a segment prefix are
// excluded. An empty key scans the whole store.
func listPrefix(k Key) []byte {
	if len(k) == 0 {
		return nil
	}
	return append(encode(k), Separator[0])
}
