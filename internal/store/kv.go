// Package store is the persistence layer: a durable keyed store for job
// records and the active-slot token, and a blob store for tapes and
// result artifacts. No cross-key transactions are required — multi-write
// atomicity is obtained entirely by the Coordinator's exclusive-owner
// discipline, not by this package.
package store

import "context"

// KVItem is one key/value pair returned by a prefix scan.
type KVItem struct {
	Key   string
	Value []byte
}

// KV is the durable keyed store. It is single-writer: callers (in
// practice, only the Coordinator) serialize their own writes.
type KV interface {
	// Get returns the value for key, or ok=false if it does not exist.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Put durably writes value for key, overwriting any existing value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// ScanPrefix returns up to limit items with keys >= cursor (a full
	// key, as returned in nextCursor; empty starts at prefix),
	// lexicographically ordered, restricted to keys sharing prefix. If
	// more items remain, nextCursor is non-empty and can be passed back
	// as cursor to continue.
	ScanPrefix(ctx context.Context, prefix, cursor string, limit int) (items []KVItem, nextCursor string, err error)

	// Close releases the store's resources.
	Close() error
}
