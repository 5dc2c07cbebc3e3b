// Package storage is the key-value layer under the devnet ledger: a Badger
// store for persistent runs, an in-memory map for tests, and prefix
// namespaces on top of either.
package storage

import "errors"

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// DB is the interface for key-value storage.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix.
	// The callback receives a copy of the key and value.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// Batch buffers writes and applies them atomically on Commit.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
}

// Batcher is implemented by databases that support atomic batches.
type Batcher interface {
	NewBatch() Batch
}

// Dropper is implemented by databases that can delete a whole key range
// natively.
type Dropper interface {
	DropPrefix(prefix []byte) error
}
