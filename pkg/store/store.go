package store

import (
	"errors"
)

// ErrKeyNotFound is returned by Tx.Get for absent keys.
var ErrKeyNotFound = errors.New("key not found")

// Store is the underlying KV storage (BadgerDB in production).
type Store interface {
	// Close releases the storage.
	Close() error

	// RunTx runs fn inside a transaction. A read-write transaction when
	// update is true, read-only otherwise.
	RunTx(update bool, fn func(Tx) error) error

	// View runs a read-only transaction.
	View(fn func(Tx) error) error

	// Update runs a read-write transaction.
	Update(fn func(Tx) error) error
}

// Tx is one storage transaction.
type Tx interface {
	// Set stores a value under key. ttl is in seconds, 0 means no TTL.
	Set(key, value []byte, ttl int64) error

	// Get returns the value for key, or ErrKeyNotFound.
	Get(key []byte) ([]byte, error)

	// Delete removes key.
	Delete(key []byte) error

	// NewIterator creates a forward iterator over keys carrying prefix.
	// An empty prefix iterates everything.
	NewIterator(prefix []byte) Iterator
}

// Iterator walks keys in ascending order within its prefix.
type Iterator interface {
	// Rewind moves to the first key.
	Rewind()

	// Valid reports whether the iterator points at a key.
	Valid() bool

	// Next advances the iterator.
	Next()

	// Item returns the current key and value.
	Item() (key, value []byte, err error)

	// Close releases the iterator.
	Close()
}
