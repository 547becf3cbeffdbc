// Package storage persists wallet state (the ledger snapshot and related
// namespaces) behind a small key-value interface with badger and in-memory
// implementations.
package storage

import "errors"

// ErrKeyNotFound is returned by Get for keys that were never stored or
// were deleted.
var ErrKeyNotFound = errors.New("key not found")

// DB is the key-value surface the wallet stores its state behind. Keys are
// namespaced by string prefixes ("tx/" for ledger records); ForEach scans
// one such namespace.
type DB interface {
	// Get returns the value stored under key, or an error wrapping
	// ErrKeyNotFound when absent.
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	// Delete removes a key. Deleting an absent key is not an error.
	Delete(key []byte) error
	// ForEach visits every key with the given prefix. The callback must not
	// retain key or value; returning a non-nil error stops the scan and is
	// passed through.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}
