// Package database defines the structured persistence camflow runs on: a
// small key/document store used for person groups, the session log, task
// progress and settings. Backends live in the sqlite, redis and postgres
// subpackages; MemoryStore serves tests and ephemeral runs.
package database

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// Entry is a single stored document.
type Entry struct {
	Key   string
	Value []byte
}

// Store is a durable key/document store.
type Store interface {
	// Get returns the document stored under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set replaces the document stored under key.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// List returns all documents whose key starts with prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]Entry, error)
	// Close releases the backend.
	Close() error
}
