// Package kv is a string-keyed convenience wrapper around storage.Storage
// for callers that don't need byte-slice keys, batches, snapshots, or
// scans.
package kv

import (
	"errors"
	"fmt"

	"github.com/return2faye/siltkv/internal/backend"
	"github.com/return2faye/siltkv/storage"
)

var (
	// ErrNotFound is returned when a key is not found.
	ErrNotFound = errors.New("kv: key not found")
	// ErrClosed is returned when the DB is closed.
	ErrClosed = errors.New("kv: db is closed")
)

// DB represents a key-value database.
// It provides a simple interface for storing and retrieving key-value pairs.
type DB struct {
	db *storage.Storage
}

// Open opens a database at the given path.
// If the database doesn't exist, it will be created.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("kv: path cannot be empty")
	}

	s, err := storage.Open(storage.Config{Path: path}, backend.NewLocal())
	if err != nil {
		return nil, fmt.Errorf("kv: failed to open database: %w", err)
	}

	return &DB{db: s}, nil
}

// Close closes the database and releases all resources.
func (db *DB) Close() error {
	if db.db == nil {
		return ErrClosed
	}
	return db.db.Close()
}

// Put stores a key-value pair in the database.
// If the key already exists, its value will be updated.
func (db *DB) Put(key, value string) error {
	if db.db == nil {
		return ErrClosed
	}
	_, err := db.db.Set(storage.WriteOption{}, []byte(key), []byte(value))
	if err != nil {
		if errors.Is(err, storage.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("kv: put failed: %w", err)
	}
	return nil
}

// Get retrieves the value for a given key.
// Returns ErrNotFound if the key doesn't exist.
func (db *DB) Get(key string) (string, error) {
	if db.db == nil {
		return "", ErrClosed
	}

	val, err := db.db.Get(storage.GetOption{}, []byte(key))
	if err != nil {
		if errors.Is(err, storage.ErrClosed) {
			return "", ErrClosed
		}
		if errors.Is(err, storage.ErrKeyNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("kv: get failed: %w", err)
	}

	return string(val), nil
}

// Delete removes a key from the database.
// If the key doesn't exist, it's a no-op (no error returned).
func (db *DB) Delete(key string) error {
	if db.db == nil {
		return ErrClosed
	}
	_, err := db.db.Del(storage.WriteOption{}, []byte(key))
	if err != nil {
		if errors.Is(err, storage.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("kv: delete failed: %w", err)
	}
	return nil
}
