// Package store is the content-addressed blob store used for
// thumbnails, per-document metadata sidecars, and tags: a bbolt file keyed by
// a caller-supplied key (the document's path hash), with one bucket
// per blob kind.
package store

import (
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Kind names a bucket within the store. Callers define their own
// constants; the store itself is kind-agnostic.
type Kind string

// ErrNotFound is returned by Read when the key is absent from the bucket.
var ErrNotFound = errors.New("store: key not found")

// Store is a bbolt-backed keyed blob store, safe for concurrent use
// from multiple goroutines (bbolt serializes writers internally).
type Store struct {
	db *bolt.DB
}

// Open creates or opens the store file at path, ready for Create to
// declare buckets.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Create ensures a bucket exists for kind. Call once per kind before
// Write/Read.
func (s *Store) Create(kind Kind) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(kind))
		return err
	})
}

// Write stores data under key within kind's bucket, overwriting any
// previous value.
func (s *Store) Write(kind Kind, key string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(kind))
		if b == nil {
			return fmt.Errorf("store: unknown kind %q", kind)
		}
		return b.Put([]byte(key), data)
	})
}

// Read returns a copy of the bytes stored under key within kind's
// bucket, or ErrNotFound.
func (s *Store) Read(kind Kind, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(kind))
		if b == nil {
			return fmt.Errorf("store: unknown kind %q", kind)
		}
		v := b.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadAll returns every key/value pair in kind's bucket, used to copy
// forward blobs belonging to unchanged files during an incremental
// scan.
func (s *Store) ReadAll(kind Kind) (map[string][]byte, error) {
	out := map[string][]byte{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(kind))
		if b == nil {
			return fmt.Errorf("store: unknown kind %q", kind)
		}
		return b.ForEach(func(k, v []byte) error {
			out[string(k)] = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CopyTo writes every key/value pair in src into this store's kind
// bucket, used when carrying forward blobs for files the incremental
// scan decided to skip.
func (s *Store) CopyTo(kind Kind, src map[string][]byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(kind))
		if b == nil {
			return fmt.Errorf("store: unknown kind %q", kind)
		}
		for k, v := range src {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}
