// Package resultcache persists evaluation results keyed by content
// fingerprint in a single shared bbolt file. Reads run concurrently; writes
// serialize through bbolt's single-writer transactions, so racing workers can
// never interleave a record.
package resultcache

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ErrMismatch is returned when a fingerprint is re-written with a different
// payload. Identical fingerprints must produce identical results; a mismatch
// means a non-determinism bug and needs operator attention, so the first
// writer stays authoritative and the disagreement is surfaced, never
// silently overwritten.
var ErrMismatch = errors.New("resultcache: fingerprint already present with different result")

var bucketResults = []byte("results")

// Store is a durable fingerprint -> payload map shared by all workers of a
// run. Safe for concurrent use.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the cache file at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("resultcache: %w", err)
	}
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("resultcache: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketResults)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("resultcache: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the backing file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the payload for fingerprint, or ok=false on a miss.
func (s *Store) Get(fingerprint string) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketResults).Get([]byte(fingerprint))
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("resultcache: get: %w", err)
	}
	return out, out != nil, nil
}

// Put stores payload under fingerprint. Re-putting an identical payload is a
// no-op; a differing payload returns ErrMismatch and leaves the stored record
// untouched (first-writer-wins).
func (s *Store) Put(fingerprint string, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("resultcache: empty payload for %s", fingerprint)
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResults)
		if existing := b.Get([]byte(fingerprint)); existing != nil {
			if bytes.Equal(existing, payload) {
				return nil
			}
			return fmt.Errorf("%w (fingerprint %s)", ErrMismatch, fingerprint)
		}
		return b.Put([]byte(fingerprint), payload)
	})
	if err != nil && !errors.Is(err, ErrMismatch) {
		return fmt.Errorf("resultcache: put: %w", err)
	}
	return err
}

// Keys returns every stored fingerprint in key order.
func (s *Store) Keys() ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResults).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("resultcache: keys: %w", err)
	}
	return keys, nil
}

// Count returns the number of stored results.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketResults).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("resultcache: count: %w", err)
	}
	return n, nil
}

// Delete removes one fingerprint (no-op if absent).
func (s *Store) Delete(fingerprint string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResults).Delete([]byte(fingerprint))
	})
	if err != nil {
		return fmt.Errorf("resultcache: delete: %w", err)
	}
	return nil
}

// Clear removes every stored result.
func (s *Store) Clear() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketResults); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketResults)
		return err
	})
	if err != nil {
		return fmt.Errorf("resultcache: clear: %w", err)
	}
	return nil
}
