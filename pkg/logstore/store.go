// Package logstore implements an append-only log sink with a bounded
// retention policy. It is a pure diagnostic side-channel: callers append
// lines and may query them back, nothing in here drives control flow.
package logstore

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultMaxEntries is the number of most-recent entries kept.
	DefaultMaxEntries = 5000
	// DefaultCleanupInterval is the number of appends between retention
	// checks.
	DefaultCleanupInterval = 100
	// DefaultCleanupBuffer is how far past the cap the store may grow
	// before a cleanup actually deletes anything.
	DefaultCleanupBuffer = 100
)

var logsBucket = []byte("logs")

// Opts tweaks the retention policy, mostly useful in tests. Zero values fall
// back to the defaults.
type Opts struct {
	MaxEntries      int
	CleanupInterval int
	CleanupBuffer   int
}

// Store is a bolt-backed append-only log store.
type Store struct {
	db *bolt.DB

	maxEntries      int
	cleanupInterval int
	cleanupBuffer   int

	writesSinceCleanup int
}

// Open opens (or creates) the log store in the given directory.
func Open(datadir, filename string, opts Opts) (*Store, error) {
	if err := os.MkdirAll(datadir, os.ModeDir|0755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(
		filepath.Join(datadir, filename), 0600,
		&bolt.Options{Timeout: 5 * time.Second},
	)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(logsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}

	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}
	if opts.CleanupBuffer <= 0 {
		opts.CleanupBuffer = DefaultCleanupBuffer
	}

	return &Store{
		db:              db,
		maxEntries:      opts.MaxEntries,
		cleanupInterval: opts.CleanupInterval,
		cleanupBuffer:   opts.CleanupBuffer,
	}, nil
}

// Append adds a line at the end of the log. Every cleanupInterval appends the
// retention cap is enforced by dropping the oldest entries.
func (s *Store) Append(line string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(logsBucket)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], seq)
		if err := bucket.Put(key[:], []byte(line)); err != nil {
			return err
		}

		s.writesSinceCleanup++
		if s.writesSinceCleanup < s.cleanupInterval {
			return nil
		}
		s.writesSinceCleanup = 0
		return s.enforceRetention(bucket)
	})
}

func (s *Store) enforceRetention(bucket *bolt.Bucket) error {
	count := bucket.Stats().KeyN + 1
	if count <= s.maxEntries+s.cleanupBuffer {
		return nil
	}

	toDelete := count - s.maxEntries
	cursor := bucket.Cursor()
	k, _ := cursor.First()
	for ; k != nil && toDelete > 0; k, _ = cursor.Next() {
		if err := cursor.Delete(); err != nil {
			return err
		}
		toDelete--
	}
	return nil
}

// Query returns all retained lines in append order.
func (s *Store) Query() ([]string, error) {
	lines := make([]string, 0)
	if err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(logsBucket).ForEach(func(_, v []byte) error {
			lines = append(lines, string(v))
			return nil
		})
	}); err != nil {
		return nil, err
	}
	return lines, nil
}

// Clear drops every retained line.
func (s *Store) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(logsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(logsBucket)
		return err
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}
