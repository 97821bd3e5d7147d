package hashcache

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when a cache entry doesn't exist.
var ErrNotFound = errors.New("cache entry not found")

// Store wraps Badger for digest storage.
type Store struct {
	db   *badger.DB
	path string
}

// Stats summarizes a store.
type Stats struct {
	Path     string `json:"path" yaml:"path"`
	Entries  int64  `json:"entries" yaml:"entries"`
	LSMSize  int64  `json:"lsm_size" yaml:"lsm_size"`
	VLogSize int64  `json:"vlog_size" yaml:"vlog_size"`
}

// OpenStore opens or creates a store at path.
func OpenStore(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open hash cache: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the store directory.
func (s *Store) Path() string { return s.path }

// Get retrieves the entry for path.
func (s *Store) Get(path string) (*Entry, error) {
	var entry Entry

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(MakeKey(path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(entry.Decode)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Put stores the entry for path.
func (s *Store) Put(path string, entry *Entry) error {
	value, err := entry.Encode()
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(MakeKey(path), value)
	})
}

// Delete removes the entry for path.
func (s *Store) Delete(path string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(MakeKey(path))
	})
}

// DeletePrefix removes every entry below dir and returns how many were
// removed.
func (s *Store) DeletePrefix(dir string) (int, error) {
	prefix := MakeKeyPrefix(dir)

	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// PutBatch stores multiple entries in a single write batch.
func (s *Store) PutBatch(entries map[string]*Entry) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for path, entry := range entries {
		value, err := entry.Encode()
		if err != nil {
			return err
		}
		if err := wb.Set(MakeKey(path), value); err != nil {
			return err
		}
	}

	return wb.Flush()
}

// Clear removes every entry.
func (s *Store) Clear() error {
	return s.db.DropAll()
}

// Stats counts entries and reports on-disk sizes.
func (s *Store) Stats() (Stats, error) {
	stats := Stats{Path: s.path}

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			stats.Entries++
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	stats.LSMSize, stats.VLogSize = s.db.Size()
	return stats, nil
}
