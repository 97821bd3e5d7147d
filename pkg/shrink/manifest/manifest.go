package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/jamesainslie/shrink/pkg/shrink/logging"
	"github.com/jamesainslie/shrink/pkg/shrink/types"
)

// ErrMalformed is returned when a manifest file exists but cannot be parsed.
var ErrMalformed = errors.New("malformed manifest")

var logger = logging.Get("manifest")

// Store is the in-memory record table. Every operation is serialized by a
// single lock so concurrent upserts never lose updates.
type Store struct {
	mu      sync.RWMutex
	records []Record
	index   map[string]int
}

// New returns an empty store.
func New() *Store {
	return &Store{index: make(map[string]int)}
}

// Key normalizes a path for comparison. Paths compare case-insensitively.
func Key(path string) string {
	return strings.ToLower(filepath.Clean(path))
}

// Load replaces the record set with the contents of the file at path.
// A missing file leaves the store empty and is not an error.
func (s *Store) Load(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			s.reset(nil)
			logger.Debug("manifest not found, starting empty", "path", path)
			return nil
		}
		return fmt.Errorf("failed to stat manifest: %w", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return fmt.Errorf("failed to lock manifest: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	records, err := decode(f)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMalformed, path, err)
	}

	s.reset(records)
	logger.Debug("manifest loaded", "path", path, "records", len(records))
	return nil
}

// Save writes the record set to path, replacing any existing file.
// The write goes through a temporary file and a rename.
func (s *Store) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock manifest: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	records := s.Records()

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if err := encode(f, records); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	logger.Debug("manifest saved", "path", path, "records", len(records))
	return nil
}

// Lookup returns the record for path.
func (s *Store) Lookup(path string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[Key(path)]
	if !ok {
		return Record{}, false
	}
	return s.records[i], true
}

// RequiresOptimization reports whether the file at path with the freshly
// computed candidateHash has to be optimized: there is no record for it or
// the recorded hash differs.
func (s *Store) RequiresOptimization(path, candidateHash string) bool {
	rec, ok := s.Lookup(path)
	if !ok {
		return true
	}
	return rec.RequiresOptimization(candidateHash)
}

// Upsert inserts rec or overwrites the service, date, hash and sizes of
// the existing record for the same path.
func (s *Store) Upsert(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(rec)
}

// UpsertAll upserts every record under one lock acquisition.
func (s *Store) UpsertAll(records []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.upsertLocked(rec)
	}
}

func (s *Store) upsertLocked(rec Record) {
	key := Key(rec.Path)
	if i, ok := s.index[key]; ok {
		existing := &s.records[i]
		existing.Service = rec.Service
		existing.OptimizedAt = rec.OptimizedAt
		existing.Hash = rec.Hash
		existing.SizeBefore = rec.SizeBefore
		existing.SizeAfter = rec.SizeAfter
		return
	}
	s.index[key] = len(s.records)
	s.records = append(s.records, rec)
}

// Prune removes records whose path no longer exists according to exists
// and returns how many were removed. Runs never prune on their own.
func (s *Store) Prune(exists func(path string) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	removed := 0
	for _, rec := range s.records {
		if exists(rec.Path) {
			kept = append(kept, rec)
			continue
		}
		removed++
	}
	s.records = kept
	s.rebuildIndexLocked()
	return removed
}

// Records returns a copy of the records in insertion order.
func (s *Store) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// TotalSizeBefore sums SizeBefore over all records.
func (s *Store) TotalSizeBefore() float64 {
	before, _ := s.totals()
	return before
}

// TotalSizeAfter sums SizeAfter over all records.
func (s *Store) TotalSizeAfter() float64 {
	_, after := s.totals()
	return after
}

// TotalSaved returns the bytes saved across all records.
func (s *Store) TotalSaved() float64 {
	return types.SavedBytes(s.totals())
}

// TotalSavedPercent returns the percentage saved across all records.
func (s *Store) TotalSavedPercent() float64 {
	return types.SavedPercent(s.totals())
}

func (s *Store) totals() (before, after float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		before += rec.SizeBefore
		after += rec.SizeAfter
	}
	return before, after
}

func (s *Store) reset(records []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = s.records[:0]
	s.index = make(map[string]int, len(records))
	for _, rec := range records {
		s.upsertLocked(rec)
	}
}

func (s *Store) rebuildIndexLocked() {
	s.index = make(map[string]int, len(s.records))
	for i, rec := range s.records {
		s.index[Key(rec.Path)] = i
	}
}
