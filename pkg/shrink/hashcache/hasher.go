package hashcache

import (
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/jamesainslie/shrink/pkg/shrink/logging"
)

var logger = logging.Get("hashcache")

// Hasher computes the content digest of a file.
type Hasher interface {
	Hash(path string) (string, error)
}

// HasherFunc adapts a function to Hasher.
type HasherFunc func(path string) (string, error)

// Hash implements Hasher.
func (f HasherFunc) Hash(path string) (string, error) { return f(path) }

// MD5 hashes file content directly.
var MD5 Hasher = HasherFunc(MD5File)

// MD5File returns the lowercase hex MD5 of the file at path.
func MD5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New() //nolint:gosec
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Cached is a Hasher that consults a Store before reading the file.
// Entries are trusted only while size and modification time are unchanged.
type Cached struct {
	store *Store
	next  Hasher

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCached wraps next with store. A nil next uses MD5.
func NewCached(store *Store, next Hasher) *Cached {
	if next == nil {
		next = MD5
	}
	return &Cached{store: store, next: next}
}

// Hash implements Hasher.
func (c *Cached) Hash(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}

	entry, err := c.store.Get(abs)
	switch {
	case err == nil && entry.Matches(info):
		c.hits.Add(1)
		return entry.Hash, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		logger.Warn("hash cache read failed", "path", abs, "error", err)
	}

	c.misses.Add(1)
	sum, err := c.next.Hash(abs)
	if err != nil {
		return "", err
	}

	if err := c.store.Put(abs, &Entry{
		Size:  info.Size(),
		Mtime: info.ModTime().UnixNano(),
		Hash:  sum,
	}); err != nil {
		logger.Warn("hash cache write failed", "path", abs, "error", err)
	}
	return sum, nil
}

// Stats returns cache hits and misses since construction.
func (c *Cached) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
