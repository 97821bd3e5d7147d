// Package watcher reports debounced batches of filesystem changes below a
// directory tree so a run can be repeated when images are added or edited.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jamesainslie/shrink/pkg/shrink/logging"
)

var logger = logging.Get("watcher")

// DefaultDebounce is the quiet period used when none is configured.
const DefaultDebounce = 2 * time.Second

// Watcher watches a directory tree and batches change notifications.
type Watcher struct {
	watcher  *fsnotify.Watcher
	paths    map[string]bool
	mu       sync.RWMutex
	closed   bool
	debounce time.Duration
	ignore   func(path string) bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long the tree must stay quiet before a batch is
// delivered.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithIgnore drops events for paths the predicate accepts.
func WithIgnore(fn func(path string) bool) Option {
	return func(w *Watcher) {
		w.ignore = fn
	}
}

// New creates a Watcher.
func New(opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fsw,
		paths:    make(map[string]bool),
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Watch starts watching root and every directory below it.
// Symlinks are not followed to avoid loops.
func (w *Watcher) Watch(root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	info, err := os.Lstat(absRoot)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return nil
	}

	return w.addTree(absRoot)
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // Skip entries with errors
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignore != nil && path != root && w.ignore(path) {
			return filepath.SkipDir
		}
		return w.addWatch(path)
	})
}

func (w *Watcher) addWatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.paths[path] {
		return nil
	}

	if err := w.watcher.Add(path); err != nil {
		logger.Warn("failed to add watch", "path", path, "error", err)
		return err
	}

	w.paths[path] = true
	return nil
}

// Watched returns the watched directories, sorted.
func (w *Watcher) Watched() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]string, 0, len(w.paths))
	for p := range w.paths {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Run delivers batches of changed paths to onChange until ctx is done.
// A batch is delivered once no new event arrived for the debounce period.
// onChange runs on the Run goroutine; events arriving meanwhile form the
// next batch.
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context, paths []string)) {
	pending := make(map[string]struct{})
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if path, relevant := w.handleEvent(event); relevant {
				pending[path] = struct{}{}
				fire = time.After(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("watcher error", "error", err)

		case <-fire:
			fire = nil
			batch := make([]string, 0, len(pending))
			for p := range pending {
				batch = append(batch, p)
			}
			clear(pending)
			slices.Sort(batch)

			logger.Debug("changes settled", "paths", len(batch))
			if onChange != nil {
				onChange(ctx, batch)
			}
		}
	}
}

// handleEvent keeps the watch set in step with the tree and reports
// whether the event should trigger a run.
func (w *Watcher) handleEvent(event fsnotify.Event) (string, bool) {
	if w.ignore != nil && w.ignore(event.Name) {
		return "", false
	}

	switch {
	case event.Op&fsnotify.Create != 0:
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			_ = w.addTree(event.Name)
		}
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.removeTree(event.Name)
	case event.Op&fsnotify.Write != 0:
	default:
		// Chmod alone does not change content.
		return "", false
	}

	return event.Name, true
}

func (w *Watcher) removeTree(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for p := range w.paths {
		if p == path || isSubPath(p, path) {
			_ = w.watcher.Remove(p)
			delete(w.paths, p)
		}
	}
}

// Close closes the watcher and releases resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	w.paths = make(map[string]bool)
	return w.watcher.Close()
}

// isSubPath checks if path is under parent directory.
func isSubPath(path, parent string) bool {
	return len(path) > len(parent) && path[:len(parent)+1] == parent+string(filepath.Separator)
}
