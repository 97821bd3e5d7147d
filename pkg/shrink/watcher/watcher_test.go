package watcher

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

// recorder collects batches delivered by Run.
type recorder struct {
	mu      sync.Mutex
	batches [][]string
	notify  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 16)}
}

func (r *recorder) onChange(_ context.Context, paths []string) {
	r.mu.Lock()
	r.batches = append(r.batches, paths)
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func (r *recorder) wait(t *testing.T) []string {
	t.Helper()

	select {
	case <-r.notify:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a batch")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches[len(r.batches)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func start(t *testing.T, root string, opts ...Option) (*Watcher, *recorder) {
	t.Helper()

	w, err := New(append([]Option{WithDebounce(100 * time.Millisecond)}, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Watch(root); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	rec := newRecorder()
	done := make(chan struct{})
	go func() {
		w.Run(ctx, rec.onChange)
		close(done)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		_ = w.Close()
	})
	return w, rec
}

func TestWatchTracksSubdirectories(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	w, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer w.Close()

	if err := w.Watch(root); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	want := []string{root, filepath.Join(root, "a"), sub}
	slices.Sort(want)
	if got := w.Watched(); !slices.Equal(got, want) {
		t.Errorf("Watched() = %v, want %v", got, want)
	}
}

func TestWatchFileIsNoop(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "a.png")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.Watch(file); err != nil {
		t.Errorf("Watch(file) error = %v", err)
	}
	if len(w.Watched()) != 0 {
		t.Errorf("Watched() = %v, want empty", w.Watched())
	}
	if err := w.Watch(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Watch(missing) expected error")
	}
}

func TestRunDebouncesBurst(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	_, rec := start(t, root)

	for i := range 5 {
		name := filepath.Join(root, "img"+string(rune('0'+i))+".png")
		if err := os.WriteFile(name, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	batch := rec.wait(t)
	if len(batch) != 5 {
		t.Errorf("batch = %v, want 5 paths", batch)
	}
	if !slices.IsSorted(batch) {
		t.Errorf("batch not sorted: %v", batch)
	}

	// Nothing else arrives once the tree is quiet.
	time.Sleep(300 * time.Millisecond)
	if n := rec.count(); n != 1 {
		t.Errorf("batches = %d, want 1", n)
	}
}

func TestRunIgnoresFilteredPaths(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	_, rec := start(t, root, WithIgnore(func(path string) bool {
		return strings.HasSuffix(path, ".xml")
	}))

	if err := os.WriteFile(filepath.Join(root, "manifest.xml"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if n := rec.count(); n != 0 {
		t.Fatalf("ignored path produced %d batches", n)
	}

	if err := os.WriteFile(filepath.Join(root, "a.png"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	batch := rec.wait(t)
	if len(batch) != 1 || filepath.Base(batch[0]) != "a.png" {
		t.Errorf("batch = %v", batch)
	}
}

func TestRunWatchesNewDirectories(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w, rec := start(t, root)

	sub := filepath.Join(root, "new")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	rec.wait(t)

	if !slices.Contains(w.Watched(), sub) {
		t.Fatalf("new directory not watched: %v", w.Watched())
	}

	if err := os.WriteFile(filepath.Join(sub, "deep.png"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	batch := rec.wait(t)
	if !slices.Contains(batch, filepath.Join(sub, "deep.png")) {
		t.Errorf("batch = %v, want deep.png", batch)
	}

	if err := os.RemoveAll(sub); err != nil {
		t.Fatal(err)
	}
	rec.wait(t)
	if slices.Contains(w.Watched(), sub) {
		t.Errorf("removed directory still watched")
	}
}

func TestHandleEventChmodIgnored(t *testing.T) {
	t.Parallel()

	w, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if _, relevant := w.handleEvent(fsnotify.Event{Name: "/x.png", Op: fsnotify.Chmod}); relevant {
		t.Error("chmod event should not trigger a run")
	}
	if path, relevant := w.handleEvent(fsnotify.Event{Name: "/x.png", Op: fsnotify.Write}); !relevant || path != "/x.png" {
		t.Errorf("write event = %q, %v", path, relevant)
	}
}

func TestCloseIdempotent(t *testing.T) {
	t.Parallel()

	w, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("first Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := w.addWatch(t.TempDir()); err != nil {
		t.Errorf("addWatch after Close = %v", err)
	}
}

func TestIsSubPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path, parent string
		want         bool
	}{
		{"/a/b", "/a", true},
		{"/a", "/a", false},
		{"/ab", "/a", false},
		{"/a/b/c", "/a/b", true},
	}
	for _, tt := range tests {
		if got := isSubPath(tt.path, tt.parent); got != tt.want {
			t.Errorf("isSubPath(%q, %q) = %v, want %v", tt.path, tt.parent, got, tt.want)
		}
	}
}
