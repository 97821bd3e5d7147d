package optimizer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/shrink/pkg/shrink/types"
)

type fakeBackend struct {
	name       string
	exts       []string
	maxSize    int64
	optimize   func(ctx context.Context, src string) Outcome
	calls      *atomic.Int32
	configured *atomic.Int32
}

func newFake(name string, exts ...string) *fakeBackend {
	return &fakeBackend{
		name:       name,
		exts:       exts,
		calls:      &atomic.Int32{},
		configured: &atomic.Int32{},
	}
}

func (f *fakeBackend) Name() string {
	return f.name
}

func (f *fakeBackend) Extensions() []string {
	return f.exts
}

func (f *fakeBackend) MaxFileSize() int64 {
	return f.maxSize
}

func (f *fakeBackend) Configure(Environment) {
	f.configured.Add(1)
}

func (f *fakeBackend) Supports(ext string) bool {
	return SupportsExtension(f.exts, ext)
}

func (f *fakeBackend) Clone() Backend {
	c := *f
	return &c
}

func (f *fakeBackend) Optimize(ctx context.Context, src string) Outcome {
	f.calls.Add(1)
	if f.optimize == nil {
		return Outcome{}
	}
	return f.optimize(ctx, src)
}

var _ Backend = (*fakeBackend)(nil)

func writeSource(t *testing.T, name string, size int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	mtime := time.Date(2023, 5, 1, 12, 0, 0, 0, time.Local)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func TestRegistryLookups(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	first := newFake("First", ".png")
	second := newFake("Second", ".png", ".gif")
	r.Add(first)
	r.Add(second)

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, "First", r.GetByExtension(".PNG").Name())
	assert.Equal(t, "Second", r.GetByPath("/a/b/anim.gif").Name())
	assert.Nil(t, r.GetByExtension(".bmp"))

	byName := r.GetByName("second")
	require.NotNil(t, byName)
	assert.Equal(t, "Second", byName.Name())
	assert.NotSame(t, second, byName, "lookups return clones")
	assert.Nil(t, r.GetByName("missing"))

	assert.True(t, r.Supports(".gif"))
	assert.False(t, r.Supports(".tiff"))

	assert.True(t, r.Remove("FIRST"))
	assert.False(t, r.Remove("FIRST"))
	assert.Equal(t, "Second", r.GetByExtension(".png").Name())

	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Backends())
}

func TestRegistryConfigureBroadcasts(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	a, b := newFake("A", ".png"), newFake("B", ".jpg")
	r.Add(a)
	r.Add(b)

	r.Configure(MapEnv{})
	r.Configure(MapEnv{})

	assert.Equal(t, int32(2), a.configured.Load())
	assert.Equal(t, int32(2), b.configured.Load())
}

func TestRegistryOptimizeUnsupported(t *testing.T) {
	t.Parallel()

	src := writeSource(t, "notes.txt", 10)
	r := NewRegistry()
	r.Add(newFake("Png", ".png"))

	out := r.Optimize(context.Background(), "Kraken", src, src)
	assert.Equal(t, types.MsgUnsupportedFile, out.Error)
	assert.Equal(t, "Kraken", out.Service)
	assert.Equal(t, src, out.SourcePath)
	assert.True(t, out.IsSkip())
}

func TestRegistryOptimizePreferredFallsBackToExtension(t *testing.T) {
	t.Parallel()

	src := writeSource(t, "a.png", 10)
	r := NewRegistry()
	png := newFake("Png", ".png")
	r.Add(png)

	out := r.Optimize(context.Background(), "Unknown", src, src)
	assert.Equal(t, "Png", out.Service)
	assert.Equal(t, types.MsgMatchingFileSize, out.Error)
	assert.Equal(t, int32(1), png.calls.Load())
}

func TestRegistryOptimizeInvalidFileSize(t *testing.T) {
	t.Parallel()

	src := writeSource(t, "big.png", 100)
	r := NewRegistry()
	b := newFake("Limited", ".png")
	b.maxSize = 100
	r.Add(b)

	out := r.Optimize(context.Background(), "", src, src)
	assert.Equal(t, types.MsgInvalidFileSize, out.Error)
	assert.Equal(t, "Limited", out.Service)
	assert.Equal(t, int32(0), b.calls.Load(), "backend must not be invoked")

	b.maxSize = 101
	out = r.Optimize(context.Background(), "", src, src)
	assert.Equal(t, types.MsgMatchingFileSize, out.Error)
	assert.Equal(t, int32(1), b.calls.Load())
}

func TestRegistryOptimizeMatchingSize(t *testing.T) {
	t.Parallel()

	src := writeSource(t, "same.png", 64)
	output := filepath.Join(t.TempDir(), "out", "same.png")

	r := NewRegistry()
	b := newFake("Same", ".png")
	b.optimize = func(context.Context, string) Outcome {
		return Outcome{SizeBefore: 64, SizeAfter: 64, Location: "https://example.invalid/x.png"}
	}
	r.Add(b)

	out := r.Optimize(context.Background(), "", src, output)
	assert.Equal(t, types.MsgMatchingFileSize, out.Error)
	assert.Equal(t, 64.0, out.SizeBefore)
	assert.Equal(t, 64.0, out.SizeAfter)

	_, err := os.Stat(output)
	assert.True(t, os.IsNotExist(err), "output must not be written")
}

func TestRegistryOptimizeLargerResultDiscarded(t *testing.T) {
	t.Parallel()

	src := writeSource(t, "grow.png", 100)
	tmp := filepath.Join(t.TempDir(), "result.png")

	r := NewRegistry()
	b := newFake("Grow", ".png")
	b.optimize = func(_ context.Context, src string) Outcome {
		require.NoError(t, os.WriteFile(tmp, make([]byte, 150), 0o600))
		return Outcome{SourcePath: src, SizeBefore: 100, SizeAfter: 150, Location: tmp}
	}
	r.Add(b)

	// In place: the source must keep its original bytes.
	out := r.Optimize(context.Background(), "", src, src)
	assert.Equal(t, types.MsgMatchingFileSize, out.Error)
	assert.Equal(t, "Grow", out.Service)
	assert.Equal(t, 100.0, out.SizeBefore)
	assert.Equal(t, 100.0, out.SizeAfter)

	info, err := os.Stat(src)
	require.NoError(t, err)
	assert.Equal(t, int64(100), info.Size())

	_, err = os.Stat(tmp)
	assert.True(t, os.IsNotExist(err), "temporary result must be removed")
}

func TestRegistryOptimizeLocalResult(t *testing.T) {
	t.Parallel()

	src := writeSource(t, "photo.jpg", 1000)
	output := filepath.Join(t.TempDir(), "nested", "dir", "photo.jpg")
	tmp := filepath.Join(t.TempDir(), "result.jpg")

	r := NewRegistry()
	b := newFake("Local", ".jpg")
	b.optimize = func(_ context.Context, src string) Outcome {
		require.NoError(t, os.WriteFile(tmp, make([]byte, 600), 0o600))
		return Outcome{SourcePath: src, SizeBefore: 1000, SizeAfter: 600, Location: tmp}
	}
	r.Add(b)

	out := r.Optimize(context.Background(), "", src, output)
	require.False(t, out.HasError(), out.Error)
	assert.Equal(t, "Local", out.Service)
	assert.Equal(t, 40.0, out.SavedPercent())
	assert.Equal(t, time.Date(2023, 5, 1, 12, 0, 0, 0, time.Local), out.ModifiedAt)

	info, err := os.Stat(output)
	require.NoError(t, err)
	assert.Equal(t, int64(600), info.Size())

	_, err = os.Stat(tmp)
	assert.True(t, os.IsNotExist(err), "temporary result must be removed")
}

func TestRegistryOptimizeRemoteResult(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("optimized"))
	}))
	defer srv.Close()

	src := writeSource(t, "logo.png", 500)

	r := NewRegistry(WithFetcher(NewFetcher(srv.Client())))
	b := newFake("Remote", ".png")
	b.optimize = func(context.Context, string) Outcome {
		return Outcome{SizeBefore: 500, SizeAfter: 9, Location: srv.URL + "/logo.png"}
	}
	r.Add(b)

	out := r.Optimize(context.Background(), "remote", src, src)
	require.False(t, out.HasError(), out.Error)

	data, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, "optimized", string(data), "in-place output replaces the source")
}

func TestRegistryOptimizeDownloadFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	src := writeSource(t, "logo.png", 500)
	output := filepath.Join(t.TempDir(), "logo.png")

	r := NewRegistry(WithFetcher(NewFetcher(srv.Client())))
	b := newFake("Remote", ".png")
	b.optimize = func(context.Context, string) Outcome {
		return Outcome{SizeBefore: 500, SizeAfter: 100, Location: srv.URL + "/gone.png"}
	}
	r.Add(b)

	out := r.Optimize(context.Background(), "", src, output)
	assert.True(t, out.HasError())
	assert.False(t, out.IsSkip())
	assert.Contains(t, out.Error, "404")
}

func TestRegistryOptimizeBackendError(t *testing.T) {
	t.Parallel()

	src := writeSource(t, "a.gif", 50)
	tmp := filepath.Join(t.TempDir(), "partial.gif")
	require.NoError(t, os.WriteFile(tmp, []byte("x"), 0o600))

	r := NewRegistry()
	b := newFake("Broken", ".gif")
	b.optimize = func(context.Context, string) Outcome {
		return Outcome{Error: "tool exploded", Location: tmp}
	}
	r.Add(b)

	out := r.Optimize(context.Background(), "", src, src)
	assert.Equal(t, "tool exploded", out.Error)
	assert.Equal(t, "Broken", out.Service)
	assert.False(t, out.IsSkip())

	_, err := os.Stat(tmp)
	assert.True(t, os.IsNotExist(err))
}

func TestRegistryOptimizeRecoversPanic(t *testing.T) {
	t.Parallel()

	src := writeSource(t, "a.png", 50)
	r := NewRegistry()
	b := newFake("Panicky", ".png")
	b.optimize = func(context.Context, string) Outcome {
		panic("boom")
	}
	r.Add(b)

	out := r.Optimize(context.Background(), "", src, src)
	assert.Equal(t, "Panicky", out.Service)
	assert.Equal(t, "boom", out.Error)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	t.Parallel()

	src := writeSource(t, "a.png", 50)
	r := NewRegistry()
	r.Add(newFake("Png", ".png"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = r.Optimize(context.Background(), "", src, src)
		}()
		go func() {
			defer wg.Done()
			r.Add(newFake("Extra", ".gif"))
			_ = r.Backends()
		}()
	}
	wg.Wait()

	assert.Equal(t, 21, r.Len())
}

func TestEnvHelpers(t *testing.T) {
	t.Parallel()

	env := MapEnv{
		"MS":       "1500",
		"DURATION": "3s",
		"BAD":      "soon",
		"ZERO":     "0",
		"SIZE":     "2MB",
		"BYTES":    "4096",
		"BADSIZE":  "huge",
		"YES":      "true",
		"NO":       "nope",
	}

	assert.Equal(t, 1500*time.Millisecond, EnvDuration(env, "MS", time.Second))
	assert.Equal(t, 3*time.Second, EnvDuration(env, "DURATION", time.Second))
	assert.Equal(t, time.Second, EnvDuration(env, "BAD", time.Second))
	assert.Equal(t, time.Second, EnvDuration(env, "ZERO", time.Second))
	assert.Equal(t, time.Second, EnvDuration(env, "UNSET", time.Second))

	assert.Equal(t, int64(2*types.MiB), EnvSize(env, "SIZE"))
	assert.Equal(t, int64(4096), EnvSize(env, "BYTES"))
	assert.Equal(t, int64(0), EnvSize(env, "BADSIZE"))
	assert.Equal(t, int64(0), EnvSize(env, "UNSET"))

	assert.True(t, EnvBool(env, "YES"))
	assert.False(t, EnvBool(env, "NO"))
	assert.False(t, EnvBool(env, "UNSET"))
}

func TestIsRemote(t *testing.T) {
	t.Parallel()

	assert.True(t, IsRemote("https://api.kraken.io/x.png"))
	assert.True(t, IsRemote("http://example.com/a"))
	assert.False(t, IsRemote("/tmp/result.png"))
	assert.False(t, IsRemote(`C:\temp\result.png`))
	assert.False(t, IsRemote("ftp://example.com/a"))
}
