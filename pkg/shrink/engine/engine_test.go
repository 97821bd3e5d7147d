package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/shrink/pkg/shrink/manifest"
	"github.com/jamesainslie/shrink/pkg/shrink/optimizer"
	"github.com/jamesainslie/shrink/pkg/shrink/types"
)

// halver writes a result half the size of its input into a temp file.
type halver struct {
	name    string
	exts    []string
	maxSize int64
	calls   *atomic.Int32
	hook    func(ctx context.Context, src string) *optimizer.Outcome
}

func newHalver(name string, exts ...string) *halver {
	return &halver{name: name, exts: exts, calls: &atomic.Int32{}}
}

func (h *halver) Name() string {
	return h.name
}

func (h *halver) Extensions() []string {
	return h.exts
}

func (h *halver) MaxFileSize() int64 {
	return h.maxSize
}

func (h *halver) Configure(optimizer.Environment) {}

func (h *halver) Supports(ext string) bool {
	return optimizer.SupportsExtension(h.exts, ext)
}

func (h *halver) Clone() optimizer.Backend {
	c := *h
	return &c
}

func (h *halver) Optimize(ctx context.Context, src string) optimizer.Outcome {
	h.calls.Add(1)
	if h.hook != nil {
		if out := h.hook(ctx, src); out != nil {
			return *out
		}
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return optimizer.Failed(h.name, src, err.Error())
	}
	half := data[:len(data)/2]

	tmp, err := os.CreateTemp("", "halver-*"+filepath.Ext(src))
	if err != nil {
		return optimizer.Failed(h.name, src, err.Error())
	}
	defer tmp.Close()
	if _, err := tmp.Write(half); err != nil {
		return optimizer.Failed(h.name, src, err.Error())
	}

	return optimizer.Outcome{
		SizeBefore: float64(len(data)),
		SizeAfter:  float64(len(half)),
		Location:   tmp.Name(),
	}
}

var _ optimizer.Backend = (*halver)(nil)

func newEngine(t *testing.T, opts []Option, backends ...optimizer.Backend) *Engine {
	t.Helper()

	reg := optimizer.NewRegistry()
	for _, b := range backends {
		reg.Add(b)
	}
	e, err := New(reg, opts...)
	require.NoError(t, err)
	return e
}

func writeFile(t *testing.T, path string, size int, fill byte) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	data := make([]byte, size)
	for i := range data {
		data[i] = fill + byte(i%7)
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestNewRequiresRegistry(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNoRegistry)
}

func TestOptimizeSourceErrors(t *testing.T) {
	t.Parallel()

	e := newEngine(t, nil)
	dir := t.TempDir()

	_, err := e.Optimize(context.Background(), filepath.Join(dir, "missing"), "", DefaultSettings())
	assert.ErrorIs(t, err, ErrSourceNotFound)

	file := filepath.Join(dir, "file.png")
	writeFile(t, file, 10, 'a')
	_, err = e.Optimize(context.Background(), file, "", DefaultSettings())
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func TestOptimizeSeparateOutput(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	out := t.TempDir()
	writeFile(t, filepath.Join(src, "a.png"), 100, 'a')
	writeFile(t, filepath.Join(src, "nested", "b.jpg"), 40, 'b')

	e := newEngine(t, []Option{WithRunID(func() string { return "run-1" })},
		newHalver("Half", ".png", ".jpg"))

	res, err := e.Optimize(context.Background(), src, out, DefaultSettings())
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, int64(2), res.Stats.OptimizedCount())
	assert.Equal(t, 140.0, res.Stats.SizeBefore)
	assert.Equal(t, 70.0, res.Stats.SizeAfter)
	assert.Equal(t, 50.0, res.Stats.SavedPercent())

	info, err := os.Stat(filepath.Join(out, "nested", "b.jpg"))
	require.NoError(t, err)
	assert.Equal(t, int64(20), info.Size())

	// Sources are untouched when writing elsewhere.
	info, err = os.Stat(filepath.Join(src, "a.png"))
	require.NoError(t, err)
	assert.Equal(t, int64(100), info.Size())

	_, err = os.Stat(filepath.Join(src, ManifestFileName))
	require.NoError(t, err, "manifest defaults to the source directory")

	require.Len(t, res.Records, 2)
	assert.Equal(t, filepath.Join(src, "a.png"), res.Records[0].Path)
	assert.Equal(t, "Half", res.Records[0].Service)
}

func TestOptimizeIdempotent(t *testing.T) {
	t.Parallel()

	for _, inPlace := range []bool{false, true} {
		t.Run(fmt.Sprintf("in_place=%v", inPlace), func(t *testing.T) {
			t.Parallel()

			src := t.TempDir()
			out := t.TempDir()
			if inPlace {
				out = src
			}
			for i := range 5 {
				writeFile(t, filepath.Join(src, fmt.Sprintf("img%d.png", i)), 64+i, 'a')
			}

			backend := newHalver("Half", ".png")
			e := newEngine(t, nil, backend)

			first, err := e.Optimize(context.Background(), src, out, DefaultSettings())
			require.NoError(t, err)
			assert.Equal(t, int64(5), first.Stats.OptimizedCount())

			second, err := e.Optimize(context.Background(), src, out, DefaultSettings())
			require.NoError(t, err)
			assert.Equal(t, int64(0), second.Stats.OptimizedCount())
			assert.Equal(t, int64(5), second.Stats.Skipped)
			assert.Equal(t, int32(5), backend.calls.Load())

			for _, o := range second.Outcomes {
				assert.Equal(t, ActionCurrent, o.Action, o.RelPath)
			}
			// Recorded sizes carry over to the aggregate.
			assert.Equal(t, first.Stats.SizeBefore, second.Stats.SizeBefore)
			assert.Equal(t, first.Stats.SizeAfter, second.Stats.SizeAfter)
		})
	}
}

func TestOptimizeHashSensitivity(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	out := t.TempDir()
	changed := filepath.Join(src, "changed.png")
	stable := filepath.Join(src, "stable.png")
	writeFile(t, changed, 50, 'a')
	writeFile(t, stable, 50, 'a')

	backend := newHalver("Half", ".png")
	e := newEngine(t, nil, backend)

	_, err := e.Optimize(context.Background(), src, out, DefaultSettings())
	require.NoError(t, err)

	writeFile(t, changed, 50, 'z')

	res, err := e.Optimize(context.Background(), src, out, DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, []string{changed}, res.Stats.Optimized)
	assert.Equal(t, int32(3), backend.calls.Load())
}

func TestOptimizeServiceChange(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	out := t.TempDir()
	writeFile(t, filepath.Join(src, "a.png"), 80, 'a')

	first := newHalver("A", ".png")
	second := newHalver("B", ".png")
	e := newEngine(t, nil, first, second)

	res, err := e.Optimize(context.Background(), src, out, DefaultSettings())
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "A", res.Records[0].Service)

	settings := DefaultSettings()
	settings.Service = "B"
	res, err = e.Optimize(context.Background(), src, out, settings)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Stats.OptimizedCount())
	require.Len(t, res.Records, 1)
	assert.Equal(t, "B", res.Records[0].Service)
	assert.Equal(t, int32(1), second.calls.Load())

	// Same service again is current.
	res, err = e.Optimize(context.Background(), src, out, settings)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Stats.OptimizedCount())
}

func TestOptimizeRecordSizesNeverGrow(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	out := t.TempDir()
	for i := range 10 {
		writeFile(t, filepath.Join(src, fmt.Sprintf("f%02d.png", i)), 10*(i+1), 'a')
	}
	writeFile(t, filepath.Join(src, "same.gif"), 30, 'g')

	same := newHalver("Same", ".gif")
	same.hook = func(context.Context, string) *optimizer.Outcome {
		return &optimizer.Outcome{}
	}
	e := newEngine(t, nil, newHalver("Half", ".png"), same)

	res, err := e.Optimize(context.Background(), src, out, DefaultSettings())
	require.NoError(t, err)

	matching := 0
	for _, rec := range res.Records {
		if rec.Service == "Same" {
			matching++
			assert.Equal(t, rec.SizeBefore, rec.SizeAfter)
			continue
		}
		assert.LessOrEqual(t, rec.SizeAfter, rec.SizeBefore, rec.Path)
	}
	assert.Equal(t, 1, matching)
	assert.Equal(t, int64(1), res.Stats.Skipped)
}

func TestOptimizeLargerResultKeepsSource(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	path := filepath.Join(src, "a.png")
	writeFile(t, path, 100, 'a')
	original, err := os.ReadFile(path)
	require.NoError(t, err)

	grow := newHalver("Grow", ".png")
	grow.hook = func(_ context.Context, src string) *optimizer.Outcome {
		tmp, err := os.CreateTemp("", "grow-*.png")
		require.NoError(t, err)
		_, err = tmp.Write(make([]byte, 150))
		require.NoError(t, err)
		require.NoError(t, tmp.Close())
		return &optimizer.Outcome{SizeBefore: 100, SizeAfter: 150, Location: tmp.Name()}
	}
	e := newEngine(t, nil, grow)

	res, err := e.Optimize(context.Background(), src, src, DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Stats.OptimizedCount())
	assert.Equal(t, int64(1), res.Stats.Skipped)
	assert.Equal(t, 100.0, res.Stats.SizeBefore)
	assert.Equal(t, 100.0, res.Stats.SizeAfter)

	require.Len(t, res.Records, 1)
	assert.Equal(t, 100.0, res.Records[0].SizeBefore)
	assert.Equal(t, 100.0, res.Records[0].SizeAfter)

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, onDisk)

	// The file is recorded, so the next run leaves it alone.
	res, err = e.Optimize(context.Background(), src, src, DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Stats.Skipped)
	assert.Equal(t, int32(1), grow.calls.Load())
}

func TestOptimizeUnknownServiceUsesExtension(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	out := t.TempDir()
	writeFile(t, filepath.Join(src, "a.png"), 80, 'a')

	half := newHalver("Half", ".png")
	e := newEngine(t, nil, half)

	settings := DefaultSettings()
	settings.Service = "Missing"
	res, err := e.Optimize(context.Background(), src, out, settings)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Stats.OptimizedCount())
	require.Len(t, res.Records, 1)
	assert.Equal(t, "Half", res.Records[0].Service)

	res, err = e.Optimize(context.Background(), src, out, settings)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Stats.OptimizedCount())
	assert.Equal(t, int32(1), half.calls.Load())

	// A differently cased name matches the registered backend.
	settings.Service = "half"
	res, err = e.Optimize(context.Background(), src, out, settings)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Stats.OptimizedCount())
	assert.Equal(t, int32(1), half.calls.Load())
}

func TestOptimizeUnsupportedAndOversized(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	out := t.TempDir()
	writeFile(t, filepath.Join(src, "notes.txt"), 25, 't')
	writeFile(t, filepath.Join(src, "big.png"), 200, 'b')
	writeFile(t, filepath.Join(src, "small.png"), 20, 's')

	backend := newHalver("Half", ".png")
	backend.maxSize = 200
	e := newEngine(t, nil, backend)

	res, err := e.Optimize(context.Background(), src, out, DefaultSettings())
	require.NoError(t, err)

	reasons := map[string]string{}
	for _, o := range res.Outcomes {
		reasons[o.RelPath] = o.Reason
	}
	assert.Equal(t, types.MsgUnsupportedFile, reasons["notes.txt"])
	assert.Equal(t, types.MsgInvalidFileSize, reasons["big.png"])
	assert.Empty(t, reasons["small.png"])

	assert.Equal(t, int32(1), backend.calls.Load(), "oversized file must not reach the backend")
	assert.Equal(t, int64(2), res.Stats.Skipped)
	assert.Equal(t, 245.0, res.Stats.SizeBefore)
	assert.Equal(t, 235.0, res.Stats.SizeAfter)

	// Unsupported and oversized files leave no record.
	require.Len(t, res.Records, 1)
	assert.Equal(t, filepath.Join(src, "small.png"), res.Records[0].Path)
}

func TestOptimizeConcurrentAggregate(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	out := t.TempDir()

	var wantBefore float64
	for i := range 100 {
		ext := ".png"
		switch i % 10 {
		case 0:
			ext = ".txt"
		case 1:
			ext = ".bad"
		}
		size := 16 + i
		wantBefore += float64(size)
		writeFile(t, filepath.Join(src, fmt.Sprintf("d%d", i%4), fmt.Sprintf("f%03d%s", i, ext)), size, 'a')
	}

	failing := newHalver("Broken", ".bad")
	failing.hook = func(_ context.Context, src string) *optimizer.Outcome {
		out := optimizer.Failed("Broken", src, "boom")
		return &out
	}

	var (
		mu     sync.Mutex
		events []Progress
	)
	e := newEngine(t, []Option{
		WithWorkers(8),
		WithProgress(func(p Progress) {
			mu.Lock()
			events = append(events, p)
			mu.Unlock()
		}),
	}, newHalver("Half", ".png"), failing)

	res, err := e.Optimize(context.Background(), src, out, DefaultSettings())
	require.NoError(t, err)

	stats := res.Stats
	assert.Equal(t, int64(100), stats.OptimizedCount()+stats.Skipped+stats.Errored)
	assert.Equal(t, int64(80), stats.OptimizedCount())
	assert.Equal(t, int64(10), stats.Skipped)
	assert.Equal(t, int64(10), stats.Errored)

	var before, after float64
	for _, o := range res.Outcomes {
		before += o.SizeBefore
		after += o.SizeAfter
	}
	assert.Equal(t, before, stats.SizeBefore)
	assert.Equal(t, after, stats.SizeAfter)

	// Errored files contribute nothing.
	var erroredSize float64
	for _, o := range res.Outcomes {
		if o.Action == ActionErrored {
			assert.Equal(t, "boom", o.Reason)
			erroredSize += float64(16 + indexOf(t, o.RelPath))
		}
	}
	assert.Equal(t, wantBefore-erroredSize, stats.SizeBefore)

	require.Len(t, events, 100)
	seen := map[int]bool{}
	for _, ev := range events {
		assert.Equal(t, 100, ev.Total)
		seen[ev.Done] = true
	}
	assert.Len(t, seen, 100, "done counter must be strictly increasing")
}

func indexOf(t *testing.T, rel string) int {
	t.Helper()

	var i int
	_, err := fmt.Sscanf(filepath.Base(rel), "f%03d", &i)
	require.NoError(t, err)
	return i
}

func TestOptimizeCancelled(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	out := t.TempDir()
	for i := range 20 {
		writeFile(t, filepath.Join(src, fmt.Sprintf("f%02d.png", i)), 32, 'a')
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := newHalver("Half", ".png")
	var once sync.Once
	backend.hook = func(ctx context.Context, _ string) *optimizer.Outcome {
		once.Do(cancel)
		<-ctx.Done()
		out := optimizer.Failed("Half", "", ctx.Err().Error())
		return &out
	}
	e := newEngine(t, []Option{WithWorkers(1)}, backend)

	res, err := e.Optimize(ctx, src, out, DefaultSettings())
	require.NoError(t, err)

	assert.Equal(t, int64(20), res.Stats.Cancelled)
	assert.Zero(t, res.Stats.Errored)
	assert.Equal(t, int32(1), backend.calls.Load())
}

func TestOptimizeMalformedManifest(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.png"), 32, 'a')
	require.NoError(t, os.WriteFile(filepath.Join(src, ManifestFileName), []byte("not xml"), 0o644))

	backend := newHalver("Half", ".png")
	e := newEngine(t, nil, backend)

	_, err := e.Optimize(context.Background(), src, "", DefaultSettings())
	require.ErrorIs(t, err, manifest.ErrMalformed)
	assert.Zero(t, backend.calls.Load())
}

func TestOptimizeManifestSaveFailure(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	out := t.TempDir()
	writeFile(t, filepath.Join(src, "a.png"), 32, 'a')

	// A directory where the temporary manifest would be written.
	manifestPath := filepath.Join(t.TempDir(), "manifest.xml")
	require.NoError(t, os.Mkdir(manifestPath+".tmp", 0o755))

	var completed atomic.Bool
	e := newEngine(t, []Option{WithCompleted(func([]manifest.Record) { completed.Store(true) })},
		newHalver("Half", ".png"))

	settings := DefaultSettings()
	settings.ConfigFile = manifestPath

	res, err := e.Optimize(context.Background(), src, out, settings)
	require.ErrorIs(t, err, ErrManifestSave)
	require.NotNil(t, res)
	assert.Equal(t, int64(1), res.Stats.OptimizedCount())
	assert.False(t, completed.Load())
}

func TestOptimizeScopeAndFilter(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeFile(t, filepath.Join(src, "top.png"), 20, 'a')
	writeFile(t, filepath.Join(src, "Photo.PNG"), 20, 'a')
	writeFile(t, filepath.Join(src, "top.jpg"), 20, 'a')
	writeFile(t, filepath.Join(src, "sub", "deep.png"), 20, 'a')

	tests := []struct {
		name     string
		settings Settings
		want     []string
	}{
		{
			name:     "recursive all",
			settings: DefaultSettings(),
			want:     []string{"Photo.PNG", filepath.Join("sub", "deep.png"), "top.jpg", "top.png"},
		},
		{
			name:     "top level",
			settings: Settings{SearchFilter: "*", SearchScope: TopLevel},
			want:     []string{"Photo.PNG", "top.jpg", "top.png"},
		},
		{
			name:     "filter is case insensitive",
			settings: Settings{SearchFilter: "*.png"},
			want:     []string{"Photo.PNG", filepath.Join("sub", "deep.png"), "top.png"},
		},
		{
			name:     "brace alternatives",
			settings: Settings{SearchFilter: "top.{jpg,png}", SearchScope: TopLevel},
			want:     []string{"top.jpg", "top.png"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := newEngine(t, nil)
			tt.settings.ConfigFile = filepath.Join(t.TempDir(), "m.xml")

			res, err := e.Optimize(context.Background(), src, t.TempDir(), tt.settings)
			require.NoError(t, err)

			var got []string
			for _, o := range res.Outcomes {
				got = append(got, o.RelPath)
			}
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestOptimizeInvalidFilter(t *testing.T) {
	t.Parallel()

	e := newEngine(t, nil)
	_, err := e.Optimize(context.Background(), t.TempDir(), "", Settings{SearchFilter: "[unclosed"})
	assert.ErrorContains(t, err, "invalid search filter")
}

func TestOptimizeSkipsManifestAndOutputDir(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	out := filepath.Join(src, "optimized")
	writeFile(t, filepath.Join(src, "a.png"), 40, 'a')

	e := newEngine(t, nil, newHalver("Half", ".png", ".xml"))

	_, err := e.Optimize(context.Background(), src, out, DefaultSettings())
	require.NoError(t, err)

	res, err := e.Optimize(context.Background(), src, out, DefaultSettings())
	require.NoError(t, err)

	for _, o := range res.Outcomes {
		assert.False(t, strings.HasPrefix(o.RelPath, "optimized"), o.RelPath)
		assert.NotEqual(t, ManifestFileName, o.RelPath)
	}
	assert.Len(t, res.Outcomes, 1)
}

func TestOptimizeCompletedCallbackAndClock(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.png"), 40, 'a')

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var ticks atomic.Int64
	clock := func() time.Time {
		return base.Add(time.Duration(ticks.Add(1)) * time.Second)
	}

	var got []manifest.Record
	e := newEngine(t, []Option{
		WithClock(clock),
		WithCompleted(func(recs []manifest.Record) { got = recs }),
	}, newHalver("Half", ".png"))

	res, err := e.Optimize(context.Background(), src, t.TempDir(), DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, time.Second, res.Elapsed)
	assert.Equal(t, res.Records, got)
}

func TestProgressLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ev   Progress
		want string
	}{
		{
			ev:   Progress{Action: ActionOptimized, RelPath: "a.png", SizeBefore: 2048, SizeAfter: 1024, Done: 1, Total: 3},
			want: "[1/3] Optimized: a.png - Saved: 1.0 KiB (50.0%)",
		},
		{
			ev:   Progress{Action: ActionSkipped, RelPath: "b.txt", Reason: types.MsgUnsupportedFile, Done: 2, Total: 3},
			want: "[2/3] Skipped: b.txt - Unsupported File",
		},
		{
			ev:   Progress{Action: ActionErrored, RelPath: "c.gif", Reason: "boom", Done: 3, Total: 3},
			want: "[3/3] Errored: c.gif - boom",
		},
		{
			ev:   Progress{Action: ActionCancelled, RelPath: "d.gif", Done: 3, Total: 3},
			want: "[3/3] Cancelled: d.gif",
		},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.ev.Line())
	}
}

func TestParseScope(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Scope{
		"":          Recursive,
		"recursive": Recursive,
		"Top-Level": TopLevel,
		"top":       TopLevel,
	} {
		got, err := ParseScope(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
		assert.NotEmpty(t, got.String())
	}

	_, err := ParseScope("sideways")
	assert.Error(t, err)
}
