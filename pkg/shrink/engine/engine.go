// Package engine runs incremental bulk optimization over a directory tree.
// It consults a manifest of earlier results, fans files out to the
// optimizer registry and merges the new records back into the manifest.
package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jamesainslie/shrink/pkg/shrink/hashcache"
	"github.com/jamesainslie/shrink/pkg/shrink/logging"
	"github.com/jamesainslie/shrink/pkg/shrink/manifest"
	"github.com/jamesainslie/shrink/pkg/shrink/optimizer"
	"github.com/jamesainslie/shrink/pkg/shrink/types"
)

var (
	// ErrNoRegistry is returned by New without a registry.
	ErrNoRegistry = errors.New("optimizer registry is required")

	// ErrSourceNotFound is returned when the source directory does not exist.
	ErrSourceNotFound = errors.New("source directory does not exist")

	// ErrNotDirectory is returned when the source is not a directory.
	ErrNotDirectory = errors.New("source is not a directory")

	// ErrManifestSave wraps a failure to persist the manifest after a run.
	// The run's Result is still returned alongside it.
	ErrManifestSave = errors.New("failed to save manifest")
)

var logger = logging.Get("engine")

// Engine optimizes directories. One Engine may serve several runs, but
// runs on the same Engine must not overlap.
type Engine struct {
	registry  *optimizer.Registry
	hasher    hashcache.Hasher
	workers   int
	progress  func(Progress)
	completed func([]manifest.Record)
	now       func() time.Time
	runID     func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithHasher sets the content hasher. The default reads files with MD5.
func WithHasher(h hashcache.Hasher) Option {
	return func(e *Engine) {
		if h != nil {
			e.hasher = h
		}
	}
}

// WithWorkers sets the default concurrency when Settings.Workers is zero.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithProgress sets a callback receiving one event per file. Calls are
// serialized.
func WithProgress(fn func(Progress)) Option {
	return func(e *Engine) {
		e.progress = fn
	}
}

// WithCompleted sets a callback receiving the run's records after the
// manifest has been written.
func WithCompleted(fn func([]manifest.Record)) Option {
	return func(e *Engine) {
		e.completed = fn
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRunID overrides run identifier generation.
func WithRunID(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.runID = fn
		}
	}
}

// New returns an Engine dispatching to registry.
func New(registry *optimizer.Registry, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, ErrNoRegistry
	}

	e := &Engine{
		registry: registry,
		hasher:   hashcache.MD5,
		workers:  runtime.GOMAXPROCS(0),
		now:      time.Now,
		runID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Result describes a finished run.
type Result struct {
	RunID  string `json:"run_id" yaml:"run_id"`
	Source string `json:"source" yaml:"source"`
	Output string `json:"output" yaml:"output"`

	// Manifest is the manifest file the run read and wrote.
	Manifest string `json:"manifest" yaml:"manifest"`

	// Records are the manifest records produced by the run, sorted by path.
	Records []manifest.Record `json:"records" yaml:"records"`

	Stats types.RunStats `json:"stats" yaml:"stats"`

	// Outcomes lists every enumerated file, sorted by path.
	Outcomes []FileOutcome `json:"outcomes" yaml:"outcomes"`

	Elapsed time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Optimize runs one incremental pass over sourceDir, writing optimized
// files below outputDir at the same relative paths. outputDir may equal
// sourceDir for in-place optimization.
//
// Per-file failures never fail the run; they are counted and reported.
// A manifest that cannot be parsed aborts the run before any file is
// touched. When the manifest cannot be saved afterwards the Result is
// returned together with an error wrapping ErrManifestSave.
func (e *Engine) Optimize(ctx context.Context, sourceDir, outputDir string, settings Settings) (*Result, error) {
	start := e.now()

	source, err := filepath.Abs(sourceDir)
	if err != nil {
		return nil, fmt.Errorf("resolving source: %w", err)
	}
	if outputDir == "" {
		outputDir = source
	}
	output, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, fmt.Errorf("resolving output: %w", err)
	}

	info, err := os.Stat(source)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, source)
		}
		return nil, fmt.Errorf("stat source: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, source)
	}

	manifestPath := settings.ConfigFile
	if manifestPath == "" {
		manifestPath = filepath.Join(source, ManifestFileName)
	}
	if manifestPath, err = filepath.Abs(manifestPath); err != nil {
		return nil, fmt.Errorf("resolving manifest: %w", err)
	}

	settings.Service = e.resolveService(settings.Service)

	store := manifest.New()
	if err := store.Load(manifestPath); err != nil {
		return nil, err
	}

	enum, err := newEnumerator(source, settings, output,
		manifestPath, manifestPath+".lock", manifestPath+".tmp")
	if err != nil {
		return nil, err
	}
	files, err := enum.list(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerating %s: %w", source, err)
	}

	run := &run{
		engine:   e,
		id:       e.runID(),
		source:   source,
		output:   output,
		settings: settings,
		store:    store,
		total:    len(files),
	}

	logger.Info("run started", "run_id", run.id, "source", source, "output", output,
		"files", len(files), "manifest", manifestPath, "service", settings.Service)

	workers := settings.Workers
	if workers <= 0 {
		workers = e.workers
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, path := range files {
		g.Go(func() error {
			run.process(gctx, path)
			return nil
		})
	}
	_ = g.Wait()

	records := run.sortedRecords()
	store.UpsertAll(records)

	result := &Result{
		RunID:    run.id,
		Source:   source,
		Output:   output,
		Manifest: manifestPath,
		Records:  records,
		Stats:    run.stats(),
		Outcomes: run.sortedOutcomes(),
	}

	saveErr := store.Save(manifestPath)
	result.Elapsed = e.now().Sub(start)

	logger.Info("run finished", "run_id", run.id,
		"optimized", result.Stats.OptimizedCount(),
		"skipped", result.Stats.Skipped,
		"errored", result.Stats.Errored,
		"cancelled", result.Stats.Cancelled,
		"saved", result.Stats.SavedBytes(),
		"elapsed", result.Elapsed)

	if saveErr != nil {
		logger.Error("manifest save failed", "path", manifestPath, "error", saveErr)
		return result, fmt.Errorf("%w: %w", ErrManifestSave, saveErr)
	}

	if e.completed != nil {
		e.completed(records)
	}
	return result, nil
}

// resolveService returns the registered spelling of service. An unknown
// name resolves to "" so every file is routed by extension and records
// are compared against the backend that actually ran.
func (e *Engine) resolveService(service string) string {
	if service == "" {
		return ""
	}
	if b := e.registry.GetByName(service); b != nil {
		return b.Name()
	}
	logger.Warn("unknown service, choosing by extension", "service", service)
	return ""
}

// run holds the mutable state of one Optimize call.
type run struct {
	engine   *Engine
	id       string
	source   string
	output   string
	settings Settings
	store    *manifest.Store
	total    int

	mu        sync.Mutex
	optimized []string
	skipped   int64
	errored   int64
	cancelled int64
	before    float64
	after     float64
	records   []manifest.Record
	outcomes  []FileOutcome

	progressMu sync.Mutex
	done       int
}

func (r *run) process(ctx context.Context, path string) {
	rel, err := filepath.Rel(r.source, path)
	if err != nil {
		rel = filepath.Base(path)
	}

	ev := Progress{RunID: r.id, Path: path, RelPath: rel}

	if ctx.Err() != nil {
		r.cancel(ev)
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		r.fail(ev, "", err.Error())
		return
	}
	length := float64(info.Size())

	hash, err := r.engine.hasher.Hash(path)
	if err != nil {
		r.fail(ev, "", err.Error())
		return
	}

	rec, found := r.store.Lookup(path)
	if found && !rec.RequiresOptimization(hash) && !rec.DifferentService(r.settings.Service) {
		rec.Hash = hash
		r.current(ev, rec)
		return
	}

	outPath := filepath.Join(r.output, rel)
	out := r.engine.registry.Optimize(ctx, r.settings.Service, path, outPath)

	switch {
	case !out.HasError():
		newHash := hash
		if manifest.Key(outPath) == manifest.Key(path) {
			// In place: the manifest must describe the bytes now on disk.
			if h, err := r.engine.hasher.Hash(path); err == nil {
				newHash = h
			}
		}
		r.optimize(ev, manifest.Record{
			Path:        path,
			Service:     out.Service,
			OptimizedAt: out.ModifiedAt,
			Hash:        newHash,
			SizeBefore:  out.SizeBefore,
			SizeAfter:   out.SizeAfter,
		})

	case out.Error == types.MsgMatchingFileSize:
		r.skip(ev, out, length, &manifest.Record{
			Path:        path,
			Service:     out.Service,
			OptimizedAt: info.ModTime(),
			Hash:        hash,
			SizeBefore:  length,
			SizeAfter:   length,
		})

	case out.IsSkip():
		r.skip(ev, out, length, nil)

	case ctx.Err() != nil:
		r.cancel(ev)

	default:
		r.fail(ev, out.Service, out.Error)
	}
}

func (r *run) optimize(ev Progress, rec manifest.Record) {
	r.mu.Lock()
	r.optimized = append(r.optimized, rec.Path)
	r.before += rec.SizeBefore
	r.after += rec.SizeAfter
	r.records = append(r.records, rec)
	r.outcomes = append(r.outcomes, FileOutcome{
		Path: ev.Path, RelPath: ev.RelPath, Action: ActionOptimized,
		Service: rec.Service, SizeBefore: rec.SizeBefore, SizeAfter: rec.SizeAfter,
	})
	r.mu.Unlock()

	logger.Info("optimized", "path", ev.Path, "service", rec.Service,
		"saved", rec.SavedBytes(), "percent", rec.SavedPercent())

	ev.Action = ActionOptimized
	ev.Record = &rec
	ev.SizeBefore, ev.SizeAfter = rec.SizeBefore, rec.SizeAfter
	r.emit(ev)
}

func (r *run) skip(ev Progress, out optimizer.Outcome, length float64, rec *manifest.Record) {
	r.mu.Lock()
	r.skipped++
	r.before += length
	r.after += length
	if rec != nil {
		r.records = append(r.records, *rec)
	}
	r.outcomes = append(r.outcomes, FileOutcome{
		Path: ev.Path, RelPath: ev.RelPath, Action: ActionSkipped,
		Service: out.Service, Reason: out.Error, SizeBefore: length, SizeAfter: length,
	})
	r.mu.Unlock()

	logger.Info("skipped", "path", ev.Path, "reason", out.Error)

	ev.Action = ActionSkipped
	ev.Reason = out.Error
	ev.Record = rec
	ev.SizeBefore, ev.SizeAfter = length, length
	r.emit(ev)
}

func (r *run) current(ev Progress, rec manifest.Record) {
	r.mu.Lock()
	r.skipped++
	r.before += rec.SizeBefore
	r.after += rec.SizeAfter
	r.records = append(r.records, rec)
	r.outcomes = append(r.outcomes, FileOutcome{
		Path: ev.Path, RelPath: ev.RelPath, Action: ActionCurrent,
		Service: rec.Service, SizeBefore: rec.SizeBefore, SizeAfter: rec.SizeAfter,
	})
	r.mu.Unlock()

	logger.Debug("up to date", "path", ev.Path, "service", rec.Service)

	ev.Action = ActionCurrent
	ev.Record = &rec
	ev.SizeBefore, ev.SizeAfter = rec.SizeBefore, rec.SizeAfter
	r.emit(ev)
}

func (r *run) fail(ev Progress, service, reason string) {
	r.mu.Lock()
	r.errored++
	r.outcomes = append(r.outcomes, FileOutcome{
		Path: ev.Path, RelPath: ev.RelPath, Action: ActionErrored,
		Service: service, Reason: reason,
	})
	r.mu.Unlock()

	logger.Warn("errored", "path", ev.Path, "service", service, "error", reason)

	ev.Action = ActionErrored
	ev.Reason = reason
	r.emit(ev)
}

func (r *run) cancel(ev Progress) {
	r.mu.Lock()
	r.cancelled++
	r.outcomes = append(r.outcomes, FileOutcome{
		Path: ev.Path, RelPath: ev.RelPath, Action: ActionCancelled,
	})
	r.mu.Unlock()

	ev.Action = ActionCancelled
	r.emit(ev)
}

func (r *run) emit(ev Progress) {
	r.progressMu.Lock()
	defer r.progressMu.Unlock()

	r.done++
	ev.Done = r.done
	ev.Total = r.total
	if r.engine.progress != nil {
		r.engine.progress(ev)
	}
}

func (r *run) stats() types.RunStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	optimized := slices.Clone(r.optimized)
	slices.Sort(optimized)
	return types.RunStats{
		Optimized:  optimized,
		Skipped:    r.skipped,
		Errored:    r.errored,
		Cancelled:  r.cancelled,
		SizeBefore: r.before,
		SizeAfter:  r.after,
	}
}

func (r *run) sortedRecords() []manifest.Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := slices.Clone(r.records)
	slices.SortFunc(out, func(a, b manifest.Record) int {
		return cmp.Compare(a.Path, b.Path)
	})
	return out
}

func (r *run) sortedOutcomes() []FileOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := slices.Clone(r.outcomes)
	slices.SortFunc(out, func(a, b FileOutcome) int {
		return cmp.Compare(a.Path, b.Path)
	})
	return out
}
