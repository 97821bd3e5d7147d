// Package output provides formatters for shrink run reports and manifest
// listings in various output formats (pretty, plain, json, yaml, etc.).
//
// The package uses a registry pattern so formatters can be selected by
// name at runtime.
//
// Basic usage:
//
//	formatter, err := output.Get("pretty")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, output.FromRun(res)); err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Print(buf.String())
package output

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jamesainslie/shrink/pkg/shrink/engine"
	"github.com/jamesainslie/shrink/pkg/shrink/manifest"
	"github.com/jamesainslie/shrink/pkg/shrink/types"
)

// FileRow is one file in a report.
type FileRow struct {
	// Path is the absolute source path.
	Path string `json:"path" yaml:"path"`

	// RelPath is the path relative to the source directory.
	RelPath string `json:"rel_path" yaml:"rel_path"`

	// Action is optimized, skipped, current, errored or cancelled.
	// Manifest listings leave it empty.
	Action string `json:"action,omitempty" yaml:"action,omitempty"`

	Service string `json:"service,omitempty" yaml:"service,omitempty"`
	Reason  string `json:"reason,omitempty" yaml:"reason,omitempty"`

	SizeBefore float64 `json:"size_before" yaml:"size_before"`
	SizeAfter  float64 `json:"size_after" yaml:"size_after"`

	// OptimizedAt is set for manifest listings.
	OptimizedAt time.Time `json:"optimized_at,omitzero" yaml:"optimized_at,omitempty"`

	Hash string `json:"hash,omitempty" yaml:"hash,omitempty"`
}

// Saved returns the bytes saved for the row.
func (f FileRow) Saved() float64 {
	return types.SavedBytes(f.SizeBefore, f.SizeAfter)
}

// SavedPercent returns the percentage saved for the row.
func (f FileRow) SavedPercent() float64 {
	return types.SavedPercent(f.SizeBefore, f.SizeAfter)
}

// Summary aggregates a report.
type Summary struct {
	Optimized  int64         `json:"optimized" yaml:"optimized"`
	Skipped    int64         `json:"skipped" yaml:"skipped"`
	Errored    int64         `json:"errored" yaml:"errored"`
	Cancelled  int64         `json:"cancelled" yaml:"cancelled"`
	SizeBefore float64       `json:"size_before" yaml:"size_before"`
	SizeAfter  float64       `json:"size_after" yaml:"size_after"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
}

// Saved returns the total bytes saved.
func (s Summary) Saved() float64 {
	return types.SavedBytes(s.SizeBefore, s.SizeAfter)
}

// SavedPercent returns the total percentage saved.
func (s Summary) SavedPercent() float64 {
	return types.SavedPercent(s.SizeBefore, s.SizeAfter)
}

// Result contains the complete output data for formatting.
type Result struct {
	// Kind is "run" for an optimization report and "manifest" for a
	// manifest listing.
	Kind string `json:"kind" yaml:"kind"`

	RunID    string `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Source   string `json:"source,omitempty" yaml:"source,omitempty"`
	Output   string `json:"output,omitempty" yaml:"output,omitempty"`
	Manifest string `json:"manifest,omitempty" yaml:"manifest,omitempty"`

	Files   []FileRow `json:"files" yaml:"files"`
	Summary Summary   `json:"summary" yaml:"summary"`

	// Warnings contains messages worth showing after the table.
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`

	// Interrupted indicates the run was cancelled by the user.
	Interrupted bool `json:"interrupted" yaml:"interrupted"`
}

// Report kinds.
const (
	KindRun      = "run"
	KindManifest = "manifest"
)

// FromRun builds a report from an engine result.
func FromRun(res *engine.Result) *Result {
	r := &Result{
		Kind:     KindRun,
		RunID:    res.RunID,
		Source:   res.Source,
		Output:   res.Output,
		Manifest: res.Manifest,
		Files:    make([]FileRow, 0, len(res.Outcomes)),
		Summary: Summary{
			Optimized:  res.Stats.OptimizedCount(),
			Skipped:    res.Stats.Skipped,
			Errored:    res.Stats.Errored,
			Cancelled:  res.Stats.Cancelled,
			SizeBefore: res.Stats.SizeBefore,
			SizeAfter:  res.Stats.SizeAfter,
			Duration:   res.Elapsed,
		},
		Interrupted: res.Stats.Cancelled > 0,
	}

	for _, o := range res.Outcomes {
		r.Files = append(r.Files, FileRow{
			Path:       o.Path,
			RelPath:    o.RelPath,
			Action:     string(o.Action),
			Service:    o.Service,
			Reason:     o.Reason,
			SizeBefore: o.SizeBefore,
			SizeAfter:  o.SizeAfter,
		})
	}
	if n := res.Stats.Errored; n > 0 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("%d file(s) failed to optimize", n))
	}
	return r
}

// FromRecords builds a manifest listing. Paths below source are shown
// relative to it.
func FromRecords(source, manifestPath string, records []manifest.Record) *Result {
	r := &Result{
		Kind:     KindManifest,
		Source:   source,
		Manifest: manifestPath,
		Files:    make([]FileRow, 0, len(records)),
	}

	for _, rec := range records {
		r.Files = append(r.Files, FileRow{
			Path:        rec.Path,
			RelPath:     relativeTo(source, rec.Path),
			Service:     rec.Service,
			SizeBefore:  rec.SizeBefore,
			SizeAfter:   rec.SizeAfter,
			OptimizedAt: rec.OptimizedAt,
			Hash:        rec.Hash,
		})
		r.Summary.Optimized++
		r.Summary.SizeBefore += rec.SizeBefore
		r.Summary.SizeAfter += rec.SizeAfter
	}
	sort.Slice(r.Files, func(i, j int) bool { return r.Files[i].Path < r.Files[j].Path })
	return r
}

// Formatter is the interface that all output formatters must implement.
type Formatter interface {
	// Format writes the formatted output to the buffer.
	Format(w *bytes.Buffer, r *Result) error
}

// FormatterFactory is a function that creates a new Formatter instance.
type FormatterFactory func() Formatter

// Registry manages formatter registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates a new formatter registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]FormatterFactory),
	}
}

// Register adds a formatter factory to the registry, replacing any
// formatter with the same name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter instance by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown formatter: %s", name)
	}
	return factory(), nil
}

// Available returns a sorted list of all registered formatter names.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Register adds a formatter factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a new formatter instance from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns all formatter names from the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}
