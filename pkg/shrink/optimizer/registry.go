package optimizer

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/jamesainslie/shrink/pkg/shrink/logging"
	"github.com/jamesainslie/shrink/pkg/shrink/types"
)

var logger = logging.Get("registry")

// Registry is an ordered set of backends. Registration order is priority
// order for extension lookups. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	backends []Backend
	fetcher  *Fetcher
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithFetcher sets the Fetcher used to materialize results.
func WithFetcher(f *Fetcher) RegistryOption {
	return func(r *Registry) {
		r.fetcher = f
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{}
	for _, opt := range opts {
		opt(r)
	}
	if r.fetcher == nil {
		r.fetcher = NewFetcher(nil)
	}
	return r
}

// Add appends b at the lowest priority.
func (r *Registry) Add(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends = append(r.backends, b)
}

// Remove drops the backend named name and reports whether one was found.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, b := range r.backends {
		if strings.EqualFold(b.Name(), name) {
			r.backends = append(r.backends[:i], r.backends[i+1:]...)
			return true
		}
	}
	return false
}

// Clear removes every backend.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends = nil
}

// Backends returns the registered backends in priority order.
func (r *Registry) Backends() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Backend, len(r.backends))
	copy(out, r.backends)
	return out
}

// Len returns the number of registered backends.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.backends)
}

// GetByName returns a clone of the backend named name, or nil.
func (r *Registry) GetByName(name string) Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.backends {
		if strings.EqualFold(b.Name(), name) {
			return b.Clone()
		}
	}
	return nil
}

// GetByExtension returns a clone of the first backend supporting ext, or nil.
func (r *Registry) GetByExtension(ext string) Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.backends {
		if b.Supports(ext) {
			return b.Clone()
		}
	}
	return nil
}

// GetByPath returns a clone of the first backend supporting path's extension.
func (r *Registry) GetByPath(path string) Backend {
	return r.GetByExtension(Extension(path))
}

// Configure passes env to every backend.
func (r *Registry) Configure(env Environment) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.backends {
		b.Configure(env)
	}
}

// Supports reports whether any backend handles ext.
func (r *Registry) Supports(ext string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.backends {
		if b.Supports(ext) {
			return true
		}
	}
	return false
}

// Optimize resolves a backend for sourcePath, runs it and writes the
// result to outputPath when it is smaller. preferred names a backend
// to try first; when it is empty or unknown the extension decides.
//
// Optimize never returns a Go error: every failure, including a panic in
// the backend, is reported through the Outcome.
func (r *Registry) Optimize(ctx context.Context, preferred, sourcePath, outputPath string) (out Outcome) {
	var backend Backend
	if preferred != "" {
		backend = r.GetByName(preferred)
	}
	if backend == nil {
		backend = r.GetByPath(sourcePath)
	}
	if backend == nil {
		logger.Debug("no backend for file", "path", sourcePath, "preferred", preferred)
		return Failed(preferred, sourcePath, types.MsgUnsupportedFile)
	}

	name := backend.Name()
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("backend panicked", "service", name, "path", sourcePath, "panic", rec)
			out = Failed(name, sourcePath, fmt.Sprint(rec))
		}
	}()

	info, err := os.Stat(sourcePath)
	if err != nil {
		return Failed(name, sourcePath, err.Error())
	}
	length := float64(info.Size())

	if limit := backend.MaxFileSize(); limit != 0 && info.Size() >= limit {
		logger.Debug("file exceeds size ceiling", "service", name, "path", sourcePath, "size", info.Size(), "limit", limit)
		return Outcome{
			Service:    name,
			SourcePath: sourcePath,
			Error:      types.MsgInvalidFileSize,
			SizeBefore: length,
			SizeAfter:  length,
		}
	}

	out = backend.Optimize(ctx, sourcePath)
	out.Service = name
	out.SourcePath = sourcePath

	if out.HasError() {
		discard(out.Location, sourcePath)
		logger.Debug("backend failed", "service", name, "path", sourcePath, "error", out.Error)
		return Outcome{Service: name, SourcePath: sourcePath, Error: out.Error}
	}

	if out.SizeBefore == 0 {
		out.SizeBefore = length
		out.SizeAfter = length
	}

	// A result that is not smaller is never written over the output.
	if out.SizeAfter >= out.SizeBefore {
		discard(out.Location, sourcePath)
		if out.SizeAfter > out.SizeBefore {
			logger.Debug("discarding larger result", "service", name, "path", sourcePath,
				"before", out.SizeBefore, "after", out.SizeAfter)
		}
		return Outcome{
			Service:    name,
			SourcePath: sourcePath,
			Error:      types.MsgMatchingFileSize,
			SizeBefore: length,
			SizeAfter:  length,
			ModifiedAt: info.ModTime(),
		}
	}

	if err := r.fetcher.Fetch(ctx, out.Location, outputPath); err != nil {
		discard(out.Location, sourcePath)
		logger.Warn("failed to write result", "service", name, "path", sourcePath, "error", err)
		return Failed(name, sourcePath, err.Error())
	}

	out.ModifiedAt = info.ModTime()
	logger.Debug("file optimized", "service", name, "path", sourcePath,
		"before", out.SizeBefore, "after", out.SizeAfter)
	return out
}

// discard removes a local temporary result. Remote locations and the
// source itself are left alone.
func discard(location, sourcePath string) {
	if location == "" || IsRemote(location) {
		return
	}
	if strings.EqualFold(location, sourcePath) {
		return
	}
	_ = os.Remove(location)
}
