// Package manifest keeps the record of previously optimized files so that
// repeated runs only touch files that changed.
package manifest

import (
	"strings"
	"time"

	"github.com/jamesainslie/shrink/pkg/shrink/types"
)

// DateLayout is the timestamp layout used in manifest files.
const DateLayout = "2006/01/02 15:04"

// Record describes the last optimization of one source file.
type Record struct {
	// Path is the absolute path of the source file.
	Path string `json:"path" yaml:"path"`

	// Service is the backend that produced the result. Empty means the
	// file was never optimized.
	Service string `json:"service" yaml:"service"`

	// OptimizedAt is when the result was produced.
	OptimizedAt time.Time `json:"optimized_at" yaml:"optimized_at"`

	// Hash is the lowercase hex MD5 of the source content at that time.
	Hash string `json:"hash" yaml:"hash"`

	// SizeBefore and SizeAfter are the byte counts of that run.
	SizeBefore float64 `json:"size_before" yaml:"size_before"`
	SizeAfter  float64 `json:"size_after" yaml:"size_after"`
}

// SavedBytes returns the bytes saved by the optimization.
func (r Record) SavedBytes() float64 {
	return types.SavedBytes(r.SizeBefore, r.SizeAfter)
}

// SavedPercent returns the percentage saved, rounded to one decimal.
func (r Record) SavedPercent() float64 {
	return types.SavedPercent(r.SizeBefore, r.SizeAfter)
}

// IsOptimized reports whether the record carries an optimization result.
func (r Record) IsOptimized() bool {
	return r.Service != "" && !r.OptimizedAt.IsZero()
}

// RequiresOptimization reports whether content with candidateHash differs
// from the content this record was produced from.
func (r Record) RequiresOptimization(candidateHash string) bool {
	return !strings.EqualFold(r.Hash, candidateHash)
}

// DifferentService reports whether a run that requests service must
// redo this record. An empty request accepts any service.
func (r Record) DifferentService(service string) bool {
	return service != "" && !strings.EqualFold(service, r.Service)
}
