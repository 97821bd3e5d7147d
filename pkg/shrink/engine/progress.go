package engine

import (
	"fmt"

	"github.com/jamesainslie/shrink/pkg/shrink/manifest"
	"github.com/jamesainslie/shrink/pkg/shrink/types"
)

// Action is the decision reached for one file.
type Action string

const (
	// ActionOptimized means a backend produced a smaller file.
	ActionOptimized Action = "optimized"
	// ActionSkipped means the file was left alone: unsupported, too large
	// or no size change.
	ActionSkipped Action = "skipped"
	// ActionCurrent means the manifest already covers the file's content.
	ActionCurrent Action = "current"
	// ActionErrored means the backend or the write failed.
	ActionErrored Action = "errored"
	// ActionCancelled means the run was cancelled before the file started.
	ActionCancelled Action = "cancelled"
)

// Progress is delivered once per file as soon as its decision is reached.
type Progress struct {
	RunID   string `json:"run_id"`
	Path    string `json:"path"`
	RelPath string `json:"rel_path"`
	Action  Action `json:"action"`

	// Reason carries the skip or error message.
	Reason string `json:"reason,omitempty"`

	// Record is the manifest record produced for the file, if any.
	Record *manifest.Record `json:"record,omitempty"`

	SizeBefore float64 `json:"size_before"`
	SizeAfter  float64 `json:"size_after"`

	// Done counts files decided so far, this one included.
	Done  int `json:"done"`
	Total int `json:"total"`
}

// SavedBytes returns the bytes saved for this file.
func (p Progress) SavedBytes() float64 {
	return types.SavedBytes(p.SizeBefore, p.SizeAfter)
}

// SavedPercent returns the percentage saved for this file.
func (p Progress) SavedPercent() float64 {
	return types.SavedPercent(p.SizeBefore, p.SizeAfter)
}

// Line renders a one-line status message.
func (p Progress) Line() string {
	prefix := fmt.Sprintf("[%d/%d]", p.Done, p.Total)

	switch p.Action {
	case ActionOptimized:
		return fmt.Sprintf("%s Optimized: %s - Saved: %s (%.1f%%)",
			prefix, p.RelPath, types.FormatBytes(p.SavedBytes()), p.SavedPercent())
	case ActionCurrent:
		return fmt.Sprintf("%s Skipped: %s - Saved: %s (%.1f%%)",
			prefix, p.RelPath, types.FormatBytes(p.SavedBytes()), p.SavedPercent())
	case ActionSkipped:
		return fmt.Sprintf("%s Skipped: %s - %s", prefix, p.RelPath, p.Reason)
	case ActionErrored:
		return fmt.Sprintf("%s Errored: %s - %s", prefix, p.RelPath, p.Reason)
	case ActionCancelled:
		return fmt.Sprintf("%s Cancelled: %s", prefix, p.RelPath)
	default:
		return fmt.Sprintf("%s %s", prefix, p.RelPath)
	}
}

// FileOutcome is the per-file summary kept in a Result.
type FileOutcome struct {
	Path       string  `json:"path" yaml:"path"`
	RelPath    string  `json:"rel_path" yaml:"rel_path"`
	Action     Action  `json:"action" yaml:"action"`
	Service    string  `json:"service,omitempty" yaml:"service,omitempty"`
	Reason     string  `json:"reason,omitempty" yaml:"reason,omitempty"`
	SizeBefore float64 `json:"size_before" yaml:"size_before"`
	SizeAfter  float64 `json:"size_after" yaml:"size_after"`
}

// SavedBytes returns the bytes saved for this file.
func (o FileOutcome) SavedBytes() float64 {
	return types.SavedBytes(o.SizeBefore, o.SizeAfter)
}

// SavedPercent returns the percentage saved for this file.
func (o FileOutcome) SavedPercent() float64 {
	return types.SavedPercent(o.SizeBefore, o.SizeAfter)
}
