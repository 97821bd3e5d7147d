package optimizer

import (
	"time"

	"github.com/jamesainslie/shrink/pkg/shrink/types"
)

// Outcome is the result of one optimization attempt.
type Outcome struct {
	// Service names the backend that handled, or was asked to handle, the file.
	Service string `json:"service"`

	// SourcePath is the file that was processed.
	SourcePath string `json:"source_path"`

	// Error is empty on success. Skip messages are listed in types.
	Error string `json:"error,omitempty"`

	SizeBefore float64 `json:"size_before"`
	SizeAfter  float64 `json:"size_after"`

	// Location is where the optimized bytes can be fetched from: an
	// absolute URL for remote services or a temporary file for local tools.
	Location string `json:"location,omitempty"`

	// ModifiedAt is the source's modification time, set once the result
	// has been written to the output path.
	ModifiedAt time.Time `json:"modified_at,omitzero"`
}

// Failed returns an error outcome.
func Failed(service, sourcePath, message string) Outcome {
	return Outcome{Service: service, SourcePath: sourcePath, Error: message}
}

// HasError reports whether the attempt did not produce an optimized file.
func (o Outcome) HasError() bool {
	return o.Error != ""
}

// IsSkip reports whether the error is one of the skip messages.
func (o Outcome) IsSkip() bool {
	return types.IsSkipMessage(o.Error)
}

// SavedBytes returns the bytes saved.
func (o Outcome) SavedBytes() float64 {
	return types.SavedBytes(o.SizeBefore, o.SizeAfter)
}

// SavedPercent returns the percentage saved, rounded to one decimal.
func (o Outcome) SavedPercent() float64 {
	return types.SavedPercent(o.SizeBefore, o.SizeAfter)
}
