// Package types provides the data types and size arithmetic shared by the
// shrink packages: outcome sentinels, run statistics, and helpers for
// parsing and formatting byte sizes.
package types

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// Size constants for binary (IEC) units.
const (
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
	TiB int64 = 1024 * GiB
)

// Outcome messages that signal a skip rather than a failure.
const (
	// MsgUnsupportedFile means no registered backend handles the file.
	MsgUnsupportedFile = "Unsupported File"

	// MsgInvalidFileSize means the file reaches the backend's size ceiling.
	MsgInvalidFileSize = "Invalid FileSize"

	// MsgMatchingFileSize means the backend produced no size change.
	MsgMatchingFileSize = "Matching FileSize"
)

// IsSkipMessage reports whether msg is one of the skip sentinels.
func IsSkipMessage(msg string) bool {
	switch msg {
	case MsgUnsupportedFile, MsgInvalidFileSize, MsgMatchingFileSize:
		return true
	default:
		return false
	}
}

// SavedBytes returns the bytes saved going from before to after.
// It never returns a negative value.
func SavedBytes(before, after float64) float64 {
	if after < before {
		return before - after
	}
	return 0
}

// SavedPercent returns the percentage saved going from before to after,
// rounded half-up to one decimal place. Growth or no change yields 0.
func SavedPercent(before, after float64) float64 {
	if before <= 0 || after >= before {
		return 0
	}
	return Round1(100 * (1 - after/before))
}

// Round1 rounds v to one decimal place, halves away from zero.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// RunStats is a snapshot of the aggregate state of one bulk run.
type RunStats struct {
	// Optimized lists the source paths that were optimized during the run.
	Optimized []string `json:"optimized"`

	// Skipped counts files that needed no work or could not be handled.
	Skipped int64 `json:"skipped"`

	// Errored counts files whose optimization failed.
	Errored int64 `json:"errored"`

	// Cancelled counts files never started because the run was cancelled.
	Cancelled int64 `json:"cancelled"`

	// SizeBefore is the cumulative size before optimization in bytes.
	SizeBefore float64 `json:"size_before"`

	// SizeAfter is the cumulative size after optimization in bytes.
	SizeAfter float64 `json:"size_after"`
}

// OptimizedCount returns the number of optimized files.
func (s RunStats) OptimizedCount() int64 {
	return int64(len(s.Optimized))
}

// Processed returns the number of files that reached a decision.
func (s RunStats) Processed() int64 {
	return s.OptimizedCount() + s.Skipped + s.Errored + s.Cancelled
}

// SavedBytes returns the bytes saved across the run.
func (s RunStats) SavedBytes() float64 {
	return SavedBytes(s.SizeBefore, s.SizeAfter)
}

// SavedPercent returns the percentage saved across the run.
func (s RunStats) SavedPercent() float64 {
	return SavedPercent(s.SizeBefore, s.SizeAfter)
}

// sizePattern matches size strings like "100M", "2G", "500K", "1.5GB", etc.
var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([KMGT]?(?:i?B)?)\s*$`)

// ErrInvalidSize indicates that the size string could not be parsed.
var ErrInvalidSize = errors.New("invalid size format")

// ErrNegativeSize indicates that a negative size value was provided.
var ErrNegativeSize = errors.New("size cannot be negative")

// ParseSize parses a human-readable size string and returns the size in bytes.
// Plain numbers are bytes; K, M, G and T suffixes (optionally followed by B
// or iB) are binary multiples. Decimal values are truncated to the byte.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidSize)
	}

	if strings.HasPrefix(s, "-") {
		return 0, ErrNegativeSize
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	suffix := strings.ToUpper(matches[2])
	suffix = strings.TrimSuffix(suffix, "IB")
	suffix = strings.TrimSuffix(suffix, "B")

	var multiplier int64
	switch suffix {
	case "":
		multiplier = 1
	case "K":
		multiplier = KiB
	case "M":
		multiplier = MiB
	case "G":
		multiplier = GiB
	case "T":
		multiplier = TiB
	default:
		return 0, fmt.Errorf("%w: unknown suffix %q", ErrInvalidSize, suffix)
	}

	return int64(value * float64(multiplier)), nil
}

// FormatSize converts a size in bytes to a human-readable string
// using binary (IEC) units.
func FormatSize(bytes int64) string {
	if bytes < 0 {
		return "-" + humanize.IBytes(uint64(-bytes))
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatBytes formats a floating byte count, as carried by records and
// outcomes, with FormatSize.
func FormatBytes(bytes float64) string {
	return FormatSize(int64(math.Round(bytes)))
}
