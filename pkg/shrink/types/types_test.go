package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "plain bytes", input: "1024", want: 1024},
		{name: "zero bytes", input: "0", want: 0},
		{name: "bytes with B suffix", input: "512B", want: 512},
		{name: "kilobytes", input: "100K", want: 100 * 1024},
		{name: "kilobytes with iB", input: "100KiB", want: 100 * 1024},
		{name: "megabytes lowercase", input: "50m", want: 50 * 1024 * 1024},
		{name: "megabytes with B", input: "5MB", want: 5 * 1024 * 1024},
		{name: "gigabytes", input: "2G", want: 2 * 1024 * 1024 * 1024},
		{name: "whitespace", input: "  1M  ", want: 1024 * 1024},
		{name: "decimal values truncated", input: "1.5K", want: 1536},

		{name: "empty string", input: "", wantErr: true},
		{name: "invalid suffix", input: "100X", wantErr: true},
		{name: "negative value", input: "-100M", wantErr: true},
		{name: "letters only", input: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "0 B", FormatSize(0))
	assert.Equal(t, "500 B", FormatSize(500))
	assert.Equal(t, "1.0 KiB", FormatSize(1024))
	assert.Equal(t, "1.5 MiB", FormatSize(1536*1024))
	assert.Equal(t, "-1.0 KiB", FormatSize(-1024))
	assert.Equal(t, "2.0 KiB", FormatBytes(2048.4))
}

func TestSavedPercent(t *testing.T) {
	tests := []struct {
		name          string
		before, after float64
		want          float64
	}{
		{name: "quarter saved", before: 1000, after: 750, want: 25},
		{name: "rounds half up", before: 1000, after: 755, want: 24.5},
		{name: "rounds to one decimal", before: 3, after: 2, want: 33.3},
		{name: "two thirds", before: 3, after: 1, want: 66.7},
		{name: "nothing saved", before: 1000, after: 1000, want: 0},
		{name: "grew", before: 1000, after: 1200, want: 0},
		{name: "zero before", before: 0, after: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, SavedPercent(tt.before, tt.after), 1e-9)
		})
	}
}

func TestRound1(t *testing.T) {
	tests := []struct {
		v, want float64
	}{
		{v: 0.25, want: 0.3},
		{v: 1.75, want: 1.8},
		{v: 12.5, want: 12.5},
		{v: 33.333, want: 33.3},
		{v: 66.666, want: 66.7},
		{v: -1.25, want: -1.3},
		{v: 0, want: 0},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.want, Round1(tt.v), 1e-9, "Round1(%v)", tt.v)
	}
}

func TestSavedBytes(t *testing.T) {
	assert.Equal(t, 250.0, SavedBytes(1000, 750))
	assert.Equal(t, 0.0, SavedBytes(1000, 1200))
}

func TestIsSkipMessage(t *testing.T) {
	assert.True(t, IsSkipMessage(MsgUnsupportedFile))
	assert.True(t, IsSkipMessage(MsgInvalidFileSize))
	assert.True(t, IsSkipMessage(MsgMatchingFileSize))
	assert.False(t, IsSkipMessage("connection refused"))
	assert.False(t, IsSkipMessage(""))
}

func TestRunStats(t *testing.T) {
	s := RunStats{
		Optimized:  []string{"/a.png", "/b.png"},
		Skipped:    3,
		Errored:    1,
		Cancelled:  1,
		SizeBefore: 2000,
		SizeAfter:  1500,
	}

	assert.Equal(t, int64(2), s.OptimizedCount())
	assert.Equal(t, int64(7), s.Processed())
	assert.Equal(t, 500.0, s.SavedBytes())
	assert.InDelta(t, 25.0, s.SavedPercent(), 1e-9)
}
