package output

import (
	"bytes"
	"encoding/json"
	"time"
)

// jsonOutput represents the full JSON output structure.
type jsonOutput struct {
	Kind    string     `json:"kind"`
	Files   []jsonFile `json:"files"`
	Summary jsonStats  `json:"summary"`
	Meta    jsonMeta   `json:"meta"`
}

// jsonFile represents a file in JSON output.
type jsonFile struct {
	Path         string    `json:"path"`
	RelPath      string    `json:"rel_path,omitempty"`
	Action       string    `json:"action,omitempty"`
	Service      string    `json:"service,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	SizeBefore   float64   `json:"size_before"`
	SizeAfter    float64   `json:"size_after"`
	Saved        float64   `json:"saved"`
	SavedPercent float64   `json:"saved_percent"`
	OptimizedAt  time.Time `json:"optimized_at,omitzero"`
	Hash         string    `json:"hash,omitempty"`
}

// jsonStats represents run totals in JSON output.
type jsonStats struct {
	Optimized    int64   `json:"optimized"`
	Skipped      int64   `json:"skipped"`
	Errored      int64   `json:"errored"`
	Cancelled    int64   `json:"cancelled"`
	SizeBefore   float64 `json:"size_before"`
	SizeAfter    float64 `json:"size_after"`
	Saved        float64 `json:"saved"`
	SavedPercent float64 `json:"saved_percent"`
	Duration     string  `json:"duration,omitempty"`
}

// jsonMeta represents metadata in JSON output.
type jsonMeta struct {
	RunID       string   `json:"run_id,omitempty"`
	Source      string   `json:"source,omitempty"`
	Output      string   `json:"output,omitempty"`
	Manifest    string   `json:"manifest,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Interrupted bool     `json:"interrupted"`
}

// JSONFormatter formats output as a single indented JSON object.
type JSONFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONFormatter) Format(w *bytes.Buffer, r *Result) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(f.buildOutput(r))
}

func (f *JSONFormatter) buildOutput(r *Result) jsonOutput {
	files := make([]jsonFile, len(r.Files))
	for i, file := range r.Files {
		files[i] = toJSONFile(file)
	}

	s := r.Summary
	return jsonOutput{
		Kind:  r.Kind,
		Files: files,
		Summary: jsonStats{
			Optimized:    s.Optimized,
			Skipped:      s.Skipped,
			Errored:      s.Errored,
			Cancelled:    s.Cancelled,
			SizeBefore:   s.SizeBefore,
			SizeAfter:    s.SizeAfter,
			Saved:        s.Saved(),
			SavedPercent: s.SavedPercent(),
			Duration:     formatDurationString(s.Duration),
		},
		Meta: jsonMeta{
			RunID:       r.RunID,
			Source:      r.Source,
			Output:      r.Output,
			Manifest:    r.Manifest,
			Warnings:    r.Warnings,
			Interrupted: r.Interrupted,
		},
	}
}

func toJSONFile(file FileRow) jsonFile {
	return jsonFile{
		Path:         file.Path,
		RelPath:      file.RelPath,
		Action:       file.Action,
		Service:      file.Service,
		Reason:       file.Reason,
		SizeBefore:   file.SizeBefore,
		SizeAfter:    file.SizeAfter,
		Saved:        file.Saved(),
		SavedPercent: file.SavedPercent(),
		OptimizedAt:  file.OptimizedAt,
		Hash:         file.Hash,
	}
}

// formatDurationString formats a duration for machine-readable output.
func formatDurationString(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}

func init() {
	Register("json", func() Formatter {
		return &JSONFormatter{}
	})
}

var _ Formatter = (*JSONFormatter)(nil)

// JSONLFormatter formats output as newline-delimited JSON, one compact
// object per file, for streaming to tools like jq.
type JSONLFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONLFormatter) Format(w *bytes.Buffer, r *Result) error {
	for _, file := range r.Files {
		data, err := json.Marshal(toJSONFile(file))
		if err != nil {
			return err
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	return nil
}

func init() {
	Register("jsonl", func() Formatter {
		return &JSONLFormatter{}
	})
}

var _ Formatter = (*JSONLFormatter)(nil)
