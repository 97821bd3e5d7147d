package output

import (
	"bytes"

	"gopkg.in/yaml.v3"
)

// YAMLFormatter formats output as YAML with the same structure as
// JSONFormatter.
type YAMLFormatter struct{}

type yamlOutput struct {
	Kind    string     `yaml:"kind"`
	Files   []FileRow  `yaml:"files"`
	Summary yamlTotals `yaml:"summary"`
	Meta    yamlMeta   `yaml:"meta"`
}

type yamlTotals struct {
	Optimized    int64   `yaml:"optimized"`
	Skipped      int64   `yaml:"skipped"`
	Errored      int64   `yaml:"errored"`
	Cancelled    int64   `yaml:"cancelled"`
	SizeBefore   float64 `yaml:"size_before"`
	SizeAfter    float64 `yaml:"size_after"`
	Saved        float64 `yaml:"saved"`
	SavedPercent float64 `yaml:"saved_percent"`
	Duration     string  `yaml:"duration,omitempty"`
}

type yamlMeta struct {
	RunID       string   `yaml:"run_id,omitempty"`
	Source      string   `yaml:"source,omitempty"`
	Output      string   `yaml:"output,omitempty"`
	Manifest    string   `yaml:"manifest,omitempty"`
	Warnings    []string `yaml:"warnings,omitempty"`
	Interrupted bool     `yaml:"interrupted"`
}

// Format writes the formatted output to the buffer.
func (f *YAMLFormatter) Format(w *bytes.Buffer, r *Result) error {
	s := r.Summary
	out := yamlOutput{
		Kind:  r.Kind,
		Files: r.Files,
		Summary: yamlTotals{
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
		Meta: yamlMeta{
			RunID:       r.RunID,
			Source:      r.Source,
			Output:      r.Output,
			Manifest:    r.Manifest,
			Warnings:    r.Warnings,
			Interrupted: r.Interrupted,
		},
	}
	if out.Files == nil {
		out.Files = []FileRow{}
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(out); err != nil {
		return err
	}
	return encoder.Close()
}

func init() {
	Register("yaml", func() Formatter {
		return &YAMLFormatter{}
	})
}

var _ Formatter = (*YAMLFormatter)(nil)
