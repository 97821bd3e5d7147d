package output

import (
	"bytes"
	"path/filepath"
	"strings"
)

// PathsFormatter writes one path per line: the files a run optimized, or
// every path of a manifest listing. It suits piping to other tools.
type PathsFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PathsFormatter) Format(w *bytes.Buffer, r *Result) error {
	for _, file := range r.Files {
		if r.Kind == KindRun && file.Action != "optimized" {
			continue
		}
		w.WriteString(file.Path)
		w.WriteByte('\n')
	}
	return nil
}

func init() {
	Register("paths", func() Formatter {
		return &PathsFormatter{}
	})
}

var _ Formatter = (*PathsFormatter)(nil)

// relativeTo returns path relative to root when it lies below root, and
// path unchanged otherwise.
func relativeTo(root, path string) string {
	if root == "" {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return rel
}

// displayPath prefers the relative path.
func displayPath(f FileRow) string {
	if f.RelPath != "" {
		return f.RelPath
	}
	return f.Path
}
