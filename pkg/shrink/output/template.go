package output

import (
	"bytes"
	"fmt"
	"sync"
	"text/template"
	"time"

	"github.com/jamesainslie/shrink/pkg/shrink/types"
)

// TemplateFormatter formats output using a Go text/template.
type TemplateFormatter struct {
	templateStr string
	template    *template.Template
	mu          sync.Mutex
}

// NewTemplateFormatter creates a template formatter.
func NewTemplateFormatter(templateStr string) *TemplateFormatter {
	return &TemplateFormatter{templateStr: templateStr}
}

// SetTemplate replaces the template string.
func (f *TemplateFormatter) SetTemplate(templateStr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.templateStr = templateStr
	f.template = nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		// Usage: {{date .OptimizedAt "2006-01-02"}}
		"date": func(t time.Time, layout string) string {
			if t.IsZero() {
				return ""
			}
			return t.Format(layout)
		},

		// Usage: {{ago .OptimizedAt}}
		"ago": relativeDate,

		// Usage: {{bytes .SizeBefore}}
		"bytes": types.FormatBytes,

		// Usage: {{percent .SavedPercent}}
		"percent": func(p float64) string {
			return fmt.Sprintf("%.1f%%", p)
		},
	}
}

// Format writes the formatted output to the buffer.
func (f *TemplateFormatter) Format(w *bytes.Buffer, r *Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.template == nil {
		tmpl, err := template.New("output").Funcs(templateFuncs()).Parse(f.templateStr)
		if err != nil {
			return err
		}
		f.template = tmpl
	}
	return f.template.Execute(w, r)
}

const defaultTemplate = `{{range .Files}}{{.Action}}	{{.Service}}	{{bytes .SizeBefore}}	{{bytes .SizeAfter}}	{{.RelPath}}
{{end}}`

func init() {
	Register("template", func() Formatter {
		return NewTemplateFormatter(defaultTemplate)
	})
}

var _ Formatter = (*TemplateFormatter)(nil)
