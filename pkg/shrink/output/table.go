package output

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var tableHeader = []string{"ACTION", "SERVICE", "SIZE_BEFORE", "SIZE_AFTER", "SAVED_PERCENT", "REASON", "DATE", "PATH"}

// tableRow returns the cells for one file in machine-readable units.
func tableRow(file FileRow) []string {
	date := ""
	if !file.OptimizedAt.IsZero() {
		date = file.OptimizedAt.Format(time.RFC3339)
	}
	return []string{
		file.Action,
		file.Service,
		strconv.FormatFloat(file.SizeBefore, 'f', -1, 64),
		strconv.FormatFloat(file.SizeAfter, 'f', -1, 64),
		strconv.FormatFloat(file.SavedPercent(), 'f', 1, 64),
		file.Reason,
		date,
		file.Path,
	}
}

// TSVFormatter formats output as tab-separated values.
type TSVFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *TSVFormatter) Format(w *bytes.Buffer, r *Result) error {
	w.WriteString(strings.Join(tableHeader, "\t"))
	w.WriteByte('\n')

	for _, file := range r.Files {
		cells := tableRow(file)
		for i, c := range cells {
			cells[i] = strings.NewReplacer("\t", " ", "\n", " ").Replace(c)
		}
		w.WriteString(strings.Join(cells, "\t"))
		w.WriteByte('\n')
	}
	return nil
}

func init() {
	Register("tsv", func() Formatter {
		return &TSVFormatter{}
	})
}

var _ Formatter = (*TSVFormatter)(nil)

// CSVFormatter formats output as RFC 4180 comma-separated values.
type CSVFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *CSVFormatter) Format(w *bytes.Buffer, r *Result) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(tableHeader); err != nil {
		return err
	}
	for _, file := range r.Files {
		if err := writer.Write(tableRow(file)); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func init() {
	Register("csv", func() Formatter {
		return &CSVFormatter{}
	})
}

var _ Formatter = (*CSVFormatter)(nil)

// MarkdownFormatter formats output as a GitHub-flavored Markdown table
// followed by a totals line.
type MarkdownFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *MarkdownFormatter) Format(w *bytes.Buffer, r *Result) error {
	first := "Action"
	if r.Kind == KindManifest {
		first = "Service"
	}

	fmt.Fprintf(w, "| %s | Before | After | Saved | Path |\n", first)
	w.WriteString("|--------|-------:|------:|------:|------|\n")

	for _, file := range r.Files {
		label := file.Action
		if r.Kind == KindManifest {
			label = file.Service
		}
		path := "`" + escapeMarkdown(displayPath(file)) + "`"
		if file.Reason != "" {
			path += " " + escapeMarkdown(file.Reason)
		}
		fmt.Fprintf(w, "| %s | %.0f | %.0f | %.1f%% | %s |\n",
			escapeMarkdown(label), file.SizeBefore, file.SizeAfter, file.SavedPercent(), path)
	}

	w.WriteString("\n")
	w.WriteString(summaryLine(r))
	w.WriteString("\n")
	return nil
}

func escapeMarkdown(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

func init() {
	Register("markdown", func() Formatter {
		return &MarkdownFormatter{}
	})
}

var _ Formatter = (*MarkdownFormatter)(nil)
