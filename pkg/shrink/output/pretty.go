package output

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/shrink/pkg/shrink/types"
)

// PrettyFormatter formats output with colors and boxes using lipgloss.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Result) error {
	w.WriteString(f.formatHeader(r))
	w.WriteString("\n")
	w.WriteString(f.formatTable(r))
	w.WriteString(f.formatFooter(r))
	w.WriteString("\n")

	if len(r.Warnings) > 0 {
		w.WriteString("\n")
		w.WriteString(f.formatWarnings(r.Warnings))
	}
	return nil
}

func (f *PrettyFormatter) formatHeader(r *Result) string {
	var lines []string

	field := func(label, value string) string {
		return LabelStyle.Render(label) + " " + ValueStyle.Render(value)
	}

	if r.Source != "" {
		lines = append(lines, field("Source:", r.Source))
	}
	if r.Output != "" && r.Output != r.Source {
		lines = append(lines, field("Output:", r.Output))
	}
	if r.Manifest != "" {
		lines = append(lines, field("Manifest:", r.Manifest))
	}
	if r.Kind == KindRun {
		lines = append(lines, field("Processed:", fmt.Sprintf("%d files in %s",
			len(r.Files), formatDuration(r.Summary.Duration))))
	}
	if r.Interrupted {
		lines = append(lines, WarningStyle.Bold(true).Render("Run interrupted by user"))
	}

	return HeaderBox.Render(strings.Join(lines, "\n"))
}

func (f *PrettyFormatter) formatTable(r *Result) string {
	if len(r.Files) == 0 {
		if r.Kind == KindManifest {
			return MutedStyle.Render("  No records in manifest") + "\n"
		}
		return MutedStyle.Render("  No files matched") + "\n"
	}

	var sb strings.Builder

	statusWidth := 9
	sizeWidth := 10
	for _, file := range r.Files {
		sizeWidth = max(sizeWidth, len(types.FormatBytes(file.SizeBefore)))
	}

	status := "ACTION"
	if r.Kind == KindManifest {
		status = "SERVICE"
		for _, file := range r.Files {
			statusWidth = max(statusWidth, len(file.Service))
		}
	}
	fmt.Fprintf(&sb, "  %s  %s  %s  %s  %s\n",
		TableHeaderStyle.Render(padRight(status, statusWidth)),
		TableHeaderStyle.Render(padLeft("BEFORE", sizeWidth)),
		TableHeaderStyle.Render(padLeft("AFTER", sizeWidth)),
		TableHeaderStyle.Render(padLeft("SAVED", 7)),
		TableHeaderStyle.Render("PATH"))

	for _, file := range r.Files {
		label := file.Action
		style := ActionStyle(file.Action)
		if r.Kind == KindManifest {
			label = file.Service
			style = ValueStyle
		}

		saved := fmt.Sprintf("%.1f%%", file.SavedPercent())
		path := PathStyle.Render(displayPath(file))
		if file.Reason != "" {
			path += " " + style.Render("("+file.Reason+")")
		}

		fmt.Fprintf(&sb, "  %s  %s  %s  %s  %s\n",
			style.Render(padRight(label, statusWidth)),
			MutedStyle.Render(padLeft(types.FormatBytes(file.SizeBefore), sizeWidth)),
			SizeStyle.Render(padLeft(types.FormatBytes(file.SizeAfter), sizeWidth)),
			padLeft(saved, 7),
			path)
	}

	return sb.String()
}

func (f *PrettyFormatter) formatFooter(r *Result) string {
	s := r.Summary
	var parts []string

	if r.Kind == KindManifest {
		parts = append(parts, LabelStyle.Render("Records:")+" "+ValueStyle.Render(fmt.Sprintf("%d", len(r.Files))))
	} else {
		parts = append(parts,
			SuccessStyle.Render(fmt.Sprintf("%d optimized", s.Optimized)),
			WarningStyle.Render(fmt.Sprintf("%d skipped", s.Skipped)))
		if s.Errored > 0 {
			parts = append(parts, ErrorStyle.Render(fmt.Sprintf("%d errored", s.Errored)))
		}
		if s.Cancelled > 0 {
			parts = append(parts, WarningStyle.Render(fmt.Sprintf("%d cancelled", s.Cancelled)))
		}
	}

	parts = append(parts,
		LabelStyle.Render("Saved:")+" "+SizeStyle.Render(
			fmt.Sprintf("%s (%.1f%%)", types.FormatBytes(s.Saved()), s.SavedPercent())),
		MutedStyle.Render("Use -o plain for unformatted output"))

	return FooterBox.Render(strings.Join(parts, "  "))
}

func (f *PrettyFormatter) formatWarnings(warnings []string) string {
	var sb strings.Builder

	sb.WriteString(WarningStyle.Bold(true).Render("Warnings:"))
	sb.WriteString("\n")
	for _, warning := range warnings {
		sb.WriteString(WarningStyle.Render("  " + warning))
		sb.WriteString("\n")
	}
	return sb.String()
}

func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// formatDuration formats a duration in a human-friendly way.
func formatDuration(d time.Duration) string {
	sec := d.Seconds()
	if sec < 1 {
		return fmt.Sprintf("%.0fms", sec*1000)
	}
	if sec < 60 {
		return fmt.Sprintf("%.1fs", sec)
	}
	minutes := int(sec) / 60
	seconds := int(sec) % 60
	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}

// formatDate renders a manifest date.
func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}

// relativeDate renders t as "3 days ago".
func relativeDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return humanize.Time(t)
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

var _ Formatter = (*PrettyFormatter)(nil)
