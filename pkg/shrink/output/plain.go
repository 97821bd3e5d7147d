package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"

	"github.com/jamesainslie/shrink/pkg/shrink/types"
)

// PlainFormatter formats output as an aligned table without colors.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if r.Kind == KindManifest {
		fmt.Fprintln(tw, "SERVICE\tBEFORE\tAFTER\tSAVED\tDATE\tPATH")
		for _, file := range r.Files {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f%%\t%s\t%s\n",
				file.Service,
				types.FormatBytes(file.SizeBefore),
				types.FormatBytes(file.SizeAfter),
				file.SavedPercent(),
				formatDate(file.OptimizedAt),
				displayPath(file))
		}
	} else {
		fmt.Fprintln(tw, "ACTION\tSERVICE\tBEFORE\tAFTER\tSAVED\tPATH")
		for _, file := range r.Files {
			saved := fmt.Sprintf("%.1f%%", file.SavedPercent())
			if file.Reason != "" {
				saved = file.Reason
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				file.Action,
				dash(file.Service),
				types.FormatBytes(file.SizeBefore),
				types.FormatBytes(file.SizeAfter),
				saved,
				displayPath(file))
		}
	}

	if err := tw.Flush(); err != nil {
		return err
	}

	w.WriteString(summaryLine(r))
	w.WriteByte('\n')
	return nil
}

// summaryLine renders the totals in one line.
func summaryLine(r *Result) string {
	s := r.Summary
	if r.Kind == KindManifest {
		return fmt.Sprintf("%d record(s), %s saved (%.1f%%)",
			len(r.Files), types.FormatBytes(s.Saved()), s.SavedPercent())
	}
	line := fmt.Sprintf("optimized %d, skipped %d, errored %d", s.Optimized, s.Skipped, s.Errored)
	if s.Cancelled > 0 {
		line += fmt.Sprintf(", cancelled %d", s.Cancelled)
	}
	return line + fmt.Sprintf(": %s saved (%.1f%%)", types.FormatBytes(s.Saved()), s.SavedPercent())
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	Register("plain", func() Formatter {
		return &PlainFormatter{}
	})
}

var _ Formatter = (*PlainFormatter)(nil)
