package main

import (
	"fmt"
	"io"

	"github.com/cheggaaa/pb/v3"

	"github.com/jamesainslie/shrink/pkg/shrink/engine"
)

// progressMode selects how per-file progress is shown.
type progressMode int

const (
	progressNone progressMode = iota
	progressLines
	progressBar
	progressTUI
)

// chooseProgress picks the progress display. The TUI needs both streams
// on a terminal and the pretty report; a bar needs stderr on a terminal.
func chooseProgress(format string, noInteractive, quiet, watch, stdoutTTY, stderrTTY bool) progressMode {
	switch {
	case quiet:
		return progressNone
	case !noInteractive && !watch && format == "pretty" && stdoutTTY && stderrTTY:
		return progressTUI
	case stderrTTY:
		return progressBar
	default:
		return progressLines
	}
}

// reporter receives progress events from the engine. Calls are
// serialized by the engine.
type reporter interface {
	Report(ev engine.Progress)
	Finish()
}

// newReporter returns the reporter for mode writing to w. The TUI is
// driven separately and gets no reporter.
func newReporter(mode progressMode, w io.Writer) reporter {
	switch mode {
	case progressLines:
		return &lineReporter{w: w}
	case progressBar:
		return &barReporter{w: w}
	default:
		return nopReporter{}
	}
}

type nopReporter struct{}

func (nopReporter) Report(engine.Progress) {}
func (nopReporter) Finish()                {}

// lineReporter prints one status line per file.
type lineReporter struct {
	w io.Writer
}

func (r *lineReporter) Report(ev engine.Progress) {
	fmt.Fprintln(r.w, ev.Line())
}

func (r *lineReporter) Finish() {}

// barReporter drives a terminal progress bar. The bar starts on the first
// event since the file count is unknown before enumeration.
type barReporter struct {
	w   io.Writer
	bar *pb.ProgressBar
}

func (r *barReporter) Report(ev engine.Progress) {
	if r.bar == nil {
		r.bar = pb.Full.New(ev.Total).
			SetWriter(r.w).
			Set(pb.CleanOnFinish, true).
			Start()
	}
	r.bar.SetCurrent(int64(ev.Done))
}

func (r *barReporter) Finish() {
	if r.bar != nil {
		r.bar.Finish()
	}
}
