package tui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/shrink/pkg/shrink/engine"
	"github.com/jamesainslie/shrink/pkg/shrink/types"
)

// recentLines is how many finished files the view lists.
const recentLines = 5

// Options describes the run shown in the header.
type Options struct {
	Source  string
	Output  string
	Service string
	Workers int
}

// Work performs the run, reporting each finished file through report.
type Work func(report func(engine.Progress)) (*engine.Result, error)

// ProgressMsg is sent when a file has been handled.
type ProgressMsg engine.Progress

// DoneMsg is sent when the run has finished.
type DoneMsg struct {
	Err error
}

// Model is the Bubble Tea model for a running optimization.
type Model struct {
	opts     Options
	cancel   context.CancelFunc
	spinner  spinner.Model
	bar      progress.Model
	start    time.Time
	width    int
	height   int
	done     int
	total    int
	counts   map[engine.Action]int
	before   float64
	after    float64
	recent   []engine.Progress
	stopping bool
	finished bool
	err      error
}

// NewModel creates a progress model. cancel is called when the user asks
// to stop.
func NewModel(opts Options, cancel context.CancelFunc) Model {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = lipgloss.NewStyle().Foreground(primaryColor)

	return Model{
		opts:    opts,
		cancel:  cancel,
		spinner: s,
		bar:     progress.New(progress.WithDefaultGradient()),
		start:   time.Now(),
		width:   80,
		height:  24,
		counts:  make(map[engine.Action]int),
	}
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages for the progress model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if m.stopping {
				// Second request: leave without waiting for the engine.
				return m, tea.Quit
			}
			m.stopping = true
			if m.cancel != nil {
				m.cancel()
			}
		}
		return m, nil

	case ProgressMsg:
		m.apply(engine.Progress(msg))
		return m, nil

	case DoneMsg:
		m.finished = true
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *Model) apply(ev engine.Progress) {
	m.done = ev.Done
	m.total = ev.Total
	m.counts[ev.Action]++

	switch ev.Action {
	case engine.ActionOptimized, engine.ActionCurrent, engine.ActionSkipped:
		m.before += ev.SizeBefore
		m.after += ev.SizeAfter
	}

	m.recent = append(m.recent, ev)
	if len(m.recent) > recentLines {
		m.recent = m.recent[len(m.recent)-recentLines:]
	}
}

// View renders the progress model.
func (m Model) View() string {
	if m.finished {
		// The report is printed after the program exits.
		if m.err != nil {
			return errorTextStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n"
		}
		return ""
	}

	contentWidth := max(m.width-4, 40)

	var b strings.Builder
	b.WriteString(m.renderHeader(contentWidth))
	b.WriteString("\n")
	b.WriteString(renderDivider(contentWidth))
	b.WriteString("\n\n")

	target := m.opts.Source
	if m.opts.Output != "" && m.opts.Output != m.opts.Source {
		target += " -> " + m.opts.Output
	}
	status := fmt.Sprintf("  %s Optimizing %s", m.spinner.View(),
		truncatePath(target, contentWidth-20))
	if m.stopping {
		status = warningTextStyle.Render("  Stopping, waiting for running files...")
	}
	b.WriteString(status)
	b.WriteString("\n\n  ")

	m.bar.Width = max(contentWidth-6, 10)
	b.WriteString(m.bar.ViewAs(m.percent()))
	b.WriteString("\n\n")

	b.WriteString(m.renderStats(contentWidth))
	b.WriteString("\n")

	for _, ev := range m.recent {
		b.WriteString("  ")
		b.WriteString(renderEvent(ev, contentWidth-4))
		b.WriteString("\n")
	}

	return outerBoxStyle.Width(m.width - 2).Render(b.String())
}

func (m Model) percent() float64 {
	if m.total == 0 {
		return 0
	}
	return float64(m.done) / float64(m.total)
}

func (m Model) renderHeader(width int) string {
	title := titleStyle.Render("  shrink")
	if m.opts.Service != "" {
		title += mutedTextStyle.Render(" using " + m.opts.Service)
	}
	if m.opts.Workers > 0 {
		title += mutedTextStyle.Render(fmt.Sprintf(" (%d workers)", m.opts.Workers))
	}
	hint := mutedTextStyle.Render("[Ctrl+C to stop]")

	spacing := max(width-lipgloss.Width(title)-lipgloss.Width(hint), 1)
	return title + strings.Repeat(" ", spacing) + hint
}

func (m Model) renderStats(totalWidth int) string {
	boxWidth := max((totalWidth-12)/5, 10)

	files := fmt.Sprintf("%s/%s", humanize.Comma(int64(m.done)), humanize.Comma(int64(m.total)))
	saved := fmt.Sprintf("%s %.1f%%",
		types.FormatBytes(types.SavedBytes(m.before, m.after)),
		types.SavedPercent(m.before, m.after))

	return lipgloss.JoinHorizontal(lipgloss.Top,
		"  ", renderStatBox("Files", files, boxWidth),
		" ", renderStatBox("Optimized", humanize.Comma(int64(m.counts[engine.ActionOptimized])), boxWidth),
		" ", renderStatBox("Errors", humanize.Comma(int64(m.counts[engine.ActionErrored])), boxWidth),
		" ", renderStatBox("Saved", saved, boxWidth),
		" ", renderStatBox("Time", formatDuration(time.Since(m.start)), boxWidth))
}

func renderStatBox(label, value string, width int) string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		statsLabelStyle.Render(label),
		statsValueStyle.Render(value))
	return statsBoxStyle.Width(width).Align(lipgloss.Center).Render(content)
}

func renderEvent(ev engine.Progress, width int) string {
	line := truncatePath(ev.Line(), width)
	switch ev.Action {
	case engine.ActionOptimized:
		return successTextStyle.Render(line)
	case engine.ActionErrored:
		return errorTextStyle.Render(line)
	case engine.ActionCancelled:
		return warningTextStyle.Render(line)
	case engine.ActionCurrent:
		return accentTextStyle.Render(line)
	default:
		return mutedTextStyle.Render(line)
	}
}

// formatDuration formats a duration as M:SS.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	m := d / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%d:%02d", m, s)
}

// Run shows the progress view on stderr while work runs. cancel is called
// when the user stops the run; work is expected to return promptly after.
func Run(opts Options, cancel context.CancelFunc, work Work) (*engine.Result, error) {
	p := tea.NewProgram(NewModel(opts, cancel), tea.WithOutput(os.Stderr))

	type outcome struct {
		res *engine.Result
		err error
	}
	finished := make(chan outcome, 1)

	go func() {
		res, err := work(func(ev engine.Progress) {
			p.Send(ProgressMsg(ev))
		})
		p.Send(DoneMsg{Err: err})
		finished <- outcome{res: res, err: err}
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		o := <-finished
		if o.err != nil {
			return o.res, o.err
		}
		return o.res, fmt.Errorf("progress view failed: %w", err)
	}

	o := <-finished
	return o.res, o.err
}
