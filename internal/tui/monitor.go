// internal/tui/monitor.go
//
// Live run monitor. The sequencer reports progress through an Observer that
// forwards every event into the bubbletea program as a message; the model
// renders the stage list, the convergence poller and hold timers, and turns
// the abort key into a context cancellation.

package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/vialflow/internal/faults"
	"github.com/kingrea/vialflow/internal/sequencer"
)

const maxStageLines = 12

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	abortStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#5B8DEF")).Padding(0, 1)
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF"))
)

type runStartedMsg struct{ run sequencer.Run }

type stageStartedMsg struct {
	run         sequencer.Run
	path        string
	description string
}

type stageFinishedMsg struct {
	path    string
	elapsed time.Duration
	err     error
}

type pollMsg struct {
	attempt int
	reading float64
}

type holdMsg struct {
	elapsed time.Duration
	total   time.Duration
}

type runFinishedMsg struct {
	run sequencer.Run
	err error
}

type workDoneMsg struct{ err error }

type stageLine struct {
	path        string
	description string
	elapsed     time.Duration
	err         error
	done        bool
}

// Model is the monitor state.
type Model struct {
	title   string
	abort   context.CancelFunc
	spinner spinner.Model
	bar     progress.Model

	run      sequencer.Run
	stages   []stageLine
	polls    int
	reading  float64
	hold     holdMsg
	aborting bool
	finished bool
	err      error
	width    int
}

// NewModel builds a monitor. abort is called when the operator presses the
// abort key.
func NewModel(title string, abort context.CancelFunc) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = runningStyle
	return Model{
		title:   title,
		abort:   abort,
		spinner: sp,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		width:   80,
	}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "a", "ctrl+c":
			if !m.aborting && !m.finished {
				m.aborting = true
				if m.abort != nil {
					m.abort()
				}
			}
			return m, nil
		case "q":
			if m.finished {
				return m, tea.Quit
			}
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(20, min(60, msg.Width-20))
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case runStartedMsg:
		m.run = msg.run
		return m, nil
	case stageStartedMsg:
		m.run = msg.run
		m.hold = holdMsg{}
		m.stages = append(m.stages, stageLine{path: msg.path, description: msg.description})
		return m, nil
	case stageFinishedMsg:
		for i := len(m.stages) - 1; i >= 0; i-- {
			if m.stages[i].path == msg.path && !m.stages[i].done {
				m.stages[i].done = true
				m.stages[i].elapsed = msg.elapsed
				m.stages[i].err = msg.err
				break
			}
		}
		return m, nil
	case pollMsg:
		m.polls = msg.attempt
		m.reading = msg.reading
		return m, nil
	case holdMsg:
		m.hold = msg
		return m, nil
	case runFinishedMsg:
		m.run = msg.run
		m.err = msg.err
		return m, nil
	case workDoneMsg:
		m.finished = true
		if msg.err != nil && m.err == nil {
			m.err = msg.err
		}
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) percent() float64 {
	if m.run.Total == 0 {
		return 0
	}
	return float64(m.run.Completed) / float64(m.run.Total)
}

func (m Model) View() string {
	var b strings.Builder
	header := m.title
	if m.run.Sample != "" {
		header += " · sample " + m.run.Sample
	}
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%s %d/%d stages\n", m.bar.ViewAs(m.percent()), m.run.Completed, m.run.Total))

	lines := m.stages
	if len(lines) > maxStageLines {
		lines = lines[len(lines)-maxStageLines:]
	}
	for _, line := range lines {
		b.WriteString(m.renderStage(line))
		b.WriteString("\n")
	}
	if m.polls > 0 {
		b.WriteString(detailStyle.Render(fmt.Sprintf("last reading %.2f (sample %d)", m.reading, m.polls)))
		b.WriteString("\n")
	}
	if m.hold.total > 0 {
		b.WriteString(detailStyle.Render(fmt.Sprintf("holding %s / %s", m.hold.elapsed.Round(time.Second), m.hold.total)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	switch {
	case m.finished || m.run.Status.Done():
		b.WriteString(m.renderOutcome())
	case m.aborting:
		b.WriteString(abortStyle.Render("aborting after the current command…"))
	default:
		b.WriteString(hintStyle.Render("a / ctrl+c = abort"))
	}
	return boxStyle.Width(max(40, m.width-4)).Render(b.String())
}

func (m Model) renderStage(line stageLine) string {
	switch {
	case !line.done:
		return fmt.Sprintf("%s %s", m.spinner.View(), line.description)
	case line.err == nil:
		return fmt.Sprintf("%s %s %s", okStyle.Render("✓"), line.description, detailStyle.Render(line.elapsed.Round(time.Millisecond).String()))
	case errors.Is(line.err, faults.ErrAborted):
		return fmt.Sprintf("%s %s", abortStyle.Render("■"), line.description)
	default:
		return fmt.Sprintf("%s %s %s", failStyle.Render("✗"), line.description, detailStyle.Render(string(faults.KindOf(line.err))))
	}
}

func (m Model) renderOutcome() string {
	switch {
	case m.err == nil:
		return okStyle.Render(fmt.Sprintf("%s %s", m.run.Procedure, sequencer.StatusSucceeded))
	case faults.Is(m.err, faults.KindAborted):
		return abortStyle.Render(fmt.Sprintf("aborted: %v", m.err))
	default:
		return failStyle.Render(fmt.Sprintf("failed: %v", m.err))
	}
}

// Observer forwards sequencer events into a running program.
type Observer struct {
	send func(tea.Msg)
}

var _ sequencer.Observer = (*Observer)(nil)

func (o *Observer) RunStarted(run sequencer.Run) { o.send(runStartedMsg{run: run}) }

func (o *Observer) StageStarted(run sequencer.Run, path, description string) {
	o.send(stageStartedMsg{run: run, path: path, description: description})
}

func (o *Observer) StageFinished(_ sequencer.Run, path, _ string, elapsed time.Duration, err error) {
	o.send(stageFinishedMsg{path: path, elapsed: elapsed, err: err})
}

func (o *Observer) PollSample(_ sequencer.Run, attempt int, reading float64) {
	o.send(pollMsg{attempt: attempt, reading: reading})
}

func (o *Observer) RunFinished(run sequencer.Run, err error) {
	o.send(runFinishedMsg{run: run, err: err})
}

// HoldProgress matches wait.Timer.Progress.
func (o *Observer) HoldProgress(elapsed, total time.Duration) {
	o.send(holdMsg{elapsed: elapsed, total: total})
}

// Work is the job the monitor watches. It must honour ctx, which is
// cancelled when the operator aborts.
type Work func(ctx context.Context, obs *Observer) error

// Run shows the monitor while work executes and returns work's error.
func Run(ctx context.Context, title string, work Work, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tea.NewProgram(NewModel(title, cancel), opts...)
	obs := &Observer{send: program.Send}
	done := make(chan error, 1)
	go func() {
		err := work(ctx, obs)
		done <- err
		program.Send(workDoneMsg{err: err})
	}()

	if _, err := program.Run(); err != nil {
		cancel()
		return errors.Join(<-done, fmt.Errorf("monitor: %w", err))
	}
	return <-done
}
