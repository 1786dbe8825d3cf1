package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/vialflow/internal/faults"
	"github.com/kingrea/vialflow/internal/sequencer"
)

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	if !ok {
		t.Fatalf("unexpected model type %T", next)
	}
	return model, cmd
}

func TestMonitorTracksStages(t *testing.T) {
	m := NewModel("prepare_sample", nil)
	run := sequencer.Run{Procedure: "prepare_sample", Sample: "3", Total: 2, Status: sequencer.StatusRunning}
	m, _ = update(t, m, runStartedMsg{run: run})
	m, _ = update(t, m, stageStartedMsg{run: run, path: "move", description: "move vial 3 rack -> doser"})
	m, _ = update(t, m, stageFinishedMsg{path: "move", elapsed: time.Second})
	run.Completed = 1
	m, _ = update(t, m, stageStartedMsg{run: run, path: "poll", description: "wait for 80.0 C on sensor 0"})
	m, _ = update(t, m, pollMsg{attempt: 3, reading: 71.25})

	view := m.View()
	for _, want := range []string{"sample 3", "move vial 3 rack -> doser", "wait for 80.0 C", "71.25", "1/2 stages", "abort"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
	if len(m.stages) != 2 || !m.stages[0].done || m.stages[1].done {
		t.Fatalf("unexpected stage state: %+v", m.stages)
	}
}

func TestMonitorAbortKeyCancelsOnce(t *testing.T) {
	calls := 0
	m := NewModel("wash", func() { calls++ })
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'a'}})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	if calls != 1 {
		t.Fatalf("expected abort to fire once, got %d", calls)
	}
	if !m.aborting {
		t.Fatalf("expected aborting state")
	}
	if !strings.Contains(m.View(), "aborting") {
		t.Fatalf("view should show aborting")
	}
}

func TestMonitorQuitsWhenWorkDone(t *testing.T) {
	m := NewModel("filter", nil)
	failure := &sequencer.StageError{Stage: "dispense", Path: "dispense", Err: faults.Hardware("dispense", errors.New("stall"))}
	m, _ = update(t, m, stageStartedMsg{path: "dispense", description: "dispense 1500 uL water"})
	m, _ = update(t, m, stageFinishedMsg{path: "dispense", err: failure})
	m, _ = update(t, m, runFinishedMsg{run: sequencer.Run{Procedure: "filter", Status: sequencer.StatusFailed}, err: failure})
	m, cmd := update(t, m, workDoneMsg{err: failure})
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected tea.QuitMsg")
	}
	view := m.View()
	if !strings.Contains(view, "failed") || !strings.Contains(view, "hardware-fault") {
		t.Fatalf("view should report the failure:\n%s", view)
	}
}

func TestObserverForwardsMessages(t *testing.T) {
	var got []tea.Msg
	obs := &Observer{send: func(msg tea.Msg) { got = append(got, msg) }}
	obs.RunStarted(sequencer.Run{ID: "r1"})
	obs.StageStarted(sequencer.Run{}, "hold", "hold 1s")
	obs.HoldProgress(time.Second, 2*time.Second)
	obs.PollSample(sequencer.Run{}, 1, 20)
	obs.StageFinished(sequencer.Run{}, "hold", "hold", time.Second, nil)
	obs.RunFinished(sequencer.Run{}, nil)
	if len(got) != 6 {
		t.Fatalf("expected 6 messages, got %d", len(got))
	}
	if hold, ok := got[2].(holdMsg); !ok || hold.total != 2*time.Second {
		t.Fatalf("unexpected hold message %#v", got[2])
	}
}

func TestRunReturnsWorkError(t *testing.T) {
	want := errors.New("boom")
	err := Run(context.Background(), "test", func(ctx context.Context, obs *Observer) error {
		obs.RunStarted(sequencer.Run{ID: "r1"})
		return want
	}, tea.WithInput(nil), tea.WithOutput(&strings.Builder{}), tea.WithoutRenderer())
	if !errors.Is(err, want) {
		t.Fatalf("expected work error, got %v", err)
	}
}
