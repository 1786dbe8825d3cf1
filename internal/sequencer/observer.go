package sequencer

import "time"

// Observer is notified as a run progresses. Calls happen on the run's
// goroutine, so implementations must not block.
type Observer interface {
	RunStarted(run Run)
	StageStarted(run Run, path string, description string)
	StageFinished(run Run, path string, stage string, elapsed time.Duration, err error)
	PollSample(run Run, attempt int, reading float64)
	RunFinished(run Run, err error)
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) RunStarted(Run) {}
func (NopObserver) StageStarted(Run, string, string) {}
func (NopObserver) StageFinished(Run, string, string, time.Duration, error) {}
func (NopObserver) PollSample(Run, int, float64) {}
func (NopObserver) RunFinished(Run, error) {}

// Observers fans events out in order.
type Observers []Observer

func (o Observers) RunStarted(run Run) {
	for _, obs := range o {
		obs.RunStarted(run)
	}
}

func (o Observers) StageStarted(run Run, path, description string) {
	for _, obs := range o {
		obs.StageStarted(run, path, description)
	}
}

func (o Observers) StageFinished(run Run, path, stage string, elapsed time.Duration, err error) {
	for _, obs := range o {
		obs.StageFinished(run, path, stage, elapsed, err)
	}
}

func (o Observers) PollSample(run Run, attempt int, reading float64) {
	for _, obs := range o {
		obs.PollSample(run, attempt, reading)
	}
}

func (o Observers) RunFinished(run Run, err error) {
	for _, obs := range o {
		obs.RunFinished(run, err)
	}
}
