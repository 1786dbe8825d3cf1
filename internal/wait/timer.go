package wait

import (
	"context"
	"time"

	"github.com/kingrea/vialflow/internal/faults"
)

// Timer blocks for fixed durations. Progress, when set, is called at most
// once per second while holding.
type Timer struct {
	Progress func(elapsed, total time.Duration)
}

// Duration converts an hours/minutes/seconds triple.
func Duration(hours, minutes, seconds int) time.Duration {
	return time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second
}

// Hold blocks for d. Cancellation of ctx ends the hold early with an
// aborted error.
func (t Timer) Hold(ctx context.Context, d time.Duration) error {
	if d < 0 {
		return faults.Configuration("hold", "duration %s must be >= 0", d)
	}
	if err := ctx.Err(); err != nil {
		return faults.Aborted("hold", err)
	}
	if d == 0 {
		return nil
	}
	deadline := time.NewTimer(d)
	defer deadline.Stop()

	var tick <-chan time.Time
	if t.Progress != nil {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		tick = ticker.C
	}
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return faults.Aborted("hold", ctx.Err())
		case <-deadline.C:
			return nil
		case <-tick:
			t.Progress(time.Since(start), d)
		}
	}
}

// Hold blocks for d without progress reporting. It is the Poller's default
// Sleeper.
func Hold(ctx context.Context, d time.Duration) error {
	return Timer{}.Hold(ctx, d)
}
