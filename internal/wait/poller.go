// Package wait holds the two blocking primitives procedures use: a bounded
// convergence poller and a cancellable timer.
package wait

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/kingrea/vialflow/internal/faults"
	"github.com/kingrea/vialflow/internal/logbook"
)

const (
	DefaultMaxAttempts = 360
	DefaultMaxElapsed  = 45 * time.Minute
	DefaultInterval    = 5 * time.Second
	DefaultTolerance   = 3.0
)

// Sampler reads the current value of the quantity being polled.
type Sampler func(ctx context.Context) (float64, error)

// Sleeper waits d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Poller waits for a reading to land within Tolerance of Target. At least
// one of MaxAttempts and MaxElapsed must be positive.
type Poller struct {
	Target      float64
	Tolerance   float64
	Interval    time.Duration
	MaxAttempts int
	MaxElapsed  time.Duration

	// Label names the quantity in log lines, e.g. "temperature".
	Label string
	Log   logbook.Sink
	Sleep Sleeper
	Clock func() time.Time
	// OnSample sees every reading, converged or not.
	OnSample func(attempt int, reading float64)
}

// Result describes a finished poll.
type Result struct {
	Reading  float64
	Attempts int
	Elapsed  time.Duration
}

// Within reports whether reading is inside [target-tolerance, target+tolerance].
func Within(reading, target, tolerance float64) bool {
	return math.Abs(reading-target) <= tolerance
}

// Until samples until convergence, the bound is exhausted, sampling fails or
// ctx is cancelled. It never waits after the final permitted sample.
func (p Poller) Until(ctx context.Context, sample Sampler) (Result, error) {
	if p.MaxAttempts <= 0 && p.MaxElapsed <= 0 {
		return Result{}, faults.Configuration("poll", "poller needs max attempts or max elapsed")
	}
	if p.Tolerance < 0 {
		return Result{}, faults.Configuration("poll", "tolerance %.2f must be >= 0", p.Tolerance)
	}
	log := logbook.OrDiscard(p.Log)
	sleep := p.Sleep
	if sleep == nil {
		sleep = Hold
	}
	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	label := p.Label
	if label == "" {
		label = "reading"
	}

	start := clock()
	var res Result
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return res, faults.Aborted("poll", err)
		}
		reading, err := sample(ctx)
		res.Attempts = attempt
		res.Elapsed = clock().Sub(start)
		if err != nil {
			return res, err
		}
		res.Reading = reading
		if p.OnSample != nil {
			p.OnSample(attempt, reading)
		}
		if Within(reading, p.Target, p.Tolerance) {
			log.Info("%s %.2f reached target %.2f ±%.2f after %d sample(s)", label, reading, p.Target, p.Tolerance, attempt)
			return res, nil
		}
		log.Info("%s %.2f not within %.2f ±%.2f (sample %d)", label, reading, p.Target, p.Tolerance, attempt)

		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return res, faults.New(faults.KindConvergenceTimeout, "poll",
				fmt.Errorf("%s did not reach %.2f ±%.2f in %d samples (last %.2f)", label, p.Target, p.Tolerance, attempt, reading))
		}
		if p.MaxElapsed > 0 && res.Elapsed+p.Interval > p.MaxElapsed {
			return res, faults.New(faults.KindConvergenceTimeout, "poll",
				fmt.Errorf("%s did not reach %.2f ±%.2f within %s (last %.2f)", label, p.Target, p.Tolerance, p.MaxElapsed, reading))
		}
		if err := sleep(ctx, p.Interval); err != nil {
			return res, faults.Aborted("poll", err)
		}
	}
}
