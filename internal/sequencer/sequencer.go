// Package sequencer executes built procedures against the station: it holds
// the lease for the whole run, checks for cancellation before every stage,
// tags failures with the stage that raised them and persists a run record.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/vialflow/internal/faults"
	"github.com/kingrea/vialflow/internal/logbook"
	"github.com/kingrea/vialflow/internal/procedure"
	"github.com/kingrea/vialflow/internal/recorder"
	"github.com/kingrea/vialflow/internal/station"
	"github.com/kingrea/vialflow/internal/wait"
)

// StageError is the failure of one stage. Path locates nested stages,
// e.g. "wash_cycle[2]/dispense".
type StageError struct {
	Stage string
	Path  string
	Index int
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Path, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Station hands out the exclusive lease a run executes under.
type Station interface {
	Acquire(ctx context.Context, owner string) (*station.Lease, error)
}

// Options customise a Sequencer.
type Options struct {
	Log logbook.Sink
	// Poller is the template for every PollStage; the stage sets the target.
	Poller   wait.Poller
	Timer    wait.Timer
	Runs     RunStore
	Observer Observer
	Clock    func() time.Time
	NewID    func() string
}

// Sequencer runs one procedure at a time against a Station.
type Sequencer struct {
	station  Station
	recorder recorder.Recorder
	log      logbook.Sink
	poller   wait.Poller
	timer    wait.Timer
	runs     RunStore
	observer Observer
	clock    func() time.Time
	newID    func() string
}

// New wires a sequencer to the station and recorder.
func New(st Station, rec recorder.Recorder, opts Options) (*Sequencer, error) {
	if st == nil {
		return nil, fmt.Errorf("sequencer: station is required")
	}
	if rec == nil {
		return nil, fmt.Errorf("sequencer: recorder is required")
	}
	s := &Sequencer{
		station:  st,
		recorder: rec,
		log:      logbook.OrDiscard(opts.Log),
		poller:   opts.Poller,
		timer:    opts.Timer,
		runs:     opts.Runs,
		observer: opts.Observer,
		clock:    opts.Clock,
		newID:    opts.NewID,
	}
	if s.observer == nil {
		s.observer = NopObserver{}
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.poller.Log == nil {
		s.poller.Log = s.log
	}
	return s, nil
}

// execution is the mutable state of one Execute call.
type execution struct {
	seq   *Sequencer
	lease *station.Lease
	env   *procedure.Env

	mu  sync.Mutex
	run Run
}

func (x *execution) snapshot() Run {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.run.clone()
}

func (x *execution) update(fn func(*Run)) {
	x.mu.Lock()
	fn(&x.run)
	x.mu.Unlock()
}

// Execute runs plan to completion or first failure. The returned Run is
// always populated, even when err is non-nil.
func (s *Sequencer) Execute(ctx context.Context, plan procedure.Plan) (Run, error) {
	x := &execution{seq: s, run: Run{
		ID:        s.newID(),
		Procedure: plan.Info.Name,
		Status:    StatusPending,
		Total:     len(plan.Stages),
		StartedAt: s.clock(),
	}}
	if plan.Sample != nil {
		x.run.Sample = plan.Sample.ID
		x.run.Vial = plan.Sample.Vial
	}

	lease, err := s.station.Acquire(ctx, x.run.ID)
	if err != nil {
		return s.finish(x, err), err
	}
	defer func() {
		if rerr := lease.Release(); rerr != nil {
			s.log.Warn("release lease for run %s: %v", x.run.ID, rerr)
		}
	}()
	x.lease = lease

	poller := s.poller
	poller.OnSample = func(attempt int, reading float64) {
		s.observer.PollSample(x.snapshot(), attempt, reading)
	}
	x.env = &procedure.Env{
		Station:  lease,
		Recorder: s.recorder,
		Log:      s.log,
		Poller:   poller,
		Timer:    s.timer,
		RunID:    x.run.ID,
		Sample:   plan.Sample,
		Measured: func(rec recorder.MeasurementRecord) {
			x.update(func(r *Run) { r.Measurements = append(r.Measurements, rec) })
		},
		Imaged: func(dest string) {
			x.update(func(r *Run) { r.Images = append(r.Images, dest) })
		},
		RunStages: x.runNested,
	}

	x.update(func(r *Run) { r.Status = StatusRunning })
	s.save(x.snapshot())
	subject := "no sample"
	if plan.Sample != nil {
		subject = "sample " + plan.Sample.ID
	}
	s.log.Info("run %s: %s started for %s (%d stages)", x.run.ID, plan.Info.Name, subject, len(plan.Stages))
	s.observer.RunStarted(x.snapshot())

	err = x.runStages(ctx, "", plan.Stages, true)
	if err == nil {
		x.update(func(r *Run) { r.Lifecycle = plan.Info.Advances })
	}
	return s.finish(x, err), err
}

func (s *Sequencer) finish(x *execution, err error) Run {
	x.update(func(r *Run) {
		r.FinishedAt = s.clock()
		r.Current = ""
		if err == nil {
			r.Status = StatusSucceeded
			return
		}
		r.Kind = faults.KindOf(err)
		r.Error = err.Error()
		if r.Kind == faults.KindAborted {
			r.Status = StatusAborted
		} else {
			r.Status = StatusFailed
		}
		var se *StageError
		if errors.As(err, &se) {
			r.FailedStage = se.Stage
			r.FailedPath = se.Path
		}
	})
	run := x.snapshot()
	switch run.Status {
	case StatusSucceeded:
		s.log.Info("run %s: %s succeeded in %s", run.ID, run.Procedure, run.Duration().Round(time.Millisecond))
	case StatusAborted:
		s.log.Warn("run %s: %s aborted at %s: %v", run.ID, run.Procedure, orNone(run.FailedPath), err)
	default:
		s.log.Error("run %s: %s failed at stage %s (%s): %v", run.ID, run.Procedure, orNone(run.FailedPath), run.Kind, err)
	}
	if run.LastLocation != station.LocationUnknown {
		s.log.Info("run %s: vial %d last at %s", run.ID, run.LastVial, run.LastLocation)
	}
	s.save(run)
	s.observer.RunFinished(run, err)
	return run
}

// save persists the record. A failed save is logged and does not change the
// run outcome; the physical work has already happened.
func (s *Sequencer) save(run Run) {
	if s.runs == nil {
		return
	}
	if err := s.runs.Save(run); err != nil {
		s.log.Error("run %s: persist record: %v", run.ID, err)
	}
}

func (x *execution) runNested(ctx context.Context, path string, stages []procedure.Stage) error {
	return x.runStages(ctx, path, stages, false)
}

func (x *execution) runStages(ctx context.Context, prefix string, stages []procedure.Stage, top bool) error {
	s := x.seq
	for i, stage := range stages {
		path := stage.Name()
		if prefix != "" {
			path = prefix + "/" + path
		}
		if err := ctx.Err(); err != nil {
			return &StageError{Stage: stage.Name(), Path: path, Index: i, Err: faults.Aborted(path, err)}
		}
		x.update(func(r *Run) { r.Current = path })
		if top {
			s.log.Info("stage %d/%d: %s", i+1, len(stages), stage.Describe())
		} else {
			s.log.Info("stage %s: %s", path, stage.Describe())
		}
		s.observer.StageStarted(x.snapshot(), path, stage.Describe())

		start := s.clock()
		err := stage.Run(ctx, x.env)
		s.observer.StageFinished(x.snapshot(), path, stage.Name(), s.clock().Sub(start), err)
		if err != nil {
			var se *StageError
			if errors.As(err, &se) {
				return err
			}
			return &StageError{Stage: stage.Name(), Path: path, Index: i, Err: err}
		}
		if move, ok := stage.(procedure.MoveStage); ok {
			loc := x.lease.Location(move.Vial)
			x.update(func(r *Run) {
				r.LastVial = move.Vial
				r.LastLocation = loc
			})
		}
		if top {
			x.update(func(r *Run) { r.Completed = i + 1 })
			x.seq.save(x.snapshot())
		}
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
