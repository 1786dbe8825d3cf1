// Package campaign runs a batch of procedure invocations one after another
// through a single worker, stopping at the first failure.
package campaign

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kingrea/vialflow/internal/faults"
	"github.com/kingrea/vialflow/internal/logbook"
	"github.com/kingrea/vialflow/internal/procedure"
	"github.com/kingrea/vialflow/internal/registry"
	"github.com/kingrea/vialflow/internal/sequencer"
)

// Executor runs one plan. *sequencer.Sequencer satisfies it.
type Executor interface {
	Execute(ctx context.Context, plan procedure.Plan) (sequencer.Run, error)
}

// Job is one queued invocation. SampleID is empty for sample-free procedures.
type Job struct {
	Procedure string
	SampleID  string
	Params    procedure.Params
}

func (j Job) String() string {
	if j.SampleID == "" {
		return j.Procedure
	}
	return j.Procedure + " " + j.SampleID
}

// Outcome is what happened to one job.
type Outcome struct {
	Job     Job
	Run     sequencer.Run
	Err     error
	Skipped bool
}

// Report lists outcomes in job order.
type Report struct {
	Outcomes []Outcome
}

// Succeeded counts jobs that ran to completion.
func (r Report) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.Skipped && o.Err == nil {
			n++
		}
	}
	return n
}

// Skipped counts jobs never started.
func (r Report) Skipped() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Skipped {
			n++
		}
	}
	return n
}

// Failed returns the failing outcome, if any.
func (r Report) Failed() (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Err != nil {
			return o, true
		}
	}
	return Outcome{}, false
}

// Queue resolves jobs through the catalog and the sample registry and feeds
// them to the executor.
type Queue struct {
	catalog  *procedure.Catalog
	samples  *registry.Registry
	exec     Executor
	capacity int
	log      logbook.Sink
}

// New wires a queue. samples may be nil when only sample-free procedures
// are queued.
func New(catalog *procedure.Catalog, samples *registry.Registry, exec Executor, capacity int, log logbook.Sink) (*Queue, error) {
	if catalog == nil {
		return nil, fmt.Errorf("campaign: catalog is required")
	}
	if exec == nil {
		return nil, fmt.Errorf("campaign: executor is required")
	}
	return &Queue{catalog: catalog, samples: samples, exec: exec, capacity: capacity, log: logbook.OrDiscard(log)}, nil
}

// Plan builds every job up front so recipe problems surface before the
// first hardware command.
func (q *Queue) Plan(jobs []Job) ([]procedure.Plan, error) {
	plans := make([]procedure.Plan, len(jobs))
	for i, job := range jobs {
		req := procedure.Request{Params: job.Params, RackCapacity: q.capacity}
		if job.SampleID != "" {
			sample, err := q.samples.Lookup(job.SampleID)
			if err != nil {
				return nil, fmt.Errorf("job %d (%s): %w", i+1, job, err)
			}
			req.Sample = &sample
		}
		plan, err := q.catalog.Build(job.Procedure, req)
		if err != nil {
			return nil, fmt.Errorf("job %d (%s): %w", i+1, job, err)
		}
		plans[i] = plan
	}
	return plans, nil
}

// Run executes jobs in order. The first failure stops the queue; jobs after
// it are reported as skipped.
func (q *Queue) Run(ctx context.Context, jobs []Job) (Report, error) {
	report := Report{Outcomes: make([]Outcome, len(jobs))}
	for i, job := range jobs {
		report.Outcomes[i] = Outcome{Job: job, Skipped: true}
	}
	plans, err := q.Plan(jobs)
	if err != nil {
		return report, err
	}

	g, gctx := errgroup.WithContext(ctx)
	work := make(chan int)
	g.Go(func() error {
		defer close(work)
		for i := range plans {
			select {
			case work <- i:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	g.Go(func() error {
		for i := range work {
			if gctx.Err() != nil {
				return nil
			}
			job := jobs[i]
			q.log.Info("campaign: job %d/%d %s", i+1, len(jobs), job)
			run, err := q.exec.Execute(gctx, plans[i])
			report.Outcomes[i] = Outcome{Job: job, Run: run, Err: err}
			if err != nil {
				q.log.Error("campaign: job %d/%d %s failed: %v", i+1, len(jobs), job, err)
				return fmt.Errorf("job %d (%s): %w", i+1, job, err)
			}
		}
		return nil
	})
	err = g.Wait()
	if err == nil && ctx.Err() != nil && report.Skipped() > 0 {
		q.log.Warn("campaign: cancelled with %d job(s) not started", report.Skipped())
		return report, faults.Aborted("campaign", ctx.Err())
	}
	if err != nil {
		q.log.Warn("campaign: stopped, %d succeeded, %d not started", report.Succeeded(), report.Skipped())
		return report, err
	}
	q.log.Info("campaign: %d job(s) succeeded", report.Succeeded())
	return report, nil
}
