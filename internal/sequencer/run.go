package sequencer

import (
	"time"

	"github.com/kingrea/vialflow/internal/faults"
	"github.com/kingrea/vialflow/internal/recorder"
	"github.com/kingrea/vialflow/internal/registry"
	"github.com/kingrea/vialflow/internal/station"
)

// Status enumerates coarse run phases.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Done reports whether the run has finished one way or another.
func (s Status) Done() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusAborted
}

// Run is the persisted record of one procedure execution.
type Run struct {
	ID        string `json:"id"`
	Procedure string `json:"procedure"`
	Sample    string `json:"sample,omitempty"`
	Vial      int    `json:"vial,omitempty"`
	Status    Status `json:"status"`
	// Completed counts finished top-level stages out of Total.
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Current   string `json:"current,omitempty"`

	FailedStage string      `json:"failed_stage,omitempty"`
	FailedPath  string      `json:"failed_path,omitempty"`
	Kind        faults.Kind `json:"kind,omitempty"`
	Error       string      `json:"error,omitempty"`

	// LastVial and LastLocation are where the most recent successful move
	// left a vial, so the operator can pick a safe entrypoint after a failure.
	LastVial     int              `json:"last_vial,omitempty"`
	LastLocation station.Location `json:"last_location,omitempty"`
	// Lifecycle is the stage the sample reached, set only on success.
	Lifecycle registry.Lifecycle `json:"lifecycle,omitempty"`

	Measurements []recorder.MeasurementRecord `json:"measurements,omitempty"`
	Images       []string                     `json:"images,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Duration is the wall time of a finished run.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r Run) clone() Run {
	out := r
	if len(r.Measurements) > 0 {
		out.Measurements = append([]recorder.MeasurementRecord(nil), r.Measurements...)
	}
	if len(r.Images) > 0 {
		out.Images = append([]string(nil), r.Images...)
	}
	return out
}

// SampleProgress is how far one sample has got across its recorded runs.
type SampleProgress struct {
	Sample    string             `json:"sample"`
	Vial      int                `json:"vial"`
	Lifecycle registry.Lifecycle `json:"lifecycle"`
	Runs      int                `json:"runs"`
	LastRun   string             `json:"last_run"`
	LastAt    time.Time          `json:"last_at"`
}

// Progress folds run records into the furthest lifecycle stage each sample
// has reached. Failed runs and runs without a lifecycle never move a sample
// backwards. runs are expected oldest first, as Repository.List returns them.
func Progress(runs []Run) []SampleProgress {
	var (
		out   []SampleProgress
		index = map[string]int{}
	)
	for _, run := range runs {
		if run.Sample == "" {
			continue
		}
		i, ok := index[run.Sample]
		if !ok {
			i = len(out)
			index[run.Sample] = i
			out = append(out, SampleProgress{Sample: run.Sample, Lifecycle: registry.LifecycleRegistered})
		}
		p := &out[i]
		p.Runs++
		p.Vial = run.Vial
		p.LastRun = run.Procedure
		p.LastAt = run.StartedAt
		if run.Status == StatusSucceeded {
			p.Lifecycle = p.Lifecycle.Advance(run.Lifecycle)
		}
	}
	return out
}
