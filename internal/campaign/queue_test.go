package campaign

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/vialflow/internal/faults"
	"github.com/kingrea/vialflow/internal/procedure"
	"github.com/kingrea/vialflow/internal/registry"
	"github.com/kingrea/vialflow/internal/sequencer"
)

type fakeExecutor struct {
	mu     sync.Mutex
	ran    []string
	failOn string
	cancel context.CancelFunc
}

func (f *fakeExecutor) Execute(ctx context.Context, plan procedure.Plan) (sequencer.Run, error) {
	id := plan.Info.Name
	if plan.Sample != nil {
		id += " " + plan.Sample.ID
	}
	f.mu.Lock()
	f.ran = append(f.ran, id)
	f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
	}
	if id == f.failOn {
		return sequencer.Run{ID: "r-" + id, Status: sequencer.StatusFailed}, faults.Hardware("dispense", errors.New("pump stalled"))
	}
	return sequencer.Run{ID: "r-" + id, Status: sequencer.StatusSucceeded}, nil
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]registry.Sample{
		{ID: "1", Vial: 1, Solid: "CC1", MassMg: 20, Liquid: "water", VolumeML: 1},
		{ID: "2", Vial: 2, Solid: "CC2", MassMg: 30, Liquid: "water", VolumeML: 1},
		{ID: "3", Vial: 3, Solid: "CC3", MassMg: 50, Liquid: "water", VolumeML: 1.5},
	}, 24)
	require.NoError(t, err)
	return reg
}

func prepareJobs(ids ...string) []Job {
	jobs := make([]Job, len(ids))
	for i, id := range ids {
		jobs[i] = Job{Procedure: procedure.PrepareSample, SampleID: id}
	}
	return jobs
}

func TestQueueRunsInOrder(t *testing.T) {
	exec := &fakeExecutor{}
	q, err := New(procedure.Builtin(), testRegistry(t), exec, 24, nil)
	require.NoError(t, err)

	report, err := q.Run(context.Background(), prepareJobs("1", "2", "3"))
	require.NoError(t, err)
	assert.Equal(t, []string{"prepare_sample 1", "prepare_sample 2", "prepare_sample 3"}, exec.ran)
	assert.Equal(t, 3, report.Succeeded())
	assert.Zero(t, report.Skipped())
	_, failed := report.Failed()
	assert.False(t, failed)
}

func TestQueueStopsAtFirstFailure(t *testing.T) {
	exec := &fakeExecutor{failOn: "prepare_sample 2"}
	q, err := New(procedure.Builtin(), testRegistry(t), exec, 24, nil)
	require.NoError(t, err)

	report, err := q.Run(context.Background(), prepareJobs("1", "2", "3"))
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrHardwareFault)
	assert.Equal(t, []string{"prepare_sample 1", "prepare_sample 2"}, exec.ran)

	assert.Equal(t, 1, report.Succeeded())
	assert.Equal(t, 1, report.Skipped())
	failed, ok := report.Failed()
	require.True(t, ok)
	assert.Equal(t, "2", failed.Job.SampleID)
	assert.True(t, report.Outcomes[2].Skipped)
}

func TestQueuePlansBeforeRunning(t *testing.T) {
	exec := &fakeExecutor{}
	q, err := New(procedure.Builtin(), testRegistry(t), exec, 24, nil)
	require.NoError(t, err)

	_, err = q.Run(context.Background(), prepareJobs("1", "99"))
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrConfiguration)
	assert.Empty(t, exec.ran)

	_, err = q.Run(context.Background(), []Job{{Procedure: "make_coffee"}})
	assert.ErrorIs(t, err, procedure.ErrUnknownProcedure)
	assert.Empty(t, exec.ran)
}

func TestQueueCancellationSkipsRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exec := &fakeExecutor{cancel: cancel}
	q, err := New(procedure.Builtin(), testRegistry(t), exec, 24, nil)
	require.NoError(t, err)

	report, err := q.Run(ctx, prepareJobs("1", "2", "3"))
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrAborted)
	assert.Equal(t, []string{"prepare_sample 1"}, exec.ran)
	assert.Equal(t, 2, report.Skipped())
}

func TestQueueSampleFreeJobs(t *testing.T) {
	exec := &fakeExecutor{}
	q, err := New(procedure.Builtin(), nil, exec, 24, nil)
	require.NoError(t, err)
	_, err = q.Run(context.Background(), []Job{{Procedure: procedure.ReactionTimer}})
	require.NoError(t, err)
	assert.Equal(t, []string{"reaction_timer"}, exec.ran)
}
