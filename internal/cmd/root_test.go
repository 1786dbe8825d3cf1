package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/vialflow/internal/faults"
	"github.com/kingrea/vialflow/internal/logbook"
	"github.com/kingrea/vialflow/internal/metrics"
	"github.com/kingrea/vialflow/internal/procedure"
	"github.com/kingrea/vialflow/internal/recorder"
	"github.com/kingrea/vialflow/internal/sequencer"
)

const benchConfig = `version: 1
station:
  driver: sim
  rack_capacity: 24
  sim:
    ambient_c: 21
    ramp_per_read: 15
    dose_yield: 1
samples: samples.yaml
poll:
  interval: 1ms
  tolerance: 3
  max_attempts: 10
metrics:
  textfile: true
`

const benchSamples = `samples:
  - id: "3"
    vial: 3
    solid: CC3
    mass_mg: 50
    liquid: water
    volume_ml: 1.5
  - id: "4"
    vial: 4
    solid: CC4
    mass_mg: 20
    liquid: water
    volume_ml: 1
`

type testBench struct {
	dir     string
	config  string
	results string
}

func newTestBench(t *testing.T) testBench {
	t.Helper()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "vialflow.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(benchConfig), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "samples.yaml"), []byte(benchSamples), 0o644))
	return testBench{dir: dir, config: cfg, results: filepath.Join(dir, "out")}
}

func (b testBench) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--config", b.config, "--log-name", "test"}, args...)
	code := run(context.Background(), full, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestExitCodes(t *testing.T) {
	tests := map[string]struct {
		err  error
		want int
	}{
		"nil":           {nil, ExitOK},
		"usage":         {&usageError{err: errors.New("bad")}, ExitUsage},
		"unknown":       {procedure.ErrUnknownProcedure, ExitUnknownProcedure},
		"unknown usage": {&usageError{err: fmt.Errorf("%w: make_coffee", procedure.ErrUnknownProcedure)}, ExitUnknownProcedure},
		"bad argument":  {procedure.ErrBadArgument, ExitUsage},
		"configuration": {faults.Configuration("registry", "unknown sample 9"), ExitConfig},
		"aborted":       {faults.Aborted("hold", context.Canceled), ExitAborted},
		"cancelled":     {context.Canceled, ExitAborted},
		"hardware":      {&sequencer.StageError{Stage: "dose", Err: faults.Hardware("dose", errors.New("jam"))}, ExitFailed},
		"convergence":   {faults.New(faults.KindConvergenceTimeout, "poll", errors.New("late")), ExitFailed},
		"recorder":      {faults.RecorderIO("append", errors.New("disk full")), ExitFailed},
		"plain":         {errors.New("boom"), ExitFailed},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestPrepareSampleEndToEnd(t *testing.T) {
	b := newTestBench(t)
	code, stdout, stderr := b.run(t, "prepare_sample", "3", b.results)
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stdout, "prepare_sample sample 3: succeeded (11/11 stages")

	runs, err := sequencer.NewRepository(b.results).List()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, sequencer.StatusSucceeded, runs[0].Status)
	require.Len(t, runs[0].Measurements, 1)
	assert.Equal(t, 50.0, runs[0].Measurements[0].Actual)

	assert.FileExists(t, filepath.Join(b.results, logbook.DirName, "test.log"))
	assert.FileExists(t, filepath.Join(b.results, metrics.TextfileName))
	entries, err := os.ReadDir(filepath.Join(b.results, recorder.MeasurementsDir))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestHeatAndHoldUsesPollFlags(t *testing.T) {
	b := newTestBench(t)
	code, stdout, stderr := b.run(t, "--max-attempts", "2", "heat_and_hold", "3", "80", "300", "0", "0", "0", b.results)
	assert.Equal(t, ExitFailed, code, stderr)
	assert.Contains(t, stderr, "convergence")
	assert.Contains(t, stdout, "off the rack: vial 3 at heater")

	code, stdout, stderr = b.run(t, "heat_and_hold", "3", "80", "300", "0", "0", "0", b.results)
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stdout, "succeeded")
}

func TestStatusReportsFurthestLifecycle(t *testing.T) {
	b := newTestBench(t)
	for _, args := range [][]string{
		{"prepare_sample", "3", b.results},
		{"heat_and_hold", "3", "80", "300", "0", "0", "0", b.results},
		{"store_sample", "3", b.results},
	} {
		code, stdout, stderr := b.run(t, args...)
		require.Equal(t, ExitOK, code, stderr)
		if args[0] == procedure.StoreSample {
			assert.NotContains(t, stdout, "off the rack")
		}
	}

	code, stdout, _ := b.run(t, "status", b.results)
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "LIFECYCLE")
	assert.Contains(t, stdout, "heated")
	assert.NotContains(t, stdout, "registered")
}

func TestUsageErrors(t *testing.T) {
	b := newTestBench(t)

	code, _, stderr := b.run(t, "make_coffee", "3", b.results)
	assert.Equal(t, ExitUnknownProcedure, code)
	assert.Contains(t, stderr, "Usage:")

	code, _, _ = b.run(t, "batch", "make_coffee", b.results, "3")
	assert.Equal(t, ExitUnknownProcedure, code)

	code, _, _ = b.run(t, "prepare_sample", "3")
	assert.Equal(t, ExitUsage, code)

	code, _, stderr = b.run(t, "heat_and_hold", "3", "hot", "300", "0", "0", "0", b.results)
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, stderr, "temp_c")

	code, _, _ = b.run(t, "--no-such-flag", "procedures")
	assert.Equal(t, ExitUsage, code)

	_, err := os.Stat(b.results)
	assert.True(t, os.IsNotExist(err), "usage errors must not touch the results directory")
}

func TestConfigurationErrors(t *testing.T) {
	b := newTestBench(t)

	code, _, stderr := b.run(t, "prepare_sample", "99", b.results)
	assert.Equal(t, ExitConfig, code)
	assert.Contains(t, stderr, "unknown sample 99")

	code, _, _ = b.run(t, "filter", "3", "30", "acetone", b.results)
	assert.Equal(t, ExitConfig, code)

	code, _, _ = b.run(t, "--tolerance", "-1", "heat_stir", "60", "300", b.results)
	assert.Equal(t, ExitConfig, code)

	_, err := os.Stat(b.results)
	assert.True(t, os.IsNotExist(err), "configuration errors are raised before the station is touched")
}

func TestBatchRunsEverySample(t *testing.T) {
	b := newTestBench(t)
	code, stdout, stderr := b.run(t, "batch", "prepare_sample", b.results, "3", "4")
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stdout, "2 succeeded, 0 not started")

	runs, err := sequencer.NewRepository(b.results).List()
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	code, _, _ = b.run(t, "batch", "prepare_sample", b.results)
	assert.Equal(t, ExitUsage, code)

	code, _, _ = b.run(t, "batch", "wash", b.results, "3", "--arg", "wash_cycles")
	assert.Equal(t, ExitUsage, code)
}

func TestStatusAndLog(t *testing.T) {
	b := newTestBench(t)
	code, _, stderr := b.run(t, "move_to_heater", "4", b.results)
	require.Equal(t, ExitOK, code, stderr)

	code, stdout, _ := b.run(t, "status", b.results)
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "move_to_heater")
	assert.Contains(t, stdout, "succeeded")

	code, stdout, _ = b.run(t, "status", "--json", b.results)
	require.Equal(t, ExitOK, code)
	var runs []sequencer.Run
	require.NoError(t, json.Unmarshal([]byte(stdout), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "4", runs[0].Sample)

	code, stdout, _ = b.run(t, "log", b.results, "-n", "5")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "INFO")

	code, _, _ = b.run(t, "log", filepath.Join(b.dir, "nowhere"))
	assert.Equal(t, ExitFailed, code)
}

func TestSamplesAndProcedures(t *testing.T) {
	b := newTestBench(t)
	code, stdout, _ := b.run(t, "samples")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "CC3")
	assert.Contains(t, stdout, "2 sample(s), rack capacity 24")

	code, stdout, _ = b.run(t, "procedures")
	require.Equal(t, ExitOK, code)
	for _, name := range procedure.Builtin().Names() {
		assert.Contains(t, stdout, name)
	}
	assert.Contains(t, stdout, "wash <sample> <wash_volume_ml> <wash_cycles> <wash_solvent> <results>")
}

func TestInitWritesConfigOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench", "vialflow.yaml")
	var stdout bytes.Buffer
	code := run(context.Background(), []string{"--config", path, "init"}, &stdout, &bytes.Buffer{})
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout.String(), "wrote")
	assert.FileExists(t, path)

	stdout.Reset()
	code = run(context.Background(), []string{"--config", path, "init"}, &stdout, &bytes.Buffer{})
	require.Equal(t, ExitOK, code)
	assert.Contains(t, stdout.String(), "already exists")
}

func TestCancelledContextAborts(t *testing.T) {
	b := newTestBench(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var stdout, stderr bytes.Buffer
	code := run(ctx, []string{"--config", b.config, "prepare_sample", "3", b.results}, &stdout, &stderr)
	assert.Equal(t, ExitAborted, code, stderr.String())
}
