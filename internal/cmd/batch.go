package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kingrea/vialflow/internal/campaign"
	"github.com/kingrea/vialflow/internal/procedure"
	"github.com/kingrea/vialflow/internal/registry"
	"github.com/kingrea/vialflow/internal/sequencer"
)

func (c *cli) newBatchCmd() *cobra.Command {
	var rawArgs []string
	cmd := &cobra.Command{
		Use:   "batch <procedure> <results> [sample...]",
		Short: "Run one procedure over several samples, stopping at the first failure",
		Long: `Run one procedure over the listed samples in order, under a single
station connection. Every job is planned before the first command reaches
the station, so a recipe problem in any sample fails the batch up front.

Procedure arguments are given as --arg name=value, for example:

  vialflow batch wash out 1 2 3 --arg wash_volume_ml=2 --arg wash_cycles=3 --arg wash_solvent=ethanol`,
		GroupID: GroupProcedures,
		Args:    minimumArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runBatch(cmd, args[0], args[1], args[2:], rawArgs)
		},
	}
	cmd.Flags().StringArrayVar(&rawArgs, "arg", nil, "procedure argument as name=value (repeatable)")
	return cmd
}

func parseParams(raw []string) (procedure.Params, error) {
	var params procedure.Params
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return params, fmt.Errorf("%w: --arg %q is not name=value", procedure.ErrBadArgument, kv)
		}
		if err := params.Set(strings.TrimSpace(name), value); err != nil {
			return params, err
		}
	}
	return params, nil
}

func (c *cli) runBatch(cmd *cobra.Command, name, results string, sampleIDs, rawArgs []string) (err error) {
	proc, err := c.catalog.Lookup(name)
	if err != nil {
		return &usageError{cmd: cmd, err: err}
	}
	params, err := parseParams(rawArgs)
	if err != nil {
		return &usageError{cmd: cmd, err: err}
	}
	switch {
	case proc.Info.NeedsSample && len(sampleIDs) == 0:
		return &usageError{cmd: cmd, err: fmt.Errorf("%s needs at least one sample", name)}
	case !proc.Info.NeedsSample && len(sampleIDs) > 0:
		return &usageError{cmd: cmd, err: fmt.Errorf("%s does not take samples", name)}
	}

	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}
	params.Sensor = cfg.Settings.Station.HeaterSensor

	var (
		samples *registry.Registry
		jobs    []campaign.Job
	)
	if proc.Info.NeedsSample {
		if samples, err = c.loadSamples(cfg); err != nil {
			return err
		}
		for _, id := range sampleIDs {
			jobs = append(jobs, campaign.Job{Procedure: name, SampleID: id, Params: params})
		}
	} else {
		jobs = []campaign.Job{{Procedure: name, Params: params}}
	}

	ctx := cmd.Context()
	b, err := c.openBench(ctx, cfg, results)
	if err != nil {
		return err
	}
	defer closeBench(b, &err)

	var report campaign.Report
	err = c.watch(ctx, b, "batch "+name, func(ctx context.Context, seq *sequencer.Sequencer) error {
		queue, err := campaign.New(c.catalog, samples, seq, cfg.Settings.Station.RackCapacity, b.log)
		if err != nil {
			return err
		}
		report, err = queue.Run(ctx, jobs)
		return err
	})
	c.printReport(report)
	c.printOffRack(b.offRack())
	return err
}

func (c *cli) printReport(report campaign.Report) {
	if len(report.Outcomes) == 0 {
		return
	}
	t := newTable("JOB", "STATUS", "STAGES", "RUN")
	for _, outcome := range report.Outcomes {
		if outcome.Skipped {
			t.Row(outcome.Job.String(), "not started", "-", "-")
			continue
		}
		t.Row(outcome.Job.String(), string(outcome.Run.Status),
			fmt.Sprintf("%d/%d", outcome.Run.Completed, outcome.Run.Total), orDash(outcome.Run.ID))
	}
	fmt.Fprintln(c.stdout, t.Render())
	fmt.Fprintf(c.stdout, "%d succeeded, %d not started\n", report.Succeeded(), report.Skipped())
}
