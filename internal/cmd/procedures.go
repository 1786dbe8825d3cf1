package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kingrea/vialflow/internal/procedure"
	"github.com/kingrea/vialflow/internal/sequencer"
)

const (
	argSample  = "sample"
	argResults = "results"
)

// positional returns the argument names a procedure command takes.
func positional(info procedure.Info) []string {
	names := make([]string, 0, len(info.Args)+2)
	if info.NeedsSample {
		names = append(names, argSample)
	}
	names = append(names, info.Args...)
	return append(names, argResults)
}

func usageLine(info procedure.Info) string {
	names := positional(info)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = "<" + name + ">"
	}
	return info.Name + " " + strings.Join(parts, " ")
}

// bindArgs parses the procedure's own positional arguments into Params.
func bindArgs(info procedure.Info, args []string) (procedure.Params, error) {
	var params procedure.Params
	offset := 0
	if info.NeedsSample {
		offset = 1
	}
	for i, name := range info.Args {
		if err := params.Set(name, args[offset+i]); err != nil {
			return params, err
		}
	}
	return params, nil
}

type filterFlags struct {
	antisolvent   string
	antisolventML float64
	collect       int
	filterTime    time.Duration
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.antisolvent, "antisolvent", "", "antisolvent dispensed into the sample before filtering")
	cmd.Flags().Float64Var(&f.antisolventML, "antisolvent-ml", 0, "antisolvent volume in ml")
	cmd.Flags().IntVar(&f.collect, "collect", 0, "collect the filtrate into this vial")
	cmd.Flags().DurationVar(&f.filterTime, "filter-time", 0, "filtration time when collecting")
}

func (f *filterFlags) apply(params *procedure.Params) {
	params.Antisolvent = f.antisolvent
	params.AntisolventML = f.antisolventML
	params.FilterTime = f.filterTime
	if f.collect != 0 {
		params.FiltrateVial = f.collect
		params.Collect = true
	}
}

func (c *cli) newProcedureCmd(info procedure.Info) *cobra.Command {
	var ff filterFlags
	cmd := &cobra.Command{
		Use:     usageLine(info),
		Short:   info.Description,
		GroupID: GroupProcedures,
		Args:    exactArgs(len(positional(info))),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := bindArgs(info, args)
			if err != nil {
				return &usageError{cmd: cmd, err: err}
			}
			if info.Name == procedure.Filter {
				ff.apply(&params)
			}
			return c.runProcedure(cmd, info, args, params)
		},
	}
	if info.Name == procedure.Filter {
		ff.register(cmd)
	}
	return cmd
}

func (c *cli) runProcedure(cmd *cobra.Command, info procedure.Info, args []string, params procedure.Params) (err error) {
	ctx := cmd.Context()
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}
	params.Sensor = cfg.Settings.Station.HeaterSensor
	req := procedure.Request{Params: params, RackCapacity: cfg.Settings.Station.RackCapacity}
	if info.NeedsSample {
		samples, err := c.loadSamples(cfg)
		if err != nil {
			return err
		}
		sample, err := samples.Lookup(args[0])
		if err != nil {
			return err
		}
		req.Sample = &sample
	}
	plan, err := c.catalog.Build(info.Name, req)
	if err != nil {
		return err
	}

	b, err := c.openBench(ctx, cfg, args[len(args)-1])
	if err != nil {
		return err
	}
	defer closeBench(b, &err)

	title := info.Name
	if plan.Sample != nil {
		title += " " + plan.Sample.ID
	}
	var run sequencer.Run
	err = c.watch(ctx, b, title, func(ctx context.Context, seq *sequencer.Sequencer) error {
		var err error
		run, err = seq.Execute(ctx, plan)
		return err
	})
	c.printRun(run, b.offRack())
	return err
}

func (c *cli) newProceduresCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "procedures",
		Short:   "List the available procedures and their arguments",
		GroupID: GroupSetup,
		Args:    exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, info := range c.catalog.Infos() {
				fmt.Fprintf(c.stdout, "  %-72s %s\n", usageLine(info), dimStyle.Render(info.Description))
			}
			return nil
		},
	}
}
