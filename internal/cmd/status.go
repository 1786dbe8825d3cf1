package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kingrea/vialflow/internal/faults"
	"github.com/kingrea/vialflow/internal/logbook"
	"github.com/kingrea/vialflow/internal/sequencer"
)

const timeLayout = "2006-01-02 15:04:05"

func (c *cli) newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "status <results>",
		Short:   "List the run records in a results directory and how far each sample got",
		GroupID: GroupResults,
		Args:    exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := sequencer.NewRepository(args[0]).List()
			if err != nil {
				return faults.RecorderIO("status", err)
			}
			if asJSON {
				enc := json.NewEncoder(c.stdout)
				enc.SetIndent("", "  ")
				if runs == nil {
					runs = []sequencer.Run{}
				}
				return enc.Encode(runs)
			}
			if len(runs) == 0 {
				fmt.Fprintf(c.stdout, "no runs recorded in %s\n", args[0])
				return nil
			}
			t := newTable("STARTED", "PROCEDURE", "SAMPLE", "STATUS", "STAGES", "DURATION", "DETAIL")
			for _, run := range runs {
				t.Row(run.StartedAt.Local().Format(timeLayout), run.Procedure, orDash(run.Sample), string(run.Status),
					fmt.Sprintf("%d/%d", run.Completed, run.Total), run.Duration().Round(time.Second).String(), runDetail(run))
			}
			fmt.Fprintln(c.stdout, t.Render())

			progress := sequencer.Progress(runs)
			if len(progress) == 0 {
				return nil
			}
			t = newTable("SAMPLE", "VIAL", "LIFECYCLE", "RUNS", "LAST RUN")
			for _, p := range progress {
				t.Row(p.Sample, strconv.Itoa(p.Vial), string(p.Lifecycle), strconv.Itoa(p.Runs),
					p.LastRun+" "+dimStyle.Render(p.LastAt.Local().Format(timeLayout)))
			}
			fmt.Fprintln(c.stdout, t.Render())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the run records as JSON")
	return cmd
}

func runDetail(run sequencer.Run) string {
	switch {
	case run.FailedPath != "":
		return fmt.Sprintf("%s at %s", run.Kind, run.FailedPath)
	case run.Lifecycle != "":
		return "sample " + string(run.Lifecycle)
	default:
		return ""
	}
}

func (c *cli) newLogCmd() *cobra.Command {
	var (
		name  string
		lines int
	)
	cmd := &cobra.Command{
		Use:     "log <results>",
		Short:   "Show the end of a results directory's log stream",
		GroupID: GroupResults,
		Args:    exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				name = c.flags.logName
			}
			if name == "" {
				name = logbook.DefaultName(time.Now())
			}
			path := filepath.Join(args[0], logbook.DirName, strings.TrimSuffix(name, ".log")+".log")
			if _, err := os.Stat(path); err != nil {
				return faults.RecorderIO("log", err)
			}
			tail, total := logbook.TailFile(path, lines)
			for _, line := range tail {
				fmt.Fprintln(c.stdout, line)
			}
			if total > len(tail) {
				fmt.Fprintln(c.stdout, dimStyle.Render(fmt.Sprintf("(%d of %d lines from %s)", len(tail), total, path)))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "log stream name (default --log-name or today's date)")
	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "number of lines to show")
	return cmd
}
