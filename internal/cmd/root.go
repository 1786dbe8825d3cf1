// Package cmd provides the vialflow command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/kingrea/vialflow/internal/procedure"
)

// Command group IDs - used by subcommands to organize help output
const (
	GroupProcedures = "procedures"
	GroupResults    = "results"
	GroupSetup      = "setup"
)

var (
	errorPrefix = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true).Render("Error:")
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers(headers...)
}

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath   string
	samplesPath  string
	logName      string
	monitor      bool
	tolerance    float64
	pollInterval time.Duration
	maxAttempts  int
}

// cli carries what the commands share for one invocation.
type cli struct {
	flags   globalFlags
	stdout  io.Writer
	stderr  io.Writer
	catalog *procedure.Catalog
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "vialflow <procedure> <args...> <results>",
		Short: "Run sample preparation procedures on the vial station",
		Long: `vialflow drives a vial-handling station through named procedures:
preparing samples, heating and stirring, filtering, washing, cleaning and
photographing. Each procedure takes its parameters positionally, with the
results directory last.

Every run logs to <results>/logs/<date>.log and stores a run record under
<results>/runs.

Exit codes:
  0  success
  1  run failed (hardware fault, convergence timeout, recorder error)
  2  usage error (wrong argument count, malformed argument, unknown flag)
  3  configuration error (unknown sample, missing recipe field, bad config)
  4  aborted by the operator
  5  unrecognized procedure name`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return &usageError{cmd: cmd, err: errors.New("no procedure given")}
			}
			return &usageError{cmd: cmd, err: fmt.Errorf("%w: %s", procedure.ErrUnknownProcedure, args[0])}
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{cmd: cmd, err: err}
	})

	root.AddGroup(
		&cobra.Group{ID: GroupProcedures, Title: "Procedures:"},
		&cobra.Group{ID: GroupResults, Title: "Results:"},
		&cobra.Group{ID: GroupSetup, Title: "Setup:"},
	)
	root.SetHelpCommandGroupID(GroupSetup)
	root.SetCompletionCommandGroupID(GroupSetup)

	pf := root.PersistentFlags()
	pf.StringVar(&c.flags.configPath, "config", "", "config file (default $VIALFLOW_CONFIG or ./vialflow.yaml)")
	pf.StringVar(&c.flags.samplesPath, "samples", "", "sample registry, overriding the config")
	pf.StringVar(&c.flags.logName, "log-name", "", "log stream name under <results>/logs (default DD_MM_YYYY)")
	pf.BoolVar(&c.flags.monitor, "monitor", false, "show the live run monitor (press a to abort)")
	pf.Float64Var(&c.flags.tolerance, "tolerance", 0, "temperature tolerance in C, overriding the config")
	pf.DurationVar(&c.flags.pollInterval, "poll-interval", 0, "temperature poll interval, overriding the config")
	pf.IntVar(&c.flags.maxAttempts, "max-attempts", 0, "temperature poll attempts, overriding the config")

	for _, info := range c.catalog.Infos() {
		root.AddCommand(c.newProcedureCmd(info))
	}
	root.AddCommand(
		c.newProceduresCmd(),
		c.newBatchCmd(),
		c.newStatusCmd(),
		c.newLogCmd(),
		c.newSamplesCmd(),
		c.newInitCmd(),
	)
	return root
}

// Execute runs the command line and returns an exit code.
// The caller (main) should call os.Exit with this code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr, catalog: procedure.Builtin()}
	root := newRootCmd(c)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	fmt.Fprintf(stderr, "%s %v\n", errorPrefix, err)
	var usage *usageError
	if errors.As(err, &usage) && usage.cmd != nil {
		fmt.Fprintf(stderr, "\n%s", usage.cmd.UsageString())
	}
	return exitCode(err)
}
