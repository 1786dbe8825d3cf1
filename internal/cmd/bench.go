package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kingrea/vialflow/internal/config"
	"github.com/kingrea/vialflow/internal/faults"
	"github.com/kingrea/vialflow/internal/logbook"
	"github.com/kingrea/vialflow/internal/metrics"
	"github.com/kingrea/vialflow/internal/recorder"
	"github.com/kingrea/vialflow/internal/registry"
	"github.com/kingrea/vialflow/internal/sequencer"
	"github.com/kingrea/vialflow/internal/station"
	"github.com/kingrea/vialflow/internal/station/sim"
	"github.com/kingrea/vialflow/internal/tui"
	"github.com/kingrea/vialflow/internal/wait"
)

const closeTimeout = 30 * time.Second

// loadConfig reads the config file and applies the poll flag overrides.
func (c *cli) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(config.ResolvePath(c.flags.configPath))
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	poll := &cfg.Settings.Poll
	if flags.Changed("tolerance") {
		poll.Tolerance = c.flags.tolerance
	}
	if flags.Changed("poll-interval") {
		poll.Interval = c.flags.pollInterval
	}
	if flags.Changed("max-attempts") {
		poll.MaxAttempts = c.flags.maxAttempts
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, faults.New(faults.KindConfiguration, "config", err)
	}
	return cfg, nil
}

// loadSamples reads the sample registry named by --samples or the config.
func (c *cli) loadSamples(cfg *config.Config) (*registry.Registry, error) {
	path := cfg.SamplesPath()
	if c.flags.samplesPath != "" {
		path = c.flags.samplesPath
	}
	return registry.Load(path, cfg.Settings.Station.RackCapacity)
}

// bench is everything a run needs for one results directory.
type bench struct {
	cfg     *config.Config
	results string
	log     *logbook.Logbook
	metrics *metrics.Metrics
	proxy   *station.Proxy
	store   *recorder.Store

	stopServe context.CancelFunc
	served    chan struct{}
}

func newDriver(settings config.StationSettings) (station.Driver, error) {
	switch settings.Driver {
	case config.DriverSim:
		return sim.New(sim.Settings{
			CommandDelay: settings.Sim.CommandDelay,
			AmbientC:     settings.Sim.AmbientC,
			RampPerRead:  settings.Sim.RampPerRead,
			DoseYield:    settings.Sim.DoseYield,
		}), nil
	default:
		return nil, faults.Configuration("station", "unsupported driver %q", settings.Driver)
	}
}

// openBench creates the results directory, opens the log stream, connects
// the station and opens the recorder.
func (c *cli) openBench(ctx context.Context, cfg *config.Config, results string) (*bench, error) {
	if err := os.MkdirAll(results, 0o755); err != nil {
		return nil, faults.RecorderIO("results", err)
	}
	var opts []logbook.Option
	if !c.flags.monitor {
		opts = append(opts, logbook.WithMirror(c.stderr))
	}
	log, err := logbook.Open(results, c.flags.logName, opts...)
	if err != nil {
		return nil, faults.RecorderIO("log", err)
	}

	driver, err := newDriver(cfg.Settings.Station)
	if err != nil {
		return nil, err
	}
	m := metrics.New()
	proxy, err := station.New(driver, station.Options{
		RackCapacity: cfg.Settings.Station.RackCapacity,
		LockPath:     cfg.LockPath(),
		Log:          log,
		Observe:      m.ObserveCommand,
	})
	if err != nil {
		return nil, err
	}
	if err := proxy.Connect(ctx); err != nil {
		log.Error("station: connect failed: %v", err)
		return nil, err
	}
	store, err := recorder.Open(ctx, results, cfg.Settings.Recorder)
	if err != nil {
		log.Error("recorder: %v", err)
		_ = proxy.Close(context.Background())
		return nil, err
	}

	b := &bench{cfg: cfg, results: results, log: log, metrics: m, proxy: proxy, store: store}
	if addr := cfg.Settings.Metrics.Listen; addr != "" {
		serveCtx, cancel := context.WithCancel(ctx)
		b.stopServe = cancel
		b.served = make(chan struct{})
		go func() {
			defer close(b.served)
			if err := m.Serve(serveCtx, addr, log); err != nil {
				log.Warn("metrics: %v", err)
			}
		}()
	}
	return b, nil
}

// sequencer builds a sequencer reporting to the metrics and obs.
func (b *bench) sequencer(obs sequencer.Observer, timer wait.Timer) (*sequencer.Sequencer, error) {
	observers := sequencer.Observers{b.metrics}
	if obs != nil {
		observers = append(observers, obs)
	}
	poll := b.cfg.Settings.Poll
	return sequencer.New(b.proxy, b.store, sequencer.Options{
		Log: b.log,
		Poller: wait.Poller{
			Tolerance:   poll.Tolerance,
			Interval:    poll.Interval,
			MaxAttempts: poll.MaxAttempts,
			MaxElapsed:  poll.MaxElapsed,
			Label:       "temperature",
		},
		Timer:    timer,
		Runs:     sequencer.NewRepository(b.results),
		Observer: observers,
	})
}

// Close stops the metrics listener, disconnects the station, closes the
// recorder and writes the metrics text file.
func (b *bench) Close() error {
	if b.stopServe != nil {
		b.stopServe()
		<-b.served
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var errs []error
	if err := b.proxy.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := b.store.Close(); err != nil {
		errs = append(errs, faults.RecorderIO("close", err))
	}
	if b.cfg.Settings.Metrics.Textfile {
		path := filepath.Join(b.results, metrics.TextfileName)
		if err := b.metrics.WriteTextfile(path); err != nil {
			b.log.Warn("metrics: write %s: %v", path, err)
		}
	}
	return errors.Join(errs...)
}

// closeBench closes b and folds a close failure into *err.
func closeBench(b *bench, err *error) {
	if cerr := b.Close(); cerr != nil {
		b.log.Error("close: %v", cerr)
		if *err == nil {
			*err = cerr
		}
	}
}

// watch calls fn with a sequencer, under the live monitor when --monitor is
// set.
func (c *cli) watch(ctx context.Context, b *bench, title string, fn func(context.Context, *sequencer.Sequencer) error) error {
	if !c.flags.monitor {
		seq, err := b.sequencer(nil, wait.Timer{})
		if err != nil {
			return err
		}
		return fn(ctx, seq)
	}
	return tui.Run(ctx, title, func(ctx context.Context, obs *tui.Observer) error {
		seq, err := b.sequencer(obs, wait.Timer{Progress: obs.HoldProgress})
		if err != nil {
			return err
		}
		return fn(ctx, seq)
	}, tea.WithOutput(c.stderr))
}

func (c *cli) printRun(run sequencer.Run, offRack []string) {
	if run.ID == "" {
		return
	}
	subject := run.Procedure
	if run.Sample != "" {
		subject += " sample " + run.Sample
	}
	fmt.Fprintf(c.stdout, "%s: %s (%d/%d stages, %s) %s\n",
		subject, run.Status, run.Completed, run.Total, run.Duration().Round(time.Millisecond),
		dimStyle.Render("run "+run.ID))
	if run.FailedPath != "" {
		fmt.Fprintf(c.stdout, "  failed at %s; last move left vial %d at %s\n",
			run.FailedPath, run.LastVial, orDash(string(run.LastLocation)))
	}
	c.printOffRack(offRack)
}

// offRack lists every vial the proxy last saw away from its rack slot, as
// "vial N at LOCATION".
func (b *bench) offRack() []string {
	var out []string
	for _, vial := range b.proxy.Vacant() {
		out = append(out, fmt.Sprintf("vial %d at %s", vial, b.proxy.Location(vial)))
	}
	return out
}

func (c *cli) printOffRack(offRack []string) {
	if len(offRack) == 0 {
		return
	}
	fmt.Fprintf(c.stdout, "  off the rack: %s\n", strings.Join(offRack, ", "))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
