// Package metrics exposes run, stage, poll and station command metrics on a
// dedicated Prometheus registry.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kingrea/vialflow/internal/faults"
	"github.com/kingrea/vialflow/internal/logbook"
	"github.com/kingrea/vialflow/internal/sequencer"
)

// TextfileName is the default Prometheus text file inside a results directory.
const TextfileName = "metrics.prom"

// Metrics provides observability for procedure runs.
type Metrics struct {
	registry *prometheus.Registry

	// Runs by procedure and final status
	RunsTotal *prometheus.CounterVec

	// Stage durations by stage kind and result ("ok" or a fault kind)
	StageDuration *prometheus.HistogramVec

	// Every convergence sample taken, by procedure
	PollSamples *prometheus.CounterVec

	// Most recent polled reading
	LastReading prometheus.Gauge

	// Station commands by op and result
	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
}

var _ sequencer.Observer = (*Metrics)(nil)

// New creates a Metrics instance registered on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vialflow_runs_total",
			Help: "Procedure runs by procedure and final status",
		}, []string{"procedure", "status"}),

		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vialflow_stage_duration_seconds",
			Help:    "Duration of procedure stages by stage kind and result",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 3600},
		}, []string{"stage", "result"}),

		PollSamples: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vialflow_poll_samples_total",
			Help: "Convergence samples taken while waiting for a setpoint",
		}, []string{"procedure"}),

		LastReading: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vialflow_poll_last_reading",
			Help: "Most recent reading seen by the convergence poller",
		}),

		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vialflow_station_commands_total",
			Help: "Station commands by op and result",
		}, []string{"op", "result"}),

		CommandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vialflow_station_command_duration_seconds",
			Help:    "Duration of station commands by op",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"op"}),
	}
}

// Registry returns the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func result(err error) string {
	if err == nil {
		return "ok"
	}
	return string(faults.KindOf(err))
}

// ObserveCommand records one station command. It matches
// station.CommandObserver.
func (m *Metrics) ObserveCommand(op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(op, result(err)).Inc()
	m.CommandDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) RunStarted(sequencer.Run) {}

func (m *Metrics) StageStarted(sequencer.Run, string, string) {}

// StageFinished records a stage duration.
func (m *Metrics) StageFinished(_ sequencer.Run, _ string, stage string, elapsed time.Duration, err error) {
	if m != nil {
		m.StageDuration.WithLabelValues(stage, result(err)).Observe(elapsed.Seconds())
	}
}

// PollSample counts a convergence sample.
func (m *Metrics) PollSample(run sequencer.Run, _ int, reading float64) {
	if m != nil {
		m.PollSamples.WithLabelValues(run.Procedure).Inc()
		m.LastReading.Set(reading)
	}
}

// RunFinished counts a finished run.
func (m *Metrics) RunFinished(run sequencer.Run, _ error) {
	if m != nil {
		m.RunsTotal.WithLabelValues(run.Procedure, string(run.Status)).Inc()
	}
}

// WriteTextfile writes every metric in the text exposition format to path.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

// Handler serves the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log logbook.Sink) error {
	log = logbook.OrDiscard(log)
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics: listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
