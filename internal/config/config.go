// internal/config/config.go
//
// This package handles the vialflow configuration file. One file describes the
// bench: which station driver to talk to, how big the vial rack is, where the
// sample registry lives, how temperature polling is bounded, and where
// measurements and images go.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/vialflow/internal/faults"
)

const (
	// DefaultFileName is looked up in the working directory when neither the
	// --config flag nor VIALFLOW_CONFIG is set.
	DefaultFileName = "vialflow.yaml"

	// EnvConfigPath overrides the config location.
	EnvConfigPath = "VIALFLOW_CONFIG"

	DriverSim = "sim"

	BackendFile   = "file"
	BackendSQLite = "sqlite"

	ImagesFS = "fs"
	ImagesS3 = "s3"

	defaultRackCapacity = 24
	defaultPollInterval = 5 * time.Second
	defaultTolerance    = 3.0
	defaultMaxAttempts  = 360
	defaultMaxElapsed   = 45 * time.Minute
)

const defaultConfigYAML = `# vialflow bench configuration
version: 1

station:
  # Driver used to reach the rig. "sim" runs a deterministic simulated rig.
  driver: sim
  rack_capacity: 24
  # Advisory lock shared by every vialflow process driving this rig.
  lock_file: .vialflow/station.lock
  heater_sensor: 0
  sim:
    command_delay: 0s
    ambient_c: 21
    ramp_per_read: 15
    dose_yield: 0.98

# Sample registry (YAML or JSON), relative to this file.
samples: samples.yaml

poll:
  interval: 5s
  tolerance: 3
  # Bounds for temperature equilibration; the first one reached ends the wait.
  max_attempts: 360
  max_elapsed: 45m

recorder:
  # file | sqlite
  backend: file
  images:
    # fs | s3
    driver: fs
    # s3:
    #   bucket: lab-images
    #   region: eu-west-2
    #   prefix: campaigns/
    #   endpoint: http://localhost:9000
    #   path_style: true

metrics:
  # Write <results>/metrics.prom after every run.
  textfile: true
  # Serve /metrics while a run is in progress, e.g. ":9464".
  listen: ""
`

// SimSettings tunes the simulated rig.
type SimSettings struct {
	CommandDelay time.Duration `yaml:"command_delay"`
	AmbientC     float64       `yaml:"ambient_c"`
	RampPerRead  float64       `yaml:"ramp_per_read"`
	DoseYield    float64       `yaml:"dose_yield"`
}

// StationSettings describes the rig.
type StationSettings struct {
	Driver       string      `yaml:"driver"`
	RackCapacity int         `yaml:"rack_capacity"`
	LockFile     string      `yaml:"lock_file,omitempty"`
	HeaterSensor int         `yaml:"heater_sensor"`
	Sim          SimSettings `yaml:"sim"`
}

// PollSettings bounds temperature equilibration.
type PollSettings struct {
	Interval    time.Duration `yaml:"interval"`
	Tolerance   float64       `yaml:"tolerance"`
	MaxAttempts int           `yaml:"max_attempts"`
	MaxElapsed  time.Duration `yaml:"max_elapsed"`
}

// S3Settings configures the S3-compatible image archive.
type S3Settings struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region,omitempty"`
	Prefix    string `yaml:"prefix,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	PathStyle bool   `yaml:"path_style,omitempty"`
}

// ImageSettings selects where captured frames are stored.
type ImageSettings struct {
	Driver string     `yaml:"driver"`
	S3     S3Settings `yaml:"s3,omitempty"`
}

// RecorderSettings selects the measurement backend.
type RecorderSettings struct {
	Backend string        `yaml:"backend"`
	Images  ImageSettings `yaml:"images"`
}

// MetricsSettings controls Prometheus exposure.
type MetricsSettings struct {
	Textfile bool   `yaml:"textfile"`
	Listen   string `yaml:"listen,omitempty"`
}

// Settings models vialflow.yaml.
type Settings struct {
	Version  int              `yaml:"version"`
	Station  StationSettings  `yaml:"station"`
	Samples  string           `yaml:"samples"`
	Poll     PollSettings     `yaml:"poll"`
	Recorder RecorderSettings `yaml:"recorder"`
	Metrics  MetricsSettings  `yaml:"metrics"`
}

// Config holds the loaded settings plus where they came from.
type Config struct {
	// Path is the config file consulted; it may not exist.
	Path string
	// BaseDir anchors relative paths found in the file.
	BaseDir string
	// Loaded reports whether Path existed.
	Loaded bool

	Settings Settings
}

// ResolvePath picks the config file: explicit flag, then $VIALFLOW_CONFIG,
// then ./vialflow.yaml.
func ResolvePath(explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return DefaultFileName
}

// Load reads the config file at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, faults.New(faults.KindConfiguration, "config", err)
	}
	cfg := &Config{
		Path:     abs,
		BaseDir:  filepath.Dir(abs),
		Settings: Defaults(),
	}
	if err := cfg.load(); err != nil {
		return nil, faults.New(faults.KindConfiguration, "config", err)
	}
	return cfg, nil
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		Version: 1,
		Station: StationSettings{
			Driver:       DriverSim,
			RackCapacity: defaultRackCapacity,
			Sim: SimSettings{
				AmbientC:    21,
				RampPerRead: 15,
				DoseYield:   0.98,
			},
		},
		Samples: "samples.yaml",
		Poll: PollSettings{
			Interval:    defaultPollInterval,
			Tolerance:   defaultTolerance,
			MaxAttempts: defaultMaxAttempts,
			MaxElapsed:  defaultMaxElapsed,
		},
		Recorder: RecorderSettings{
			Backend: BackendFile,
			Images:  ImageSettings{Driver: ImagesFS},
		},
		Metrics: MetricsSettings{Textfile: true},
	}
}

// Init writes the commented default config to path unless a file is
// already there. It reports whether a file was written.
func Init(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("config: ensure dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0o644); err != nil {
		return false, fmt.Errorf("config: write %s: %w", path, err)
	}
	return true, nil
}

// SamplesPath returns the absolute sample registry path.
func (c *Config) SamplesPath() string {
	return resolvePath(c.BaseDir, c.Settings.Samples)
}

// LockPath returns the absolute station lock path, or "" when disabled.
func (c *Config) LockPath() string {
	return resolvePath(c.BaseDir, c.Settings.Station.LockFile)
}

func (c *Config) load() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", c.Path, err)
	}

	parsed := Defaults()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse %s: %w", c.Path, err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.Validate(); err != nil {
		return err
	}

	c.Settings = parsed
	c.Loaded = true
	return nil
}

func (s *Settings) applyDefaults() {
	def := Defaults()
	if s.Version == 0 {
		s.Version = 1
	}
	if s.Station.Driver == "" {
		s.Station.Driver = def.Station.Driver
	}
	if s.Station.RackCapacity == 0 {
		s.Station.RackCapacity = def.Station.RackCapacity
	}
	if s.Poll.Interval == 0 {
		s.Poll.Interval = def.Poll.Interval
	}
	if s.Poll.Tolerance == 0 {
		s.Poll.Tolerance = def.Poll.Tolerance
	}
	if s.Poll.MaxAttempts == 0 && s.Poll.MaxElapsed == 0 {
		s.Poll.MaxAttempts = def.Poll.MaxAttempts
		s.Poll.MaxElapsed = def.Poll.MaxElapsed
	}
	if s.Recorder.Backend == "" {
		s.Recorder.Backend = def.Recorder.Backend
	}
	if s.Recorder.Images.Driver == "" {
		s.Recorder.Images.Driver = def.Recorder.Images.Driver
	}
	if s.Samples == "" {
		s.Samples = def.Samples
	}
}

func (s *Settings) normalize() {
	s.Station.Driver = normalizeName(s.Station.Driver)
	s.Recorder.Backend = normalizeName(s.Recorder.Backend)
	s.Recorder.Images.Driver = normalizeName(s.Recorder.Images.Driver)
	s.Station.LockFile = strings.TrimSpace(s.Station.LockFile)
	s.Samples = strings.TrimSpace(s.Samples)
	s.Recorder.Images.S3.Bucket = strings.TrimSpace(s.Recorder.Images.S3.Bucket)
	s.Metrics.Listen = strings.TrimSpace(s.Metrics.Listen)
}

// Validate checks the settings for values the rest of vialflow cannot use.
func (s Settings) Validate() error {
	if s.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if s.Station.Driver != DriverSim {
		return fmt.Errorf("station.driver %q is not supported (available: %s)", s.Station.Driver, DriverSim)
	}
	if s.Station.RackCapacity < 1 {
		return fmt.Errorf("station.rack_capacity must be >= 1")
	}
	if s.Poll.Interval < 0 {
		return fmt.Errorf("poll.interval must be >= 0")
	}
	if s.Poll.Tolerance <= 0 {
		return fmt.Errorf("poll.tolerance must be > 0")
	}
	if s.Poll.MaxAttempts < 0 || s.Poll.MaxElapsed < 0 {
		return fmt.Errorf("poll bounds must be >= 0")
	}
	if s.Poll.MaxAttempts == 0 && s.Poll.MaxElapsed == 0 {
		return fmt.Errorf("poll needs max_attempts or max_elapsed; unbounded waits are not allowed")
	}
	switch s.Recorder.Backend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("recorder.backend must be %q or %q", BackendFile, BackendSQLite)
	}
	switch s.Recorder.Images.Driver {
	case ImagesFS:
	case ImagesS3:
		if s.Recorder.Images.S3.Bucket == "" {
			return fmt.Errorf("recorder.images.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("recorder.images.driver must be %q or %q", ImagesFS, ImagesS3)
	}
	return nil
}

func normalizeName(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}
