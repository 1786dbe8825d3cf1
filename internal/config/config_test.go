package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kingrea/vialflow/internal/faults"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, DefaultFileName))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Loaded {
		t.Fatalf("expected Loaded=false for a missing file")
	}
	if cfg.Settings.Station.RackCapacity != defaultRackCapacity {
		t.Fatalf("expected default rack capacity, got %d", cfg.Settings.Station.RackCapacity)
	}
	if cfg.Settings.Poll.MaxAttempts != defaultMaxAttempts {
		t.Fatalf("expected bounded poll by default, got %+v", cfg.Settings.Poll)
	}
	if cfg.SamplesPath() != filepath.Join(dir, "samples.yaml") {
		t.Fatalf("samples path not anchored to config dir: %s", cfg.SamplesPath())
	}
	if cfg.LockPath() != "" {
		t.Fatalf("lock disabled by default, got %s", cfg.LockPath())
	}
}

func TestLoadParsesYaml(t *testing.T) {
	dir := t.TempDir()
	configYAML := strings.TrimSpace(`
version: 1
station:
  driver: SIM
  rack_capacity: 12
  lock_file: locks/rig.lock
  heater_sensor: 1
samples: registry/batch-4.yaml
poll:
  interval: 2s
  tolerance: 1.5
  max_attempts: 10
recorder:
  backend: sqlite
  images:
    driver: s3
    s3:
      bucket: lab-images
      prefix: cc3/
`)
	path := filepath.Join(dir, "bench.yaml")
	if err := os.WriteFile(path, []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	s := cfg.Settings
	if s.Station.Driver != DriverSim || s.Station.RackCapacity != 12 || s.Station.HeaterSensor != 1 {
		t.Fatalf("unexpected station settings: %+v", s.Station)
	}
	if s.Poll.Interval != 2*time.Second || s.Poll.Tolerance != 1.5 || s.Poll.MaxAttempts != 10 {
		t.Fatalf("unexpected poll settings: %+v", s.Poll)
	}
	if s.Recorder.Backend != BackendSQLite || s.Recorder.Images.S3.Bucket != "lab-images" {
		t.Fatalf("unexpected recorder settings: %+v", s.Recorder)
	}
	if cfg.LockPath() != filepath.Join(dir, "locks", "rig.lock") {
		t.Fatalf("lock path = %s", cfg.LockPath())
	}
	if cfg.SamplesPath() != filepath.Join(dir, "registry", "batch-4.yaml") {
		t.Fatalf("samples path = %s", cfg.SamplesPath())
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string]string{
		"unknown driver":    "station:\n  driver: ur5\n",
		"zero tolerance":    "poll:\n  tolerance: -1\n",
		"s3 without bucket": "recorder:\n  images:\n    driver: s3\n",
		"unknown backend":   "recorder:\n  backend: csv\n",
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), DefaultFileName)
			if err := os.WriteFile(path, []byte(payload), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if err == nil {
				t.Fatalf("expected error for %s", name)
			}
			if faults.KindOf(err) != faults.KindConfiguration {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestInitWritesTemplateOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DefaultFileName)
	wrote, err := Init(path)
	if err != nil || !wrote {
		t.Fatalf("Init = %v, %v", wrote, err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("template does not load: %v", err)
	}
	if !cfg.Loaded || cfg.Settings.Poll.MaxElapsed != defaultMaxElapsed {
		t.Fatalf("template settings unexpected: %+v", cfg.Settings.Poll)
	}
	wrote, err = Init(path)
	if err != nil || wrote {
		t.Fatalf("second Init should be a no-op, got %v, %v", wrote, err)
	}
}

func TestResolvePathPrefersFlagThenEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/vialflow/bench.yaml")
	if got := ResolvePath("custom.yaml"); got != "custom.yaml" {
		t.Fatalf("flag ignored: %s", got)
	}
	if got := ResolvePath(""); got != "/etc/vialflow/bench.yaml" {
		t.Fatalf("env ignored: %s", got)
	}
	t.Setenv(EnvConfigPath, "")
	if got := ResolvePath(""); got != DefaultFileName {
		t.Fatalf("default = %s", got)
	}
}
