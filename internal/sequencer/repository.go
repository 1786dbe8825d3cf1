package sequencer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// RunsDir is the folder inside a results directory that holds run records.
const RunsDir = "runs"

// ErrRunNotFound is returned when no record exists for a run id.
var ErrRunNotFound = errors.New("sequencer: run not found")

// RunStore persists run records.
type RunStore interface {
	Save(Run) error
	Load(id string) (Run, error)
	List() ([]Run, error)
}

// Repository stores run records as <results>/runs/<id>.json.
type Repository struct {
	dir string
}

// NewRepository creates a repository under the results directory.
func NewRepository(resultsDir string) *Repository {
	return &Repository{dir: filepath.Join(resultsDir, RunsDir)}
}

// Dir returns the directory holding the records.
func (r *Repository) Dir() string {
	return r.dir
}

// Load reads one run record.
func (r *Repository) Load(id string) (Run, error) {
	data, err := os.ReadFile(r.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return Run{}, err
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return Run{}, fmt.Errorf("sequencer: parse run %s: %w", id, err)
	}
	return run, nil
}

// Save writes the record via a temp file and rename.
func (r *Repository) Save(run Run) error {
	if run.ID == "" {
		return fmt.Errorf("sequencer: run id is required")
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.path(run.ID) + ".tmp"
	if err := os.WriteFile(tmp, append(encoded, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path(run.ID))
}

// List returns every record, oldest first. A missing directory is empty.
func (r *Repository) List() ([]Run, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var runs []Run
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		run, err := r.Load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
	return runs, nil
}

func (r *Repository) path(id string) string {
	return filepath.Join(r.dir, id+".json")
}
