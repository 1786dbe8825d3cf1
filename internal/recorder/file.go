package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// MeasurementsDir holds one JSON file per (key, substance).
	MeasurementsDir = "measurements"
	// ImagesDir holds captured frames for the fs image driver.
	ImagesDir = "images"
)

// FileStore writes each measurement to <dir>/<key>__<substance>.json.
type FileStore struct {
	dir string
}

// NewFileStore creates the measurements directory.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) pathFor(rec MeasurementRecord) string {
	return filepath.Join(f.dir, SanitizeName(rec.Key)+"__"+SanitizeName(rec.Substance)+".json")
}

// Put overwrites any earlier record with the same key and substance.
func (f *FileStore) Put(_ context.Context, rec MeasurementRecord) (string, error) {
	path := f.pathFor(rec)
	rec.Destination = path
	encoded, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(encoded, '\n'), 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	return path, nil
}

// List reads every record in the directory, ordered by key then substance.
func (f *FileStore) List(context.Context) ([]MeasurementRecord, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	var out []MeasurementRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(f.dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		var rec MeasurementRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", entry.Name(), err)
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

// Close is a no-op.
func (f *FileStore) Close() error { return nil }

func sortRecords(recs []MeasurementRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Key != recs[j].Key {
			return recs[i].Key < recs[j].Key
		}
		return recs[i].Substance < recs[j].Substance
	})
}

// FSImages writes frames into a local directory.
type FSImages struct {
	dir string
}

// NewFSImages creates the image directory.
func NewFSImages(dir string) (*FSImages, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	return &FSImages{dir: dir}, nil
}

// PutImage writes data as <dir>/<name>, replacing an earlier frame.
func (f *FSImages) PutImage(_ context.Context, name string, data []byte, _ string) (string, error) {
	path := filepath.Join(f.dir, SanitizeName(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
