// Package recorder persists what a run measured: dosed masses, dispensed
// volumes and lightbox frames. Write failures surface as recorder-io errors
// and never undo the physical step that produced the data.
package recorder

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/kingrea/vialflow/internal/config"
	"github.com/kingrea/vialflow/internal/faults"
	"github.com/kingrea/vialflow/internal/station"
)

//go:generate mockgen -destination=../sequencer/mocks/recorder_mock.go -package=mocks github.com/kingrea/vialflow/internal/recorder Recorder

// Unit of a recorded quantity.
type Unit string

const (
	UnitMilligram  Unit = "mg"
	UnitMicroliter Unit = "uL"
)

// MeasurementRecord is one target/actual pair. A later record with the same
// Key and Substance replaces the earlier one.
type MeasurementRecord struct {
	Key         string    `json:"key"`
	Substance   string    `json:"substance"`
	Target      float64   `json:"target"`
	Actual      float64   `json:"actual"`
	Unit        Unit      `json:"unit"`
	RunID       string    `json:"run_id,omitempty"`
	Destination string    `json:"destination,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// ImageRecord is a frame to archive under <solid>_<dye>.<ext>.
type ImageRecord struct {
	Solid string
	Dye   string
	Frame station.Frame
}

// Recorder is what the sequencer writes results through.
type Recorder interface {
	// Append stores rec and returns where it went.
	Append(ctx context.Context, rec MeasurementRecord) (string, error)
	// SaveImage stores the frame and returns where it went.
	SaveImage(ctx context.Context, img ImageRecord) (string, error)
	Close() error
}

// MeasurementStore is a measurement backend.
type MeasurementStore interface {
	Put(ctx context.Context, rec MeasurementRecord) (string, error)
	List(ctx context.Context) ([]MeasurementRecord, error)
	Close() error
}

// ImageStore is an image backend.
type ImageStore interface {
	PutImage(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// Store combines a measurement backend and an image backend.
type Store struct {
	measurements MeasurementStore
	images       ImageStore
	clock        func() time.Time
}

var _ Recorder = (*Store)(nil)

// Option customises a Store.
type Option func(*Store)

// WithClock injects a deterministic clock.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New combines the two backends.
func New(measurements MeasurementStore, images ImageStore, opts ...Option) *Store {
	s := &Store{measurements: measurements, images: images, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open builds the Store configured for a results directory.
func Open(ctx context.Context, resultsDir string, settings config.RecorderSettings) (*Store, error) {
	var (
		measurements MeasurementStore
		err          error
	)
	switch settings.Backend {
	case config.BackendSQLite:
		measurements, err = NewSQLiteStore(filepath.Join(resultsDir, SQLiteFileName))
	case config.BackendFile, "":
		measurements, err = NewFileStore(filepath.Join(resultsDir, MeasurementsDir))
	default:
		return nil, faults.Configuration("recorder", "unknown backend %q", settings.Backend)
	}
	if err != nil {
		return nil, faults.RecorderIO("open", err)
	}

	var images ImageStore
	switch settings.Images.Driver {
	case config.ImagesS3:
		images, err = NewS3Images(ctx, settings.Images.S3)
	case config.ImagesFS, "":
		images, err = NewFSImages(filepath.Join(resultsDir, ImagesDir))
	default:
		err = faults.Configuration("recorder", "unknown image driver %q", settings.Images.Driver)
	}
	if err != nil {
		_ = measurements.Close()
		if faults.Is(err, faults.KindConfiguration) {
			return nil, err
		}
		return nil, faults.RecorderIO("open", err)
	}
	return New(measurements, images), nil
}

// Append validates and stores rec.
func (s *Store) Append(ctx context.Context, rec MeasurementRecord) (string, error) {
	rec.Key = strings.TrimSpace(rec.Key)
	rec.Substance = strings.TrimSpace(rec.Substance)
	if rec.Key == "" || rec.Substance == "" {
		return "", faults.RecorderIO("append", fmt.Errorf("record needs key and substance, got %q/%q", rec.Key, rec.Substance))
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = s.clock().UTC()
	}
	dest, err := s.measurements.Put(ctx, rec)
	if err != nil {
		return "", faults.RecorderIO("append", err)
	}
	return dest, nil
}

// SaveImage stores img under its deterministic name.
func (s *Store) SaveImage(ctx context.Context, img ImageRecord) (string, error) {
	if len(img.Frame.Data) == 0 {
		return "", faults.RecorderIO("save_image", fmt.Errorf("empty frame"))
	}
	ext := img.Frame.Format
	if ext == "" {
		ext = "png"
	}
	name := ImageName(img.Solid, img.Dye, ext)
	dest, err := s.images.PutImage(ctx, name, img.Frame.Data, contentType(ext))
	if err != nil {
		return "", faults.RecorderIO("save_image", err)
	}
	return dest, nil
}

// List returns every stored measurement.
func (s *Store) List(ctx context.Context) ([]MeasurementRecord, error) {
	recs, err := s.measurements.List(ctx)
	if err != nil {
		return nil, faults.RecorderIO("list", err)
	}
	return recs, nil
}

// Close releases the measurement backend.
func (s *Store) Close() error {
	return s.measurements.Close()
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeName makes s safe to use as a single path element or object key.
func SanitizeName(s string) string {
	clean := unsafeName.ReplaceAllString(strings.TrimSpace(s), "-")
	clean = strings.Trim(clean, "-.")
	if clean == "" {
		return "unnamed"
	}
	return clean
}

// ImageName returns <solid>_<dye>.<ext> with each part sanitised.
func ImageName(solid, dye, ext string) string {
	return SanitizeName(solid) + "_" + SanitizeName(dye) + "." + SanitizeName(ext)
}

func contentType(ext string) string {
	switch strings.ToLower(ext) {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	}
	return "application/octet-stream"
}
