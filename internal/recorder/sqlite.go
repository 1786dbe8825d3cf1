package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// SQLiteFileName is the measurement database inside a results directory.
const SQLiteFileName = "measurements.db"

// SQLiteStore keeps measurements in a single table keyed by (key, substance).
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS measurements (
		key TEXT NOT NULL,
		substance TEXT NOT NULL,
		target REAL NOT NULL,
		actual REAL NOT NULL,
		unit TEXT NOT NULL,
		run_id TEXT NOT NULL DEFAULT '',
		recorded_at TEXT NOT NULL,
		PRIMARY KEY (key, substance)
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create measurements table: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) destination(rec MeasurementRecord) string {
	return fmt.Sprintf("%s#%s/%s", s.path, rec.Key, rec.Substance)
}

// Put upserts rec.
func (s *SQLiteStore) Put(ctx context.Context, rec MeasurementRecord) (string, error) {
	_, err := s.db.ExecContext(ctx, `INSERT INTO measurements (key, substance, target, actual, unit, run_id, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key, substance) DO UPDATE SET
			target = excluded.target,
			actual = excluded.actual,
			unit = excluded.unit,
			run_id = excluded.run_id,
			recorded_at = excluded.recorded_at`,
		rec.Key, rec.Substance, rec.Target, rec.Actual, string(rec.Unit), rec.RunID, rec.RecordedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("upsert measurement: %w", err)
	}
	return s.destination(rec), nil
}

// List returns all measurements ordered by key then substance.
func (s *SQLiteStore) List(ctx context.Context) ([]MeasurementRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, substance, target, actual, unit, run_id, recorded_at
		FROM measurements ORDER BY key, substance`)
	if err != nil {
		return nil, fmt.Errorf("select measurements: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []MeasurementRecord
	for rows.Next() {
		var (
			rec      MeasurementRecord
			unit     string
			recorded string
		)
		if err := rows.Scan(&rec.Key, &rec.Substance, &rec.Target, &rec.Actual, &unit, &rec.RunID, &recorded); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		rec.Unit = Unit(unit)
		if ts, err := time.Parse(time.RFC3339Nano, recorded); err == nil {
			rec.RecordedAt = ts
		}
		rec.Destination = s.destination(rec)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
