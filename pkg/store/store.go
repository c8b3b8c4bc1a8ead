// Package store persists quantification runs in a SQLite database: the
// per-image percentages, the stain calibrations and the statistics bundles.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"histoquant/internal/models"
	"histoquant/pkg/stats"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at TEXT NOT NULL,
		metadata_path TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS records (
		run_id INTEGER NOT NULL REFERENCES runs(id),
		image_id TEXT NOT NULL,
		file_path TEXT NOT NULL,
		condition TEXT NOT NULL,
		stain TEXT NOT NULL,
		replicate TEXT NOT NULL,
		category TEXT NOT NULL,
		position INTEGER NOT NULL,
		percentage REAL NOT NULL,
		pixels INTEGER NOT NULL,
		effective_area INTEGER NOT NULL,
		PRIMARY KEY (run_id, image_id, stain, category)
	)`,
	`CREATE TABLE IF NOT EXISTS calibrations (
		run_id INTEGER NOT NULL REFERENCES runs(id),
		stain TEXT NOT NULL,
		min REAL NOT NULL,
		max REAL NOT NULL,
		median REAL NOT NULL,
		threshold REAL NOT NULL,
		pool_size INTEGER NOT NULL,
		images INTEGER NOT NULL,
		PRIMARY KEY (run_id, stain)
	)`,
	`CREATE TABLE IF NOT EXISTS omnibus (
		run_id INTEGER NOT NULL REFERENCES runs(id),
		stain TEXT NOT NULL,
		category TEXT NOT NULL,
		f REAL,
		p REAL,
		df_between INTEGER NOT NULL,
		df_within INTEGER NOT NULL,
		PRIMARY KEY (run_id, stain, category)
	)`,
	`CREATE TABLE IF NOT EXISTS comparisons (
		run_id INTEGER NOT NULL REFERENCES runs(id),
		stain TEXT NOT NULL,
		category TEXT NOT NULL,
		condition_a TEXT NOT NULL,
		condition_b TEXT NOT NULL,
		mean_diff REAL,
		raw_p REAL,
		adjusted_p REAL,
		lower REAL,
		upper REAL,
		reject INTEGER NOT NULL,
		PRIMARY KEY (run_id, stain, category, condition_a, condition_b)
	)`,
	`CREATE TABLE IF NOT EXISTS group_stats (
		run_id INTEGER NOT NULL REFERENCES runs(id),
		stain TEXT NOT NULL,
		category TEXT NOT NULL,
		condition TEXT NOT NULL,
		count INTEGER NOT NULL,
		mean REAL,
		std REAL,
		sem REAL,
		PRIMARY KEY (run_id, stain, category, condition)
	)`,
}

// Store is a SQLite results database
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path and ensures the schema
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = "histoquant.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection serialises writers
	db.SetMaxOpenConns(1)
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path
func (s *Store) Path() string { return s.path }

// Close closes the database
func (s *Store) Close() error { return s.db.Close() }

// BeginRun registers a new run and returns its ID
func (s *Store) BeginRun(ctx context.Context, started time.Time, metadataPath string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO runs (started_at, metadata_path) VALUES (?, ?)`,
		started.UTC().Format(time.RFC3339), metadataPath)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return res.LastInsertId()
}

// inTx runs fn inside a transaction, rolling back on error
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveRecords stores the per-category percentages of every record
func (s *Store) SaveRecords(ctx context.Context, runID int64, records []models.ConditionRecord) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO records
			(run_id, image_id, file_path, condition, stain, replicate, category, position, percentage, pixels, effective_area)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare records: %w", err)
		}
		defer stmt.Close()
		for _, rec := range records {
			for pos, cat := range rec.Order {
				if _, err := stmt.ExecContext(ctx, runID, rec.ImageID, rec.FilePath, rec.Condition, rec.Stain, rec.Replicate,
					cat, pos, rec.Percentages[cat], rec.PixelCounts[cat], rec.EffectiveArea); err != nil {
					return fmt.Errorf("insert record %s/%s: %w", rec.ImageID, cat, err)
				}
			}
		}
		return nil
	})
}

// SaveCalibrations stores the intensity calibrations of a run
func (s *Store) SaveCalibrations(ctx context.Context, runID int64, cals []models.IntensityCalibration) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, c := range cals {
			if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO calibrations
				(run_id, stain, min, max, median, threshold, pool_size, images) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				runID, c.Stain, c.Min, c.Max, c.Median, c.Threshold, c.PoolSize, c.Images); err != nil {
				return fmt.Errorf("insert calibration %s: %w", c.Stain, err)
			}
		}
		return nil
	})
}

// SaveStatistics stores omnibus results, pairwise comparisons and group
// statistics. NaN values are stored as NULL.
func (s *Store) SaveStatistics(ctx context.Context, runID int64, results []*stats.Result) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range results {
			if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO omnibus
				(run_id, stain, category, f, p, df_between, df_within) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				runID, r.Stain, r.Category, nullFloat(r.ANOVA.F), nullFloat(r.ANOVA.P),
				r.ANOVA.DFBetween, r.ANOVA.DFWithin); err != nil {
				return fmt.Errorf("insert omnibus %s/%s: %w", r.Stain, r.Category, err)
			}
			for _, p := range r.Pairs {
				if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO comparisons
					(run_id, stain, category, condition_a, condition_b, mean_diff, raw_p, adjusted_p, lower, upper, reject)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					runID, r.Stain, r.Category, p.ConditionA, p.ConditionB, nullFloat(p.MeanDiff),
					nullFloat(p.RawP), nullFloat(p.AdjustedP), nullFloat(p.Lower), nullFloat(p.Upper),
					p.Reject); err != nil {
					return fmt.Errorf("insert comparison %s/%s: %w", r.Stain, r.Category, err)
				}
			}
			for _, g := range r.Groups {
				if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO group_stats
					(run_id, stain, category, condition, count, mean, std, sem) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
					runID, r.Stain, r.Category, g.Condition, g.Count,
					nullFloat(g.Mean), nullFloat(g.Std), nullFloat(g.SEM)); err != nil {
					return fmt.Errorf("insert group stats %s/%s: %w", r.Stain, r.Category, err)
				}
			}
		}
		return nil
	})
}

// Records reads back the records of a run, one per image and stain, with
// categories in their stored order
func (s *Store) Records(ctx context.Context, runID int64) ([]models.ConditionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT image_id, file_path, condition, stain, replicate, category, percentage, pixels, effective_area
		FROM records WHERE run_id = ? ORDER BY stain, condition, replicate, image_id, position`, runID)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.ConditionRecord
	for rows.Next() {
		var (
			imageID, path, condition, stain, replicate, category string
			percentage                                     float64
			pixels, area                                   int
		)
		if err := rows.Scan(&imageID, &path, &condition, &stain, &replicate, &category, &percentage, &pixels, &area); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		n := len(out)
		if n == 0 || out[n-1].ImageID != imageID || out[n-1].Stain != stain {
			out = append(out, models.ConditionRecord{
				ImageID:       imageID,
				FilePath:      path,
				Condition:     condition,
				Stain:         stain,
				Replicate:     replicate,
				Percentages:   make(map[string]float64),
				PixelCounts:   make(map[string]int),
				EffectiveArea: area,
			})
			n++
		}
		rec := &out[n-1]
		rec.Order = append(rec.Order, category)
		rec.Percentages[category] = percentage
		rec.PixelCounts[category] = pixels
	}
	return out, rows.Err()
}

// AdjustedP reads one stored adjusted p-value; ok is false when the pair is
// absent or its value is NULL
func (s *Store) AdjustedP(ctx context.Context, runID int64, stain, category, a, b string) (p float64, ok bool, err error) {
	var v sql.NullFloat64
	err = s.db.QueryRowContext(ctx, `SELECT adjusted_p FROM comparisons
		WHERE run_id = ? AND stain = ? AND category = ? AND
		((condition_a = ? AND condition_b = ?) OR (condition_a = ? AND condition_b = ?))`,
		runID, stain, category, a, b, b, a).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v.Float64, v.Valid, nil
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}
