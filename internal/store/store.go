// Package store persists estimates and run records in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // SQLite driver.

	"github.com/epimetrics/rtwatch/internal/models"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("not found")

// Store wraps SQLite access for estimates and run metadata.
type Store struct {
	db *sqlx.DB
}

// estimateRow is the database shape of one estimate; dates are stored as
// DateLayout text so lexicographic order is date order.
type estimateRow struct {
	Region string  `db:"region"`
	Date   string  `db:"date"`
	Mode   float64 `db:"mode"`
	Low    float64 `db:"low"`
	High   float64 `db:"high"`
}

func (r estimateRow) toModel() (models.Estimate, error) {
	date, err := models.ParseDate(r.Date)
	if err != nil {
		return models.Estimate{}, fmt.Errorf("corrupt date %q for region %s: %w", r.Date, r.Region, err)
	}
	return models.Estimate{
		Region: r.Region,
		Date:   date,
		Mode:   r.Mode,
		Low:    r.Low,
		High:   r.High,
	}, nil
}

// RegionInfo summarizes one region's stored estimates.
type RegionInfo struct {
	Region     string `db:"region" json:"region"`
	LatestDate string `db:"latest_date" json:"latest_date"`
	Records    int    `db:"records" json:"records"`
}

// Open opens or creates the SQLite database and applies migrations.
// ":memory:" is supported for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS estimates (
			region TEXT NOT NULL,
			date TEXT NOT NULL,
			mode REAL NOT NULL,
			low REAL NOT NULL,
			high REAL NOT NULL,
			run_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (region, date)
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			status TEXT NOT NULL,
			source_date TEXT NOT NULL,
			regions_estimated INTEGER NOT NULL,
			regions_skipped INTEGER NOT NULL,
			estimates INTEGER NOT NULL,
			error TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_estimates_date ON estimates(date);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveEstimates upserts a batch of estimates attributed to runID. Re-running
// over the same input overwrites each (region, date) row with identical
// values, so saves are idempotent.
func (s *Store) SaveEstimates(ctx context.Context, runID string, estimates []models.Estimate) error {
	if len(estimates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO estimates (region, date, mode, low, high, run_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (region, date) DO UPDATE SET
			mode = excluded.mode,
			low = excluded.low,
			high = excluded.high,
			run_id = excluded.run_id,
			created_at = excluded.created_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, e := range estimates {
		if err = e.Validate(); err != nil {
			return fmt.Errorf("invalid estimate for %s: %w", e.Region, err)
		}
		if _, err = stmt.ExecContext(ctx,
			e.Region, e.Date.Format(models.DateLayout), e.Mode, e.Low, e.High, runID, now,
		); err != nil {
			return err
		}
	}

	err = tx.Commit()
	return err
}

// RecordRun stores one run's metadata.
func (s *Store) RecordRun(ctx context.Context, run models.Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	sourceDate := ""
	if !run.SourceDate.IsZero() {
		sourceDate = run.SourceDate.Format(models.DateLayout)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, status, source_date,
			regions_estimated, regions_skipped, estimates, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.StartedAt.UTC().Format(time.RFC3339),
		run.FinishedAt.UTC().Format(time.RFC3339),
		run.Status,
		sourceDate,
		run.RegionsEstimated,
		run.RegionsSkipped,
		run.Estimates,
		run.Error,
	)
	return err
}

// EstimatesByRegion returns one region's estimates in date order. A zero
// since returns the full history; otherwise only dates at or after it.
func (s *Store) EstimatesByRegion(ctx context.Context, region string, since time.Time) ([]models.Estimate, error) {
	query := `SELECT region, date, mode, low, high FROM estimates WHERE region = ?`
	args := []interface{}{region}
	if !since.IsZero() {
		query += ` AND date >= ?`
		args = append(args, since.Format(models.DateLayout))
	}
	query += ` ORDER BY date`

	var rows []estimateRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rowsToModels(rows)
}

// AllEstimates returns every stored estimate sorted by region then date.
func (s *Store) AllEstimates(ctx context.Context) ([]models.Estimate, error) {
	var rows []estimateRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT region, date, mode, low, high FROM estimates ORDER BY region, date`)
	if err != nil {
		return nil, err
	}
	return rowsToModels(rows)
}

// LatestEstimates returns each region's newest estimate, sorted by region.
func (s *Store) LatestEstimates(ctx context.Context) ([]models.Estimate, error) {
	var rows []estimateRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT e.region, e.date, e.mode, e.low, e.high
		FROM estimates e
		JOIN (
			SELECT region, MAX(date) AS max_date FROM estimates GROUP BY region
		) latest ON e.region = latest.region AND e.date = latest.max_date
		ORDER BY e.region`)
	if err != nil {
		return nil, err
	}
	return rowsToModels(rows)
}

// Regions lists stored regions with their newest date and record count.
func (s *Store) Regions(ctx context.Context) ([]RegionInfo, error) {
	var infos []RegionInfo
	err := s.db.SelectContext(ctx, &infos, `
		SELECT region, MAX(date) AS latest_date, COUNT(*) AS records
		FROM estimates GROUP BY region ORDER BY region`)
	if err != nil {
		return nil, err
	}
	return infos, nil
}

// LatestDate returns the newest estimate date in the store, or ErrNotFound
// when no estimates exist.
func (s *Store) LatestDate(ctx context.Context) (time.Time, error) {
	var date sql.NullString
	err := s.db.GetContext(ctx, &date, `SELECT MAX(date) FROM estimates`)
	if err != nil {
		return time.Time{}, err
	}
	if !date.Valid || date.String == "" {
		return time.Time{}, ErrNotFound
	}
	return models.ParseDate(date.String)
}

// LastRun returns the most recently started run, or ErrNotFound.
func (s *Store) LastRun(ctx context.Context) (models.Run, error) {
	var row struct {
		ID               string `db:"id"`
		StartedAt        string `db:"started_at"`
		FinishedAt       string `db:"finished_at"`
		Status           string `db:"status"`
		SourceDate       string `db:"source_date"`
		RegionsEstimated int    `db:"regions_estimated"`
		RegionsSkipped   int    `db:"regions_skipped"`
		Estimates        int    `db:"estimates"`
		Error            string `db:"error"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT id, started_at, finished_at, status, source_date,
			regions_estimated, regions_skipped, estimates, error
		FROM runs ORDER BY started_at DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Run{}, ErrNotFound
	}
	if err != nil {
		return models.Run{}, err
	}

	run := models.Run{
		ID:               row.ID,
		Status:           row.Status,
		RegionsEstimated: row.RegionsEstimated,
		RegionsSkipped:   row.RegionsSkipped,
		Estimates:        row.Estimates,
		Error:            row.Error,
	}
	if run.StartedAt, err = time.Parse(time.RFC3339, row.StartedAt); err != nil {
		return models.Run{}, fmt.Errorf("corrupt started_at %q: %w", row.StartedAt, err)
	}
	if run.FinishedAt, err = time.Parse(time.RFC3339, row.FinishedAt); err != nil {
		return models.Run{}, fmt.Errorf("corrupt finished_at %q: %w", row.FinishedAt, err)
	}
	if row.SourceDate != "" {
		if run.SourceDate, err = models.ParseDate(row.SourceDate); err != nil {
			return models.Run{}, fmt.Errorf("corrupt source_date %q: %w", row.SourceDate, err)
		}
	}
	return run, nil
}

func rowsToModels(rows []estimateRow) ([]models.Estimate, error) {
	estimates := make([]models.Estimate, 0, len(rows))
	for _, r := range rows {
		e, err := r.toModel()
		if err != nil {
			return nil, err
		}
		estimates = append(estimates, e)
	}
	return estimates, nil
}
