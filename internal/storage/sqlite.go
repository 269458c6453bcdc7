package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrNotFound is returned when a requested run doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a run ID is recorded twice
	ErrAlreadyExists = errors.New("already exists")
	// ErrSchemaTooNew is returned when the database was written by a newer release
	ErrSchemaTooNew = errors.New("schema too new")
)

// DefaultListLimit bounds ListRuns when no limit is given
const DefaultListLimit = 20

// Ensure SQLiteJournal implements the interface.
var _ Journal = (*SQLiteJournal)(nil)

// SQLiteJournal implements Journal using SQLite
type SQLiteJournal struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteJournal opens or creates the journal at dbPath. ":memory:" gives a
// throwaway journal.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteJournal{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteJournal) Close() error {
	return s.db.Close()
}

// RecordRun stores a run and its task results in one transaction
func (s *SQLiteJournal) RecordRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return errors.New("run has no ID")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM runs WHERE id = ?", run.ID).Scan(&exists)
	if err == nil {
		return fmt.Errorf("run %s: %w", run.ID, ErrAlreadyExists)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check run: %w", err)
	}

	query := `
		INSERT INTO runs (id, root, started_at, finished_at, dry_run, tasks, analyzed, built,
			deleted, noops, failed, levels, success_rate, fingerprint, cancelled, stopped_early)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		run.ID, run.Root, toMillis(run.StartedAt), toMillis(run.FinishedAt), run.DryRun,
		run.Tasks, run.Analyzed, run.Built, run.Deleted, run.Noops, run.Failed, run.Levels,
		run.SuccessRate, run.Fingerprint, run.Cancelled, run.StoppedEarly)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO task_results (run_id, task_id, type, target, level, status, message, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare task insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, tr := range run.Results {
		if _, err := stmt.ExecContext(ctx, run.ID, tr.TaskID, tr.Type, tr.Target, tr.Level,
			tr.Status, tr.Message, tr.Duration.Milliseconds()); err != nil {
			return fmt.Errorf("failed to record task %s: %w", tr.TaskID, err)
		}
	}

	return tx.Commit()
}

const runColumns = `id, root, started_at, finished_at, dry_run, tasks, analyzed, built,
	deleted, noops, failed, levels, success_rate, fingerprint, cancelled, stopped_early`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run               Run
		started, finished int64
	)
	err := row.Scan(&run.ID, &run.Root, &started, &finished, &run.DryRun, &run.Tasks,
		&run.Analyzed, &run.Built, &run.Deleted, &run.Noops, &run.Failed, &run.Levels,
		&run.SuccessRate, &run.Fingerprint, &run.Cancelled, &run.StoppedEarly)
	if err != nil {
		return nil, err
	}
	run.StartedAt = fromMillis(started)
	run.FinishedAt = fromMillis(finished)
	return &run, nil
}

// GetRun returns a run with its task results in execution order
func (s *SQLiteJournal) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, type, target, level, status, COALESCE(message, ''), duration_ms
		FROM task_results WHERE run_id = ? ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list task results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			tr TaskRecord
			ms int64
		)
		if err := rows.Scan(&tr.TaskID, &tr.Type, &tr.Target, &tr.Level, &tr.Status, &tr.Message, &ms); err != nil {
			return nil, err
		}
		tr.Duration = time.Duration(ms) * time.Millisecond
		run.Results = append(run.Results, tr)
	}
	return run, rows.Err()
}

// ListRuns returns the most recent runs first. An empty root lists every root.
func (s *SQLiteJournal) ListRuns(ctx context.Context, root string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := "SELECT " + runColumns + " FROM runs"
	args := []any{}
	if root != "" {
		query += " WHERE root = ?"
		args = append(args, root)
	}
	query += " ORDER BY started_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
