package eventstore

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/dbdepot/internal/errors"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and initializes) the run-history database.
// Use ":memory:" for an in-memory store, or a file path for persistence.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, errors.SeverityError, "opening run-history database").
			WithContext("path", dbPath)
	}

	// Single connection: the store is single-writer, and :memory:
	// databases exist per connection.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.CategoryInternal, errors.SeverityError, "initializing run-history schema").
			WithContext("path", dbPath)
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		state_commit TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		result TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		detail BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordRun appends one finished run.
func (s *SQLiteStore) RecordRun(ctx context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, kind, state_commit, started_at, finished_at, result, summary, detail) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		run.ID, run.Kind, run.StateCommit,
		run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(),
		run.Result, run.Summary, run.Detail,
	)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, errors.SeverityError, "recording run").
			WithContext("run_id", run.ID)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, kind, state_commit, started_at, finished_at, result, summary, detail FROM runs ORDER BY started_at DESC, id LIMIT ?",
		normalizeLimit(limit),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, errors.SeverityError, "querying run history")
	}
	defer rows.Close()

	return scanRuns(rows)
}

// RunsByKind returns up to limit runs of one kind, newest first.
func (s *SQLiteStore) RunsByKind(ctx context.Context, kind string, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, kind, state_commit, started_at, finished_at, result, summary, detail FROM runs WHERE kind = ? ORDER BY started_at DESC, id LIMIT ?",
		kind, normalizeLimit(limit),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, errors.SeverityError, "querying run history").
			WithContext("kind", kind)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// LastRun returns the most recent run of one kind.
func (s *SQLiteStore) LastRun(ctx context.Context, kind string) (Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, kind, state_commit, started_at, finished_at, result, summary, detail FROM runs WHERE kind = ? ORDER BY started_at DESC, id LIMIT 1",
		kind,
	)
	run, err := scanRun(row)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, errors.Wrap(err, errors.CategoryInternal, errors.SeverityError, "querying last run").
			WithContext("kind", kind)
	}
	return run, true, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// normalizeLimit keeps accidental zero/negative limits from returning nothing.
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	return limit
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var startedMS, finishedMS int64

	err := row.Scan(&run.ID, &run.Kind, &run.StateCommit, &startedMS, &finishedMS, &run.Result, &run.Summary, &run.Detail)
	if err != nil {
		return Run{}, err
	}
	run.StartedAt = time.UnixMilli(startedMS)
	run.FinishedAt = time.UnixMilli(finishedMS)
	return run, nil
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, errors.SeverityError, "scanning run row")
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, errors.SeverityError, "iterating run rows")
	}
	return runs, nil
}
