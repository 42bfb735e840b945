package history_sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/relforge/relforge/internal/domain"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    event       TEXT NOT NULL,
    ref         TEXT NOT NULL,
    started_at  TEXT NOT NULL,
    finished_at TEXT NOT NULL,
    conclusion  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS run_jobs (
    run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    job_id      TEXT NOT NULL,
    stage       TEXT NOT NULL,
    status      TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, job_id)
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// Store persists pipeline run records in SQLite.
type Store struct {
	db *sql.DB
}

// Open connects to (or creates) the history database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history: empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) SaveRun(ctx context.Context, run domain.Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, event, ref, started_at, finished_at, conclusion)
         VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID,
		string(run.Event),
		run.Ref,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
		string(run.Conclusion),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, res := range run.Results {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO run_jobs (run_id, job_id, stage, status, error, duration_ms)
             VALUES (?, ?, ?, ?, ?, ?)`,
			run.ID,
			res.JobID,
			string(res.Stage),
			string(res.Status),
			res.Error,
			res.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("insert job result %s: %w", res.JobID, err)
		}
	}

	return tx.Commit()
}

// ListRuns returns the most recent runs, newest first, with their per-job
// results attached.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event, ref, started_at, finished_at, conclusion
         FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []domain.Run
	for rows.Next() {
		var (
			r                 domain.Run
			event, conclusion string
			started, finished string
		)
		if err := rows.Scan(&r.ID, &event, &r.Ref, &started, &finished, &conclusion); err != nil {
			return nil, err
		}
		r.Event = domain.EventKind(event)
		r.Conclusion = domain.JobStatus(conclusion)
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		results, err := s.jobResults(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Results = results
	}
	return runs, nil
}

func (s *Store) jobResults(ctx context.Context, runID string) ([]domain.JobResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, stage, status, error, duration_ms
         FROM run_jobs WHERE run_id = ? ORDER BY job_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query job results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.JobResult
	for rows.Next() {
		var (
			res           domain.JobResult
			stage, status string
			durationMS    int64
		)
		if err := rows.Scan(&res.JobID, &stage, &status, &res.Error, &durationMS); err != nil {
			return nil, err
		}
		res.Stage = domain.Stage(stage)
		res.Status = domain.JobStatus(status)
		res.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, res)
	}
	return out, rows.Err()
}
