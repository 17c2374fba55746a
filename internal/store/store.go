// Package store persists clip job history in SQLite. The queue records
// every request at enqueue time and finalizes it when the worker
// finishes, so "N in line ahead" and the history command survive
// restarts.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"opclip/internal/route"
)

// Job statuses.
const (
	StatusQueued    = "queued"
	StatusRendering = "rendering"
	StatusDone      = "done"
	StatusFailed    = "failed"
)

// ErrNotFound means no job has the given ID.
var ErrNotFound = errors.New("job not found")

// Job is one recorded clip request.
type Job struct {
	ID           string
	Requester    string
	Route        string
	StartSeconds int
	EndSeconds   int
	Title        string
	Bookmark     bool
	Status       string
	Error        string
	OutputBytes  int64
	CreatedAt    time.Time
	FinishedAt   time.Time
}

// Clip reconstructs the route clip from the stored fields.
func (j Job) Clip() (route.Clip, error) {
	r, err := route.Parse(j.Route)
	if err != nil {
		return route.Clip{}, err
	}
	return route.Clip{
		Route:  r,
		Window: route.Window{StartSeconds: j.StartSeconds, EndSeconds: j.EndSeconds},
	}, nil
}

// Store is the SQLite-backed job history.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes the database at the given path, creating the parent
// directory and schema as needed.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		requester TEXT NOT NULL,
		route TEXT NOT NULL,
		start_seconds INTEGER NOT NULL,
		end_seconds INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		bookmark INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		output_bytes INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		finished_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a freshly queued job.
func (s *Store) Record(ctx context.Context, j Job) error {
	if j.Status == "" {
		j.Status = StatusQueued
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, requester, route, start_seconds, end_seconds, title, bookmark, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Requester, j.Route, j.StartSeconds, j.EndSeconds, j.Title, j.Bookmark, j.Status, j.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record job: %w", err)
	}
	return nil
}

// SetStatus moves a job between lifecycle states.
func (s *Store) SetStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Finish finalizes a job as done or failed.
func (s *Store) Finish(ctx context.Context, id string, jobErr error, outputBytes int64) error {
	status := StatusDone
	errText := ""
	if jobErr != nil {
		status = StatusFailed
		errText = jobErr.Error()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, output_bytes = ?, finished_at = ? WHERE id = ?`,
		status, errText, outputBytes, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Get returns a single job.
func (s *Store) Get(ctx context.Context, id string) (Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, requester, route, start_seconds, end_seconds, title, bookmark,
		       status, error, output_bytes, created_at, COALESCE(finished_at, '')
		FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j, err
}

// Recent returns the most recent jobs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Job, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, requester, route, start_seconds, end_seconds, title, bookmark,
		       status, error, output_bytes, created_at, COALESCE(finished_at, '')
		FROM jobs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// PendingCount returns how many jobs are queued or rendering.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status IN (?, ?)`, StatusQueued, StatusRendering).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	return n, nil
}

// MarkInterrupted fails every job left queued or rendering by a
// previous process, so a restart does not report phantom work.
func (s *Store) MarkInterrupted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = 'interrupted by restart', finished_at = ?
		WHERE status IN (?, ?)`,
		StatusFailed, time.Now().UTC(), StatusQueued, StatusRendering)
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted jobs: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (Job, error) {
	var j Job
	var created string
	var finished string
	err := row.Scan(&j.ID, &j.Requester, &j.Route, &j.StartSeconds, &j.EndSeconds,
		&j.Title, &j.Bookmark, &j.Status, &j.Error, &j.OutputBytes, &created, &finished)
	if err != nil {
		return Job{}, err
	}
	j.CreatedAt = parseTime(created)
	j.FinishedAt = parseTime(finished)
	return j, nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
