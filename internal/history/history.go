// Package history archives sync runs in SQLite so the CLI can show what
// happened across invocations: when each sync ran, what mode it used, how
// much data came back, and where the export landed.
package history

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Storage handles SQLite operations for the sync run archive
type Storage struct {
	db *sql.DB
}

// Run is one archived sync attempt.
type Run struct {
	ID          int64     `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Mode        string    `json:"mode"`
	Success     bool      `json:"success"`
	TaskCount   int       `json:"task_count"`
	ListCount   int       `json:"list_count"`
	Unchanged   bool      `json:"unchanged"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	ExportPath  string    `json:"export_path,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Duration is the wall time the run took.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// NewStorage creates a new Storage instance
func NewStorage(dbPath string) (*Storage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_fk=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// Record archives one run and returns its row id.
func (s *Storage) Record(run *Run) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO sync_runs (started_at, finished_at, mode, success,
		                       task_count, list_count, unchanged,
		                       fingerprint, export_path, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.StartedAt.UTC().Format(time.RFC3339),
		run.FinishedAt.UTC().Format(time.RFC3339),
		run.Mode, run.Success,
		run.TaskCount, run.ListCount, run.Unchanged,
		run.Fingerprint, run.ExportPath, run.Error,
	)
	if err != nil {
		return 0, fmt.Errorf("recording sync run: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns the most recent runs, newest first.
func (s *Storage) Recent(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.recentWhere("1 = 1", limit)
}

// LastSuccessful returns the newest successful run, or nil when none exists.
func (s *Storage) LastSuccessful() (*Run, error) {
	runs, err := s.recentWhere("success = 1", 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

func (s *Storage) recentWhere(cond string, limit int) ([]Run, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT id, started_at, finished_at, mode, success,
		       task_count, list_count, unchanged,
		       fingerprint, export_path, error
		FROM sync_runs
		WHERE %s
		ORDER BY id DESC
		LIMIT ?
	`, cond), limit)
	if err != nil {
		return nil, fmt.Errorf("querying sync runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var startedAt, finishedAt string
		var fingerprint, exportPath, errText sql.NullString

		err := rows.Scan(
			&run.ID, &startedAt, &finishedAt, &run.Mode, &run.Success,
			&run.TaskCount, &run.ListCount, &run.Unchanged,
			&fingerprint, &exportPath, &errText,
		)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, startedAt); err == nil {
			run.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339, finishedAt); err == nil {
			run.FinishedAt = t
		}
		if fingerprint.Valid {
			run.Fingerprint = fingerprint.String
		}
		if exportPath.Valid {
			run.ExportPath = exportPath.String
		}
		if errText.Valid {
			run.Error = errText.String
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}
