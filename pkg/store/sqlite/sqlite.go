// Package sqlite provides run and event persistence using SQLite.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/runbox/runbox/pkg/model"
)

// Store manages run and event persistence in SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id         TEXT PRIMARY KEY,
			files      TEXT NOT NULL DEFAULT '[]',
			policy     TEXT NOT NULL DEFAULT 'isolated',
			status     TEXT NOT NULL DEFAULT 'pending',
			error      TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (datetime('now')),
			updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS run_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id     TEXT NOT NULL,
			type       TEXT NOT NULL,
			data       TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (run_id) REFERENCES runs(id)
		);

		CREATE INDEX IF NOT EXISTS idx_events_run_id
			ON run_events(run_id);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run.
func (s *Store) CreateRun(run *model.Run) error {
	files, err := json.Marshal(run.Files)
	if err != nil {
		return fmt.Errorf("encoding files: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO runs (id, files, policy, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, string(files), run.Policy, run.Status,
		run.CreatedAt, run.UpdatedAt,
	)
	return err
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(id string) (*model.Run, error) {
	row := s.db.QueryRow(
		`SELECT id, files, policy, status, error, created_at, updated_at
		 FROM runs WHERE id = ?`, id,
	)
	return scanRun(row)
}

// ListRuns returns all runs ordered by creation time (newest first).
func (s *Store) ListRuns() ([]*model.Run, error) {
	rows, err := s.db.Query(
		`SELECT id, files, policy, status, error, created_at, updated_at
		 FROM runs ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// UpdateRun updates mutable fields of a run.
func (s *Store) UpdateRun(run *model.Run) error {
	run.UpdatedAt = time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		run.Status, run.Error, run.UpdatedAt, run.ID,
	)
	return err
}

// AddEvent inserts a new event and returns its ID.
func (s *Store) AddEvent(event *model.Event) error {
	result, err := s.db.Exec(
		`INSERT INTO run_events (run_id, type, data, created_at)
		 VALUES (?, ?, ?, ?)`,
		event.RunID, event.Type, event.Data, event.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = id
	return nil
}

// GetEvents returns events for a run, optionally after a given event ID.
func (s *Store) GetEvents(runID string, afterID int64) ([]*model.Event, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, type, data, created_at
		 FROM run_events
		 WHERE run_id = ? AND id > ?
		 ORDER BY id ASC`,
		runID, afterID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		e := &model.Event{}
		if err := rows.Scan(&e.ID, &e.RunID, &e.Type, &e.Data, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	run := &model.Run{}
	var files string
	err := row.Scan(
		&run.ID, &files, &run.Policy, &run.Status, &run.Error,
		&run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(files), &run.Files); err != nil {
		return nil, fmt.Errorf("decoding files for run %s: %w", run.ID, err)
	}
	return run, nil
}
