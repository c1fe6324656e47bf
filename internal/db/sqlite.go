// Package db indexes saved routines and the runs made from them in SQLite.
// Routine bodies are stored as YAML documents; the archive files remain the
// source of truth for run data.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cwbudde/badger/internal/routine"
)

// ErrRoutineNotFound is returned when no routine matches an id or name.
var ErrRoutineNotFound = errors.New("routine not found")

// RoutineInfo is a routine row without its YAML body.
type RoutineInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Environment string    `json:"environment"`
	Generator   string    `json:"generator"`
	CreatedAt   time.Time `json:"created_at"`
	SavedAt     time.Time `json:"saved_at"`
}

// Run is one archived run of a routine.
type Run struct {
	Filename  string    `json:"filename"`
	RoutineID string    `json:"routine_id"`
	Status    string    `json:"status"`
	Points    int       `json:"n_points"`
	CreatedAt time.Time `json:"created_at"`
}

// SQLiteStore implements the routine index using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at dsn and creates the tables.
func Open(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := &SQLiteStore{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS routines (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			environment TEXT NOT NULL,
			generator TEXT NOT NULL,
			yaml TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			saved_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			filename TEXT PRIMARY KEY,
			routine_id TEXT NOT NULL,
			status TEXT NOT NULL,
			n_points INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_routine ON runs(routine_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRoutine inserts doc or replaces the routine with the same id. The
// document's data is not stored; runs live in the archive.
func (s *SQLiteStore) SaveRoutine(ctx context.Context, doc *routine.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("routine %q has no id", doc.Name)
	}
	body := *doc
	body.Data = nil
	data, err := routine.Marshal(&body)
	if err != nil {
		return err
	}
	created := doc.CreationTS
	if created.IsZero() {
		created = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO routines (id, name, environment, generator, yaml, created_at, saved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			environment = excluded.environment,
			generator = excluded.generator,
			yaml = excluded.yaml,
			saved_at = excluded.saved_at`,
		doc.ID, doc.Name, doc.Environment.Name, doc.Generator.Name, string(data), created, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save routine %q: %w", doc.Name, err)
	}
	return nil
}

// GetRoutine loads a routine by id or, failing that, by name.
func (s *SQLiteStore) GetRoutine(ctx context.Context, idOrName string) (*routine.Document, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT yaml FROM routines WHERE id = ? OR name = ? ORDER BY id = ? DESC LIMIT 1`,
		idOrName, idOrName, idOrName).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrRoutineNotFound, idOrName)
	}
	if err != nil {
		return nil, err
	}
	doc, err := routine.Parse([]byte(body))
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListRoutines returns all routines, most recently saved first. A non-empty
// env filters by environment name.
func (s *SQLiteStore) ListRoutines(ctx context.Context, env string) ([]RoutineInfo, error) {
	query := `SELECT id, name, environment, generator, created_at, saved_at FROM routines`
	var args []any
	if env != "" {
		query += ` WHERE environment = ?`
		args = append(args, env)
	}
	query += ` ORDER BY saved_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoutineInfo
	for rows.Next() {
		var r RoutineInfo
		if err := rows.Scan(&r.ID, &r.Name, &r.Environment, &r.Generator, &r.CreatedAt, &r.SavedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRoutine removes a routine and its run index entries. Runs may be
// recorded for routines that were never saved, so there is no foreign key.
func (s *SQLiteStore) DeleteRoutine(ctx context.Context, idOrName string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `SELECT id FROM routines WHERE id = ? OR name = ? LIMIT 1`, idOrName, idOrName).Scan(&id)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrRoutineNotFound, idOrName)
	}
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE routine_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete runs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM routines WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete routine: %w", err)
	}
	return tx.Commit()
}

// RecordRun indexes an archived run. Recording the same file again updates
// its status and point count.
func (s *SQLiteStore) RecordRun(ctx context.Context, run Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (filename, routine_id, status, n_points, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(filename) DO UPDATE SET
			status = excluded.status,
			n_points = excluded.n_points`,
		run.Filename, run.RoutineID, run.Status, run.Points, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.Filename, err)
	}
	return nil
}

// ListRuns returns the runs of a routine, newest first. An empty routineID
// lists every run.
func (s *SQLiteStore) ListRuns(ctx context.Context, routineID string) ([]Run, error) {
	query := `SELECT filename, routine_id, status, n_points, created_at FROM runs`
	var args []any
	if routineID != "" {
		query += ` WHERE routine_id = ?`
		args = append(args, routineID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.Filename, &r.RoutineID, &r.Status, &r.Points, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RemoveRun drops a run from the index.
func (s *SQLiteStore) RemoveRun(ctx context.Context, filename string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE filename = ?`, filename)
	return err
}
