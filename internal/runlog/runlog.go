// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package runlog keeps a SQLite history of pipeline runs: the request, the
// diagnostics and the top results of each run.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// Result is one ranked result stored with a run.
type Result struct {
	Rank   int     `json:"rank" yaml:"rank"`
	Source string  `json:"source" yaml:"source"`
	URL    string  `json:"url" yaml:"url"`
	Score  float64 `json:"score" yaml:"score"`
}

// Entry is one recorded pipeline run.
type Entry struct {
	RunID        string        `json:"run_id" yaml:"run_id"`
	StartedAt    time.Time     `json:"started_at" yaml:"started_at"`
	Duration     time.Duration `json:"duration" yaml:"duration"`
	Query        string        `json:"query" yaml:"query"`
	Captioned    bool          `json:"captioned" yaml:"captioned"`
	Model        string        `json:"model" yaml:"model"`
	Target       int           `json:"target" yaml:"target"`
	Detailed     bool          `json:"detailed" yaml:"detailed"`
	CacheHit     bool          `json:"cache_hit" yaml:"cache_hit"`
	TiersUsed    []string      `json:"tiers_used" yaml:"tiers_used"`
	Found        int           `json:"found" yaml:"found"`
	Reachable    int           `json:"reachable" yaml:"reachable"`
	Scored       int           `json:"scored" yaml:"scored"`
	Failed       int           `json:"failed" yaml:"failed"`
	Cancelled    int           `json:"cancelled" yaml:"cancelled"`
	EarlyStopped bool          `json:"early_stopped" yaml:"early_stopped"`
	Reason       string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	Results      []Result      `json:"results,omitempty" yaml:"results,omitempty"`
}

// Store manages the run history database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the run log at path, creating parent directories
// and the schema as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating run log directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			duration_ms INTEGER,
			query TEXT,
			captioned INTEGER,
			model TEXT,
			target INTEGER,
			detailed INTEGER,
			cache_hit INTEGER,
			tiers_used TEXT,
			found INTEGER,
			reachable INTEGER,
			scored INTEGER,
			failed INTEGER,
			cancelled INTEGER,
			early_stopped INTEGER,
			reason TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
		`CREATE TABLE IF NOT EXISTS run_results (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			rank INTEGER NOT NULL,
			source TEXT,
			url TEXT NOT NULL,
			score REAL,
			PRIMARY KEY (run_id, rank)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Record stores e and its results in one transaction. Recording the same
// run ID twice replaces the earlier entry.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.RunID == "" {
		return errors.New("run ID is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_results WHERE run_id = ?`, e.RunID); err != nil {
		return fmt.Errorf("deleting old results: %w", err)
	}

	tiersJSON, _ := json.Marshal(e.TiersUsed)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, duration_ms, query, captioned, model, target, detailed,
			cache_hit, tiers_used, found, reachable, scored, failed, cancelled, early_stopped, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			started_at=excluded.started_at, duration_ms=excluded.duration_ms, query=excluded.query,
			captioned=excluded.captioned, model=excluded.model, target=excluded.target,
			detailed=excluded.detailed, cache_hit=excluded.cache_hit, tiers_used=excluded.tiers_used,
			found=excluded.found, reachable=excluded.reachable, scored=excluded.scored,
			failed=excluded.failed, cancelled=excluded.cancelled,
			early_stopped=excluded.early_stopped, reason=excluded.reason`,
		e.RunID, e.StartedAt.UTC().Format(time.RFC3339Nano), e.Duration.Milliseconds(), e.Query,
		e.Captioned, e.Model, e.Target, e.Detailed, e.CacheHit, string(tiersJSON),
		e.Found, e.Reachable, e.Scored, e.Failed, e.Cancelled, e.EarlyStopped, e.Reason,
	)
	if err != nil {
		return fmt.Errorf("upserting run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_results (run_id, rank, source, url, score) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range e.Results {
		if _, err := stmt.ExecContext(ctx, e.RunID, r.Rank, r.Source, r.URL, r.Score); err != nil {
			return fmt.Errorf("inserting result %d: %w", r.Rank, err)
		}
	}

	return tx.Commit()
}

const runColumns = `id, started_at, duration_ms, query, captioned, model, target, detailed,
	cache_hit, tiers_used, found, reachable, scored, failed, cancelled, early_stopped, reason`

// Recent returns up to limit runs, newest first, with their results.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}

	for i := range entries {
		if entries[i].Results, err = s.results(ctx, entries[i].RunID); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// Get returns the run with the given ID.
func (s *Store) Get(ctx context.Context, runID string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return Entry{}, err
	}
	if e.Results, err = s.results(ctx, runID); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (s *Store) results(ctx context.Context, runID string) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rank, source, url, score FROM run_results WHERE run_id = ? ORDER BY rank`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying results for %s: %w", runID, err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		var source sql.NullString
		if err := rows.Scan(&r.Rank, &source, &r.URL, &r.Score); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		r.Source = source.String
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (Entry, error) {
	var (
		e                                           Entry
		startedAt, tiersJSON                        string
		durationMS                                  int64
		query, model, reason                        sql.NullString
		captioned, detailed, cacheHit, earlyStopped bool
	)
	err := sc.Scan(&e.RunID, &startedAt, &durationMS, &query, &captioned, &model, &e.Target, &detailed,
		&cacheHit, &tiersJSON, &e.Found, &e.Reachable, &e.Scored, &e.Failed, &e.Cancelled, &earlyStopped, &reason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scanning run: %w", err)
	}

	if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
		e.StartedAt = t
	}
	e.Duration = time.Duration(durationMS) * time.Millisecond
	e.Query, e.Model, e.Reason = query.String, model.String, reason.String
	e.Captioned, e.Detailed, e.CacheHit, e.EarlyStopped = captioned, detailed, cacheHit, earlyStopped
	if tiersJSON != "" {
		json.Unmarshal([]byte(tiersJSON), &e.TiersUsed)
	}
	return e, nil
}
