package report

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Manifest stores finished runs in a SQLite database kept outside the
// mirror, so the mirror itself stays identical across runs.
type Manifest struct {
	db *sql.DB
}

// RunRecord is one row of the run history
type RunRecord struct {
	RunID           string
	Started         time.Time
	Finished        time.Time
	Status          Status
	AbortReason     string
	Pages           int
	Attachments     int
	Skips           int
	UnresolvedLinks int
}

// OpenManifest opens or creates the database at path
func OpenManifest(path string) (*Manifest, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create manifest directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}

	_, err = db.Exec(`
		PRAGMA busy_timeout = 5000;

		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started INTEGER NOT NULL,
			finished INTEGER NOT NULL,
			status TEXT NOT NULL,
			abort_reason TEXT NOT NULL DEFAULT '',
			pages INTEGER NOT NULL,
			attachments INTEGER NOT NULL,
			skips INTEGER NOT NULL,
			unresolved INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS items (
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			space_key TEXT NOT NULL,
			kind TEXT NOT NULL,
			item_id TEXT NOT NULL,
			title TEXT NOT NULL,
			reason TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_items_run ON items(run_id);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize manifest schema: %w", err)
	}
	return &Manifest{db: db}, nil
}

// Record stores a finished run together with its skipped items
func (m *Manifest) Record(ctx context.Context, s *Summary) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, started, finished, status, abort_reason, pages, attachments, skips, unresolved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.RunID, s.Started.UnixNano(), s.Finished.UnixNano(), string(s.Status), s.AbortReason,
		s.TotalPages(), s.TotalAttachments(), s.TotalSkips(), s.UnresolvedLinks)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO items (run_id, space_key, kind, item_id, title, reason)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare item insert: %w", err)
	}
	defer stmt.Close()

	for _, sk := range s.SkippedSpaces {
		if _, err := stmt.ExecContext(ctx, s.RunID, sk.ID, sk.Kind, sk.ID, sk.Title, sk.Reason); err != nil {
			return fmt.Errorf("failed to insert item: %w", err)
		}
	}
	for _, sp := range s.Spaces {
		for _, sk := range sp.Skips() {
			if _, err := stmt.ExecContext(ctx, s.RunID, sp.Key, sk.Kind, sk.ID, sk.Title, sk.Reason); err != nil {
				return fmt.Errorf("failed to insert item: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// Runs lists recorded runs, newest first. A limit <= 0 returns all runs.
func (m *Manifest) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := m.db.QueryContext(ctx, `
		SELECT run_id, started, finished, status, abort_reason, pages, attachments, skips, unresolved
		FROM runs ORDER BY started DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			r                 RunRecord
			started, finished int64
			status            string
		)
		if err := rows.Scan(&r.RunID, &started, &finished, &status, &r.AbortReason,
			&r.Pages, &r.Attachments, &r.Skips, &r.UnresolvedLinks); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Started = time.Unix(0, started)
		r.Finished = time.Unix(0, finished)
		r.Status = Status(status)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Items returns the skipped items of a run
func (m *Manifest) Items(ctx context.Context, runID string) ([]Skip, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT kind, item_id, title, reason FROM items WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []Skip
	for rows.Next() {
		var sk Skip
		if err := rows.Scan(&sk.Kind, &sk.ID, &sk.Title, &sk.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, sk)
	}
	return items, rows.Err()
}

func (m *Manifest) Close() error {
	return m.db.Close()
}
