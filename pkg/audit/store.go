// Package audit records every ref-changing operation — REST commits and
// Git pushes — in a SQLite trail. The trail is operator-facing only:
// nothing reads back from it on the serving path, and change-stream
// subscribers are never replayed from it.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Origin distinguishes how a change entered the store.
const (
	OriginREST = "rest"
	OriginPush = "push"
)

// Entry is one audited ref update.
type Entry struct {
	ID     int64     `json:"id"`
	Time   time.Time `json:"time"`
	Repo   string    `json:"repo"`
	Ref    string    `json:"ref"`
	Before string    `json:"before"`
	After  string    `json:"after"`
	Origin string    `json:"origin"`
}

// Store is the SQLite-backed audit trail.
type Store struct {
	db         *sql.DB
	insertStmt *sql.Stmt
	listStmt   *sql.Stmt
}

// Open opens (creating if necessary) the audit database at path.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ref_changes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		repo TEXT NOT NULL,
		ref TEXT NOT NULL,
		before_sha TEXT NOT NULL,
		after_sha TEXT NOT NULL,
		origin TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ref_changes_repo_ts ON ref_changes(repo, ts DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	return nil
}

func (s *Store) prepareStatements() error {
	var err error
	s.insertStmt, err = s.db.Prepare(
		`INSERT INTO ref_changes (ts, repo, ref, before_sha, after_sha, origin) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare audit insert: %w", err)
	}
	s.listStmt, err = s.db.Prepare(
		`SELECT id, ts, repo, ref, before_sha, after_sha, origin
		 FROM ref_changes WHERE repo = ? ORDER BY id DESC LIMIT ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare audit list: %w", err)
	}
	return nil
}

// Record appends one entry. Entry.Time defaults to now, ID is assigned
// by the database.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	_, err := s.insertStmt.ExecContext(ctx,
		e.Time.UnixMilli(), e.Repo, e.Ref, e.Before, e.After, e.Origin)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// List returns the most recent entries for a repository, newest first.
func (s *Store) List(ctx context.Context, repo string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.listStmt.QueryContext(ctx, repo, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.ID, &ts, &e.Repo, &e.Ref, &e.Before, &e.After, &e.Origin); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		e.Time = time.UnixMilli(ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.insertStmt != nil {
		s.insertStmt.Close()
	}
	if s.listStmt != nil {
		s.listStmt.Close()
	}
	return s.db.Close()
}
