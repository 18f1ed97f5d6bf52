// Package history keeps a journal of finished incidents in sqlite
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one incident with its final outcome
type Entry struct {
	ID         int64     `json:"id"`
	AttemptID  string    `json:"attempt_id"`
	Account    string    `json:"account"`
	Trigger    string    `json:"trigger"`
	Outcome    string    `json:"outcome"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
	FinishedAt time.Time `json:"finished_at"`
}

type Store struct {
	db *sql.DB
}

// scanEntry handles nullable columns when scanning a row
func scanEntry(scanner interface{ Scan(...any) error }) (*Entry, error) {
	var e Entry
	var errStr sql.NullString
	var detected, finished sql.NullInt64

	err := scanner.Scan(&e.ID, &e.AttemptID, &e.Account, &e.Trigger, &e.Outcome,
		&e.Attempts, &errStr, &detected, &finished)
	if err != nil {
		return nil, err
	}

	e.Error = errStr.String
	if detected.Valid {
		e.DetectedAt = time.UnixMilli(detected.Int64)
	}
	if finished.Valid {
		e.FinishedAt = time.UnixMilli(finished.Int64)
	}
	return &e, nil
}

func NewStore(dbPath string) (*Store, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	// Times are unix milliseconds
	query := `
	CREATE TABLE IF NOT EXISTS incidents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		attempt_id TEXT NOT NULL,
		account TEXT NOT NULL,
		trigger_class TEXT NOT NULL,
		outcome TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		detected_at INTEGER,
		finished_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_incidents_account ON incidents(account);
	CREATE INDEX IF NOT EXISTS idx_incidents_finished_at ON incidents(finished_at);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, attempt_id, account, trigger_class, outcome, attempts, error, detected_at, finished_at FROM incidents`

// Add stores entry and fills in its ID
func (s *Store) Add(ctx context.Context, entry *Entry) error {
	var errStr sql.NullString
	if entry.Error != "" {
		errStr = sql.NullString{String: entry.Error, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
	INSERT INTO incidents (attempt_id, account, trigger_class, outcome, attempts, error, detected_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.AttemptID,
		entry.Account,
		entry.Trigger,
		entry.Outcome,
		entry.Attempts,
		errStr,
		entry.DetectedAt.UnixMilli(),
		entry.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert incident: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	entry.ID = id
	return nil
}

// Recent returns up to limit entries, newest first. An empty account matches
// every account.
func (s *Store) Recent(ctx context.Context, account string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := selectColumns + ` ORDER BY finished_at DESC, id DESC LIMIT ?`
	args := []any{limit}
	if account != "" {
		query = selectColumns + ` WHERE account = ? COLLATE NOCASE ORDER BY finished_at DESC, id DESC LIMIT ?`
		args = []any{account, limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Stats counts entries by outcome
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM incidents GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to get incident stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan incident stats: %w", err)
		}
		stats[outcome] = n
	}
	return stats, rows.Err()
}

// Prune deletes entries finished before cutoff
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM incidents WHERE finished_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune incidents: %w", err)
	}
	return result.RowsAffected()
}

func (s *Store) Close() error { return s.db.Close() }

// DefaultDBPath returns ~/.acctguard/history.db
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "history.db"
	}
	return filepath.Join(home, ".acctguard", "history.db")
}
