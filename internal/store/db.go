// Package store is the relational state store: accounts, mailboxes,
// messages, secrets, alerts and the label cache, plus the single-writer
// lease mechanics that make the retry worker safe to run concurrently with
// the mailbox watchers.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store wraps a *sql.DB opened against the SQLite state file.
type Store struct {
	db *sql.DB
}

// Open creates the parent directory if needed and opens the database with
// the pragmas this system relies on: foreign keys enforced, and a busy
// timeout so the watcher threads and the retry worker don't trip over each
// other's short-lived writes.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single process is the only writer; one connection avoids
	// SQLITE_BUSY from the driver's own pool contending with itself.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for the migration runner and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}
