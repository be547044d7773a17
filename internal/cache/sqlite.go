// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite persists entries in a single-table SQLite database so a cache
// survives restarts.
type SQLite struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewSQLite opens or creates the database at path.
func NewSQLite(path string, ttl time.Duration) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	s := &SQLite{db: db, ttl: ttl, now: time.Now}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}
	return s, nil
}

func (s *SQLite) createSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS responses (
			key       TEXT PRIMARY KEY,
			value     BLOB NOT NULL,
			stored_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_responses_stored_at ON responses(stored_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value    []byte
		storedAt int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT value, stored_at FROM responses WHERE key = ?`, key).Scan(&value, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry: %w", err)
	}
	if s.ttl > 0 && s.now().Sub(time.Unix(0, storedAt)) > s.ttl {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM responses WHERE key = ?`, key); err != nil {
			return nil, false, fmt.Errorf("expiring cache entry: %w", err)
		}
		return nil, false, nil
	}
	return value, true, nil
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO responses (key, value, stored_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, stored_at = excluded.stored_at`,
		key, value, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM responses WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting cache entry: %w", err)
	}
	return nil
}

func (s *SQLite) Keys(ctx context.Context) ([]string, error) {
	query := `SELECT key FROM responses ORDER BY key`
	args := []any{}
	if s.ttl > 0 {
		query = `SELECT key FROM responses WHERE stored_at >= ? ORDER BY key`
		args = append(args, s.now().Add(-s.ttl).UnixNano())
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing cache keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning cache key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLite) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM responses`); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}
