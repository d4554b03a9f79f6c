package outputs

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const outputsSchema = `
CREATE TABLE IF NOT EXISTS outputs (
    id         TEXT PRIMARY KEY,
    data       BLOB NOT NULL,
    written_at INTEGER NOT NULL
);
`

// SQLiteStore keeps outputs in a single SQLite database file.
//
// The database is opened in WAL mode so status queries can read while a
// synchronizer cycle writes.
type SQLiteStore struct {
	conn *sql.DB
	path string
}

// OpenSQLiteStore opens or creates the store at path.
//
// The caller MUST call Close() when done so the WAL is checkpointed.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLiteStore{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := conn.Exec(outputsSchema); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Close checkpoints the WAL and closes the connection.
func (s *SQLiteStore) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

func (s *SQLiteStore) Exists(ctx context.Context, id ID) (bool, error) {
	var one int
	err := s.conn.QueryRowContext(ctx, `SELECT 1 FROM outputs WHERE id = ?`, string(id)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query output %s: %w", id, err)
	}
	return true, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id ID) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM outputs WHERE id = ?`, string(id)); err != nil {
		return fmt.Errorf("failed to delete output %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, id ID, data []byte) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO outputs (id, data, written_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, written_at = excluded.written_at
	`, string(id), data, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to write output %s: %w", id, err)
	}
	return nil
}

// Get returns the stored bytes for id.
func (s *SQLiteStore) Get(ctx context.Context, id ID) ([]byte, error) {
	var data []byte
	err := s.conn.QueryRowContext(ctx, `SELECT data FROM outputs WHERE id = ?`, string(id)).Scan(&data)
	if err != nil {
		return nil, fmt.Errorf("failed to read output %s: %w", id, err)
	}
	return data, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]ID, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT id FROM outputs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list outputs: %w", err)
	}
	defer rows.Close()

	var out []ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan output id: %w", err)
		}
		out = append(out, ID(id))
	}
	return out, rows.Err()
}
