// ABOUTME: SQLite Store for the message cache so history survives a restart
// ABOUTME: Works with modernc.org/sqlite ("sqlite") or mattn/go-sqlite3 ("sqlite3")

package msgcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a single SQLite table.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the cache database at path using
// the named database/sql driver. Parent directories are created if needed.
func NewSQLiteStore(driver, path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "msgcache")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("message cache opened", "driver", driver, "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS message_cache (
			conversation_id TEXT PRIMARY KEY,
			payload         BLOB NOT NULL,
			stored_at       TEXT NOT NULL
		);
	`)
	return err
}

// Get returns the record stored for key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (Record, error) {
	var (
		payload  []byte
		storedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, stored_at FROM message_cache WHERE conversation_id = ?`, key,
	).Scan(&payload, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("reading cache record: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, storedAt)
	if err != nil {
		return Record{}, fmt.Errorf("parsing stored_at %q: %w", storedAt, err)
	}
	return Record{Data: payload, StoredAt: ts}, nil
}

// Set upserts the record for key.
func (s *SQLiteStore) Set(ctx context.Context, key string, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_cache (conversation_id, payload, stored_at)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			payload = excluded.payload,
			stored_at = excluded.stored_at
	`, key, rec.Data, rec.StoredAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("writing cache record: %w", err)
	}
	return nil
}

// Delete removes the record for key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM message_cache WHERE conversation_id = ?`, key); err != nil {
		return fmt.Errorf("deleting cache record: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
