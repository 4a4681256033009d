// Package sqlite provides a SQLite-backed implementation of the
// storage.Store interface.
//
// All engine state lives in a single key/value table where each logical key
// (pending payments, upload queue, retry-status map, upload history, remote
// snapshot) maps to one JSON blob. Every mutation is a read-modify-write of
// the whole blob inside a transaction, serialized by a store-level mutex so
// no torn writes are possible within the process.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/pairledger/pairledger/internal/storage"
)

// Storage keys. One row per key in the kv table.
const (
	keyPayments    = "pending_payments"
	keyQueue       = "upload_queue"
	keyRetryStatus = "retry_status"
	keyHistory     = "upload_history"
	keySnapshot    = "remote_snapshot"
)

// historyCap bounds the persisted history length; the oldest entries are
// dropped on append once the cap is reached.
const historyCap = 500

const schema = `
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

// SQLiteStore implements storage.Store using SQLite.
type SQLiteStore struct {
	// mu serializes all read-modify-write sequences. The store is the
	// single shared mutable resource of the engine, so one global lock is
	// sufficient and required.
	mu sync.Mutex
	db *sql.DB
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// getJSON reads the blob under key into out. A missing key leaves out
// untouched and returns false.
func (s *SQLiteStore) getJSON(ctx context.Context, key string, out any) (bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(value), out); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// putJSON replaces the blob under key.
func (s *SQLiteStore) putJSON(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at",
		key, string(data), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}
