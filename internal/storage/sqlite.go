// Package storage contains the SQLite backend of the Store interface.
// Intended for single-node deployments that need durable state without a database server.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// NewSQLite opens (or creates) the SQLite database at path and applies migrations.
// A single connection is used because SQLite serializes writers anyway.
func NewSQLite(path string) (*SQLStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLStore{db: db, d: dialect{name: "sqlite", rebind: rebindQuestion, migrate: MigrateSQLite}}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// MigrateSQLite applies schema migrations to an SQLite database.
// Mirrors MigratePostgres with SQLite column types.
func MigrateSQLite(ctx context.Context, db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
            address TEXT PRIMARY KEY,
            owner TEXT NOT NULL,
            data BLOB NOT NULL,
            updated_at INTEGER NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS events (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            tx_id TEXT NOT NULL,
            seq INTEGER NOT NULL,
            program TEXT NOT NULL,
            address TEXT NOT NULL,
            name TEXT NOT NULL,
            payload TEXT NOT NULL,
            created_at INTEGER NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_events_address ON events (address, id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_tx_id ON events (tx_id)`,
		`CREATE TABLE IF NOT EXISTS idempotency_cache (
            idem_key TEXT PRIMARY KEY,
            status_code INTEGER NOT NULL,
            body BLOB NOT NULL,
            headers TEXT NOT NULL,
            expires_at INTEGER NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS relayer_keys (
            id TEXT PRIMARY KEY,
            public_key BLOB NOT NULL,
            created_at INTEGER NOT NULL,
            activated_at INTEGER NOT NULL,
            retired_at INTEGER,
            expires_at INTEGER
        )`,
	}
	for i, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("sqlite migration %d failed: %w", i, err)
		}
	}
	return nil
}
