// Package storage contains PostgreSQL schema migrations for the identity ledger.
// These migrations create and maintain the database schema required for all storage operations.
package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// MigratePostgres applies schema migrations to the PostgreSQL database.
// Creates all necessary tables and indexes for the ledger storage.
// Uses IF NOT EXISTS clauses to make migrations idempotent.
//
// Tables created:
// - accounts: Program-owned account state keyed by address
// - events: Append-only log of domain events in commit order
// - idempotency_cache: Caches responses for idempotent operation handling
// - relayer_keys: Public keys accepted for relayer token signatures
func MigratePostgres(ctx context.Context, db *sql.DB) error {
	// List of migrations to apply in order
	// Each migration is idempotent (uses IF NOT EXISTS)
	migrations := []string{
		// Accounts table stores the encoded state of identity and factory accounts
		`CREATE TABLE IF NOT EXISTS accounts (
            address TEXT PRIMARY KEY,       -- Base58 account address
            owner TEXT NOT NULL,            -- Base58 id of the owning program
            data BYTEA NOT NULL,            -- Program-defined state encoding
            updated_at BIGINT NOT NULL      -- Last commit time (unix microseconds)
        )`,
		// Events table keeps every emitted event for off-chain indexers
		`CREATE TABLE IF NOT EXISTS events (
            id BIGSERIAL PRIMARY KEY,       -- Global commit order
            tx_id TEXT NOT NULL,            -- Transaction that emitted the event
            seq INTEGER NOT NULL,           -- Position within the transaction
            program TEXT NOT NULL,          -- Emitting program id
            address TEXT NOT NULL,          -- Account the event is about
            name TEXT NOT NULL,             -- Event name (KeyAdded, ClaimAdded, ...)
            payload JSONB NOT NULL,         -- Event payload as JSON
            created_at BIGINT NOT NULL      -- Commit time (unix microseconds)
        )`,
		// Index on address for per-identity event queries
		`CREATE INDEX IF NOT EXISTS idx_events_address ON events (address, id)`,
		// Index on transaction id for receipt lookups
		`CREATE INDEX IF NOT EXISTS idx_events_tx_id ON events (tx_id)`,
		// Idempotency cache stores responses to make operations idempotent
		// Prevents duplicate processing of requests like identity creation
		`CREATE TABLE IF NOT EXISTS idempotency_cache (
            idem_key TEXT PRIMARY KEY,      -- Idempotency key (typically from HTTP header)
            status_code INTEGER NOT NULL,   -- HTTP status code of cached response
            body BYTEA NOT NULL,            -- Response body as binary data
            headers JSONB NOT NULL,         -- Response headers as JSON
            expires_at BIGINT NOT NULL      -- Expiration (unix microseconds, 0 = never)
        )`,
		// Index on expiration time for efficient cleanup of expired cache entries
		`CREATE INDEX IF NOT EXISTS idx_idempotency_cache_expires_at ON idempotency_cache (expires_at)`,
		// Relayer keys table manages keys that verify relayer tokens
		// Supports key rotation with overlapping validity windows
		`CREATE TABLE IF NOT EXISTS relayer_keys (
            id TEXT PRIMARY KEY,            -- Key identifier (JWT kid)
            public_key BYTEA NOT NULL,      -- Ed25519 public key bytes
            created_at BIGINT NOT NULL,     -- When the key was stored
            activated_at BIGINT NOT NULL,   -- When the key became active
            retired_at BIGINT,              -- When the key was retired (NULL if current)
            expires_at BIGINT               -- When the key expires (NULL if never)
        )`,
		// Index on activation time for efficient key lookup
		`CREATE INDEX IF NOT EXISTS idx_relayer_keys_activated_at ON relayer_keys (activated_at)`,
	}

	// Apply each migration in sequence
	for i, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
