// Package storage contains the database/sql implementation of the Store interface.
// This file provides relayer key storage for key rotation support.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const relayerKeyColumns = `id, public_key, created_at, activated_at, retired_at, expires_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRelayerKey(row rowScanner) (RelayerKey, error) {
	var key RelayerKey
	var created, activated int64
	var retired, expires sql.NullInt64
	if err := row.Scan(&key.ID, &key.PublicKey, &created, &activated, &retired, &expires); err != nil {
		return RelayerKey{}, err
	}
	key.CreatedAt = fromMicros(created)
	key.ActivatedAt = fromMicros(activated)
	// Nullable columns map to zero times
	if retired.Valid {
		key.RetiredAt = fromMicros(retired.Int64)
	}
	if expires.Valid {
		key.ExpiresAt = fromMicros(expires.Int64)
	}
	return key, nil
}

// AddRelayerKey adds a new relayer key.
// Returns ErrConflict if a key with the same id is already stored.
func (s *SQLStore) AddRelayerKey(ctx context.Context, key RelayerKey) error {
	// Set a reasonable timeout for database operations
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const q = `INSERT INTO relayer_keys (` + relayerKeyColumns + `) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`
	res, err := s.db.ExecContext(ctx, s.q(q), key.ID, key.PublicKey, micros(key.CreatedAt), micros(key.ActivatedAt), nullMicros(key.RetiredAt), nullMicros(key.ExpiresAt))
	if err != nil {
		return fmt.Errorf("add relayer key: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrConflict
	}
	return nil
}

// GetRelayerKey retrieves a specific relayer key by its ID.
func (s *SQLStore) GetRelayerKey(ctx context.Context, id string) (RelayerKey, error) {
	// Set a reasonable timeout for database operations
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const q = `SELECT ` + relayerKeyColumns + ` FROM relayer_keys WHERE id = $1`
	key, err := scanRelayerKey(s.db.QueryRowContext(ctx, s.q(q), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RelayerKey{}, ErrNotFound
		}
		return RelayerKey{}, fmt.Errorf("get relayer key: %w", err)
	}
	return key, nil
}

// ListActiveRelayerKeys returns all activated, unexpired relayer keys
// (including those in the overlap window), newest activation first.
func (s *SQLStore) ListActiveRelayerKeys(ctx context.Context, now time.Time) ([]RelayerKey, error) {
	// Set a reasonable timeout for database operations
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const q = `SELECT ` + relayerKeyColumns + ` FROM relayer_keys
		WHERE (expires_at IS NULL OR expires_at > $1) AND activated_at <= $1
		ORDER BY activated_at DESC, id ASC`
	rows, err := s.db.QueryContext(ctx, s.q(q), micros(now))
	if err != nil {
		return nil, fmt.Errorf("list active relayer keys: %w", err)
	}
	defer rows.Close()

	var keys []RelayerKey
	for rows.Next() {
		key, err := scanRelayerKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan relayer key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relayer keys: %w", err)
	}
	return keys, nil
}

// RetireRelayerKey marks a relayer key as retired.
// It will remain in the store until its expiration time.
func (s *SQLStore) RetireRelayerKey(ctx context.Context, id string, retiredAt time.Time) error {
	// Set a reasonable timeout for database operations
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const q = `UPDATE relayer_keys SET retired_at = $1 WHERE id = $2`
	res, err := s.db.ExecContext(ctx, s.q(q), micros(retiredAt), id)
	if err != nil {
		return fmt.Errorf("retire relayer key: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// CleanupExpiredRelayerKeys removes expired relayer keys.
func (s *SQLStore) CleanupExpiredRelayerKeys(ctx context.Context, now time.Time) error {
	// Set a reasonable timeout for database operations
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const q = `DELETE FROM relayer_keys WHERE expires_at IS NOT NULL AND expires_at <= $1`
	if _, err := s.db.ExecContext(ctx, s.q(q), micros(now)); err != nil {
		return fmt.Errorf("cleanup relayer keys: %w", err)
	}
	return nil
}
