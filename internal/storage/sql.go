// Package storage contains the database/sql implementation of the Store interface
// shared by the PostgreSQL and SQLite backends.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
)

// queryTimeout bounds every single statement or transaction against the database.
const queryTimeout = 10 * time.Second

// dialect captures the differences between SQL backends.
type dialect struct {
	name    string
	rebind  func(q string) string
	migrate func(ctx context.Context, db *sql.DB) error
}

// SQLStore implements Store on top of database/sql.
// Timestamps are stored as unix microseconds so both backends share one schema shape.
type SQLStore struct {
	db *sql.DB // Database connection pool
	d  dialect // Backend-specific SQL tweaks
}

var _ Store = (*SQLStore)(nil)

// DB returns the underlying *sql.DB connection pool.
// This method is primarily used by migration functions that need direct database access.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Backend names the SQL dialect in use ("postgres" or "sqlite").
func (s *SQLStore) Backend() string { return s.d.name }

// Migrate applies the backend's schema migrations.
func (s *SQLStore) Migrate(ctx context.Context) error {
	return s.d.migrate(ctx, s.db)
}

// Ping verifies the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) q(query string) string { return s.d.rebind(query) }

func micros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMicro()
}

func fromMicros(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}

func nullMicros(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: micros(t), Valid: true}
}

// GetAccount retrieves an account by address.
// Returns ErrNotFound if no account exists at that address.
func (s *SQLStore) GetAccount(ctx context.Context, addr model.Pubkey) (model.Account, error) {
	// Set a reasonable timeout for database operations
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const q = `SELECT owner, data, updated_at FROM accounts WHERE address = $1`
	var owner string
	var updated int64
	acc := model.Account{Address: addr}
	err := s.db.QueryRowContext(ctx, s.q(q), addr.String()).Scan(&owner, &acc.Data, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Account{}, ErrNotFound
		}
		return model.Account{}, fmt.Errorf("query account: %w", err)
	}
	// Owner is stored as base58 text
	if acc.Owner, err = model.ParsePubkey(owner); err != nil {
		return model.Account{}, fmt.Errorf("decode account owner: %w", err)
	}
	acc.UpdatedAt = fromMicros(updated)
	return acc, nil
}

// Commit applies a changeset inside one database transaction.
// Create writes use ON CONFLICT DO NOTHING and report ErrConflict when no row was inserted.
func (s *SQLStore) Commit(ctx context.Context, cs Changeset) error {
	// Set a reasonable timeout for the whole transaction
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	// Rollback is a no-op once Commit succeeded
	defer tx.Rollback()

	const insert = `INSERT INTO accounts (address, owner, data, updated_at) VALUES ($1, $2, $3, $4) ON CONFLICT (address) DO NOTHING`
	const upsert = `INSERT INTO accounts (address, owner, data, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE SET owner = excluded.owner, data = excluded.data, updated_at = excluded.updated_at`
	for _, w := range cs.Accounts {
		a := w.Account
		data := a.Data
		if data == nil {
			data = []byte{}
		}
		args := []any{a.Address.String(), a.Owner.String(), data, micros(a.UpdatedAt)}
		if !w.Create {
			if _, err := tx.ExecContext(ctx, s.q(upsert), args...); err != nil {
				return fmt.Errorf("upsert account %s: %w", a.Address, err)
			}
			continue
		}
		res, err := tx.ExecContext(ctx, s.q(insert), args...)
		if err != nil {
			return fmt.Errorf("insert account %s: %w", a.Address, err)
		}
		// Zero rows means the address is already taken
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrConflict
		}
	}

	const insertEvent = `INSERT INTO events (tx_id, seq, program, address, name, payload, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for _, ev := range cs.Events {
		txID := ev.TxID
		if txID == "" {
			txID = cs.TxID
		}
		payload := string(ev.Payload)
		if payload == "" {
			payload = "null"
		}
		if _, err := tx.ExecContext(ctx, s.q(insertEvent), txID, ev.Seq, ev.Program.String(), ev.Address.String(), ev.Name, payload, micros(ev.CreatedAt)); err != nil {
			return fmt.Errorf("insert event %s: %w", ev.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListEvents returns events in commit order (ascending id).
func (s *SQLStore) ListEvents(ctx context.Context, f EventFilter) ([]model.EventRecord, error) {
	// Set a reasonable timeout for database operations
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	address := ""
	if !f.Address.IsZero() {
		address = f.Address.String()
	}
	const q = `SELECT id, tx_id, seq, program, address, name, payload, created_at FROM events
		WHERE id > $1 AND ($2 = '' OR address = $2) ORDER BY id ASC LIMIT $3`
	rows, err := s.db.QueryContext(ctx, s.q(q), f.AfterID, address, f.limit())
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []model.EventRecord
	for rows.Next() {
		var ev model.EventRecord
		var program, addr string
		var payload []byte
		var created int64
		if err := rows.Scan(&ev.ID, &ev.TxID, &ev.Seq, &program, &addr, &ev.Name, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if ev.Program, err = model.ParsePubkey(program); err != nil {
			return nil, fmt.Errorf("decode event program: %w", err)
		}
		if ev.Address, err = model.ParsePubkey(addr); err != nil {
			return nil, fmt.Errorf("decode event address: %w", err)
		}
		ev.Payload = json.RawMessage(payload)
		ev.CreatedAt = fromMicros(created)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// Remember stores a response for later retrieval to support idempotent operations.
// A second Remember for the same key replaces the cached response.
func (s *SQLStore) Remember(ctx context.Context, key string, response StoredResponse) error {
	// Set a reasonable timeout for database operations
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const q = `INSERT INTO idempotency_cache (idem_key, status_code, body, headers, expires_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idem_key) DO UPDATE SET status_code = excluded.status_code, body = excluded.body,
		headers = excluded.headers, expires_at = excluded.expires_at`
	// Serialize headers map as JSON for storage
	headers, err := json.Marshal(response.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	body := response.Body
	if body == nil {
		body = []byte{}
	}
	if _, err := s.db.ExecContext(ctx, s.q(q), key, response.StatusCode, body, string(headers), micros(response.ExpiresAt)); err != nil {
		return fmt.Errorf("insert cache: %w", err)
	}
	return nil
}

// Recall retrieves a previously stored response if it exists and hasn't expired.
// Returns false if the cached response doesn't exist, has expired, or cannot be decoded.
func (s *SQLStore) Recall(ctx context.Context, key string) (StoredResponse, bool) {
	// Set a reasonable timeout for database operations
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const q = `SELECT status_code, body, headers, expires_at FROM idempotency_cache WHERE idem_key = $1 AND (expires_at = 0 OR expires_at > $2)`
	var resp StoredResponse
	var headers []byte
	var expires int64
	err := s.db.QueryRowContext(ctx, s.q(q), key, micros(time.Now())).Scan(&resp.StatusCode, &resp.Body, &headers, &expires)
	if err != nil {
		return StoredResponse{}, false
	}
	// Deserialize headers from JSON
	if err := json.Unmarshal(headers, &resp.Headers); err != nil {
		return StoredResponse{}, false
	}
	resp.ExpiresAt = fromMicros(expires)
	return resp, true
}

// rebindQuestion turns $N placeholders into SQLite's explicit ?N form.
func rebindQuestion(q string) string {
	var b strings.Builder
	b.Grow(len(q))
	for i := 0; i < len(q); i++ {
		if q[i] == '$' && i+1 < len(q) && q[i+1] >= '0' && q[i+1] <= '9' {
			b.WriteByte('?')
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func rebindNone(q string) string { return q }
