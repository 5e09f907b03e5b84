// Package storage provides interfaces and implementations for persistent storage
// of ledger accounts, events, idempotency records and relayer keys.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
)

// Standard error values used across storage implementations
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the resource already exists or the operation would violate invariants.
	ErrConflict = errors.New("conflict")
)

// AccountWrite is one account mutation inside a Changeset.
type AccountWrite struct {
	Account model.Account
	// Create requires that no account exists at the address yet.
	Create bool
}

// Changeset is everything a committed transaction writes.
// Implementations apply it atomically: all writes and events, or nothing.
type Changeset struct {
	TxID     string
	Accounts []AccountWrite
	Events   []model.EventRecord
}

// EventFilter narrows ListEvents.
type EventFilter struct {
	// Address restricts results to events about one account when non-zero.
	Address model.Pubkey
	// AfterID returns only events with a larger ID.
	AfterID int64
	// Limit caps the number of results; zero means DefaultEventLimit.
	Limit int
}

// DefaultEventLimit is the page size used when EventFilter.Limit is zero.
const DefaultEventLimit = 100

func (f EventFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultEventLimit
	}
	return f.Limit
}

// AccountStore persists program accounts and the event log.
type AccountStore interface {
	// GetAccount retrieves an account by address, or ErrNotFound
	GetAccount(ctx context.Context, addr model.Pubkey) (model.Account, error)
	// Commit atomically applies a transaction's writes and events.
	// Returns ErrConflict when a Create write targets an existing account.
	Commit(ctx context.Context, cs Changeset) error
	// ListEvents returns events in commit order
	ListEvents(ctx context.Context, f EventFilter) ([]model.EventRecord, error)
}

// IdempotencyStore stores deterministic responses for a limited period.
// Enables idempotent handling of otherwise non-idempotent operations.
type IdempotencyStore interface {
	// Remember stores a response for later retrieval
	Remember(ctx context.Context, key string, response StoredResponse) error
	// Recall retrieves a previously stored response if it exists and hasn't expired
	Recall(ctx context.Context, key string) (StoredResponse, bool)
}

// RelayerKeyStore manages the Ed25519 keys trusted to sign relayer tokens.
// Keys rotate with overlapping validity windows.
type RelayerKeyStore interface {
	// AddRelayerKey stores a new key; ErrConflict if the id is taken
	AddRelayerKey(ctx context.Context, key RelayerKey) error
	// GetRelayerKey retrieves a key by id, or ErrNotFound
	GetRelayerKey(ctx context.Context, id string) (RelayerKey, error)
	// ListActiveRelayerKeys returns activated, unexpired keys, newest first
	ListActiveRelayerKeys(ctx context.Context, now time.Time) ([]RelayerKey, error)
	// RetireRelayerKey marks a key as retired from retiredAt on
	RetireRelayerKey(ctx context.Context, id string, retiredAt time.Time) error
	// CleanupExpiredRelayerKeys removes keys expired at now
	CleanupExpiredRelayerKeys(ctx context.Context, now time.Time) error
}

// Store aggregates all persistence capabilities required by the service.
type Store interface {
	AccountStore
	IdempotencyStore
	RelayerKeyStore
	// Close releases backend resources
	Close() error
}

// StoredResponse captures the HTTP response data persisted for idempotent replays.
type StoredResponse struct {
	StatusCode int               // HTTP status code of the original response
	Body       []byte            // Response body content
	Headers    map[string]string // Response headers
	ExpiresAt  time.Time         // Expiration timestamp for this cached response
}

// RelayerKey is a public key accepted for relayer token signatures.
type RelayerKey struct {
	ID          string    // Key identifier carried in the token "kid" header
	PublicKey   []byte    // Ed25519 public key bytes
	CreatedAt   time.Time // When the key was stored
	ActivatedAt time.Time // When tokens signed by the key start being accepted
	RetiredAt   time.Time // Zero while the key is current
	ExpiresAt   time.Time // When the key stops being accepted entirely
}

// Usable reports whether tokens signed with k are accepted at now.
func (k RelayerKey) Usable(now time.Time) bool {
	if k.ActivatedAt.After(now) {
		return false
	}
	if !k.RetiredAt.IsZero() && !k.RetiredAt.After(now) {
		return false
	}
	if !k.ExpiresAt.IsZero() && !k.ExpiresAt.After(now) {
		return false
	}
	return true
}
