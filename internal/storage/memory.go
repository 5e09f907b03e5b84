// Package storage contains persistence abstractions and in-memory
// implementations for ledger accounts used by the service.
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
)

type memory struct {
	mu       sync.RWMutex
	accounts map[model.Pubkey]model.Account
	events   []model.EventRecord
	nextID   int64

	muIdem sync.RWMutex
	idem   map[string]StoredResponse

	muRelayerKeys sync.RWMutex
	relayerKeys   map[string]RelayerKey
}

// NewMemory returns a concurrency-safe in-memory implementation of Store.
// Useful for tests, demos, or as a default ephemeral backend.
func NewMemory() Store {
	return &memory{
		accounts:    make(map[model.Pubkey]model.Account),
		idem:        make(map[string]StoredResponse),
		relayerKeys: make(map[string]RelayerKey),
	}
}

// GetAccount retrieves a copy of the account at addr. Returns ErrNotFound when no account exists.
func (m *memory) GetAccount(ctx context.Context, addr model.Pubkey) (model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[addr]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	return acc.Clone(), nil
}

// Commit validates every Create write first, then applies the whole changeset
// under one lock so readers never observe a partial transaction.
func (m *memory) Commit(ctx context.Context, cs Changeset) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range cs.Accounts {
		if _, exists := m.accounts[w.Account.Address]; w.Create && exists {
			return ErrConflict
		}
	}
	for _, w := range cs.Accounts {
		m.accounts[w.Account.Address] = w.Account.Clone()
	}
	for _, ev := range cs.Events {
		m.nextID++
		rec := ev.Clone()
		rec.ID = m.nextID
		if rec.TxID == "" {
			rec.TxID = cs.TxID
		}
		m.events = append(m.events, rec)
	}
	return nil
}

// ListEvents returns events in commit order, filtered by address and cursor.
func (m *memory) ListEvents(ctx context.Context, f EventFilter) ([]model.EventRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.EventRecord
	for _, ev := range m.events {
		if ev.ID <= f.AfterID {
			continue
		}
		if !f.Address.IsZero() && ev.Address != f.Address {
			continue
		}
		out = append(out, ev.Clone())
		if len(out) == f.limit() {
			break
		}
	}
	return out, nil
}

// Remember stores a response for later retrieval to support idempotent operations.
func (m *memory) Remember(ctx context.Context, key string, response StoredResponse) error {
	m.muIdem.Lock()
	defer m.muIdem.Unlock()
	m.idem[key] = cloneStoredResponse(response)
	return nil
}

// Recall returns a stored response if present and not expired.
func (m *memory) Recall(ctx context.Context, key string) (StoredResponse, bool) {
	m.muIdem.RLock()
	resp, ok := m.idem[key]
	m.muIdem.RUnlock()
	if !ok {
		return StoredResponse{}, false
	}
	if !resp.ExpiresAt.IsZero() && time.Now().UTC().After(resp.ExpiresAt) {
		// Expired entries are dropped lazily
		m.muIdem.Lock()
		delete(m.idem, key)
		m.muIdem.Unlock()
		return StoredResponse{}, false
	}
	return cloneStoredResponse(resp), true
}

// Close is a no-op for the memory backend.
func (m *memory) Close() error { return nil }

// cloneStoredResponse creates a deep copy so callers cannot mutate cached entries
func cloneStoredResponse(in StoredResponse) StoredResponse {
	out := in
	out.Body = append([]byte(nil), in.Body...)
	if in.Headers != nil {
		out.Headers = make(map[string]string, len(in.Headers))
		for k, v := range in.Headers {
			out.Headers[k] = v
		}
	}
	return out
}
