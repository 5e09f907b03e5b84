// Package storage contains persistence abstractions and implementations
// for ledger accounts used by the service.
// This file provides relayer key storage for key rotation support.
package storage

import (
	"context"
	"sort"
	"time"
)

// AddRelayerKey adds a new relayer key to the store
func (m *memory) AddRelayerKey(ctx context.Context, key RelayerKey) error {
	m.muRelayerKeys.Lock()
	defer m.muRelayerKeys.Unlock()

	if _, exists := m.relayerKeys[key.ID]; exists {
		return ErrConflict
	}
	m.relayerKeys[key.ID] = cloneRelayerKey(key)
	return nil
}

// GetRelayerKey retrieves a specific relayer key by its ID
func (m *memory) GetRelayerKey(ctx context.Context, id string) (RelayerKey, error) {
	m.muRelayerKeys.RLock()
	defer m.muRelayerKeys.RUnlock()

	key, ok := m.relayerKeys[id]
	if !ok {
		return RelayerKey{}, ErrNotFound
	}
	return cloneRelayerKey(key), nil
}

// ListActiveRelayerKeys returns all activated, unexpired keys
// (including retired keys still inside their overlap window)
func (m *memory) ListActiveRelayerKeys(ctx context.Context, now time.Time) ([]RelayerKey, error) {
	m.muRelayerKeys.RLock()
	defer m.muRelayerKeys.RUnlock()

	var active []RelayerKey
	for _, key := range m.relayerKeys {
		// Skip expired keys
		if !key.ExpiresAt.IsZero() && !key.ExpiresAt.After(now) {
			continue
		}
		// Skip keys that haven't been activated yet
		if key.ActivatedAt.After(now) {
			continue
		}
		active = append(active, cloneRelayerKey(key))
	}
	// Newest activation first, ties broken by id for stable output
	sort.Slice(active, func(i, j int) bool {
		if !active[i].ActivatedAt.Equal(active[j].ActivatedAt) {
			return active[i].ActivatedAt.After(active[j].ActivatedAt)
		}
		return active[i].ID < active[j].ID
	})
	return active, nil
}

// RetireRelayerKey marks a relayer key as retired.
// It will remain in the store until its expiration time
func (m *memory) RetireRelayerKey(ctx context.Context, id string, retiredAt time.Time) error {
	m.muRelayerKeys.Lock()
	defer m.muRelayerKeys.Unlock()

	key, ok := m.relayerKeys[id]
	if !ok {
		return ErrNotFound
	}
	key.RetiredAt = retiredAt
	m.relayerKeys[id] = key
	return nil
}

// CleanupExpiredRelayerKeys removes expired relayer keys from storage
func (m *memory) CleanupExpiredRelayerKeys(ctx context.Context, now time.Time) error {
	m.muRelayerKeys.Lock()
	defer m.muRelayerKeys.Unlock()

	for id, key := range m.relayerKeys {
		if !key.ExpiresAt.IsZero() && !key.ExpiresAt.After(now) {
			delete(m.relayerKeys, id)
		}
	}
	return nil
}

// cloneRelayerKey creates a deep copy of a RelayerKey to prevent external modification
func cloneRelayerKey(in RelayerKey) RelayerKey {
	out := in
	if in.PublicKey != nil {
		out.PublicKey = append([]byte(nil), in.PublicKey...)
	}
	return out
}
