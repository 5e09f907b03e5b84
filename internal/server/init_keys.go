// Package server contains HTTP handlers for the identity service.
// This file handles seeding of the configured relayer key.
package server

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/config"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/storage"
)

// SeedRelayerKey ensures the relayer key from config is stored.
// A key already stored under the configured id is left untouched, so keys
// rotated through the API survive restarts. Expired keys are purged first.
func SeedRelayerKey(ctx context.Context, store storage.RelayerKeyStore, cfg config.Config, now time.Time) error {
	if err := store.CleanupExpiredRelayerKeys(ctx, now); err != nil {
		return fmt.Errorf("failed to clean up relayer keys: %w", err)
	}
	if len(cfg.RelayerPublicKey) == 0 {
		return nil
	}
	if len(cfg.RelayerPublicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid relayer key size: %d bytes, expected %d", len(cfg.RelayerPublicKey), ed25519.PublicKeySize)
	}

	// Check if the key already exists
	if _, err := store.GetRelayerKey(ctx, cfg.RelayerKeyID); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to look up relayer key: %w", err)
	}

	key := storage.RelayerKey{
		ID:          cfg.RelayerKeyID,
		PublicKey:   append([]byte(nil), cfg.RelayerPublicKey...),
		CreatedAt:   now,
		ActivatedAt: now,
	}
	if err := store.AddRelayerKey(ctx, key); err != nil && !errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("failed to store relayer key: %w", err)
	}
	return nil
}
