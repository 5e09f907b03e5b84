// Package server contains HTTP handlers for the identity service.
// This file implements rotation of the keys that verify relayer tokens.
package server

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/storage"
)

// maxRetireOverlap bounds how long a retired key keeps verifying tokens.
const maxRetireOverlap = 7 * 24 * time.Hour

type relayerKeyView struct {
	ID          string     `json:"id"`
	PublicKey   []byte     `json:"publicKey"`
	ActivatedAt time.Time  `json:"activatedAt"`
	RetiredAt   *time.Time `json:"retiredAt,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

func newRelayerKeyView(k storage.RelayerKey) relayerKeyView {
	v := relayerKeyView{ID: k.ID, PublicKey: k.PublicKey, ActivatedAt: k.ActivatedAt}
	if !k.RetiredAt.IsZero() {
		t := k.RetiredAt
		v.RetiredAt = &t
	}
	if !k.ExpiresAt.IsZero() {
		t := k.ExpiresAt
		v.ExpiresAt = &t
	}
	return v
}

// requireFactoryOwner authenticates the request and checks that the signer
// owns the factory. It writes the error response and returns false on failure.
func (h *Handler) requireFactoryOwner(w http.ResponseWriter, r *http.Request, dst any) (model.Pubkey, bool) {
	signer, ok := h.decodeSigned(w, r, dst)
	if !ok {
		return model.Pubkey{}, false
	}
	owner, err := h.ledger.Owner(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return model.Pubkey{}, false
	}
	if signer != owner {
		h.logger.Warn("relayer key change denied", "signer", signer, "correlationId", correlationIDFrom(r.Context()))
		h.writeErrorWithRequest(w, r, http.StatusForbidden, "IDENTITY_AUTHZ", "signer is not the factory owner", nil)
		return model.Pubkey{}, false
	}
	return signer, true
}

// handleRelayerKeyList returns the keys currently accepted for relayer tokens.
func (h *Handler) handleRelayerKeyList(w http.ResponseWriter, r *http.Request) {
	now := h.clock()
	keys, err := h.store.ListActiveRelayerKeys(r.Context(), now)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	views := make([]relayerKeyView, 0, len(keys))
	for _, k := range keys {
		if k.Usable(now) {
			views = append(views, newRelayerKeyView(k))
		}
	}
	w.Header().Set(headerCacheControl, cacheControlQuery)
	h.writeSuccess(w, http.StatusOK, views, map[string]any{"count": len(views)}, r)
}

// handleRelayerKeyAdd registers a new relayer key.
//
// The process:
// 1. Verifies the request is signed by the factory owner
// 2. Validates the Ed25519 public key and validity window
// 3. Stores the key so tokens carrying its kid are accepted from activation on
func (h *Handler) handleRelayerKeyAdd(w http.ResponseWriter, r *http.Request) {
	var input struct {
		ID          string     `json:"id"`          // Key id carried as the token kid
		PublicKey   []byte     `json:"publicKey"`   // Ed25519 public key (base64)
		ActivatesAt *time.Time `json:"activatesAt"` // Defaults to now
		ExpiresAt   *time.Time `json:"expiresAt"`   // Optional hard expiry
	}
	signer, ok := h.requireFactoryOwner(w, r, &input)
	if !ok {
		return
	}
	if input.ID == "" {
		h.writeValidation(w, r, "id is required")
		return
	}
	if len(input.PublicKey) != ed25519.PublicKeySize {
		h.writeValidation(w, r, fmt.Sprintf("publicKey must be %d bytes", ed25519.PublicKeySize))
		return
	}

	now := h.clock()
	key := storage.RelayerKey{
		ID:          input.ID,
		PublicKey:   input.PublicKey,
		CreatedAt:   now,
		ActivatedAt: now,
	}
	if input.ActivatesAt != nil {
		key.ActivatedAt = input.ActivatesAt.UTC()
	}
	if input.ExpiresAt != nil {
		key.ExpiresAt = input.ExpiresAt.UTC()
		if !key.ExpiresAt.After(key.ActivatedAt) {
			h.writeValidation(w, r, "expiresAt must be after activation")
			return
		}
	}

	if err := h.store.AddRelayerKey(r.Context(), key); err != nil {
		keyRotationCount.WithLabelValues("add", "failure").Inc()
		if errors.Is(err, storage.ErrConflict) {
			h.writeErrorWithRequest(w, r, http.StatusConflict, "RELAYER_KEY_EXISTS", "relayer key id already registered", nil)
			return
		}
		h.writeLedgerError(w, r, err)
		return
	}
	keyRotationCount.WithLabelValues("add", "success").Inc()
	h.logger.Info("relayer key added", "kid", key.ID, "activatedAt", key.ActivatedAt, "signer", signer, "correlationId", correlationIDFrom(r.Context()))
	h.writeMutation(w, r, http.StatusCreated, newRelayerKeyView(key))
}

// handleRelayerKeyRetire retires a relayer key. Tokens signed with it keep
// verifying for the requested overlap so relayers can switch keys.
func (h *Handler) handleRelayerKeyRetire(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var input struct {
		OverlapSeconds int64 `json:"overlapSeconds"`
	}
	signer, ok := h.requireFactoryOwner(w, r, &input)
	if !ok {
		return
	}
	overlap := time.Duration(input.OverlapSeconds) * time.Second
	if overlap < 0 || overlap > maxRetireOverlap {
		h.writeValidation(w, r, fmt.Sprintf("overlapSeconds must be between 0 and %d", int64(maxRetireOverlap/time.Second)))
		return
	}

	retiredAt := h.clock().Add(overlap)
	if err := h.store.RetireRelayerKey(r.Context(), id, retiredAt); err != nil {
		keyRotationCount.WithLabelValues("retire", "failure").Inc()
		if errors.Is(err, storage.ErrNotFound) {
			h.writeErrorWithRequest(w, r, http.StatusNotFound, "RELAYER_KEY_NOT_FOUND", "relayer key not found", nil)
			return
		}
		h.writeLedgerError(w, r, err)
		return
	}
	keyRotationCount.WithLabelValues("retire", "success").Inc()
	h.logger.Info("relayer key retired", "kid", id, "retiredAt", retiredAt, "signer", signer, "correlationId", correlationIDFrom(r.Context()))

	key, err := h.store.GetRelayerKey(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.writeMutation(w, r, http.StatusOK, newRelayerKeyView(key))
}
