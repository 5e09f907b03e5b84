package server

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/did"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/identity"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/storage"
)

// maxBodyBytes caps request bodies; claims are bounded well below this.
const maxBodyBytes = 64 << 10

// Request signature bounds. A nonce is remembered for as long as its
// timestamp can still pass the skew check.
const (
	maxNonceLength = 128
	nonceTTL       = 2 * maxClockSkew
	noncePrefix    = "sig-nonce:"
)

var (
	errMissingSigner    = errors.New("missing " + headerSigner + " header")
	errInvalidSigner    = errors.New("invalid " + headerSigner + " header")
	errMissingSignature = errors.New("missing " + headerSignature + " header")
	errBadSignature     = errors.New("request signature does not verify")
	errBadTimestamp     = errors.New("missing or invalid " + headerSignatureTimestamp + " header")
	errStaleSignature   = errors.New("request signature timestamp outside the accepted window")
	errBadNonce         = errors.New("missing or invalid " + headerSignatureNonce + " header")
	errNonceReused      = errors.New("request nonce already used")
)

// RequestSigningMessage returns the bytes a client signs for a state-changing
// request: the method, the escaped path, the unix timestamp, the nonce and
// the hex SHA-256 of the body, one per line.
func RequestSigningMessage(method, path string, timestamp int64, nonce string, body []byte) []byte {
	sum := sha256.Sum256(body)
	return []byte(strings.Join([]string{
		strings.ToUpper(method),
		path,
		strconv.FormatInt(timestamp, 10),
		nonce,
		hex.EncodeToString(sum[:]),
	}, "\n"))
}

// readBody reads the request body up to maxBodyBytes.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// verifySigner authenticates the X-Signer header against an Ed25519
// signature of RequestSigningMessage and returns the nonce the caller must
// claim. With signature checking disabled the header is trusted as is and
// no nonce is returned.
func (h *Handler) verifySigner(r *http.Request, body []byte) (model.Pubkey, string, error) {
	raw := strings.TrimSpace(r.Header.Get(headerSigner))
	if raw == "" {
		return model.Pubkey{}, "", errMissingSigner
	}
	signer, err := model.ParsePubkey(raw)
	if err != nil {
		return model.Pubkey{}, "", errInvalidSigner
	}
	if !h.cfg.RequireSignatures {
		return signer, "", nil
	}
	rawSig := strings.TrimSpace(r.Header.Get(headerSignature))
	if rawSig == "" {
		return model.Pubkey{}, "", errMissingSignature
	}
	sig, err := model.ParseSignature(rawSig)
	if err != nil {
		return model.Pubkey{}, "", errBadSignature
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(headerSignatureTimestamp)), 10, 64)
	if err != nil {
		return model.Pubkey{}, "", errBadTimestamp
	}
	if skew := h.clock().Sub(time.Unix(ts, 0)); skew > maxClockSkew || skew < -maxClockSkew {
		return model.Pubkey{}, "", errStaleSignature
	}
	nonce := strings.TrimSpace(r.Header.Get(headerSignatureNonce))
	if nonce == "" || len(nonce) > maxNonceLength || strings.ContainsAny(nonce, "\r\n") {
		return model.Pubkey{}, "", errBadNonce
	}
	msg := RequestSigningMessage(r.Method, r.URL.EscapedPath(), ts, nonce, body)
	if !ed25519.Verify(ed25519.PublicKey(signer[:]), msg, sig[:]) {
		return model.Pubkey{}, "", errBadSignature
	}
	return signer, nonce, nil
}

// claimNonce records nonce for signer in the idempotency store. It reports
// false when the nonce was already used inside its window.
func (h *Handler) claimNonce(ctx context.Context, signer model.Pubkey, nonce string) (bool, error) {
	key := noncePrefix + signer.String() + ":" + nonce
	h.nonceMu.Lock()
	defer h.nonceMu.Unlock()
	if _, seen := h.store.Recall(ctx, key); seen {
		return false, nil
	}
	err := h.store.Remember(ctx, key, storage.StoredResponse{
		StatusCode: http.StatusNoContent,
		ExpiresAt:  h.clock().Add(nonceTTL),
	})
	if err != nil {
		return false, fmt.Errorf("record nonce: %w", err)
	}
	return true, nil
}

// decodeSigned reads the body, authenticates the signer and decodes the JSON
// payload into dst. It writes the error response and returns false on failure.
func (h *Handler) decodeSigned(w http.ResponseWriter, r *http.Request, dst any) (model.Pubkey, bool) {
	body, err := readBody(w, r)
	if err != nil {
		h.writeValidation(w, r, err.Error())
		return model.Pubkey{}, false
	}
	signer, nonce, err := h.verifySigner(r, body)
	if err == nil && nonce != "" {
		var fresh bool
		if fresh, err = h.claimNonce(r.Context(), signer, nonce); err != nil {
			h.logger.Error("nonce store failed", "error", err, "correlationId", correlationIDFrom(r.Context()))
			h.writeErrorWithRequest(w, r, http.StatusInternalServerError, "IDENTITY_INTERNAL", "internal server error", nil)
			return model.Pubkey{}, false
		}
		if !fresh {
			err = errNonceReused
		}
	}
	if err != nil {
		h.logger.Info("request signer rejected", "path", r.URL.Path, "error", err, "correlationId", correlationIDFrom(r.Context()))
		h.writeErrorWithRequest(w, r, http.StatusUnauthorized, "IDENTITY_AUTHZ", err.Error(), nil)
		return model.Pubkey{}, false
	}
	if err := decodeJSON(body, dst); err != nil {
		h.writeValidation(w, r, err.Error())
		return model.Pubkey{}, false
	}
	return signer, true
}

// pathPubkey parses a base58 address or did:sol identifier from the path.
func (h *Handler) pathPubkey(w http.ResponseWriter, r *http.Request, name string) (model.Pubkey, bool) {
	raw := r.PathValue(name)
	pk, err := did.Parse(raw)
	if err != nil {
		h.writeLedgerError(w, r, fmt.Errorf("%w: %s %q", identity.ErrInvalidAddressBytes, name, raw))
		return model.Pubkey{}, false
	}
	return pk, true
}

// pathHash parses a base58 32-byte identifier from the path.
func (h *Handler) pathHash(w http.ResponseWriter, r *http.Request, name string) (model.Hash, bool) {
	raw := r.PathValue(name)
	v, err := model.ParseHash(raw)
	if err != nil {
		h.writeLedgerError(w, r, fmt.Errorf("%w: %s %q", identity.ErrInvalidAddressBytes, name, raw))
		return model.Hash{}, false
	}
	return v, true
}
