package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/did"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/identity"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/relay"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/runtime"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/storage"
)

// errorMapping is the HTTP rendering of a non-identity failure.
type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{relay.ErrAlreadyInitialized, http.StatusConflict, "FACTORY_ALREADY_INITIALIZED"},
	{relay.ErrNotInitialized, http.StatusConflict, "FACTORY_NOT_INITIALIZED"},
	{relay.ErrUnauthorized, http.StatusForbidden, "FACTORY_UNAUTHORIZED"},
	{relay.ErrWalletNotLinked, http.StatusNotFound, "WALLET_NOT_LINKED"},
	{relay.ErrUnknownRemote, http.StatusForbidden, "UNKNOWN_REMOTE"},
	{relay.ErrInvalidInstruction, http.StatusUnprocessableEntity, "INVALID_INSTRUCTION"},
	{runtime.ErrMissingSigner, http.StatusUnauthorized, "MISSING_SIGNER"},
	{runtime.ErrPrecompile, http.StatusUnprocessableEntity, "PRECOMPILE_FAILED"},
	{runtime.ErrAccountOwner, http.StatusConflict, "ACCOUNT_OWNER_MISMATCH"},
	{runtime.ErrAccountExists, http.StatusConflict, "ACCOUNT_EXISTS"},
	{runtime.ErrAccountNotDeclared, http.StatusConflict, "ACCOUNT_CHANGED"},
	{did.ErrNoViableBump, http.StatusUnprocessableEntity, "IDENTITY_ADDRESS_UNAVAILABLE"},
	{did.ErrInvalidSeeds, http.StatusUnprocessableEntity, "IDENTITY_ADDRESS_UNAVAILABLE"},
	{storage.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{storage.ErrConflict, http.StatusConflict, "CONFLICT"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
}

// statusForCategory maps identity error classes to HTTP status codes.
func statusForCategory(c identity.Category) int {
	switch c {
	case identity.CategoryLifecycle, identity.CategoryStateConflict:
		return http.StatusConflict
	case identity.CategoryLookup:
		return http.StatusNotFound
	case identity.CategoryAuthorization:
		return http.StatusForbidden
	default:
		return http.StatusUnprocessableEntity
	}
}

// writeLedgerError renders an error returned by the ledger. Identity codes
// take precedence over the sentinels they may be wrapped in.
func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	if code, ok := identity.CodeOf(err); ok {
		h.writeErrorWithRequest(w, r, statusForCategory(code.Category()), code.String(), err.Error(), map[string]any{
			"code":     uint32(code),
			"category": code.Category(),
		})
		return
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			h.writeErrorWithRequest(w, r, m.status, m.code, err.Error(), nil)
			return
		}
	}
	h.logger.Error("ledger operation failed", "error", err, "path", r.URL.Path, "correlationId", correlationIDFrom(r.Context()))
	h.writeErrorWithRequest(w, r, http.StatusInternalServerError, "IDENTITY_INTERNAL", "internal server error", nil)
}

// writeValidation reports a malformed request.
func (h *Handler) writeValidation(w http.ResponseWriter, r *http.Request, message string) {
	h.writeErrorWithRequest(w, r, http.StatusBadRequest, "IDENTITY_VALIDATION", message, nil)
}
