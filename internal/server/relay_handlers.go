package server

import (
	"net/http"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/config"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/relay"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/runtime"
)

// relayResult is the response body of an applied relayed message.
type relayResult struct {
	runtime.Receipt
	Outcome relay.Outcome `json:"outcome"`
}

// handleRelayReceive applies a message delivered by an authenticated
// relayer. The source endpoint and sender must pass the configured peer
// allowlist before the factory checks its registered remotes.
func (h *Handler) handleRelayReceive(w http.ResponseWriter, r *http.Request) {
	token, err := bearerToken(r.Header.Get(headerAuthorization))
	if err != nil {
		relayTokenCount.WithLabelValues("missing").Inc()
		h.writeErrorWithRequest(w, r, http.StatusUnauthorized, "RELAY_UNAUTHENTICATED", err.Error(), nil)
		return
	}
	claims, err := h.relayer.ValidateToken(r.Context(), token)
	if err != nil {
		relayTokenCount.WithLabelValues("invalid").Inc()
		h.logger.Warn("relayer token rejected", "error", err, "correlationId", correlationIDFrom(r.Context()))
		h.writeErrorWithRequest(w, r, http.StatusUnauthorized, "RELAY_UNAUTHENTICATED", "invalid relayer token", nil)
		return
	}
	relayTokenCount.WithLabelValues("valid").Inc()

	body, err := readBody(w, r)
	if err != nil {
		h.writeValidation(w, r, err.Error())
		return
	}
	var params relay.ReceiveParams
	if err := decodeJSON(body, &params); err != nil {
		h.writeValidation(w, r, err.Error())
		return
	}
	if !config.Allows(h.cfg.RelayPeers, params.SrcEid, params.Sender) {
		h.logger.Warn("relay peer denied", "srcEid", params.SrcEid, "sender", params.Sender, "relayer", claims.Subject, "correlationId", correlationIDFrom(r.Context()))
		h.writeErrorWithRequest(w, r, http.StatusForbidden, "RELAY_PEER_DENIED", "source endpoint is not allowed", map[string]any{"srcEid": params.SrcEid})
		return
	}

	h.logger.Info("relayed message received",
		"srcEid", params.SrcEid,
		"nonce", params.Nonce,
		"guid", params.GUID,
		"relayer", claims.Subject,
		"kid", claims.KeyID,
		"jti", claims.ID,
		"correlationId", correlationIDFrom(r.Context()),
	)
	out, rcpt, err := h.ledger.Receive(r.Context(), params)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.writeMutation(w, r, http.StatusOK, relayResult{Receipt: rcpt, Outcome: out})
}
