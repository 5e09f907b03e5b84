package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/config"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/ledger"
	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/storage"
)

type contextKey string

const (
	contextKeyCorrelationID contextKey = "correlationId"

	headerContentType        = "Content-Type"
	headerCorrelationID      = "X-Correlation-Id"
	headerIdempotencyKey     = "Idempotency-Key"
	headerCacheControl       = "Cache-Control"
	headerSigner             = "X-Signer"
	headerSignature          = "X-Signature"
	headerSignatureTimestamp = "X-Signature-Timestamp"
	headerSignatureNonce     = "X-Signature-Nonce"
	headerAuthorization      = "Authorization"

	contentTypeJSON   = "application/json"
	cacheControlQuery = "no-store"

	// idempotencyTTL bounds how long a replayable response is kept
	idempotencyTTL = 24 * time.Hour
)

// Handler wires HTTP endpoints using net/http.
type Handler struct {
	cfg     config.Config
	ledger  *ledger.Ledger
	store   storage.Store
	logger  *slog.Logger
	relayer *relayerValidator
	limiter *rate.Limiter
	clock   func() time.Time
	router  *http.ServeMux
	// nonceMu serializes the check-and-record of request nonces.
	nonceMu sync.Mutex
}

// New creates a Handler using the supplied dependencies.
// store must be the store the ledger commits to; the handler uses it for
// idempotent replays, relayer keys and readiness checks.
func New(cfg config.Config, l *ledger.Ledger, store storage.Store, logger *slog.Logger) (*Handler, error) {
	if l == nil {
		return nil, errors.New("server: ledger is required")
	}
	if store == nil {
		return nil, errors.New("server: store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	h := &Handler{
		cfg:    cfg,
		ledger: l,
		store:  store,
		logger: logger,
		clock:  func() time.Time { return time.Now().UTC() },
		router: http.NewServeMux(),
	}
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}
	h.relayer = newRelayerValidator(store, cfg.RelayerIssuer, cfg.RelayerAudience, func() time.Time { return h.clock() })
	h.registerRoutes()
	return h, nil
}

// Router returns an *http.ServeMux with all routes registered.
func (h *Handler) Router() *http.ServeMux {
	return h.router
}

// Handler returns the router behind the CORS middleware.
func (h *Handler) Handler() http.Handler {
	return h.corsMiddleware(h.router)
}

// route registers fn under pattern with the standard middleware chain.
func (h *Handler) route(pattern string, fn func(http.ResponseWriter, *http.Request)) {
	h.router.Handle(pattern, h.loggingMiddleware(h.timeoutMiddleware(h.rateLimitMiddleware(h.wrap(fn)))))
}

func (h *Handler) registerRoutes() {
	h.router.Handle("GET /health", h.loggingMiddleware(h.timeoutMiddleware(http.HandlerFunc(h.health))))
	h.router.Handle("GET /ready", h.loggingMiddleware(h.timeoutMiddleware(http.HandlerFunc(h.readyHandler))))
	h.router.Handle("GET /metrics", h.loggingMiddleware(h.timeoutMiddleware(http.HandlerFunc(h.metricsHandler))))
	h.route("GET /.well-known/did.json", h.wellKnownHandler)

	// Identity accounts
	h.route("GET /v1/identities/{address}", h.handleIdentityGet)
	h.route("GET /v1/identities/{address}/did.json", h.handleIdentityDocument)
	h.route("POST /v1/identities/{address}/initialize", h.handleIdentityInitialize)
	h.route("GET /v1/identities/{address}/keys", h.handleKeyList)
	h.route("POST /v1/identities/{address}/keys", h.handleKeyAdd)
	h.route("GET /v1/identities/{address}/keys/{key}", h.handleKeyGet)
	h.route("POST /v1/identities/{address}/keys/remove", h.handleKeyRemove)
	h.route("GET /v1/identities/{address}/claims", h.handleClaimList)
	h.route("POST /v1/identities/{address}/claims", h.handleClaimAdd)
	h.route("GET /v1/identities/{address}/claims/{claimId}", h.handleClaimGet)
	h.route("POST /v1/identities/{address}/claims/{claimId}/remove", h.handleClaimRemove)
	h.route("POST /v1/identities/{address}/claims/{claimId}/revoke", h.handleClaimRevoke)
	h.route("GET /v1/identities/{address}/revocations/{signature}", h.handleRevocationGet)
	h.route("GET /v1/identities/{address}/events", h.handleIdentityEvents)
	h.route("GET /v1/events", h.handleEvents)
	h.route("POST /v1/verify/ed25519", h.handleVerifyEd25519)

	// Factory
	h.route("GET /v1/factory", h.handleFactoryGet)
	h.route("POST /v1/factory/initialize", h.handleFactoryInitialize)
	h.route("GET /v1/factory/address", h.handleFactoryAddress)
	h.route("POST /v1/factory/identities", h.handleFactoryCreateIdentity)
	h.route("GET /v1/factory/identities/{identity}/wallets", h.handleFactoryWallets)
	h.route("POST /v1/factory/wallets/link", h.handleWalletLink)
	h.route("POST /v1/factory/wallets/unlink", h.handleWalletUnlink)
	h.route("GET /v1/factory/wallets/{wallet}/identity", h.handleWalletIdentity)
	h.route("GET /v1/factory/owner", h.handleOwnerGet)
	h.route("POST /v1/factory/owner", h.handleOwnerSet)
	h.route("POST /v1/factory/remotes", h.handleRemoteSet)

	// Relay
	// POST /v1/relay/receive - Apply a relayed message (relayer JWT)
	// POST /v1/relay/keys - Register a relayer token key (factory owner)
	// POST /v1/relay/keys/{id}/retire - Retire a relayer key with overlap (factory owner)
	h.route("POST /v1/relay/receive", h.handleRelayReceive)
	h.route("GET /v1/relay/keys", h.handleRelayerKeyList)
	h.route("POST /v1/relay/keys", h.handleRelayerKeyAdd)
	h.route("POST /v1/relay/keys/{id}/retire", h.handleRelayerKeyRetire)
}

type responseEnvelope struct {
	Data  any            `json:"data,omitempty"`
	Meta  any            `json:"meta,omitempty"`
	Error *errorEnvelope `json:"error,omitempty"`
}

type errorEnvelope struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	Details       any    `json:"details,omitempty"`
	CorrelationID string `json:"correlationId"`
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) wrap(next func(http.ResponseWriter, *http.Request)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := h.ensureCorrelationID(w, r)
		ctx := context.WithValue(r.Context(), contextKeyCorrelationID, correlationID)
		r = r.WithContext(ctx)
		w.Header().Set(headerContentType, contentTypeJSON)

		if h.tryReplay(w, r) {
			return
		}

		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered", "panic", rec, "correlationId", correlationID)
				h.writeError(w, http.StatusInternalServerError, "IDENTITY_INTERNAL", "internal server error", correlationID, nil)
			}
		}()

		next(w, r)
	})
}

func (h *Handler) ensureCorrelationID(w http.ResponseWriter, r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(headerCorrelationID))
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(headerCorrelationID, id)
	return id
}

// idempotencyKey scopes the client key by route so one key cannot replay a
// different endpoint's response.
func idempotencyKey(r *http.Request) string {
	if r.Method == http.MethodGet {
		return ""
	}
	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if key == "" {
		return ""
	}
	return r.Method + " " + r.URL.Path + " " + key
}

func (h *Handler) tryReplay(w http.ResponseWriter, r *http.Request) bool {
	key := idempotencyKey(r)
	if key == "" {
		return false
	}
	cached, ok := h.store.Recall(r.Context(), key)
	if !ok {
		return false
	}
	for k, v := range cached.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
	return true
}

func (h *Handler) remember(r *http.Request, w http.ResponseWriter, status int, payload []byte) {
	key := idempotencyKey(r)
	if key == "" {
		return
	}
	headers := make(map[string]string, len(w.Header()))
	for k := range w.Header() {
		headers[k] = w.Header().Get(k)
	}
	err := h.store.Remember(r.Context(), key, storage.StoredResponse{
		StatusCode: status,
		Body:       append([]byte(nil), payload...),
		Headers:    headers,
		ExpiresAt:  h.clock().Add(idempotencyTTL),
	})
	if err != nil {
		h.logger.Warn("remember response failed", "error", err, "correlationId", correlationIDFrom(r.Context()))
	}
}

// writeMutation writes a successful state change and caches it for replay.
func (h *Handler) writeMutation(w http.ResponseWriter, r *http.Request, status int, data any) {
	payload := h.writeSuccess(w, status, data, nil, r)
	h.remember(r, w, status, payload)
}

func (h *Handler) writeSuccess(w http.ResponseWriter, status int, data any, meta any, r *http.Request) []byte {
	env := responseEnvelope{Data: data, Meta: meta}
	payload := mustJSON(env)
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		h.logger.Warn("write success failed", "error", err, "correlationId", correlationIDFrom(r.Context()))
	}
	return payload
}

func (h *Handler) writeErrorWithRequest(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	h.writeError(w, status, code, message, correlationIDFrom(r.Context()), details)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message, correlationID string, details any) {
	env := responseEnvelope{Error: &errorEnvelope{Code: code, Message: message, Details: details, CorrelationID: correlationID}}
	payload := mustJSON(env)
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		h.logger.Warn("write error failed", "error", err, "correlationId", correlationID)
	}
}

func mustJSON(v any) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return payload
}

// decodeJSON parses a request body into dst. An empty body leaves dst
// untouched; unknown fields and trailing data are rejected.
func decodeJSON(body []byte, dst any) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if dec.More() {
		return errors.New("invalid json: trailing data after object")
	}
	return nil
}

func correlationIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyCorrelationID).(string); ok {
		return v
	}
	return ""
}
