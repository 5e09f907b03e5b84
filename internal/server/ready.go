package server

import (
	"context"
	"net/http"
	"time"
)

// pinger is implemented by stores backed by a database.
type pinger interface {
	Ping(ctx context.Context) error
}

// readyTimeout bounds the readiness probe.
const readyTimeout = 5 * time.Second

// readyHandler reports 200 once the store answers and the factory account can
// be read through the ledger, 503 otherwise. An uninitialized factory is ready.
func (h *Handler) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if reason := h.notReady(ctx); reason != "" {
		h.logger.Warn("readiness check failed", "reason", reason)
		w.Header().Set(headerContentType, contentTypeJSON)
		h.writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", reason, correlationIDFrom(r.Context()), nil)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) notReady(ctx context.Context) string {
	if p, ok := h.store.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return "database not ready"
		}
	}
	if _, err := h.ledger.Factory(ctx); err != nil {
		return "factory state unreadable"
	}
	return ""
}
