package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for relay ingress and relayer key management
var (
	// Counter for relayer token checks
	relayTokenCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "onchainid",
			Name:      "relay_token_validations_total",
			Help:      "Relayer token checks by result.",
		},
		[]string{"result"}, // valid, invalid, missing
	)

	// Counter for relayer key changes
	keyRotationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "onchainid",
			Name:      "relayer_key_changes_total",
			Help:      "Relayer key additions and retirements by result.",
		},
		[]string{"action", "result"}, // add|retire, success|failure
	)

	// Counter for requests rejected by the write rate limiter
	rateLimitedCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "onchainid",
			Name:      "http_rate_limited_total",
			Help:      "Writes rejected by the rate limiter.",
		},
	)
)

func (h *Handler) metricsHandler(w http.ResponseWriter, r *http.Request) {
	NewMetricsHandler().ServeHTTP(w, r)
}

// NewMetricsHandler serves the default registry, which holds the HTTP,
// ledger and executor metrics. identityd mounts it on its own listener.
func NewMetricsHandler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
