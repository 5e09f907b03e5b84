package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for program operations
var (
	// Counter for identity and factory operations by operation and result
	identityOperationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_operations_total",
			Help: "Total number of identity and factory operations, by operation and result.",
		},
		[]string{"op", "result"}, // success, failure
	)

	// Counter for relayed messages by method and result
	relayMessageCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Total number of relayed messages received, by method and result.",
		},
		[]string{"method", "result"},
	)
)

func resultLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
