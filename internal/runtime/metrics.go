package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for transaction execution
var (
	// Counter for executed transactions by result
	transactionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transactions_total",
			Help: "Total number of ledger transactions, by result.",
		},
		[]string{"result"}, // committed, aborted, readonly
	)

	// Histogram for transaction latency including lock wait
	transactionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledger_transaction_duration_seconds",
			Help:    "Ledger transaction duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)
