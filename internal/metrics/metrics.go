package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "walletapi"

var (
	// HTTP
	HTTPLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Latency of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// Topups
	TopupsRequested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "topups_requested_total",
			Help:      "Topup attempts created.",
		},
		[]string{"provider"},
	)
	TopupsCredited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "topups_credited_total",
			Help:      "Topup attempts credited to wallets.",
		},
		[]string{"provider"},
	)
	TopupsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "topups_failed_total",
			Help:      "Topup attempts moved to failed.",
		},
		[]string{"code"},
	)
	CreditReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "topup_credit_replays_total",
			Help:      "Credit requests for already credited attempts.",
		},
	)

	// Ledger
	LedgerAmount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_amount_minor_total",
			Help:      "Sum of ledger entries amounts in minor units.",
		},
		[]string{"type", "source"},
	)
	StorageTxRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_tx_retries_total",
			Help:      "Storage transactions retried after transient failure.",
		},
	)

	// Reconciler
	ReconcileQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconcile_queue_depth",
			Help:      "Pending topups queued for reconciliation.",
		},
	)
)

// Handler for /metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}
