// Package observability holds the Prometheus collectors shared by the
// service, gateway and HTTP layers. They register on the default registry,
// which /metrics serves.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DownloadsTotal counts download attempts by outcome: credited, replayed,
	// rejected or failed.
	DownloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notesfy_downloads_total",
		Help: "Paid download attempts by result",
	}, []string{"result"})

	// LedgerCreditPaise is the total reward credited to authors, in paise.
	LedgerCreditPaise = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notesfy_ledger_credit_paise_total",
		Help: "Total download rewards credited to authors, in paise",
	})

	// WithdrawalsTotal counts payout requests by outcome.
	WithdrawalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notesfy_withdrawals_total",
		Help: "Withdrawal requests by result",
	}, []string{"result"})

	GatewayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notesfy_gateway_requests_total",
		Help: "Payment gateway calls by operation and outcome",
	}, []string{"operation", "outcome"})

	GatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notesfy_gateway_request_duration_seconds",
		Help:    "Payment gateway call latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notesfy_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// TrackGatewayCall returns a function that records the call's latency and
// outcome when called, typically deferred with a pointer to the outcome.
func TrackGatewayCall(operation string) func(outcome string) {
	start := time.Now()
	return func(outcome string) {
		GatewayRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		GatewayRequestsTotal.WithLabelValues(operation, outcome).Inc()
	}
}
