// Package metrics holds the Prometheus collectors shared across the service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "escrowpay"

var (
	// LedgerOpsTotal counts ledger postings by operation and outcome.
	LedgerOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_operations_total",
			Help:      "Total ledger postings by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	// LedgerOpDuration observes posting latency by operation.
	LedgerOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_operation_duration_seconds",
			Help:      "Ledger posting duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"op"},
	)

	// EscrowSendsTotal counts send attempts by outcome.
	EscrowSendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "sends_total",
			Help:      "Escrow send attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// EscrowRedemptionsTotal counts redemption attempts by outcome.
	EscrowRedemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "redemptions_total",
			Help:      "Escrow redemption attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// EscrowTransitionsTotal counts committed status transitions.
	EscrowTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "transitions_total",
			Help:      "Committed escrow status transitions by target status and trigger.",
		},
		[]string{"status", "trigger"},
	)

	// ReconcileRunsTotal counts reconciler sweeps by outcome.
	ReconcileRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "runs_total",
			Help:      "Expiry reconciler sweeps by outcome.",
		},
		[]string{"outcome"},
	)

	// ReconcileRecordsTotal counts records touched by the reconciler.
	ReconcileRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "records_total",
			Help:      "Records processed by the reconciler by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	// HTTPRequestsTotal counts served requests by route and status class.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status class.",
		},
		[]string{"method", "route", "status"},
	)

	// RateLimitedTotal counts requests rejected by a rate limiter.
	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by rate limiting, by scope.",
		},
		[]string{"scope"},
	)

	// SideEffectsTotal counts fire-and-forget notifications and payouts.
	SideEffectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effects_total",
			Help:      "Fire-and-forget side effects by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		LedgerOpsTotal,
		LedgerOpDuration,
		EscrowSendsTotal,
		EscrowRedemptionsTotal,
		EscrowTransitionsTotal,
		ReconcileRunsTotal,
		ReconcileRecordsTotal,
		SideEffectsTotal,
		HTTPRequestsTotal,
		RateLimitedTotal,
	)
}

// ObserveLedgerOp starts timing a ledger posting; the returned func records
// the duration and outcome.
func ObserveLedgerOp(op string) func(outcome string) {
	start := time.Now()
	return func(outcome string) {
		LedgerOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		LedgerOpsTotal.WithLabelValues(op, outcome).Inc()
	}
}

// StatusClass groups HTTP status codes into 1xx..5xx buckets.
func StatusClass(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
