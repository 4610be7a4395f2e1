// Package metrics provides Prometheus metrics for the settlement engine.
package metrics

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tutu-network/poco/internal/domain"
)

// ─── Operations ─────────────────────────────────────────────────────────────

// Operations counts engine operations by name and outcome (ok or the error
// class).
var Operations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "poco",
	Name:      "operations_total",
	Help:      "Total engine operations by outcome.",
}, []string{"op", "outcome"})

// OperationLatency tracks how long an operation held the engine lock.
var OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "poco",
	Name:      "operation_latency_seconds",
	Help:      "Engine operation duration in seconds.",
	Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
}, []string{"op"})

// ─── Deals & Tasks ──────────────────────────────────────────────────────────

// DealsMatched counts deals created, split by whether a sponsor paid.
var DealsMatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "poco",
	Name:      "deals_matched_total",
	Help:      "Total deals created.",
}, []string{"sponsored"})

// TasksMatched counts task slots created by matches.
var TasksMatched = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "poco",
	Name:      "tasks_matched_total",
	Help:      "Total tasks covered by matched deals.",
})

// TasksFinalized counts tasks by terminal status.
var TasksFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "poco",
	Name:      "tasks_finalized_total",
	Help:      "Total tasks reaching a terminal state.",
}, []string{"status"})

// OrdersManaged counts presign and close operations.
var OrdersManaged = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "poco",
	Name:      "orders_managed_total",
	Help:      "Total order presign and close operations.",
}, []string{"operation"})

// ─── Escrow ─────────────────────────────────────────────────────────────────

// EscrowVolume sums the amounts moved by each ledger primitive.
var EscrowVolume = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "poco",
	Name:      "escrow_volume_total",
	Help:      "Total amount moved per ledger primitive.",
}, []string{"kind"})

// KittyFrozen tracks the kitty pool.
var KittyFrozen = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "poco",
	Name:      "kitty_frozen",
	Help:      "Current frozen balance of the kitty.",
})

// ─── Callbacks ──────────────────────────────────────────────────────────────

// Callbacks counts result forwards by outcome.
var Callbacks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "poco",
	Name:      "callbacks_total",
	Help:      "Total result callbacks by outcome.",
}, []string{"outcome"})

// CallbackLatency tracks callback delivery time.
var CallbackLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "poco",
	Name:      "callback_latency_seconds",
	Help:      "Result callback delivery time in seconds.",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "poco",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// ─── Event Observer ─────────────────────────────────────────────────────────

// Observe updates counters from committed events. It is subscribed to the
// event bus by the daemon.
func Observe(events []domain.Event) {
	sponsored := make(map[common.Hash]bool)
	for _, e := range events {
		if e.Kind == domain.EventDealSponsored {
			sponsored[e.DealID] = true
		}
	}
	for _, e := range events {
		switch e.Kind {
		case domain.EventOrdersMatched:
			if sponsored[e.DealID] {
				DealsMatched.WithLabelValues("true").Inc()
			} else {
				DealsMatched.WithLabelValues("false").Inc()
			}
			TasksMatched.Add(float64(e.Volume))
		case domain.EventResultAccepted:
			TasksFinalized.WithLabelValues(string(domain.TaskCompleted)).Inc()
		case domain.EventTaskFailed:
			TasksFinalized.WithLabelValues(string(domain.TaskFailed)).Inc()
		case domain.EventOrderSigned:
			OrdersManaged.WithLabelValues(string(domain.OpSign)).Inc()
		case domain.EventOrderClosed:
			OrdersManaged.WithLabelValues(string(domain.OpClose)).Inc()
		default:
			if e.Kind.IsBalanceDelta() {
				EscrowVolume.WithLabelValues(string(e.Kind)).Add(float64(e.Amount))
			}
		}
	}
}
