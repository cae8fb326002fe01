package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const prefix = "txqueue_"

var (
	TransactionsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: prefix + "transactions_enqueued_total",
		Help: "The total number of enqueued transactions",
	}, []string{"chain_id", "priority"})

	TransactionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: prefix + "transactions_finished_total",
		Help: "The total number of transactions that reached a terminal status",
	}, []string{"chain_id", "status"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: prefix + "queue_depth",
		Help: "Number of transactions per status",
	}, []string{"status"})

	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: prefix + "in_flight",
		Help: "Number of transactions pending or submitted",
	})

	PriorityBoosts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: prefix + "priority_boosts_total",
		Help: "Number of aging promotions by target priority",
	}, []string{"priority"})

	SubmissionTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    prefix + "submission_seconds",
		Help:    "Time taken to sign and broadcast a transaction",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // Start at 50ms with 10 buckets doubling in size
	}, []string{"chain_id"})

	ConfirmationTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    prefix + "confirmation_seconds",
		Help:    "Time from enqueue to confirmation",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // Start at 1s with 12 buckets doubling in size
	}, []string{"chain_id"})

	Failures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: prefix + "failures_total",
		Help: "Total number of failed transactions by classified reason",
	}, []string{"chain_id", "reason"})

	RecoveryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: prefix + "recovery_attempts_total",
		Help: "Number of executed recoveries by strategy and outcome",
	}, []string{"strategy", "outcome"})

	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: prefix + "circuit_breaker_trips_total",
		Help: "Number of times the per chain circuit breaker opened",
	}, []string{"chain_id"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: prefix + "events_dropped_total",
		Help: "Events not delivered because the subscriber buffer was full",
	}, []string{"type"})

	RPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: prefix + "rpc_requests_total",
		Help: "Number of txq JSON-RPC calls by method and result",
	}, []string{"method", "result"})

	RPCRequestTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    prefix + "rpc_request_seconds",
		Help:    "Time taken to execute a txq JSON-RPC call",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // Start at 1ms with 12 buckets doubling in size
	}, []string{"method"})
)

// Chain formats a chain id as a label value
func Chain(chainID uint64) string {
	return strconv.FormatUint(chainID, 10)
}

// ObserveSince records the seconds elapsed since start in the histogram of the chain
func ObserveSince(h *prometheus.HistogramVec, chainID uint64, start, now time.Time) {
	h.WithLabelValues(Chain(chainID)).Observe(now.Sub(start).Seconds())
}

// ObserveRPC records a txq JSON-RPC call
func ObserveRPC(method string, success bool, elapsed time.Duration) {
	result := "error"
	if success {
		result = "success"
	}
	RPCRequests.WithLabelValues(method, result).Inc()
	RPCRequestTime.WithLabelValues(method).Observe(elapsed.Seconds())
}
