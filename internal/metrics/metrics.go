package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QuotesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_quotes_created_total",
			Help: "Quotes created, by resource type.",
		},
		[]string{"resource_type"},
	)

	// Terminal negotiation outcomes: accepted | rejected | max_rounds_reached.
	NegotiationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_negotiation_outcomes_total",
			Help: "Negotiations reaching a terminal state, by outcome and resource type.",
		},
		[]string{"outcome", "resource_type"},
	)

	NegotiationRounds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "market_negotiation_rounds",
			Help:    "Rounds taken to reach a terminal state.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		},
		[]string{"outcome"},
	)

	NegotiationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "market_negotiation_duration_seconds",
			Help:    "Wall time of a Negotiate call.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"outcome"},
	)

	// Decisions taken by either party, by source (rule | oracle | fallback | override).
	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_negotiation_decisions_total",
			Help: "Party decisions by role, action and source.",
		},
		[]string{"role", "action", "source"},
	)

	InventoryAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "market_inventory_available_units",
			Help: "Unreserved units per resource type at the last availability check.",
		},
		[]string{"resource_type"},
	)

	OracleRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_oracle_requests_total",
			Help: "Pricing oracle attempts by role and result.",
		},
		[]string{"role", "result"}, // ok | error | timeout | invalid
	)

	OracleLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "market_oracle_latency_seconds",
			Help:    "Latency of individual pricing oracle attempts.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"role"},
	)

	Fallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_fallback_decisions_total",
			Help: "Deterministic fallback pricing used instead of the oracle.",
		},
		[]string{"role", "reason"},
	)

	PaymentCaptures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_payment_captures_total",
			Help: "Payment capture attempts by provider and result.",
		},
		[]string{"provider", "result"}, // succeeded | declined | unavailable
	)

	ReservationsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "market_reservations_expired_total",
			Help: "Reservations released by the sweeper.",
		},
	)

	NATSMessageCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_total",
			Help: "Total number of NATS messages processed.",
		},
		[]string{"subject", "result"}, // result = "ok" | "error"
	)

	NATSMessageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nats_message_latency_seconds",
			Help:    "Time taken to publish NATS messages",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subject"},
	)

	SecretsCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secrets_cache_access_total",
			Help: "Number of cache hits/misses in secret cache.",
		},
		[]string{"result"}, // hit | miss
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_errors_total",
			Help: "Count of service errors by component.",
		},
		[]string{"component", "reason"},
	)

	// Unix seconds of the last completed background job run.
	LastJobRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "market_last_job_run_timestamp",
			Help: "Timestamp (unix seconds) of the last successful background job run.",
		},
		[]string{"job"},
	)
)

// ObserveDuration records the time since start on a histogram or summary vector.
func ObserveDuration(v interface{}, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	default:
		// counters are not meant for duration tracking
	}
}

func IncQuoteCreated(resourceType string) {
	QuotesCreated.WithLabelValues(resourceType).Inc()
}

func RecordOutcome(outcome, resourceType string, rounds int) {
	NegotiationOutcomes.WithLabelValues(outcome, resourceType).Inc()
	NegotiationRounds.WithLabelValues(outcome).Observe(float64(rounds))
}

func IncDecision(role, action, source string) {
	Decisions.WithLabelValues(role, action, source).Inc()
}

func IncOracleRequest(role, result string) {
	OracleRequests.WithLabelValues(role, result).Inc()
}

func IncFallback(role, reason string) {
	Fallbacks.WithLabelValues(role, reason).Inc()
}

func IncPaymentCapture(provider, result string) {
	PaymentCaptures.WithLabelValues(provider, result).Inc()
}

func IncNATSMessage(subject, result string) {
	NATSMessageCount.WithLabelValues(subject, result).Inc()
}

func IncCacheHit(result string) {
	SecretsCacheHits.WithLabelValues(result).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func SetLastJobRun(job string, t time.Time) {
	LastJobRun.WithLabelValues(job).Set(float64(t.Unix()))
}

func SetInventoryAvailable(resourceType string, units int) {
	InventoryAvailable.WithLabelValues(resourceType).Set(float64(units))
}
