// Package metrics provides Prometheus metrics for the portal integration engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	OrdersReceived        prometheus.Counter
	OrdersSubmitted       prometheus.Counter
	OrdersFailed          prometheus.Counter
	OrdersCancelled       prometheus.Counter
	OrdersEscalated       prometheus.Counter
	PortalRetries         prometheus.Counter
	PreviewsExpired       prometheus.Counter
	EligibilityChecks     *prometheus.CounterVec
	SubmissionDuration    prometheus.Histogram
	ActiveSessions        prometheus.Gauge
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	OutboxPending         prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		OrdersReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_orders_received_total",
			Help: "Total lab orders accepted at intake",
		}),
		OrdersSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_orders_submitted_total",
			Help: "Total lab orders submitted to the portal",
		}),
		OrdersFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_orders_failed_total",
			Help: "Total lab orders that ended in failure",
		}),
		OrdersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_orders_cancelled_total",
			Help: "Total lab orders cancelled by an operator",
		}),
		OrdersEscalated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_orders_escalated_total",
			Help: "Total failed orders escalated to humans",
		}),
		PortalRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_retries_total",
			Help: "Total retried portal attempts",
		}),
		PreviewsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_previews_expired_total",
			Help: "Total previews that expired unconfirmed",
		}),
		EligibilityChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eligibility_checks_total",
			Help: "Total eligibility checks by outcome",
		}, []string{"outcome"}),
		SubmissionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "portal_submission_duration_seconds",
			Help:    "Time from intake to portal submission",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portal_active_sessions",
			Help: "Browser sessions currently open",
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.OrdersReceived,
		m.OrdersSubmitted,
		m.OrdersFailed,
		m.OrdersCancelled,
		m.OrdersEscalated,
		m.PortalRetries,
		m.PreviewsExpired,
		m.EligibilityChecks,
		m.SubmissionDuration,
		m.ActiveSessions,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
