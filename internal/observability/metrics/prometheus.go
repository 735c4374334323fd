// Package metrics provides Prometheus metrics for the triage coordinator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	IntakesAccepted   prometheus.Counter
	IntakesRejected   prometheus.Counter
	ScoringFailures   prometheus.Counter
	ScoringDuration   prometheus.Histogram
	RecordsByRisk     *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
	AlertsPublished   prometheus.Counter
	AlertsDropped     prometheus.Counter
	StreamSubscribers prometheus.Gauge
	OutboxPending     prometheus.Gauge
	BreakerState      *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		IntakesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triage_intakes_accepted_total",
			Help: "Total intakes accepted after validation",
		}),
		IntakesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triage_intakes_rejected_total",
			Help: "Total intakes rejected by validation",
		}),
		ScoringFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triage_scoring_failures_total",
			Help: "Total risk scoring calls that failed or violated the contract",
		}),
		ScoringDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "triage_scoring_duration_seconds",
			Help:    "Risk scoring call duration",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		RecordsByRisk: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_records_created_total",
			Help: "Appointment records created by risk level",
		}, []string{"risk_level"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "triage_queue_depth",
			Help: "Non-terminal appointment records in the queue",
		}),
		AlertsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triage_alerts_published_total",
			Help: "Total high-risk alerts published",
		}),
		AlertsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triage_alerts_dropped_total",
			Help: "Total alerts dropped due to slow subscribers",
		}),
		StreamSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "triage_stream_subscribers",
			Help: "Currently connected alert stream subscribers",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending alert outbox entries",
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.IntakesAccepted,
		m.IntakesRejected,
		m.ScoringFailures,
		m.ScoringDuration,
		m.RecordsByRisk,
		m.QueueDepth,
		m.AlertsPublished,
		m.AlertsDropped,
		m.StreamSubscribers,
		m.OutboxPending,
		m.BreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
