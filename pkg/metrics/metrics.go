package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics. A nil *Metrics is valid and records
// nothing, which keeps collaborators free of nil checks.
type Metrics struct {
	// Engine metrics
	AssociationTransitions *prometheus.CounterVec
	SeatOperations         *prometheus.CounterVec
	CascadeLinks           *prometheus.CounterVec
	ListenerFailures       *prometheus.CounterVec

	// Outbox related metrics
	OutboxEventsProcessed   prometheus.Counter
	OutboxEventsFailed      prometheus.Counter
	OutboxProcessingLatency prometheus.Histogram
	OutboxRetries           *prometheus.CounterVec

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
}

// NewMetrics creates all application metrics and registers them on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AssociationTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "association_transitions_total",
			Help:      "Association status transitions by relation kind and target status",
		}, []string{"kind", "status"}),
		SeatOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "license_seat_operations_total",
			Help:      "License seat reservations and releases by outcome",
		}, []string{"operation", "result"}),
		CascadeLinks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cascade_links_total",
			Help:      "Employee links processed by cascades, by outcome",
		}, []string{"direction", "outcome"}),
		ListenerFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transition_listener_failures_total",
			Help:      "Transition listeners that returned an error",
		}, []string{"transition"}),

		OutboxEventsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_processed_total",
			Help:      "Total number of successfully processed outbox events",
		}),
		OutboxEventsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_failed_total",
			Help:      "Total number of failed outbox events",
		}),
		OutboxProcessingLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_processing_duration_seconds",
			Help:      "Time spent processing outbox events",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		OutboxRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_retry_attempts_total",
			Help:      "Total number of retry attempts for outbox events",
		}, []string{"event_type"}),

		DatabaseOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}

func (m *Metrics) Transition(kind, status string) {
	if m == nil {
		return
	}
	m.AssociationTransitions.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) Seat(operation, result string) {
	if m == nil {
		return
	}
	m.SeatOperations.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) CascadeLink(direction, outcome string) {
	if m == nil {
		return
	}
	m.CascadeLinks.WithLabelValues(direction, outcome).Inc()
}

func (m *Metrics) ListenerFailure(transition string) {
	if m == nil {
		return
	}
	m.ListenerFailures.WithLabelValues(transition).Inc()
}

func (m *Metrics) OutboxProcessed() {
	if m == nil {
		return
	}
	m.OutboxEventsProcessed.Inc()
}

func (m *Metrics) OutboxFailed() {
	if m == nil {
		return
	}
	m.OutboxEventsFailed.Inc()
}

func (m *Metrics) OutboxRetry(eventType string) {
	if m == nil {
		return
	}
	m.OutboxRetries.WithLabelValues(eventType).Inc()
}

func (m *Metrics) DatabaseOperation(operation, status string) {
	if m == nil {
		return
	}
	m.DatabaseOperations.WithLabelValues(operation, status).Inc()
}

// ProcessingTimer starts a timer on the outbox latency histogram. The returned
// func records the observation.
func (m *Metrics) ProcessingTimer() func() {
	if m == nil {
		return func() {}
	}
	timer := prometheus.NewTimer(m.OutboxProcessingLatency)
	return func() { timer.ObserveDuration() }
}
