package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus collectors for the detection core.
type Metrics struct {
	ObservationsProcessed prometheus.Counter
	ObservationsInvalid   prometheus.Counter
	FindingsGenerated     prometheus.Counter
	EventsStored          prometheus.Counter
	EventsEvicted         *prometheus.CounterVec
	NotificationsSent     prometheus.Counter
	NotificationsFailed   prometheus.Counter
	PersistFailures       prometheus.Counter
	PatternErrors         prometheus.Counter

	EventsInStore  prometheus.Gauge
	HighRiskEvents prometheus.Gauge
	RulesLoaded    prometheus.Gauge
	NatsConnected  prometheus.Gauge

	ClassifyDuration prometheus.Histogram
}

// New registers and returns the collectors on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors on a specific registry, which
// keeps parallel tests from colliding on the default one.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ObservationsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "exfilguard_observations_processed_total",
			Help: "Total observations received and classified",
		}),
		ObservationsInvalid: factory.NewCounter(prometheus.CounterOpts{
			Name: "exfilguard_observations_invalid_total",
			Help: "Observations dropped as malformed",
		}),
		FindingsGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "exfilguard_findings_generated_total",
			Help: "Rule findings produced by classification",
		}),
		EventsStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "exfilguard_events_stored_total",
			Help: "Events inserted into the store",
		}),
		EventsEvicted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exfilguard_events_evicted_total",
			Help: "Events evicted from the store",
		}, []string{"reason"}), // capacity or age
		NotificationsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "exfilguard_notifications_sent_total",
			Help: "Alert notifications dispatched",
		}),
		NotificationsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "exfilguard_notifications_failed_total",
			Help: "Alert notifications that failed to dispatch",
		}),
		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "exfilguard_persist_failures_total",
			Help: "Durable writes that failed; in-memory state stays authoritative",
		}),
		PatternErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "exfilguard_rule_pattern_errors_total",
			Help: "Rule patterns skipped because they failed to compile",
		}),
		EventsInStore: factory.NewGauge(prometheus.GaugeOpts{
			Name: "exfilguard_events_in_store",
			Help: "Events currently retained",
		}),
		HighRiskEvents: factory.NewGauge(prometheus.GaugeOpts{
			Name: "exfilguard_high_risk_events",
			Help: "Retained events with severity high or critical",
		}),
		RulesLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "exfilguard_rules_loaded",
			Help: "Enabled rules in the active set",
		}),
		NatsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "exfilguard_nats_connected",
			Help: "Whether the NATS connection is up (1) or down (0)",
		}),
		ClassifyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "exfilguard_classify_duration_seconds",
			Help:    "Time spent classifying one observation",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// SetNatsConnected records the connection state as a gauge.
func (m *Metrics) SetNatsConnected(connected bool) {
	if connected {
		m.NatsConnected.Set(1)
	} else {
		m.NatsConnected.Set(0)
	}
}
