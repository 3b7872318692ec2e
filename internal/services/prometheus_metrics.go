package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusMetrics struct {
	ledgerOperations          *prometheus.CounterVec
	ledgerOperationDuration   prometheus.Histogram
	activeSubscriptions       prometheus.Gauge
	reconcileDrift            prometheus.Gauge
	ledgerEventsPublished     *prometheus.CounterVec
	circuitBreakerState       *prometheus.GaugeVec
	authenticationEventsTotal *prometheus.CounterVec
	apiErrorsTotal            *prometheus.CounterVec
}

// NewPrometheusMetrics registers the collectors on reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewPrometheusMetrics(reg prometheus.Registerer) MetricsRecorderInterface {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		ledgerOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_operations_total",
				Help: "Total number of ledger operations by outcome",
			},
			[]string{"operation", "status"},
		),
		ledgerOperationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ledger_operation_duration_milliseconds",
				Help:    "Ledger operation duration in milliseconds",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
		activeSubscriptions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ledger_active_subscriptions",
				Help: "Current number of live ledger subscriptions",
			},
		),
		reconcileDrift: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ledger_reconcile_drift",
				Help: "Absolute drift between total_savings and the transaction sum found by the last reconcile",
			},
		),
		ledgerEventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_events_published_total",
				Help: "Total number of ledger events handed to the event stream",
			},
			[]string{"status"},
		),
		circuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"service"},
		),
		authenticationEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authentication_events_total",
				Help: "Total number of authentication events",
			},
			[]string{"event_type"},
		),
		apiErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_errors_total",
				Help: "Total number of error responses by error code",
			},
			[]string{"code"},
		),
	}
}

func (m *PrometheusMetrics) IncrementCounter(name string, tags map[string]string) {
	status := tags["status"]

	switch name {
	case "ledger.operation":
		if status != "" {
			m.ledgerOperations.WithLabelValues(tags["operation"], status).Inc()
		}
	case "ledger.event.published":
		if status != "" {
			m.ledgerEventsPublished.WithLabelValues(status).Inc()
		}
	case "authentication_event":
		if eventType := tags["event_type"]; eventType != "" {
			m.authenticationEventsTotal.WithLabelValues(eventType).Inc()
		}
	case "api_error":
		if code := tags["code"]; code != "" {
			m.apiErrorsTotal.WithLabelValues(code).Inc()
		}
	}
}

func (m *PrometheusMetrics) RecordProcessingTime(name string, duration time.Duration) {
	switch name {
	case "ledger.operation":
		m.ledgerOperationDuration.Observe(float64(duration.Milliseconds()))
	}
}

func (m *PrometheusMetrics) RecordGauge(name string, value float64, tags map[string]string) {
	switch name {
	case "ledger.subscriptions.active":
		m.activeSubscriptions.Set(value)
	case "ledger.reconcile.drift":
		m.reconcileDrift.Set(value)
	case "circuit_breaker.state":
		if service := tags["service"]; service != "" {
			m.circuitBreakerState.WithLabelValues(service).Set(value)
		}
	}
}
