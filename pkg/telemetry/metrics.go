package telemetry

import (
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics encapsulates Prometheus instrumentation for the engagement engine.
// All observe methods are safe on a nil receiver so wiring stays optional in
// tests.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	eventsIngested prometheus.Counter
	eventsRejected *prometheus.CounterVec
	appendFailures prometheus.Counter
	broadcasts     prometheus.Counter
	alertsEmitted  prometheus.Counter
	activeSessions prometheus.Gauge
}

// New registers the engine collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	eventsIngested := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engagement_events_ingested_total",
		Help: "Metric events accepted into live aggregation",
	})
	eventsRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_events_rejected_total",
		Help: "Metric events rejected before aggregation",
	}, []string{"reason"})
	appendFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "metric_append_failures_total",
		Help: "Durable metric-log appends that failed after retries; the in-memory aggregate diverges from the log by this count",
	})
	broadcasts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_broadcasts_total",
		Help: "Snapshot and status messages published to session subscribers",
	})
	alertsEmitted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_alerts_total",
		Help: "Advisory alerts emitted by the evaluator",
	})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "active_sessions",
		Help: "Sessions currently accepting metric events",
	})
	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(eventsIngested, eventsRejected, appendFailures, broadcasts, alertsEmitted, activeSessions, goroutines)

	return &Metrics{
		registry:       registry,
		handler:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		eventsIngested: eventsIngested,
		eventsRejected: eventsRejected,
		appendFailures: appendFailures,
		broadcasts:     broadcasts,
		alertsEmitted:  alertsEmitted,
		activeSessions: activeSessions,
	}
}

// Handler exposes the Prometheus scrape handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// EventIngested counts one accepted metric event.
func (m *Metrics) EventIngested() {
	if m != nil {
		m.eventsIngested.Inc()
	}
}

// EventRejected counts one rejected metric event by reason.
func (m *Metrics) EventRejected(reason string) {
	if m != nil {
		m.eventsRejected.WithLabelValues(reason).Inc()
	}
}

// AppendFailed counts one metric event lost to the durable log.
func (m *Metrics) AppendFailed() {
	if m != nil {
		m.appendFailures.Inc()
	}
}

// Broadcast counts one published fanout message.
func (m *Metrics) Broadcast() {
	if m != nil {
		m.broadcasts.Inc()
	}
}

// AlertsEmitted counts emitted alerts.
func (m *Metrics) AlertsEmitted(n int) {
	if m != nil && n > 0 {
		m.alertsEmitted.Add(float64(n))
	}
}

// SetActiveSessions records the number of active sessions.
func (m *Metrics) SetActiveSessions(n int) {
	if m != nil {
		m.activeSessions.Set(float64(n))
	}
}
