// Package metrics exposes pipeline counters for Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"transformer-telemetry/internal/telemetry"
)

// Metrics groups the pipeline collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	accepted  *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	processed *prometheus.CounterVec
	anomalies *prometheus.CounterVec
	alerts    *prometheus.CounterVec
	running   prometheus.Gauge
}

// New registers the pipeline collectors plus Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trafowatch",
			Name:      "router_accepted_total",
			Help:      "Measurements accepted by the stream router.",
		}, []string{"entity"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trafowatch",
			Name:      "router_dropped_total",
			Help:      "Measurements rejected because the stream router was full or closed.",
		}, []string{"entity"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trafowatch",
			Name:      "samples_processed_total",
			Help:      "Measurements smoothed and classified.",
		}, []string{"entity"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trafowatch",
			Name:      "anomalies_total",
			Help:      "Classified anomalies by entity and kind.",
		}, []string{"entity", "kind"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trafowatch",
			Name:      "alerts_total",
			Help:      "Anomaly alerts by outcome.",
		}, []string{"outcome"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trafowatch",
			Name:      "running",
			Help:      "1 while generators are active.",
		}),
	}

	m.registry.MustRegister(
		m.accepted,
		m.dropped,
		m.processed,
		m.anomalies,
		m.alerts,
		m.running,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Accepted implements router.Observer.
func (m *Metrics) Accepted(id telemetry.EntityID) {
	m.accepted.WithLabelValues(string(id)).Inc()
}

// Dropped implements router.Observer.
func (m *Metrics) Dropped(id telemetry.EntityID) {
	m.dropped.WithLabelValues(string(id)).Inc()
}

// ObserveSample records a processed sample.
func (m *Metrics) ObserveSample(s telemetry.SmoothedSample) {
	id := string(s.Raw.EntityID)
	m.processed.WithLabelValues(id).Inc()
	if s.Anomaly != telemetry.AnomalyNone {
		m.anomalies.WithLabelValues(id, s.Anomaly.String()).Inc()
	}
}

// ObserveAlert records an alert outcome: sent, suppressed, failed or dropped.
func (m *Metrics) ObserveAlert(outcome string) {
	m.alerts.WithLabelValues(outcome).Inc()
}

// SetRunning mirrors the store running flag.
func (m *Metrics) SetRunning(running bool) {
	if running {
		m.running.Set(1)
		return
	}
	m.running.Set(0)
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
