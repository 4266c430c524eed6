// Package metrics provides Prometheus metrics for volume orchestration.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// namespace is the metric name prefix.
const namespace = "volcrypt"

// Metrics holds all collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	operationsTotal    *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	operationsInFlight *prometheus.GaugeVec

	enumerationsTotal   *prometheus.CounterVec
	enumerationDuration prometheus.Histogram
	cacheHitsTotal      prometheus.Counter
}

// New creates a Metrics instance with every collector registered.
// A private registry keeps repeated construction in tests from panicking.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Volume operations by kind and terminal status",
			},
			[]string{"kind", "status"},
		),

		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Wall time of volume operations",
				Buckets:   []float64{0.5, 1, 5, 15, 60, 300, 900, 3600, 4 * 3600},
			},
			[]string{"kind"},
		),

		operationsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "operations_in_flight",
				Help:      "Operations currently registered",
			},
			[]string{"kind"},
		),

		enumerationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "disk_enumerations_total",
				Help:      "Disk discovery passes by outcome",
			},
			[]string{"status"},
		),

		enumerationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "disk_enumeration_duration_seconds",
			Help:      "Duration of disk discovery passes",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		cacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disk_cache_hits_total",
			Help:      "Disk listings served from the snapshot cache",
		}),
	}

	reg.MustRegister(
		m.operationsTotal,
		m.operationDuration,
		m.operationsInFlight,
		m.enumerationsTotal,
		m.enumerationDuration,
		m.cacheHitsTotal,
	)

	return m
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry exposes the underlying registry for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// OperationStarted increments the in-flight gauge for kind.
func (m *Metrics) OperationStarted(kind string) {
	m.operationsInFlight.WithLabelValues(kind).Inc()
}

// OperationSettled records the terminal status of one operation.
func (m *Metrics) OperationSettled(kind, status string, duration time.Duration) {
	m.operationsInFlight.WithLabelValues(kind).Dec()
	m.operationsTotal.WithLabelValues(kind, status).Inc()
	m.operationDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordEnumeration records one discovery pass.
func (m *Metrics) RecordEnumeration(err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.enumerationsTotal.WithLabelValues(status).Inc()
	m.enumerationDuration.Observe(duration.Seconds())
}

// RecordCacheHit records a listing served from cache.
func (m *Metrics) RecordCacheHit() {
	m.cacheHitsTotal.Inc()
}
