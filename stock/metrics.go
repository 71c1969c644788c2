package stock

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for stock sources.
type Metrics struct {
	Registry        *prometheus.Registry
	ChecksTotal     prometheus.Counter
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	ErrorsTotal     *prometheus.CounterVec
	CacheHitsTotal  prometheus.Counter
	InStock         prometheus.Gauge
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	checks := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stock_checks_total",
			Help: "Total polling passes completed.",
		},
	)
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stock_requests_total",
			Help: "Total availability requests issued by phase.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stock_request_duration_seconds",
			Help:    "Availability request latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stock_errors_total",
			Help: "Total availability check errors by type.",
		},
		[]string{"error_type"},
	)
	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stock_cache_hits_total",
			Help: "Availability checks served from the response cache.",
		},
	)
	inStock := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stock_items_in_stock",
			Help: "Items observed available in the latest pass.",
		},
	)

	registry.MustRegister(checks, requests, requestDuration, errorsTotal, cacheHits, inStock)

	return &Metrics{
		Registry:        registry,
		ChecksTotal:     checks,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		ErrorsTotal:     errorsTotal,
		CacheHitsTotal:  cacheHits,
		InStock:         inStock,
	}
}

// IncCheck increments the completed-pass counter.
func (m *Metrics) IncCheck() {
	if m == nil {
		return
	}
	m.ChecksTotal.Inc()
}

// IncRequest increments the request counter for a phase label.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records a request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncCacheHit increments the cache hit counter.
func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

// SetInStock records how many items were available in the latest pass.
func (m *Metrics) SetInStock(n int) {
	if m == nil {
		return
	}
	m.InStock.Set(float64(n))
}
