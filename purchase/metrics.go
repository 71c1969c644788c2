package purchase

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the coordinator.
type Metrics struct {
	Registry         *prometheus.Registry
	TicksTotal       *prometheus.CounterVec
	TransitionsTotal *prometheus.CounterVec
	ActiveAttempts   prometheus.Gauge
	LockTimeouts     prometheus.Counter
	TickDuration     prometheus.Histogram
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	ticks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchase_ticks_total",
			Help: "Total coordinator ticks by result.",
		},
		[]string{"result"},
	)
	transitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchase_transitions_total",
			Help: "Total record state transitions by from/to status.",
		},
		[]string{"from", "to"},
	)
	active := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "purchase_active_attempts",
			Help: "Records currently in the attempting state.",
		},
	)
	lockTimeouts := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "purchase_lock_timeouts_total",
			Help: "Ticks abandoned because the state lock could not be acquired.",
		},
	)
	tickDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "purchase_tick_duration_seconds",
			Help:    "Latency of coordinator ticks.",
			Buckets: prometheus.DefBuckets,
		},
	)

	registry.MustRegister(ticks, transitions, active, lockTimeouts, tickDuration)

	return &Metrics{
		Registry:         registry,
		TicksTotal:       ticks,
		TransitionsTotal: transitions,
		ActiveAttempts:   active,
		LockTimeouts:     lockTimeouts,
		TickDuration:     tickDuration,
	}
}

// IncTick increments the tick counter for a result label.
func (m *Metrics) IncTick(result string) {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues(result).Inc()
}

// IncTransition increments the transition counter.
func (m *Metrics) IncTransition(from, to string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(from, to).Inc()
}

// SetActiveAttempts records the current attempting count.
func (m *Metrics) SetActiveAttempts(n int) {
	if m == nil {
		return
	}
	m.ActiveAttempts.Set(float64(n))
}

// IncLockTimeout increments the abandoned-tick counter.
func (m *Metrics) IncLockTimeout() {
	if m == nil {
		return
	}
	m.LockTimeouts.Inc()
}

// ObserveTick records a tick duration.
func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.TickDuration.Observe(d.Seconds())
}
