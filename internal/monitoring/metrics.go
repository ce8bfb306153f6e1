// Package monitoring tracks allocation run health: Prometheus instruments
// for live runs, store-backed snapshots, and threshold alerts.
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/herdline/breeding-cli/internal/model"
)

const namespace = "breeding"

// Metrics holds the Prometheus instruments for allocation runs. Each Metrics
// owns its registry so tests and multiple hosts do not collide.
type Metrics struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	assignments *prometheus.CounterVec
	shortfalls  *prometheus.CounterVec
	warnings    *prometheus.CounterVec
	duration    prometheus.Histogram
	active      prometheus.Gauge
}

// NewMetrics creates and registers the run instruments plus the Go runtime
// and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Allocation runs by terminal status.",
		}, []string{"status"}),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignments_total",
			Help:      "Bull assignments by semen class and rank.",
		}, []string{"class", "rank"}),
		shortfalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shortfalls_total",
			Help:      "Cow/class pairs left with fewer than three choices.",
		}, []string{"class"}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_total",
			Help:      "Data-quality warnings by kind.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of completed allocation runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Allocation runs currently executing.",
		}),
	}
	m.registry.MustRegister(
		m.runs, m.assignments, m.shortfalls, m.warnings, m.duration, m.active,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RunStarted marks a run as executing.
func (m *Metrics) RunStarted() {
	m.active.Inc()
}

// RunFinished records a run leaving the executing state. res is nil unless
// the run completed.
func (m *Metrics) RunFinished(status model.RunStatus, res *model.RunResult, elapsed time.Duration) {
	m.active.Dec()
	m.runs.WithLabelValues(string(status)).Inc()
	if res == nil {
		return
	}

	m.duration.Observe(elapsed.Seconds())
	for _, a := range res.Assignments {
		m.assignments.WithLabelValues(string(a.Class), strconv.Itoa(a.Rank)).Inc()
	}
	for _, s := range res.Shortfalls {
		m.shortfalls.WithLabelValues(string(s.Class)).Inc()
	}
	for _, w := range res.Summary.Warnings {
		m.warnings.WithLabelValues(string(w.Kind)).Inc()
	}
}
