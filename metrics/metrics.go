// Package metrics provides Prometheus metrics for store operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch results.
const (
	ResultOK    = "ok"
	ResultError = "error"
	ResultEmpty = "empty"
)

// Metrics holds all Prometheus metrics for store operations.
// A nil or disabled Metrics is a no-op.
type Metrics struct {
	enabled bool

	// Read path
	fetchesTotal  *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	staleDiscards *prometheus.CounterVec

	// Write path
	mutationsTotal *prometheus.CounterVec
	rollbacksTotal prometheus.Counter

	// Cache sizes
	entries *prometheus.GaugeVec
}

// Option configures Metrics.
type Option func(*config)

type config struct {
	reg       prometheus.Registerer
	namespace string
}

// WithRegisterer registers metrics on reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *config) { c.reg = reg }
}

// WithNamespace sets the metric name prefix. Default "ats".
func WithNamespace(ns string) Option {
	return func(c *config) { c.namespace = ns }
}

// New creates and registers Prometheus metrics.
// If enabled is false, returns a no-op Metrics instance.
func New(enabled bool, opts ...Option) *Metrics {
	m := &Metrics{enabled: enabled}

	if !enabled {
		return m
	}

	cfg := config{reg: prometheus.DefaultRegisterer, namespace: "ats"}
	for _, o := range opts {
		o(&cfg)
	}
	f := promauto.With(cfg.reg)

	m.fetchesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.namespace,
		Name:      "fetches_total",
		Help:      "Total gateway fetches by domain and result",
	}, []string{"domain", "result"})

	m.fetchDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Gateway fetch duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"domain"})

	m.staleDiscards = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.namespace,
		Name:      "stale_results_discarded_total",
		Help:      "Fetch results discarded because newer state superseded them",
	}, []string{"domain"})

	m.mutationsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.namespace,
		Name:      "mutations_total",
		Help:      "Total mutating intents by operation and result",
	}, []string{"operation", "result"})

	m.rollbacksTotal = f.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.namespace,
		Name:      "company_switch_rollbacks_total",
		Help:      "Optimistic company switches rolled back after revalidation",
	})

	m.entries = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: cfg.namespace,
		Name:      "cached_entries",
		Help:      "Current number of cached rows by domain",
	}, []string{"domain"})

	return m
}

func (m *Metrics) on() bool { return m != nil && m.enabled }

// RecordFetch records one gateway fetch.
func (m *Metrics) RecordFetch(domain, result string, durationSeconds float64) {
	if !m.on() {
		return
	}
	m.fetchesTotal.WithLabelValues(domain, result).Inc()
	m.fetchDuration.WithLabelValues(domain).Observe(durationSeconds)
}

// RecordStaleDiscard records a superseded fetch result.
func (m *Metrics) RecordStaleDiscard(domain string) {
	if !m.on() {
		return
	}
	m.staleDiscards.WithLabelValues(domain).Inc()
}

// RecordMutation records a mutating intent.
func (m *Metrics) RecordMutation(operation string, err error) {
	if !m.on() {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.mutationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordRollback records a rolled-back company switch.
func (m *Metrics) RecordRollback() {
	if !m.on() {
		return
	}
	m.rollbacksTotal.Inc()
}

// SetEntries sets the cached row count of a domain.
func (m *Metrics) SetEntries(domain string, n int) {
	if !m.on() {
		return
	}
	m.entries.WithLabelValues(domain).Set(float64(n))
}
