package rwconn

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rwconn"

// Metrics collects query and cache counters of any number of coordinators.
// It implements prometheus.Collector; a nil *Metrics records nothing.
type Metrics struct {
	queries      *prometheus.CounterVec
	autoCommits  *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
	cacheErrors  prometheus.Counter
}

// NewMetrics creates a new Metrics instance. It must be registered by the
// caller.
func NewMetrics() *Metrics {
	return &Metrics{
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Total number of queries run against the database.",
			},
			[]string{"mode", "result"},
		),
		autoCommits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auto_commits_total",
				Help:      "Total number of transactions committed by the coordinator itself.",
			},
			[]string{"mode"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Total number of cache lookups by result.",
			},
			[]string{"result"},
		),
		cacheErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "errors_total",
				Help:      "Total number of cache failures that fell back to the database.",
			},
		),
	}
}

func mode(write bool) string {
	if write {
		return "write"
	}
	return "read"
}

func (m *Metrics) query(write bool, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.queries.WithLabelValues(mode(write), result).Inc()
}

func (m *Metrics) autoCommit(write bool) {
	if m == nil {
		return
	}
	m.autoCommits.WithLabelValues(mode(write)).Inc()
}

func (m *Metrics) cacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) cacheError() {
	if m == nil {
		return
	}
	m.cacheErrors.Inc()
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.queries.Describe(ch)
	m.autoCommits.Describe(ch)
	m.cacheLookups.Describe(ch)
	m.cacheErrors.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.queries.Collect(ch)
	m.autoCommits.Collect(ch)
	m.cacheLookups.Collect(ch)
	m.cacheErrors.Collect(ch)
}

// check interfaces
var (
	_ prometheus.Collector = (*Metrics)(nil)
)
