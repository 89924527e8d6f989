// Package metrics holds the service's Prometheus instrumentation. One
// Metrics instance is built at startup on its own registry and injected;
// nothing registers into the client library's global default registry, so
// tests can run isolated instances.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaychat/semsearch/internal/breaker"
)

// Metrics is the full instrument set.
type Metrics struct {
	registry *prometheus.Registry
	factory  promauto.Factory

	indexOutcomes      *prometheus.CounterVec
	dependencyAttempts *prometheus.CounterVec
	searchDuration     prometheus.Histogram
	searchResults      prometheus.Histogram
}

// New creates every instrument on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		factory:  factory,
		indexOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "semsearch_index_outcomes_total",
			Help: "Indexing pipeline completions by outcome (indexed, failed, skipped).",
		}, []string{"outcome"}),
		dependencyAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "semsearch_dependency_attempts_total",
			Help: "External dependency call attempts by result (ok, transient, deadline, error).",
		}, []string{"dependency", "result"}),
		searchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "semsearch_search_duration_seconds",
			Help:    "End-to-end semantic search latency.",
			Buckets: prometheus.DefBuckets,
		}),
		searchResults: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "semsearch_search_results",
			Help:    "Result count per search.",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		}),
	}
}

// RecordIndexOutcome counts one finished indexing attempt. Outcome matches
// the indexer's callback values.
func (m *Metrics) RecordIndexOutcome(outcome string) {
	m.indexOutcomes.WithLabelValues(outcome).Inc()
}

// RecordAttempt counts one call attempt against an external dependency.
func (m *Metrics) RecordAttempt(dependency, result string) {
	m.dependencyAttempts.WithLabelValues(dependency, result).Inc()
}

// RecordSearch observes one completed search.
func (m *Metrics) RecordSearch(elapsed time.Duration, results int) {
	m.searchDuration.Observe(elapsed.Seconds())
	m.searchResults.Observe(float64(results))
}

// WatchQueueDepth registers a gauge sampled from the indexing queue. Call
// once, after the indexer exists.
func (m *Metrics) WatchQueueDepth(depth func() int) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "semsearch_index_queue_depth",
		Help: "Messages waiting in the indexing queue.",
	}, func() float64 { return float64(depth()) })
}

// WatchCircuit registers a gauge exporting one dependency's circuit state
// (0 closed, 1 open, 2 half-open). Call once per dependency.
func (m *Metrics) WatchCircuit(dependency string, state func() breaker.State) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "semsearch_circuit_state",
		Help:        "Circuit state per dependency (0 closed, 1 open, 2 half-open).",
		ConstLabels: prometheus.Labels{"dependency": dependency},
	}, func() float64 { return float64(state()) })
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
