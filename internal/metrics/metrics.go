// Package metrics exposes Prometheus instrumentation for the acquisition
// pipeline. A nil *Metrics is valid and records nothing, so components and
// tests can run without a registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "feed"

// Metrics groups the collectors shared by catalogs, pipeline, buffer and store.
type Metrics struct {
	catalogRequests *prometheus.CounterVec
	breakerTrips    *prometheus.CounterVec
	pipelineFetches *prometheus.CounterVec
	bufferServes    *prometheus.CounterVec
	cachePops       *prometheus.CounterVec
	backgroundTasks *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		catalogRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_requests_total",
			Help:      "Catalog HTTP requests by catalog and outcome.",
		}, []string{"catalog", "outcome"}),
		breakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_breaker_trips_total",
			Help:      "Circuit breaker openings by catalog and reason.",
		}, []string{"catalog", "reason"}),
		pipelineFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_fetches_total",
			Help:      "Acquisition pipeline invocations by result.",
		}, []string{"result"}),
		bufferServes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_serves_total",
			Help:      "Records served by the lookahead buffer by source.",
		}, []string{"source"}),
		cachePops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overflow_cache_pops_total",
			Help:      "Overflow cache pops by partition and selection tier.",
		}, []string{"partition", "tier"}),
		backgroundTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "background_tasks_total",
			Help:      "Background tasks by name and result.",
		}, []string{"task", "result"}),
	}

	for _, c := range []prometheus.Collector{
		m.catalogRequests, m.breakerTrips, m.pipelineFetches,
		m.bufferServes, m.cachePops, m.backgroundTasks,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// CatalogRequest counts one catalog request outcome ("ok", "rate_limited", "failed", "skipped").
func (m *Metrics) CatalogRequest(catalog, outcome string) {
	if m == nil {
		return
	}
	m.catalogRequests.WithLabelValues(catalog, outcome).Inc()
}

// BreakerTrip counts a circuit breaker opening.
func (m *Metrics) BreakerTrip(catalog, reason string) {
	if m == nil {
		return
	}
	m.breakerTrips.WithLabelValues(catalog, reason).Inc()
}

// PipelineFetch counts a pipeline result ("ok", "empty", "exhausted").
func (m *Metrics) PipelineFetch(result string) {
	if m == nil {
		return
	}
	m.pipelineFetches.WithLabelValues(result).Inc()
}

// BufferServe counts where a navigation was served from ("window", "cache", "pipeline").
func (m *Metrics) BufferServe(source string) {
	if m == nil {
		return
	}
	m.bufferServes.WithLabelValues(source).Inc()
}

// CachePop counts an overflow cache pop.
func (m *Metrics) CachePop(partition, tier string) {
	if m == nil {
		return
	}
	m.cachePops.WithLabelValues(partition, tier).Inc()
}

// BackgroundTask counts a finished background task.
func (m *Metrics) BackgroundTask(task, result string) {
	if m == nil {
		return
	}
	m.backgroundTasks.WithLabelValues(task, result).Inc()
}
