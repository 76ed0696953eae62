// Package metrics provides Prometheus metrics collection for the memory
// subsystem, behind a small Collector interface with a no-op default.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector backed by a private Prometheus
// registry.
type PrometheusCollector struct {
	storesTotal      *prometheus.CounterVec
	retrievalsTotal  *prometheus.CounterVec
	retrievalResults *prometheus.HistogramVec
	evictionsTotal   prometheus.Counter
	cyclesTotal      prometheus.Counter
	itemsTotal       *prometheus.CounterVec
	memoryCount      prometheus.Gauge
	pendingCount     prometheus.Gauge
	registry         *prometheus.Registry
}

// NewPrometheusCollector creates a collector with all metrics registered on
// a fresh registry.
func NewPrometheusCollector() *PrometheusCollector {
	registry := prometheus.NewRegistry()

	storesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engram_stores_total",
			Help: "Total number of memories written to the long-term store by type",
		},
		[]string{"memory_type"},
	)

	retrievalsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engram_retrievals_total",
			Help: "Total number of retrieval calls by kind",
		},
		[]string{"kind"},
	)

	retrievalResults := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engram_retrieval_results",
			Help:    "Number of memories returned per retrieval call",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
		[]string{"kind"},
	)

	evictionsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engram_evictions_total",
			Help: "Total number of capacity-driven evictions",
		},
	)

	cyclesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engram_consolidation_cycles_total",
			Help: "Total number of consolidation cycles run",
		},
	)

	itemsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engram_consolidation_items_total",
			Help: "Total pending items processed by consolidation outcome",
		},
		[]string{"outcome"},
	)

	memoryCount := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engram_memory_count",
			Help: "Current number of memories in the long-term store",
		},
	)

	pendingCount := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engram_pending_count",
			Help: "Current depth of the consolidation pending queue",
		},
	)

	registry.MustRegister(storesTotal)
	registry.MustRegister(retrievalsTotal)
	registry.MustRegister(retrievalResults)
	registry.MustRegister(evictionsTotal)
	registry.MustRegister(cyclesTotal)
	registry.MustRegister(itemsTotal)
	registry.MustRegister(memoryCount)
	registry.MustRegister(pendingCount)

	return &PrometheusCollector{
		storesTotal:      storesTotal,
		retrievalsTotal:  retrievalsTotal,
		retrievalResults: retrievalResults,
		evictionsTotal:   evictionsTotal,
		cyclesTotal:      cyclesTotal,
		itemsTotal:       itemsTotal,
		memoryCount:      memoryCount,
		pendingCount:     pendingCount,
		registry:         registry,
	}
}

// RecordStore counts a successful store call.
func (c *PrometheusCollector) RecordStore(memoryType string) {
	c.storesTotal.WithLabelValues(memoryType).Inc()
}

// RecordRetrieval counts a retrieval call and observes its result size.
func (c *PrometheusCollector) RecordRetrieval(kind string, results int) {
	c.retrievalsTotal.WithLabelValues(kind).Inc()
	c.retrievalResults.WithLabelValues(kind).Observe(float64(results))
}

// RecordEviction counts a capacity-driven eviction.
func (c *PrometheusCollector) RecordEviction() {
	c.evictionsTotal.Inc()
}

// RecordCycle records the outcome of one consolidation cycle.
func (c *PrometheusCollector) RecordCycle(consolidated, rejected int) {
	c.cyclesTotal.Inc()
	c.itemsTotal.WithLabelValues("consolidated").Add(float64(consolidated))
	c.itemsTotal.WithLabelValues("rejected").Add(float64(rejected))
}

// SetMemoryCount sets the store-size gauge.
func (c *PrometheusCollector) SetMemoryCount(count int) {
	c.memoryCount.Set(float64(count))
}

// SetPendingCount sets the pending-queue gauge.
func (c *PrometheusCollector) SetPendingCount(count int) {
	c.pendingCount.Set(float64(count))
}

// Registry returns the Prometheus registry for HTTP exposure.
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}
