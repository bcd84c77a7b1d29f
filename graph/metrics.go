package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects Prometheus metrics for workflow execution.
//
// Metrics exposed (all namespaced with "agentflow_"):
//
//  1. inflight_nodes (gauge): nodes currently executing.
//  2. ready_nodes (gauge): nodes whose predecessors are done but which wait
//     for a free worker.
//  3. node_latency_ms (histogram): node execution duration.
//     Labels: subtype, status (success, error, blocked, timeout).
//  4. runs_total (counter): finished runs. Labels: status
//     (completed, blocked, cancelled, rejected).
//  5. blocks_total (counter): policy blocks. Labels: subtype.
//
// Node IDs are deliberately not used as labels; they are user-authored and
// unbounded.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	engine, _ := graph.New(reg, graph.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type PrometheusMetrics struct {
	inflightNodes prometheus.Gauge
	readyNodes    prometheus.Gauge

	nodeLatency *prometheus.HistogramVec

	runs   *prometheus.CounterVec
	blocks *prometheus.CounterVec

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all execution metrics with
// registry. A nil registry means prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.inflightNodes = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentflow",
		Name:      "inflight_nodes",
		Help:      "Current number of workflow nodes executing",
	})

	pm.readyNodes = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentflow",
		Name:      "ready_nodes",
		Help:      "Nodes ready to execute and waiting for a free worker",
	})

	pm.nodeLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentflow",
		Name:      "node_latency_ms",
		Help:      "Node execution duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
	}, []string{"subtype", "status"})

	pm.runs = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentflow",
		Name:      "runs_total",
		Help:      "Workflow runs by final status",
	}, []string{"status"})

	pm.blocks = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentflow",
		Name:      "blocks_total",
		Help:      "Runs halted by a blocking node, by node subtype",
	}, []string{"subtype"})

	return pm
}

func (pm *PrometheusMetrics) isEnabled() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordNodeLatency observes one node execution.
func (pm *PrometheusMetrics) RecordNodeLatency(kind string, latency time.Duration, status string) {
	if !pm.isEnabled() {
		return
	}
	pm.nodeLatency.WithLabelValues(kind, status).Observe(float64(latency.Milliseconds()))
}

// UpdateInflightNodes sets the number of executing nodes.
func (pm *PrometheusMetrics) UpdateInflightNodes(count int) {
	if !pm.isEnabled() {
		return
	}
	pm.inflightNodes.Set(float64(count))
}

// UpdateReadyNodes sets the number of nodes waiting for a worker.
func (pm *PrometheusMetrics) UpdateReadyNodes(count int) {
	if !pm.isEnabled() {
		return
	}
	pm.readyNodes.Set(float64(count))
}

// IncrementRuns counts a finished or rejected run.
func (pm *PrometheusMetrics) IncrementRuns(status string) {
	if !pm.isEnabled() {
		return
	}
	pm.runs.WithLabelValues(status).Inc()
}

// IncrementBlocks counts a policy block raised by a node of kind.
func (pm *PrometheusMetrics) IncrementBlocks(kind string) {
	if !pm.isEnabled() {
		return
	}
	pm.blocks.WithLabelValues(kind).Inc()
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable().
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

// Reset zeroes the gauges. Counters and histograms are cumulative.
func (pm *PrometheusMetrics) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.inflightNodes.Set(0)
	pm.readyNodes.Set(0)
}
