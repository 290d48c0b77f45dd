// Package metrics holds the Prometheus collectors for the server and the optional
// HTTP listener that exposes them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gnana997/designflow/pkg/remote"
)

// Metrics groups every collector on a private registry. All methods are safe on a
// nil receiver so components can be built without metrics.
type Metrics struct {
	Registry *prometheus.Registry

	RemoteCalls    *prometheus.CounterVec
	RemoteDuration *prometheus.HistogramVec
	ToolCalls      *prometheus.CounterVec
	ToolDuration   *prometheus.HistogramVec
	WorkflowRuns   *prometheus.CounterVec
	PoolLeases     prometheus.Gauge
	PoolWaits      prometheus.Counter
	CacheLookups   *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		RemoteCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "designflow_remote_calls_total",
				Help: "Total number of remote adapter calls",
			},
			[]string{"service", "op", "kind"},
		),
		RemoteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "designflow_remote_call_duration_seconds",
				Help:    "Duration of remote adapter calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "op"},
		),
		ToolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "designflow_tool_calls_total",
				Help: "Total number of MCP tool calls",
			},
			[]string{"tool", "status"},
		),
		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "designflow_tool_call_duration_seconds",
				Help:    "Duration of MCP tool calls in seconds",
				Buckets: []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120},
			},
			[]string{"tool"},
		),
		WorkflowRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "designflow_workflow_runs_total",
				Help: "Total number of workflow runs by outcome",
			},
			[]string{"workflow", "kind"},
		),
		PoolLeases: factory.NewGauge(prometheus.GaugeOpts{
			Name: "designflow_browser_contexts_leased",
			Help: "Number of browser contexts currently leased",
		}),
		PoolWaits: factory.NewCounter(prometheus.CounterOpts{
			Name: "designflow_browser_acquire_waits_total",
			Help: "Number of acquires that had to wait for a free context",
		}),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "designflow_cache_lookups_total",
				Help: "Cache lookups by result",
			},
			[]string{"result"},
		),
	}
}

func kindLabel(kind remote.Kind) string {
	if kind == "" {
		return "ok"
	}
	return string(kind)
}

// ObserveRemote records one adapter call. kind is empty on success.
func (m *Metrics) ObserveRemote(service, op string, kind remote.Kind, d time.Duration) {
	if m == nil {
		return
	}
	m.RemoteCalls.WithLabelValues(service, op, kindLabel(kind)).Inc()
	m.RemoteDuration.WithLabelValues(service, op).Observe(d.Seconds())
}

// ObserveTool records one MCP tool call.
func (m *Metrics) ObserveTool(tool string, failed bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if failed {
		status = "error"
	}
	m.ToolCalls.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveWorkflow records the outcome of a workflow entry point.
func (m *Metrics) ObserveWorkflow(workflow string, kind remote.Kind) {
	if m == nil {
		return
	}
	m.WorkflowRuns.WithLabelValues(workflow, kindLabel(kind)).Inc()
}

// LeaseAcquired and LeaseReleased track the leased-context gauge.
func (m *Metrics) LeaseAcquired(waited bool) {
	if m == nil {
		return
	}
	m.PoolLeases.Inc()
	if waited {
		m.PoolWaits.Inc()
	}
}

func (m *Metrics) LeaseReleased() {
	if m == nil {
		return
	}
	m.PoolLeases.Dec()
}

// CacheLookup counts a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}
