// Package metrics provides Prometheus metrics for the datapipe engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts pipeline runs by final status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datapipe",
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by final status",
		},
		[]string{"pipeline", "status"}, // "succeeded", "failed"
	)

	// RunsActive tracks currently running pipelines.
	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "datapipe",
			Subsystem: "engine",
			Name:      "runs_active",
			Help:      "Number of currently running pipelines",
		},
	)

	// RunDuration tracks pipeline run duration.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "datapipe",
			Subsystem: "engine",
			Name:      "run_duration_seconds",
			Help:      "Pipeline run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"pipeline", "status"},
	)

	// NodesTotal counts nodes by outcome.
	NodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datapipe",
			Subsystem: "engine",
			Name:      "nodes_total",
			Help:      "Total number of nodes by outcome",
		},
		[]string{"status"}, // "completed", "failed", "skipped"
	)

	// NodeDuration tracks node execution duration.
	NodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "datapipe",
			Subsystem: "engine",
			Name:      "node_duration_seconds",
			Help:      "Node execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// NodeRows tracks rows produced per completed node.
	NodeRows = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "datapipe",
			Subsystem: "engine",
			Name:      "node_rows",
			Help:      "Rows in a completed node's final dataset",
			Buckets:   prometheus.ExponentialBuckets(1, 10, 8),
		},
	)

	// StoreOperations counts result store operations.
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datapipe",
			Subsystem: "engine",
			Name:      "store_operations_total",
			Help:      "Total number of result store operations",
		},
		[]string{"operation", "result"}, // operation: create, update, save; result: success, error
	)

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datapipe",
			Subsystem: "engine",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "datapipe",
			Subsystem: "engine",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// SSEActiveConnections tracks open event stream connections.
	SSEActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "datapipe",
			Subsystem: "engine",
			Name:      "sse_active_connections",
			Help:      "Number of open SSE connections",
		},
	)

	// SSEConnectionDuration tracks how long SSE connections stay open.
	SSEConnectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "datapipe",
			Subsystem: "engine",
			Name:      "sse_connection_duration_seconds",
			Help:      "Duration of SSE connections in seconds",
			Buckets:   []float64{1, 10, 30, 60, 300, 900, 3600},
		},
	)
)
