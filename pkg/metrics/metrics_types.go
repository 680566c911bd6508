package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the application
type Registry struct {
	// HTTP Metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Frame Metrics
	FramesTotal   prometheus.Counter
	FrameDuration prometheus.Histogram
	CurrentFrame  prometheus.Gauge

	// Barrier Metrics
	BarrierWaitsTotal   *prometheus.CounterVec
	BarrierWaitDuration *prometheus.HistogramVec
	BarrierParticipants *prometheus.GaugeVec

	// Frame Cache Metrics
	CacheComputes *prometheus.GaugeVec
	CacheHits     prometheus.Gauge
	CacheClears   prometheus.Gauge

	// Event Replication Metrics
	EventsEmittedTotal    *prometheus.CounterVec
	EventsReplicatedTotal *prometheus.CounterVec
	EventsPending         *prometheus.GaugeVec

	// Sync Object Metrics
	SyncObjectsExportedTotal *prometheus.CounterVec
	SyncObjectsImportedTotal *prometheus.CounterVec

	// Transport Metrics
	TransportRequestsTotal   *prometheus.CounterVec
	TransportRequestDuration *prometheus.HistogramVec
	RequestsServedTotal      *prometheus.CounterVec
	ConnectedPeers           prometheus.Gauge

	// Cluster Metrics
	ClusterNodesTotal  prometheus.Gauge
	ClusterActiveNodes prometheus.Gauge
	ClusterEpoch       prometheus.Gauge
	ClusterRole        *prometheus.GaugeVec

	// Failover Metrics
	FailoverActionsTotal *prometheus.CounterVec

	// System Metrics
	UptimeSeconds    prometheus.Gauge
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge
	MemorySysBytes   prometheus.Gauge

	registry *prometheus.Registry
	mu       sync.RWMutex
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	r.initHTTPMetrics()
	r.initFrameMetrics()
	r.initBarrierMetrics()
	r.initCacheMetrics()
	r.initEventMetrics()
	r.initSyncMetrics()
	r.initTransportMetrics()
	r.initClusterMetrics()
	r.initFailoverMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
