package metrics

import (
	"runtime"
	"time"

	"github.com/dd0wney/cluso-lockstep/pkg/failover"
	"github.com/dd0wney/cluso-lockstep/pkg/framecache"
	"github.com/dd0wney/cluso-lockstep/pkg/protocol"
	"github.com/dd0wney/cluso-lockstep/pkg/syncobj"
)

// RecordHTTPRequest records an HTTP request with its duration
func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordFrame records a completed frame
func (r *Registry) RecordFrame(frame uint64, duration time.Duration) {
	r.FramesTotal.Inc()
	r.FrameDuration.Observe(duration.Seconds())
	r.CurrentFrame.Set(float64(frame))
}

// RecordBarrierWait records one wait on a gate
func (r *Registry) RecordBarrierWait(gate, result string, blocked time.Duration) {
	r.BarrierWaitsTotal.WithLabelValues(gate, result).Inc()
	r.BarrierWaitDuration.WithLabelValues(gate).Observe(blocked.Seconds())
}

// SetBarrierParticipants records the active participant count of a gate
func (r *Registry) SetBarrierParticipants(gate string, n int) {
	r.BarrierParticipants.WithLabelValues(gate).Set(float64(n))
}

// UpdateCacheStats publishes a frame cache counter snapshot
func (r *Registry) UpdateCacheStats(s framecache.Stats) {
	r.CacheComputes.WithLabelValues("delta_time").Set(float64(s.DeltaTime))
	r.CacheComputes.WithLabelValues("timecode").Set(float64(s.Timecode))
	for _, g := range syncobj.Groups {
		r.CacheComputes.WithLabelValues("sync_" + g.String()).Set(float64(s.SyncData[g]))
	}
	r.CacheComputes.WithLabelValues("input").Set(float64(s.InputData))
	r.CacheComputes.WithLabelValues("events").Set(float64(s.EventsData))
	r.CacheComputes.WithLabelValues("native_input").Set(float64(s.NativeInputData))
	r.CacheHits.Set(float64(s.Hits))
	r.CacheClears.Set(float64(s.Clears))
}

// RecordEventsEmitted counts events queued locally or forwarded by a secondary
func (r *Registry) RecordEventsEmitted(kind, origin string, n int) {
	if n > 0 {
		r.EventsEmittedTotal.WithLabelValues(kind, origin).Add(float64(n))
	}
}

// RecordEventsReplicated counts events delivered to listeners
func (r *Registry) RecordEventsReplicated(jsonEvents, binaryEvents int) {
	r.EventsReplicatedTotal.WithLabelValues("json").Add(float64(jsonEvents))
	r.EventsReplicatedTotal.WithLabelValues("binary").Add(float64(binaryEvents))
}

// SetEventsPending records the events waiting for the next rollover
func (r *Registry) SetEventsPending(jsonEvents, binaryEvents int) {
	r.EventsPending.WithLabelValues("json").Set(float64(jsonEvents))
	r.EventsPending.WithLabelValues("binary").Set(float64(binaryEvents))
}

// RecordSyncExport counts objects exported for group
func (r *Registry) RecordSyncExport(group syncobj.Group, n int) {
	r.SyncObjectsExportedTotal.WithLabelValues(group.String()).Add(float64(n))
}

// RecordSyncImport counts the outcome of one import pass
func (r *Registry) RecordSyncImport(group syncobj.Group, report syncobj.ImportReport) {
	g := group.String()
	r.SyncObjectsImportedTotal.WithLabelValues(g, "applied").Add(float64(report.Applied))
	r.SyncObjectsImportedTotal.WithLabelValues(g, "failed").Add(float64(len(report.Failed)))
	r.SyncObjectsImportedTotal.WithLabelValues(g, "unknown").Add(float64(report.Unknown))
}

// UpdateClusterMetrics updates cluster-related metrics
func (r *Registry) UpdateClusterMetrics(totalNodes, activeNodes, connectedPeers int, epoch uint64) {
	r.ClusterNodesTotal.Set(float64(totalNodes))
	r.ClusterActiveNodes.Set(float64(activeNodes))
	r.ConnectedPeers.Set(float64(connectedPeers))
	r.ClusterEpoch.Set(float64(epoch))
}

// SetClusterRole sets the current cluster role
func (r *Registry) SetClusterRole(role string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Reset all roles
	r.ClusterRole.WithLabelValues("primary").Set(0)
	r.ClusterRole.WithLabelValues("secondary").Set(0)
	r.ClusterRole.WithLabelValues("none").Set(0)

	r.ClusterRole.WithLabelValues(role).Set(1)
}

// UpdateSystemMetrics samples the Go runtime
func (r *Registry) UpdateSystemMetrics(started time.Time) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	r.UptimeSeconds.Set(time.Since(started).Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))
	r.MemoryAllocBytes.Set(float64(m.Alloc))
	r.MemorySysBytes.Set(float64(m.Sys))
}

// ObserveComm implements protocol.CommObserver
func (r *Registry) ObserveComm(peer, request string, result protocol.CommResult, latency time.Duration) {
	r.TransportRequestsTotal.WithLabelValues(request, result.String()).Inc()
	r.TransportRequestDuration.WithLabelValues(request).Observe(latency.Seconds())
}

// ObserveRequest implements protocol.RequestObserver
func (r *Registry) ObserveRequest(peer, request string, code protocol.ErrorCode) {
	c := string(code)
	if c == "" {
		c = "ok"
	}
	r.RequestsServedTotal.WithLabelValues(request, c).Inc()
}

// ObserveFailover implements failover.Observer
func (r *Registry) ObserveFailover(nodeID string, failType failover.FailType, action failover.Action) {
	r.FailoverActionsTotal.WithLabelValues(failType.String(), action.String()).Inc()
}

var (
	_ protocol.CommObserver    = (*Registry)(nil)
	_ protocol.RequestObserver = (*Registry)(nil)
	_ failover.Observer        = (*Registry)(nil)
)
