package health

import (
	"fmt"
	"time"
)

// Common health check functions

// SimpleCheck creates a simple health check that always returns healthy
func SimpleCheck(name string) Check {
	return Check{
		Name:        name,
		Status:      StatusHealthy,
		LastChecked: time.Now(),
	}
}

// SessionState is the part of a running session the checks look at
type SessionState struct {
	Running   bool
	Frame     uint64
	LastFrame time.Time
	Err       error
}

// SessionCheck reports whether the frame loop is alive. A session that has
// not produced a frame for stall is degraded; a session that ended with an
// error is unhealthy.
func SessionCheck(getState func() SessionState, stall time.Duration) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "session",
			Details: make(map[string]any),
		}

		s := getState()
		check.Details["running"] = s.Running
		check.Details["frame"] = s.Frame

		switch {
		case s.Err != nil:
			check.Status = StatusUnhealthy
			check.Message = s.Err.Error()
		case !s.Running:
			check.Status = StatusUnhealthy
			check.Message = "Session not running"
		case s.Frame > 0 && stall > 0 && time.Since(s.LastFrame) > stall:
			check.Status = StatusDegraded
			check.Message = fmt.Sprintf("No frame for %s", time.Since(s.LastFrame).Round(time.Millisecond))
		default:
			check.Status = StatusHealthy
			check.Message = "Frame loop running"
		}

		return check
	}
}

// ClusterCheck creates a health check for cluster membership. Losing
// secondaries to failover degrades the cluster.
func ClusterCheck(getClusterState func() (activeNodes, totalNodes int)) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "cluster",
			Details: make(map[string]any),
		}

		activeNodes, totalNodes := getClusterState()

		check.Details["active_nodes"] = activeNodes
		check.Details["total_nodes"] = totalNodes

		if totalNodes <= 1 {
			check.Status = StatusHealthy
			check.Message = "Single node"
		} else if activeNodes == 0 {
			check.Status = StatusUnhealthy
			check.Message = "No active nodes"
		} else if activeNodes < totalNodes {
			check.Status = StatusDegraded
			check.Message = fmt.Sprintf("%d of %d nodes dropped", totalNodes-activeNodes, totalNodes)
		} else {
			check.Status = StatusHealthy
			check.Message = "Cluster healthy"
		}

		return check
	}
}

// PeersCheck creates a health check for the primary's connections.
// expected is the number of secondaries still in the session.
func PeersCheck(getPeers func() (connected, expected int)) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "peers",
			Details: make(map[string]any),
		}

		connected, expected := getPeers()

		check.Details["connected"] = connected
		check.Details["expected"] = expected

		if connected < expected {
			check.Status = StatusDegraded
			check.Message = "Waiting for secondaries"
		} else {
			check.Status = StatusHealthy
			check.Message = "All secondaries connected"
		}

		return check
	}
}

// BarrierCheck reports the barriers that have ever timed out, with the
// participants that were missing.
func BarrierCheck(getTimeouts func() map[string][]string) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "barriers",
			Details: make(map[string]any),
		}

		timeouts := getTimeouts()
		for gate, missing := range timeouts {
			if len(missing) > 0 {
				check.Details[gate] = missing
			}
		}

		if len(check.Details) > 0 {
			check.Status = StatusDegraded
			check.Message = "Barrier timeouts observed"
		} else {
			check.Status = StatusHealthy
			check.Message = "No barrier timeouts"
		}

		return check
	}
}

// MemoryCheck creates a health check for memory usage
func MemoryCheck(getUsage func() (alloc, sys uint64)) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "memory",
			Details: make(map[string]any),
		}

		alloc, sys := getUsage()

		check.Details["alloc_bytes"] = alloc
		check.Details["sys_bytes"] = sys

		usagePercent := 0.0
		if sys > 0 {
			usagePercent = float64(alloc) / float64(sys) * 100
		}

		if usagePercent > 90 {
			check.Status = StatusDegraded
			check.Message = "High memory usage"
		} else {
			check.Status = StatusHealthy
			check.Message = "Memory usage normal"
		}

		return check
	}
}
