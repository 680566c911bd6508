package session

import (
	"runtime"
	"time"

	"github.com/dd0wney/cluso-lockstep/pkg/framecache"
	"github.com/dd0wney/cluso-lockstep/pkg/health"
	"github.com/dd0wney/cluso-lockstep/pkg/protocol"
)

// Status is a point-in-time snapshot of the node, served at /status
type Status struct {
	NodeID      string              `json:"node_id"`
	SessionID   string              `json:"session_id"`
	Mode        string              `json:"mode"`
	Role        string              `json:"role"`
	Transport   string              `json:"transport,omitempty"`
	Failover    string              `json:"failover"`
	Running     bool                `json:"running"`
	Error       string              `json:"error,omitempty"`
	Frame       uint64              `json:"frame"`
	LastFrameAt time.Time           `json:"last_frame_at"`
	FrameTime   time.Duration       `json:"frame_time"`
	Uptime      time.Duration       `json:"uptime"`
	Nodes       []NodeStatus        `json:"nodes"`
	Epoch       uint64              `json:"epoch"`
	Gates       map[string]string   `json:"gates"`
	Timeouts    map[string][]string `json:"timeouts,omitempty"`
	Cache       framecache.Stats    `json:"cache"`
	Pending     PendingEvents       `json:"pending_events"`
}

// NodeStatus is one row of the node table
type NodeStatus struct {
	ID        string `json:"id"`
	Host      string `json:"host"`
	Role      string `json:"role"`
	Active    bool   `json:"active"`
	Connected bool   `json:"connected"`
}

// PendingEvents counts events waiting for the next rollover
type PendingEvents struct {
	JSON   int `json:"json"`
	Binary int `json:"binary"`
}

// Status returns a snapshot of the session
func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		NodeID:      s.cfg.NodeID,
		SessionID:   s.id,
		Mode:        s.cfg.Mode.String(),
		Role:        s.ctrl.Name(),
		Failover:    s.failover.Policy().String(),
		Frame:       s.frame,
		LastFrameAt: s.lastFrameAt,
		FrameTime:   s.lastFrame,
		Gates:       make(map[string]string, len(s.lastResults)),
	}
	if !s.startedAt.IsZero() {
		st.Uptime = time.Since(s.startedAt)
	}
	for gate, res := range s.lastResults {
		st.Gates[gate.String()] = res.String()
	}
	s.mu.Unlock()

	if s.transport != nil {
		st.Transport = s.transport.Kind()
	}
	st.Running = s.state.IsRunning() && s.terminal() == nil
	if err := s.Err(); err != nil {
		st.Error = err.Error()
	}

	connected := make(map[string]bool)
	for _, p := range s.Peers() {
		connected[p] = true
	}
	if s.linked.Load() {
		connected[s.membership.PrimaryID()] = true
	}
	connected[s.membership.LocalID()] = true
	for _, n := range s.membership.All() {
		role, _ := s.membership.RoleOf(n.ID)
		st.Nodes = append(st.Nodes, NodeStatus{
			ID:        n.ID,
			Host:      n.Host,
			Role:      role.String(),
			Active:    s.membership.IsActive(n.ID),
			Connected: connected[n.ID],
		})
	}
	st.Epoch = s.membership.Epoch()
	st.Timeouts = s.barrierTimeouts()
	st.Cache = s.ctrl.CacheStats()
	st.Pending.JSON, st.Pending.Binary = s.events.Pending()
	return st
}

func (s *Session) barrierTimeouts() map[string][]string {
	out := make(map[string][]string)
	for _, gate := range protocol.Gates {
		if b, ok := s.barriers[gate]; ok {
			if missing := b.LastTimeout(); len(missing) > 0 {
				out[gate.String()] = missing
			}
		}
	}
	return out
}

// RegisterHealthChecks installs the session's checks on hc. stall is how
// long the frame loop may go without completing a frame before the node
// reports itself degraded.
func (s *Session) RegisterHealthChecks(hc *health.HealthChecker, stall time.Duration) {
	session := health.SessionCheck(func() health.SessionState {
		s.mu.Lock()
		defer s.mu.Unlock()
		return health.SessionState{
			Running:   s.state.IsRunning(),
			Frame:     s.frame,
			LastFrame: s.lastFrameAt,
			Err:       s.err,
		}
	}, stall)
	cluster := health.ClusterCheck(func() (int, int) {
		return s.membership.ActiveCount(), s.membership.Size()
	})

	hc.RegisterCheck("session", session)
	hc.RegisterCheck("cluster", cluster)
	hc.RegisterCheck("barriers", health.BarrierCheck(s.barrierTimeouts))
	hc.RegisterCheck("memory", health.MemoryCheck(func() (uint64, uint64) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		return m.Alloc, m.Sys
	}))
	hc.RegisterReadinessCheck("session", session)
	hc.RegisterLivenessCheck("session", session)

	if s.ctrl.Serves() {
		peers := health.PeersCheck(func() (int, int) {
			return len(s.Peers()), s.membership.ActiveCount() - 1
		})
		hc.RegisterCheck("peers", peers)
		hc.RegisterReadinessCheck("peers", peers)
	}
}
