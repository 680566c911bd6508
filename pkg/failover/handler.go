package failover

import (
	"fmt"
	"sync"
	"time"

	"github.com/dd0wney/cluso-lockstep/pkg/logging"
	"github.com/dd0wney/cluso-lockstep/pkg/protocol"
)

// Actions are carried out by the owner of the session
type Actions interface {
	// DropNode removes a secondary from membership and every barrier
	DropNode(id string) error
	// Terminate tears the whole session down
	Terminate(reason error)
}

// Observer is told about every decision
type Observer interface {
	ObserveFailover(nodeID string, failType FailType, action Action)
}

// Handler applies a Policy to failure reports. It is safe for concurrent
// use; each node is acted on at most once.
type Handler struct {
	policy    Policy
	primaryID string
	actions   Actions
	observer  Observer
	logger    logging.Logger

	mu         sync.Mutex
	dropped    map[string]struct{}
	terminated bool
	disarmed   bool
}

// Option configures a Handler
type Option func(*Handler)

// WithLogger sets the handler logger
func WithLogger(l logging.Logger) Option {
	return func(h *Handler) {
		h.logger = logging.OrNop(l)
	}
}

// WithObserver sets the decision observer
func WithObserver(o Observer) Option {
	return func(h *Handler) {
		h.observer = o
	}
}

// NewHandler creates a handler for the cluster whose primary is primaryID
func NewHandler(policy Policy, primaryID string, actions Actions, opts ...Option) *Handler {
	h := &Handler{
		policy:    policy,
		primaryID: primaryID,
		actions:   actions,
		logger:    logging.NewNopLogger(),
		dropped:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With(logging.Component("failover"), logging.String("policy", policy.String()))
	return h
}

// Policy returns the configured policy
func (h *Handler) Policy() Policy {
	return h.policy
}

// Disarm stops the handler from acting. Used once a deliberate shutdown has
// begun so that the resulting disconnects are not treated as failures.
func (h *Handler) Disarm() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disarmed = true
}

// Terminated reports whether the handler has ended the session
func (h *Handler) Terminated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminated
}

// Dropped reports whether the node has been dropped
func (h *Handler) Dropped(nodeID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.dropped[nodeID]
	return ok
}

// HandleCommResult reacts to the outcome of one request to peer. Only link
// failures count; a rejected request is a protocol error for the caller.
func (h *Handler) HandleCommResult(peer string, result protocol.CommResult) Action {
	if !result.Failed() {
		return ActionNone
	}
	return h.HandleNodeFailed(peer, FailCommunication)
}

// HandleNodeFailed applies the policy to a failed node
func (h *Handler) HandleNodeFailed(nodeID string, failType FailType) Action {
	h.mu.Lock()
	if h.disarmed || h.terminated {
		h.mu.Unlock()
		return ActionNone
	}
	if _, done := h.dropped[nodeID]; done {
		h.mu.Unlock()
		return ActionNone
	}

	logger := h.logger.With(logging.NodeID(nodeID), logging.String("fail_type", failType.String()))

	var reason error
	switch {
	case h.policy == PolicyDisabled:
		reason = fmt.Errorf("%w: %s (%s)", ErrNodeFailed, nodeID, failType)
	case nodeID == h.primaryID:
		reason = fmt.Errorf("%w: %s (%s)", ErrPrimaryFailed, nodeID, failType)
	default:
		h.dropped[nodeID] = struct{}{}
	}
	if reason != nil {
		h.terminated = true
	}
	h.mu.Unlock()

	if reason == nil {
		logger.Warn("Dropping failed secondary")
		err := h.actions.DropNode(nodeID)
		if err == nil {
			h.observe(nodeID, failType, ActionDropped)
			return ActionDropped
		}

		h.mu.Lock()
		if h.terminated {
			h.mu.Unlock()
			return ActionNone
		}
		h.terminated = true
		h.mu.Unlock()
		reason = fmt.Errorf("%w %s: %w", ErrDropFailed, nodeID, err)
	}

	logger.Error("Terminating session", logging.Error(reason))
	h.actions.Terminate(reason)
	h.observe(nodeID, failType, ActionTerminated)
	return ActionTerminated
}

func (h *Handler) observe(nodeID string, failType FailType, action Action) {
	if h.observer != nil {
		h.observer.ObserveFailover(nodeID, failType, action)
	}
}

// ObserveComm lets the handler sit directly behind a protocol.Client
func (h *Handler) ObserveComm(peer, request string, result protocol.CommResult, latency time.Duration) {
	h.HandleCommResult(peer, result)
}

// PeerConnected implements protocol.PeerObserver
func (h *Handler) PeerConnected(peer string) {}

// PeerDisconnected treats a dropped connection as a node failure
func (h *Handler) PeerDisconnected(peer string, err error) {
	h.HandleNodeFailed(peer, FailConnectionLost)
}

var (
	_ protocol.CommObserver = (*Handler)(nil)
	_ protocol.PeerObserver = (*Handler)(nil)
)
