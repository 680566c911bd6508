package session

import (
	"fmt"
	"slices"
	"time"

	"github.com/dd0wney/cluso-lockstep/pkg/failover"
	"github.com/dd0wney/cluso-lockstep/pkg/logging"
	"github.com/dd0wney/cluso-lockstep/pkg/protocol"
)

var (
	_ failover.Actions      = (*Session)(nil)
	_ protocol.CommObserver = (*Session)(nil)
	_ protocol.PeerObserver = (*Session)(nil)
)

// DropNode removes a failed secondary from the active set and from every
// barrier, releasing whoever is waiting on it
func (s *Session) DropNode(id string) error {
	if err := s.membership.Remove(id); err != nil {
		return err
	}
	for _, gate := range protocol.Gates {
		if b, ok := s.barriers[gate]; ok {
			b.Drop(id)
			s.metrics.SetBarrierParticipants(gate.String(), b.Participants())
		}
	}
	s.updateClusterMetrics()

	s.logger.Warn("Node dropped from session",
		logging.Peer(id),
		logging.Int("active", s.membership.ActiveCount()),
		logging.Uint64("epoch", s.membership.Epoch()))
	return nil
}

// Terminate ends the session because of reason. Waiters on every barrier
// are released; the transport stays up until Stop.
func (s *Session) Terminate(reason error) {
	err := fmt.Errorf("%w: %w", ErrTerminated, reason)
	s.logger.Error("Session terminated", logging.Error(reason), logging.Frame(s.Frame()))
	s.finish(err)
}

// ObserveComm receives the outcome of every request a secondary sends. The
// connection attempts before Hello succeeds are governed by the retry
// budget, not by failover.
func (s *Session) ObserveComm(peer, request string, result protocol.CommResult, latency time.Duration) {
	s.metrics.ObserveComm(peer, request, result, latency)
	if s.linked.Load() {
		s.failover.HandleCommResult(peer, result)
	}
}

// PeerConnected is called by the primary's dispatcher
func (s *Session) PeerConnected(peer string) {
	s.updateClusterMetrics()
}

// PeerDisconnected treats a lost secondary as a failed node
func (s *Session) PeerDisconnected(peer string, err error) {
	s.failover.PeerDisconnected(peer, err)
	s.updateClusterMetrics()
}

// dropLaggards hands the participants missing from a timed-out barrier to
// failover. The frame may only go on if all of them are out of the session.
func (s *Session) dropLaggards(gate protocol.Gate, missing []string) error {
	for _, id := range missing {
		action := s.failover.HandleNodeFailed(id, failover.FailBarrierTimeout)
		s.logger.Warn("Barrier laggard",
			logging.Gate(gate.String()),
			logging.Peer(id),
			logging.String("action", action.String()))
	}
	if err := s.terminal(); err != nil {
		return err
	}

	var remaining []string
	for _, id := range missing {
		if s.membership.IsActive(id) {
			remaining = append(remaining, id)
		}
	}
	if len(remaining) > 0 {
		s.Terminate(fmt.Errorf("%w: %s timed out and %v were not dropped", ErrBarrierFailed, gate, remaining))
		return s.terminal()
	}
	return nil
}

// checkPrimary decides what a secondary does after a timed-out barrier. If
// the primary was missing, or the primary sent no list, the primary has
// failed and none of this frame's values can be trusted.
func (s *Session) checkPrimary(gate protocol.Gate, missing []string, known bool) error {
	primary := s.membership.PrimaryID()
	if known && !slices.Contains(missing, primary) {
		// Another secondary lagged; the primary drops it
		return s.terminal()
	}

	s.failover.HandleNodeFailed(primary, failover.FailBarrierTimeout)
	if err := s.terminal(); err != nil {
		return err
	}
	s.Terminate(fmt.Errorf("%w: %s timed out waiting for the primary", ErrBarrierFailed, gate))
	return s.terminal()
}
