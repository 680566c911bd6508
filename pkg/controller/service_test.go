package controller

import (
	"errors"
	"testing"

	"github.com/dd0wney/cluso-lockstep/pkg/barrier"
	"github.com/dd0wney/cluso-lockstep/pkg/cluster"
	"github.com/dd0wney/cluso-lockstep/pkg/events"
	"github.com/dd0wney/cluso-lockstep/pkg/protocol"
	"github.com/dd0wney/cluso-lockstep/pkg/syncobj"
)

func TestHello(t *testing.T) {
	f := newPrimary(t, cluster.ModeCluster, "node_0", "node_1", "node_2")

	result, err := f.ctrl.Hello("node_1", "peer-session")
	if err != nil {
		t.Fatalf("Hello(node_1): %v", err)
	}
	if result[protocol.ArgPrimaryID] != "node_0" || result[protocol.ArgSessionID] != "session-1" {
		t.Errorf("Hello result = %v", result)
	}

	if _, err := f.ctrl.Hello("node_9", ""); !errors.Is(err, protocol.ErrUnknownNode) {
		t.Errorf("Hello(unknown) = %v, want ErrUnknownNode", err)
	}
	if _, err := f.ctrl.Hello("node_0", ""); !errors.Is(err, protocol.ErrInvalidArgument) {
		t.Errorf("Hello(self) = %v, want ErrInvalidArgument", err)
	}

	if err := f.ctrl.membership.Remove("node_2"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := f.ctrl.Hello("node_2", ""); !errors.Is(err, protocol.ErrUnknownNode) {
		t.Errorf("Hello(dropped) = %v, want ErrUnknownNode", err)
	}
}

func TestService_RefusedByNonServingNodes(t *testing.T) {
	s, err := New(Config{Mode: cluster.ModeCluster, Membership: testMembership(t, "node_1", "node_0", "node_1")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := s.Hello("node_0", ""); !errors.Is(err, protocol.ErrNotPrimary) {
		t.Errorf("secondary Hello = %v, want ErrNotPrimary", err)
	}
	if _, err := s.DeltaTime(); !errors.Is(err, protocol.ErrNotPrimary) {
		t.Errorf("secondary DeltaTime = %v, want ErrNotPrimary", err)
	}
	if err := s.EmitJSON(events.JSONEvent{Name: "x"}); !errors.Is(err, protocol.ErrNotPrimary) {
		t.Errorf("secondary EmitJSON = %v, want ErrNotPrimary", err)
	}
	if res, _ := s.Wait("node_0", protocol.GateFrameEnd); res != barrier.ResultRejected {
		t.Errorf("secondary Wait = %v, want Rejected", res)
	}

	standalone := newPrimary(t, cluster.ModeStandalone, "node_0")
	if _, err := standalone.ctrl.InputData(); !errors.Is(err, protocol.ErrNotPrimary) {
		t.Errorf("standalone InputData = %v, want ErrNotPrimary", err)
	}
}

func TestService_ValidatesForwardedEvents(t *testing.T) {
	f := newPrimary(t, cluster.ModeCluster, "node_0")

	if err := f.ctrl.EmitJSON(events.JSONEvent{}); !errors.Is(err, protocol.ErrInvalidArgument) {
		t.Errorf("EmitJSON(empty) = %v, want ErrInvalidArgument", err)
	}
	if _, err := f.ctrl.SyncData(syncobj.Group(42)); !errors.Is(err, protocol.ErrInvalidArgument) {
		t.Errorf("SyncData(bad group) = %v, want ErrInvalidArgument", err)
	}
	if err := f.ctrl.EmitBinary(events.BinaryEvent{EventID: 1}); err != nil {
		t.Errorf("EmitBinary = %v", err)
	}
	if jsonEvents, binaryEvents := f.events.Pending(); jsonEvents != 0 || binaryEvents != 1 {
		t.Errorf("Pending() = %d, %d", jsonEvents, binaryEvents)
	}
}
