package failover

import (
	"errors"
	"sync"
	"testing"

	"github.com/dd0wney/cluso-lockstep/pkg/protocol"
)

type fakeActions struct {
	mu         sync.Mutex
	dropped    []string
	terminated []error
	dropErr    error
}

func (a *fakeActions) DropNode(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dropErr != nil {
		return a.dropErr
	}
	a.dropped = append(a.dropped, id)
	return nil
}

func (a *fakeActions) Terminate(reason error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.terminated = append(a.terminated, reason)
}

type decision struct {
	node   string
	fail   FailType
	action Action
}

type recordingObserver struct {
	decisions []decision
}

func (o *recordingObserver) ObserveFailover(nodeID string, failType FailType, action Action) {
	o.decisions = append(o.decisions, decision{nodeID, failType, action})
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicyDisabled, false},
		{"disabled", PolicyDisabled, false},
		{"DROP_SECONDARY_ON_FAIL", PolicyDropSecondaryOnFail, false},
		{" drop_secondary_on_fail ", PolicyDropSecondaryOnFail, false},
		{"elect", PolicyDisabled, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if (err != nil) != tt.wantErr || got != tt.want {
				t.Errorf("ParsePolicy(%q) = %v, %v", tt.in, got, err)
			}
			if tt.wantErr && !errors.Is(err, ErrUnknownPolicy) {
				t.Errorf("error %v should wrap ErrUnknownPolicy", err)
			}
		})
	}

	for _, p := range []Policy{PolicyDisabled, PolicyDropSecondaryOnFail} {
		if got, _ := ParsePolicy(p.String()); got != p {
			t.Errorf("ParsePolicy(%q) = %v, want %v", p.String(), got, p)
		}
	}
}

func TestDisabled_AnyFailureTerminates(t *testing.T) {
	for _, node := range []string{"node_0", "node_1"} {
		t.Run(node, func(t *testing.T) {
			actions := &fakeActions{}
			h := NewHandler(PolicyDisabled, "node_0", actions)

			if got := h.HandleNodeFailed(node, FailConnectionLost); got != ActionTerminated {
				t.Errorf("HandleNodeFailed = %v, want terminated", got)
			}
			if len(actions.dropped) != 0 {
				t.Errorf("no node should be dropped, got %v", actions.dropped)
			}
			if len(actions.terminated) != 1 || !errors.Is(actions.terminated[0], ErrNodeFailed) {
				t.Errorf("terminated = %v, want one ErrNodeFailed", actions.terminated)
			}
		})
	}
}

func TestDropSecondary_DropsOnlySecondaries(t *testing.T) {
	actions := &fakeActions{}
	obs := &recordingObserver{}
	h := NewHandler(PolicyDropSecondaryOnFail, "node_0", actions, WithObserver(obs))

	if got := h.HandleNodeFailed("node_2", FailBarrierTimeout); got != ActionDropped {
		t.Fatalf("HandleNodeFailed(secondary) = %v, want dropped", got)
	}
	if got := h.HandleNodeFailed("node_2", FailConnectionLost); got != ActionNone {
		t.Errorf("second failure of a dropped node = %v, want none", got)
	}
	if !h.Dropped("node_2") || h.Terminated() {
		t.Error("node_2 should be dropped and the session alive")
	}
	if len(actions.dropped) != 1 || actions.dropped[0] != "node_2" {
		t.Errorf("dropped = %v, want [node_2]", actions.dropped)
	}

	if got := h.HandleNodeFailed("node_0", FailCommunication); got != ActionTerminated {
		t.Errorf("HandleNodeFailed(primary) = %v, want terminated", got)
	}
	if len(actions.terminated) != 1 || !errors.Is(actions.terminated[0], ErrPrimaryFailed) {
		t.Errorf("terminated = %v, want one ErrPrimaryFailed", actions.terminated)
	}

	want := []decision{
		{"node_2", FailBarrierTimeout, ActionDropped},
		{"node_0", FailCommunication, ActionTerminated},
	}
	if len(obs.decisions) != len(want) {
		t.Fatalf("decisions = %v, want %v", obs.decisions, want)
	}
	for i := range want {
		if obs.decisions[i] != want[i] {
			t.Errorf("decision %d = %v, want %v", i, obs.decisions[i], want[i])
		}
	}
}

func TestDropSecondary_DropErrorEscalates(t *testing.T) {
	dropErr := errors.New("membership refused")
	actions := &fakeActions{dropErr: dropErr}
	h := NewHandler(PolicyDropSecondaryOnFail, "node_0", actions)

	if got := h.HandleNodeFailed("node_1", FailConnectionLost); got != ActionTerminated {
		t.Fatalf("HandleNodeFailed = %v, want terminated", got)
	}
	if len(actions.terminated) != 1 {
		t.Fatalf("terminated = %v, want one reason", actions.terminated)
	}
	reason := actions.terminated[0]
	if !errors.Is(reason, ErrDropFailed) || !errors.Is(reason, dropErr) {
		t.Errorf("reason = %v, want ErrDropFailed wrapping the drop error", reason)
	}
}

func TestTerminatesOnlyOnce(t *testing.T) {
	actions := &fakeActions{}
	h := NewHandler(PolicyDisabled, "node_0", actions)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.HandleNodeFailed("node_1", FailCommunication)
		}()
	}
	wg.Wait()

	if len(actions.terminated) != 1 {
		t.Errorf("Terminate called %d times, want 1", len(actions.terminated))
	}
}

func TestCommResults(t *testing.T) {
	tests := []struct {
		result protocol.CommResult
		want   Action
	}{
		{protocol.CommOk, ActionNone},
		{protocol.CommRejected, ActionNone},
		{protocol.CommSendFailed, ActionDropped},
		{protocol.CommRecvFailed, ActionDropped},
	}

	for _, tt := range tests {
		t.Run(tt.result.String(), func(t *testing.T) {
			h := NewHandler(PolicyDropSecondaryOnFail, "node_0", &fakeActions{})
			if got := h.HandleCommResult("node_1", tt.result); got != tt.want {
				t.Errorf("HandleCommResult(%v) = %v, want %v", tt.result, got, tt.want)
			}
		})
	}
}

func TestDisarm_IgnoresShutdownDisconnects(t *testing.T) {
	actions := &fakeActions{}
	h := NewHandler(PolicyDisabled, "node_0", actions)

	h.Disarm()
	h.PeerDisconnected("node_1", errors.New("connection reset"))
	h.ObserveComm("node_0", protocol.ReqWaitForFrameEnd, protocol.CommRecvFailed, 0)

	if len(actions.terminated) != 0 || len(actions.dropped) != 0 {
		t.Errorf("disarmed handler acted: dropped=%v terminated=%v", actions.dropped, actions.terminated)
	}
}
