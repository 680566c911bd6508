package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dd0wney/cluso-lockstep/pkg/barrier"
	"github.com/dd0wney/cluso-lockstep/pkg/cluster"
	"github.com/dd0wney/cluso-lockstep/pkg/events"
	"github.com/dd0wney/cluso-lockstep/pkg/framecache"
	"github.com/dd0wney/cluso-lockstep/pkg/protocol"
	"github.com/dd0wney/cluso-lockstep/pkg/syncobj"
)

// clockSource returns a new delta on every call and counts the calls
type clockSource struct {
	mu    sync.Mutex
	delta float64
	calls int
}

func (c *clockSource) DeltaTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.delta += 0.001
	return 1.0/60 + c.delta
}

func (c *clockSource) Timecode() framecache.TimecodeValue {
	return framecache.TimecodeValue{
		Timecode:  framecache.Timecode{Hours: 1, Frames: 12},
		FrameRate: framecache.FrameRate{Numerator: 60, Denominator: 1},
	}
}

func (c *clockSource) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type keyboard struct {
	mu      sync.Mutex
	keys    map[string]string
	cleared int
}

func (k *keyboard) InputData() map[string]string {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make(map[string]string, len(k.keys))
	for key, v := range k.keys {
		out[key] = v
	}
	return out
}

func (k *keyboard) NativeInputData() map[string]string { return map[string]string{"raw": "1"} }

func (k *keyboard) Clear() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys = map[string]string{}
	k.cleared++
}

type counter struct {
	id    string
	value string
	dirty bool
}

func (c *counter) GetID() string             { return c.id }
func (c *counter) IsActive() bool            { return true }
func (c *counter) IsDirty() bool             { return c.dirty }
func (c *counter) ClearDirty()               { c.dirty = false }
func (c *counter) SerializeToString() string { return c.value }
func (c *counter) DeserializeFromString(s string) bool {
	c.value = s
	return true
}

func testMembership(t *testing.T, local string, ids ...string) *cluster.Membership {
	t.Helper()
	cfg := &cluster.Config{Primary: ids[0]}
	for _, id := range ids {
		cfg.Nodes = append(cfg.Nodes, cluster.Node{ID: id, Host: "10.0.0." + id[len(id)-1:]})
	}
	m, err := cluster.NewMembership(cfg, local)
	if err != nil {
		t.Fatalf("NewMembership: %v", err)
	}
	return m
}

func testBarriers(t *testing.T, ids []string, timeout time.Duration) map[protocol.Gate]*barrier.Barrier {
	t.Helper()
	out := make(map[protocol.Gate]*barrier.Barrier, len(protocol.Gates))
	for _, gate := range protocol.Gates {
		b, err := barrier.New(gate.String(), ids, timeout)
		if err != nil {
			t.Fatalf("barrier.New: %v", err)
		}
		if err := b.Activate(); err != nil {
			t.Fatalf("Activate: %v", err)
		}
		out[gate] = b
	}
	return out
}

type primaryFixture struct {
	ctrl     *Controller
	clock    *clockSource
	input    *keyboard
	registry *syncobj.Registry
	events   *events.Replicator
}

func newPrimary(t *testing.T, mode cluster.OperationMode, ids ...string) *primaryFixture {
	t.Helper()
	f := &primaryFixture{
		clock:    &clockSource{},
		input:    &keyboard{keys: map[string]string{"space": "down"}},
		registry: syncobj.NewRegistry(nil),
		events:   events.NewReplicator(nil),
	}
	cfg := Config{
		Mode:       mode,
		Membership: testMembership(t, ids[0], ids...),
		SessionID:  "session-1",
		Cache:      framecache.New(),
		Registry:   f.registry,
		Events:     f.events,
		Frames:     f.clock,
		Input:      f.input,
	}
	if mode != cluster.ModeStandalone {
		cfg.Barriers = testBarriers(t, ids, 2*time.Second)
	}
	ctrl, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.ctrl = ctrl
	return f
}

// newSecondary connects a secondary controller to primary over a loopback channel
func newSecondary(t *testing.T, primary *Controller, local string, ids ...string) *Controller {
	t.Helper()
	ctrl, err := New(Config{Mode: cluster.ModeCluster, Membership: testMembership(t, local, ids...)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	link := protocol.NewLoopback(local, protocol.NewDispatcher(primary))
	ctrl.SetClient(protocol.NewClient(ids[0], link, nil))
	return ctrl
}

func TestBehaviorTable(t *testing.T) {
	tests := []struct {
		mode     cluster.OperationMode
		role     cluster.Role
		wantName string
		wantRole cluster.Role
	}{
		{cluster.ModeDisabled, cluster.RolePrimary, "disabled", cluster.RoleNone},
		{cluster.ModeStandalone, cluster.RoleSecondary, "standalone", cluster.RolePrimary},
		{cluster.ModeEditor, cluster.RoleSecondary, "editor", cluster.RolePrimary},
		{cluster.ModeCluster, cluster.RolePrimary, "primary", cluster.RolePrimary},
		{cluster.ModeCluster, cluster.RoleSecondary, "secondary", cluster.RoleSecondary},
	}

	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			b, role := behaviorFor(tt.mode, tt.role)
			if b.name != tt.wantName || role != tt.wantRole {
				t.Errorf("behaviorFor(%v, %v) = %s/%v, want %s/%v", tt.mode, tt.role, b.name, role, tt.wantName, tt.wantRole)
			}
		})
	}
}

func TestDisabled_EverythingFails(t *testing.T) {
	ctrl, err := New(Config{Mode: cluster.ModeDisabled})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if _, _, err := ctrl.WaitForFrameStart(ctx); !errors.Is(err, ErrDisabled) {
		t.Errorf("WaitForFrameStart = %v", err)
	}
	if _, err := ctrl.GetDeltaTime(ctx); !errors.Is(err, ErrDisabled) {
		t.Errorf("GetDeltaTime = %v", err)
	}
	if _, err := ctrl.GetSyncData(ctx, syncobj.GroupTick); !errors.Is(err, ErrDisabled) {
		t.Errorf("GetSyncData = %v", err)
	}
	if err := ctrl.ClearCache(); !errors.Is(err, ErrDisabled) {
		t.Errorf("ClearCache = %v", err)
	}
	if err := ctrl.EmitClusterEventJSON(events.JSONEvent{Name: "x"}, false); !errors.Is(err, ErrDisabled) {
		t.Errorf("EmitClusterEventJSON = %v", err)
	}
	if ctrl.Role() != cluster.RoleNone {
		t.Errorf("Role() = %v, want none", ctrl.Role())
	}
}

func TestNew_MissingDependencies(t *testing.T) {
	m := testMembership(t, "node_0", "node_0", "node_1")

	if _, err := New(Config{Mode: cluster.ModeCluster}); !errors.Is(err, ErrMissingDependency) {
		t.Errorf("no membership: %v", err)
	}
	if _, err := New(Config{Mode: cluster.ModeCluster, Membership: m}); !errors.Is(err, ErrMissingDependency) {
		t.Errorf("primary without cache: %v", err)
	}

	_, err := New(Config{
		Mode:       cluster.ModeCluster,
		Membership: m,
		Cache:      framecache.New(),
		Registry:   syncobj.NewRegistry(nil),
		Events:     events.NewReplicator(nil),
		Frames:     &clockSource{},
		Barriers:   testBarriers(t, []string{"node_0"}, time.Second),
	})
	if !errors.Is(err, ErrBarrierMismatch) {
		t.Errorf("one-party barriers for two nodes: %v", err)
	}
}

func TestPrimary_DeltaTimeComputedOncePerFrame(t *testing.T) {
	f := newPrimary(t, cluster.ModeCluster, "node_0")
	ctx := context.Background()

	first, err := f.ctrl.GetDeltaTime(ctx)
	if err != nil {
		t.Fatalf("GetDeltaTime: %v", err)
	}
	for i := 0; i < 10; i++ {
		got, _ := f.ctrl.GetDeltaTime(ctx)
		if got != first {
			t.Fatalf("read %d = %v, want %v", i, got, first)
		}
	}
	if f.clock.Calls() != 1 {
		t.Errorf("compute calls = %d, want 1", f.clock.Calls())
	}

	if err := f.ctrl.ClearCache(); err != nil {
		t.Fatalf("ClearCache: %v", err)
	}
	next, _ := f.ctrl.GetDeltaTime(ctx)
	if f.clock.Calls() != 2 || next == first {
		t.Errorf("after ClearCache: calls = %d, value %v (previous %v)", f.clock.Calls(), next, first)
	}
	if f.input.cleared != 1 {
		t.Errorf("ClearCache should clear accumulated input, cleared = %d", f.input.cleared)
	}
}

func TestPrimary_ServedValuesAreFrozen(t *testing.T) {
	f := newPrimary(t, cluster.ModeCluster, "node_0")
	ctx := context.Background()

	obj := &counter{id: "score", value: "1", dirty: true}
	if err := f.registry.Register(obj, syncobj.GroupTick); err != nil {
		t.Fatalf("Register: %v", err)
	}

	first, _ := f.ctrl.GetSyncData(ctx, syncobj.GroupTick)
	obj.value, obj.dirty = "2", true
	second, _ := f.ctrl.GetSyncData(ctx, syncobj.GroupTick)

	if first["score"] != "1" || second["score"] != "1" {
		t.Errorf("sync data changed within a frame: %v then %v", first, second)
	}

	first["score"] = "tampered"
	third, _ := f.ctrl.GetSyncData(ctx, syncobj.GroupTick)
	if third["score"] != "1" {
		t.Errorf("caller mutation leaked into the cache: %v", third)
	}

	if _, err := f.ctrl.GetSyncData(ctx, syncobj.Group(9)); !errors.Is(err, syncobj.ErrUnknownGroup) {
		t.Errorf("GetSyncData(bad group) = %v", err)
	}
}

func TestPrimary_EventsFollowRollover(t *testing.T) {
	f := newPrimary(t, cluster.ModeCluster, "node_0")
	ctx := context.Background()

	ev := events.JSONEvent{Category: "game", Type: "score", Name: "goal", DiscardOnRepeat: true}
	if err := f.ctrl.EmitClusterEventJSON(ev, false); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := f.ctrl.EmitClusterEventBinary(events.BinaryEvent{EventID: 7, Payload: []byte{1}}, true); err != nil {
		t.Fatalf("EmitBinary: %v", err)
	}

	data, _ := f.ctrl.GetEventsData(ctx)
	if len(data.JSON) != 0 || len(data.Binary) != 0 {
		t.Errorf("events visible before rollover: %+v", data)
	}

	f.ctrl.ClearCache()
	f.ctrl.Rollover()
	data, _ = f.ctrl.GetEventsData(ctx)
	if len(data.JSON) != 1 || data.JSON[0].Name != "goal" || len(data.Binary) != 1 {
		t.Errorf("events after rollover = %+v", data)
	}

	reserved := events.JSONEvent{Category: events.SystemCategory, Type: events.SystemType, Name: "quit"}
	if err := f.ctrl.EmitClusterEventJSON(reserved, false); !errors.Is(err, events.ErrReservedEvent) {
		t.Errorf("Emit(reserved identity) = %v", err)
	}
	if err := f.ctrl.RequestQuit(); err != nil {
		t.Errorf("RequestQuit = %v", err)
	}
}

func TestPrimary_BeginFrameDetectsMissingClear(t *testing.T) {
	f := newPrimary(t, cluster.ModeCluster, "node_0")

	if err := f.ctrl.BeginFrame(1); err != nil {
		t.Fatalf("BeginFrame(1): %v", err)
	}
	f.ctrl.GetDeltaTime(context.Background())
	if err := f.ctrl.BeginFrame(2); !errors.Is(err, framecache.ErrStaleFrame) {
		t.Errorf("BeginFrame without ClearCache = %v, want ErrStaleFrame", err)
	}
}

func TestStandalone_WaitsReleaseImmediately(t *testing.T) {
	f := newPrimary(t, cluster.ModeStandalone, "node_0")

	for _, gate := range protocol.Gates {
		res, _, err := f.ctrl.WaitFor(context.Background(), gate)
		if err != nil || res != barrier.ResultOk {
			t.Errorf("WaitFor(%s) = %v, %v", gate, res, err)
		}
	}
	if f.ctrl.Serves() {
		t.Error("standalone node should not serve other nodes")
	}
}

func TestEditor_ResolvesLoopback(t *testing.T) {
	f := newPrimary(t, cluster.ModeEditor, "node_0")
	if got := f.ctrl.ResolvePrimaryHost(); got != LoopbackHost {
		t.Errorf("ResolvePrimaryHost() = %q, want loopback", got)
	}
	if !f.ctrl.IsPrimary() || !f.ctrl.Serves() {
		t.Error("editor should behave as the primary")
	}

	p := newPrimary(t, cluster.ModeCluster, "node_0")
	if got := p.ctrl.ResolvePrimaryHost(); got != "10.0.0.0" {
		t.Errorf("cluster ResolvePrimaryHost() = %q, want configured host", got)
	}
}

func TestSecondary_ReadsComeFromPrimary(t *testing.T) {
	ids := []string{"node_0", "node_1"}
	p := newPrimary(t, cluster.ModeCluster, ids...)
	s := newSecondary(t, p.ctrl, "node_1", ids...)
	ctx := context.Background()

	remote, err := s.GetDeltaTime(ctx)
	if err != nil {
		t.Fatalf("secondary GetDeltaTime: %v", err)
	}
	local, _ := p.ctrl.GetDeltaTime(ctx)
	if remote != local {
		t.Errorf("secondary delta %v != primary delta %v", remote, local)
	}
	if p.clock.Calls() != 1 {
		t.Errorf("primary computed %d times, want 1", p.clock.Calls())
	}

	tc, err := s.GetTimecode(ctx)
	if err != nil || tc.Timecode.Hours != 1 || tc.FrameRate.Numerator != 60 {
		t.Errorf("GetTimecode = %+v, %v", tc, err)
	}
	in, err := s.GetInputData(ctx)
	if err != nil || in["space"] != "down" {
		t.Errorf("GetInputData = %v, %v", in, err)
	}
	if s.CacheStats().Computes() != 0 {
		t.Error("secondary should never cache")
	}
	if err := s.ClearCache(); err != nil {
		t.Errorf("secondary ClearCache = %v", err)
	}
}

func TestSecondary_WaitsJoinPrimaryBarrier(t *testing.T) {
	ids := []string{"node_0", "node_1"}
	p := newPrimary(t, cluster.ModeCluster, ids...)
	s := newSecondary(t, p.ctrl, "node_1", ids...)

	type outcome struct {
		res barrier.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, _, err := s.WaitForFrameStart(context.Background())
		done <- outcome{res, err}
	}()

	res, _, err := p.ctrl.WaitForFrameStart(context.Background())
	if err != nil || res != barrier.ResultOk {
		t.Errorf("primary WaitForFrameStart = %v, %v", res, err)
	}
	got := <-done
	if got.err != nil || got.res != barrier.ResultOk {
		t.Errorf("secondary WaitForFrameStart = %v, %v", got.res, got.err)
	}
}

func TestSecondary_LearnsWhoMissedATimedOutGate(t *testing.T) {
	ids := []string{"node_0", "node_1"}
	p := newPrimary(t, cluster.ModeCluster, ids...)
	s := newSecondary(t, p.ctrl, "node_1", ids...)

	if _, ok := s.MissingAt(protocol.GateFrameStart); ok {
		t.Error("nothing should be missing before a timeout")
	}

	// The primary never arrives
	res, _, err := s.WaitForFrameStart(context.Background())
	if err != nil || res != barrier.ResultTimeout {
		t.Fatalf("secondary WaitForFrameStart = %v, %v", res, err)
	}

	missing, ok := s.MissingAt(protocol.GateFrameStart)
	if !ok || len(missing) != 1 || missing[0] != "node_0" {
		t.Errorf("secondary MissingAt = %v, %v", missing, ok)
	}
	missing, ok = p.ctrl.MissingAt(protocol.GateFrameStart)
	if !ok || len(missing) != 1 || missing[0] != "node_0" {
		t.Errorf("primary MissingAt = %v, %v", missing, ok)
	}
	if got := s.Laggards(protocol.GateFrameStart); got != nil {
		t.Errorf("a secondary serves no laggards, got %v", got)
	}
}

func TestSecondary_EmitForwardsUnlessPrimaryOnly(t *testing.T) {
	ids := []string{"node_0", "node_1"}
	p := newPrimary(t, cluster.ModeCluster, ids...)
	s := newSecondary(t, p.ctrl, "node_1", ids...)

	if err := s.EmitClusterEventJSON(events.JSONEvent{Category: "ui", Name: "click"}, false); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := s.EmitClusterEventJSON(events.JSONEvent{Category: "ui", Name: "hover"}, true); err != nil {
		t.Fatalf("Emit primary-only: %v", err)
	}
	if err := s.EmitClusterEventBinary(events.BinaryEvent{EventID: 3, Payload: []byte("abc")}, false); err != nil {
		t.Fatalf("EmitBinary: %v", err)
	}

	p.ctrl.Rollover()
	data, _ := p.ctrl.GetEventsData(context.Background())
	if len(data.JSON) != 1 || data.JSON[0].Name != "click" {
		t.Errorf("primary JSON events = %+v, want only the forwarded click", data.JSON)
	}
	if len(data.Binary) != 1 || string(data.Binary[0].Payload) != "abc" {
		t.Errorf("primary binary events = %+v", data.Binary)
	}
}

func TestSecondary_NotConnected(t *testing.T) {
	s, err := New(Config{Mode: cluster.ModeCluster, Membership: testMembership(t, "node_1", "node_0", "node_1")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.GetDeltaTime(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("GetDeltaTime before SetClient = %v", err)
	}
}
