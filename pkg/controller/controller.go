// Package controller implements the node controller: one type whose
// behavior depends on the operation mode and the node's role.
//
// A primary (and an editor or standalone node) answers reads from its frame
// cache, computing each value at most once per frame from the injected
// sources, and gates frame phases on local barriers. A secondary forwards
// every wait and read to the primary through a protocol.Client and never
// caches.
package controller

import (
	"context"
	"fmt"
	"sync"

	"github.com/dd0wney/cluso-lockstep/pkg/barrier"
	"github.com/dd0wney/cluso-lockstep/pkg/cluster"
	"github.com/dd0wney/cluso-lockstep/pkg/events"
	"github.com/dd0wney/cluso-lockstep/pkg/framecache"
	"github.com/dd0wney/cluso-lockstep/pkg/logging"
	"github.com/dd0wney/cluso-lockstep/pkg/protocol"
	"github.com/dd0wney/cluso-lockstep/pkg/syncobj"
)

// FrameSource supplies the live per-frame values on the primary
type FrameSource interface {
	DeltaTime() float64
	Timecode() framecache.TimecodeValue
}

// InputSource supplies input state on the primary. Clear drops what has
// accumulated since the last frame.
type InputSource interface {
	InputData() map[string]string
	NativeInputData() map[string]string
	Clear()
}

type noInput struct{}

func (noInput) InputData() map[string]string       { return map[string]string{} }
func (noInput) NativeInputData() map[string]string { return map[string]string{} }
func (noInput) Clear()                             {}

// Config holds the controller's collaborators. Membership is required for
// every enabled mode; Cache, Registry, Events and Frames for nodes that read
// locally; Barriers for nodes that gate frame phases.
type Config struct {
	Mode       cluster.OperationMode
	Membership *cluster.Membership
	SessionID  string
	Barriers   map[protocol.Gate]*barrier.Barrier
	Cache      *framecache.Cache
	Registry   *syncobj.Registry
	Events     *events.Replicator
	Frames     FrameSource
	Input      InputSource
	Logger     logging.Logger
}

// Controller is the role state machine of one node. The mode and role are
// fixed at construction.
type Controller struct {
	mode       cluster.OperationMode
	role       cluster.Role
	b          behavior
	membership *cluster.Membership
	sessionID  string
	barriers   map[protocol.Gate]*barrier.Barrier
	cache      *framecache.Cache
	registry   *syncobj.Registry
	events     *events.Replicator
	frames     FrameSource
	input      InputSource
	logger     logging.Logger

	mu     sync.RWMutex
	client *protocol.Client
}

// New creates a controller and checks it has what its role needs
func New(cfg Config) (*Controller, error) {
	c := &Controller{
		mode:      cfg.Mode,
		sessionID: cfg.SessionID,
		barriers:  cfg.Barriers,
		cache:     cfg.Cache,
		registry:  cfg.Registry,
		events:    cfg.Events,
		frames:    cfg.Frames,
		input:     cfg.Input,
		logger:    logging.OrNop(cfg.Logger),
	}
	if c.input == nil {
		c.input = noInput{}
	}

	configured := cluster.RoleNone
	if cfg.Membership != nil {
		c.membership = cfg.Membership
		configured = cfg.Membership.LocalRole()
	}
	c.b, c.role = behaviorFor(cfg.Mode, configured)
	if !c.b.enabled {
		c.logger = c.logger.With(logging.Component("controller"), logging.Role(c.b.name))
		return c, nil
	}

	if c.membership == nil {
		return nil, fmt.Errorf("%w: membership", ErrMissingDependency)
	}
	if c.b.local {
		switch {
		case c.cache == nil:
			return nil, fmt.Errorf("%w: frame cache", ErrMissingDependency)
		case c.registry == nil:
			return nil, fmt.Errorf("%w: sync object registry", ErrMissingDependency)
		case c.events == nil:
			return nil, fmt.Errorf("%w: event replicator", ErrMissingDependency)
		case c.frames == nil:
			return nil, fmt.Errorf("%w: frame source", ErrMissingDependency)
		}
	}
	if c.b.gated {
		for _, gate := range protocol.Gates {
			b, ok := c.barriers[gate]
			if !ok || b == nil {
				return nil, fmt.Errorf("%w %s", ErrNoBarrier, gate)
			}
			if b.Participants() != c.membership.ActiveCount() {
				return nil, fmt.Errorf("%w: %s has %d, membership has %d",
					ErrBarrierMismatch, gate, b.Participants(), c.membership.ActiveCount())
			}
		}
	}

	c.logger = c.logger.With(
		logging.Component("controller"),
		logging.NodeID(c.membership.LocalID()),
		logging.Role(c.b.name))
	return c, nil
}

// Mode returns the operation mode
func (c *Controller) Mode() cluster.OperationMode { return c.mode }

// Role returns the effective role
func (c *Controller) Role() cluster.Role { return c.role }

// Name returns the behavior name: disabled, standalone, editor, primary or secondary
func (c *Controller) Name() string { return c.b.name }

// IsPrimary reports whether reads are served locally
func (c *Controller) IsPrimary() bool { return c.b.local }

// Serves reports whether this node answers other nodes' requests
func (c *Controller) Serves() bool { return c.b.serves }

// SessionID returns the id of this session instance
func (c *Controller) SessionID() string { return c.sessionID }

// LocalID returns the local node id, or "" when disabled
func (c *Controller) LocalID() string {
	if c.membership == nil {
		return ""
	}
	return c.membership.LocalID()
}

// ResolvePrimaryHost returns the host a secondary connects to. An editor
// always resolves to loopback.
func (c *Controller) ResolvePrimaryHost() string {
	if c.b.loopback || c.membership == nil {
		return LoopbackHost
	}
	return c.membership.Primary().Host
}

// SetClient installs the link to the primary once a secondary has connected
func (c *Controller) SetClient(client *protocol.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = client
}

func (c *Controller) remote() (*protocol.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, ErrNotConnected
	}
	return c.client, nil
}

// WaitFor blocks at gate until every active node arrives. On the primary
// the local node joins the barrier directly; on a secondary the wait is
// forwarded and ctx bounds the request.
func (c *Controller) WaitFor(ctx context.Context, gate protocol.Gate) (barrier.Result, barrier.WaitTimes, error) {
	switch {
	case !c.b.enabled:
		return barrier.ResultNotActive, barrier.WaitTimes{}, ErrDisabled
	case !c.b.gated && c.b.local:
		return barrier.ResultOk, barrier.WaitTimes{}, nil
	case c.b.local:
		b, ok := c.barriers[gate]
		if !ok {
			return barrier.ResultRejected, barrier.WaitTimes{}, fmt.Errorf("%w %s", ErrNoBarrier, gate)
		}
		res, times := b.Wait(c.membership.LocalID())
		return res, times, nil
	}

	client, err := c.remote()
	if err != nil {
		return barrier.ResultNotActive, barrier.WaitTimes{}, err
	}
	return client.Wait(ctx, gate)
}

// MissingAt returns the nodes missing from the last timed-out generation of
// gate. On a secondary this is the list the primary sent with the timeout;
// ok is false when no list is known.
func (c *Controller) MissingAt(gate protocol.Gate) ([]string, bool) {
	if c.b.local {
		b, ok := c.barriers[gate]
		if !ok {
			return nil, false
		}
		return b.LastTimeout(), true
	}
	client, err := c.remote()
	if err != nil {
		return nil, false
	}
	return client.Laggards(gate)
}

// WaitForGameStart gates the first frame
func (c *Controller) WaitForGameStart(ctx context.Context) (barrier.Result, barrier.WaitTimes, error) {
	return c.WaitFor(ctx, protocol.GateGameStart)
}

// WaitForFrameStart gates the start of every frame
func (c *Controller) WaitForFrameStart(ctx context.Context) (barrier.Result, barrier.WaitTimes, error) {
	return c.WaitFor(ctx, protocol.GateFrameStart)
}

// WaitForFrameEnd gates the end of every frame
func (c *Controller) WaitForFrameEnd(ctx context.Context) (barrier.Result, barrier.WaitTimes, error) {
	return c.WaitFor(ctx, protocol.GateFrameEnd)
}

// WaitForSwapSync gates presentation
func (c *Controller) WaitForSwapSync(ctx context.Context) (barrier.Result, barrier.WaitTimes, error) {
	return c.WaitFor(ctx, protocol.GateSwapSync)
}

// GetDeltaTime returns the frame delta in seconds
func (c *Controller) GetDeltaTime(ctx context.Context) (float64, error) {
	if !c.b.enabled {
		return 0, ErrDisabled
	}
	if c.b.local {
		return c.localDeltaTime(), nil
	}
	client, err := c.remote()
	if err != nil {
		return 0, err
	}
	return client.DeltaTime(ctx)
}

// GetTimecode returns the frame timecode and rate
func (c *Controller) GetTimecode(ctx context.Context) (framecache.TimecodeValue, error) {
	if !c.b.enabled {
		return framecache.TimecodeValue{}, ErrDisabled
	}
	if c.b.local {
		return c.localTimecode(), nil
	}
	client, err := c.remote()
	if err != nil {
		return framecache.TimecodeValue{}, err
	}
	return client.Timecode(ctx)
}

// GetSyncData returns the dirty objects of group serialized by id
func (c *Controller) GetSyncData(ctx context.Context, group syncobj.Group) (map[string]string, error) {
	if !c.b.enabled {
		return nil, ErrDisabled
	}
	if !group.Valid() {
		return nil, fmt.Errorf("%w: %d", syncobj.ErrUnknownGroup, group)
	}
	if c.b.local {
		return c.localSyncData(group), nil
	}
	client, err := c.remote()
	if err != nil {
		return nil, err
	}
	return client.SyncData(ctx, group)
}

// GetInputData returns the primary's input state
func (c *Controller) GetInputData(ctx context.Context) (map[string]string, error) {
	if !c.b.enabled {
		return nil, ErrDisabled
	}
	if c.b.local {
		return c.localInputData(), nil
	}
	client, err := c.remote()
	if err != nil {
		return nil, err
	}
	return client.InputData(ctx)
}

// GetNativeInputData returns the primary's raw input state
func (c *Controller) GetNativeInputData(ctx context.Context) (map[string]string, error) {
	if !c.b.enabled {
		return nil, ErrDisabled
	}
	if c.b.local {
		return c.localNativeInputData(), nil
	}
	client, err := c.remote()
	if err != nil {
		return nil, err
	}
	return client.NativeInputData(ctx)
}

// GetEventsData returns the frozen events snapshot of the frame
func (c *Controller) GetEventsData(ctx context.Context) (framecache.EventsData, error) {
	if !c.b.enabled {
		return framecache.EventsData{}, ErrDisabled
	}
	if c.b.local {
		return c.localEventsData(), nil
	}
	client, err := c.remote()
	if err != nil {
		return framecache.EventsData{}, err
	}
	return client.EventsData(ctx)
}

func (c *Controller) localDeltaTime() float64 {
	return c.cache.DeltaTime(c.frames.DeltaTime)
}

func (c *Controller) localTimecode() framecache.TimecodeValue {
	return c.cache.Timecode(c.frames.Timecode)
}

func (c *Controller) localSyncData(group syncobj.Group) map[string]string {
	return c.cache.SyncData(group, func() map[string]string {
		return c.registry.ExportSyncData(group)
	})
}

func (c *Controller) localInputData() map[string]string {
	return c.cache.InputData(c.input.InputData)
}

func (c *Controller) localNativeInputData() map[string]string {
	return c.cache.NativeInputData(c.input.NativeInputData)
}

func (c *Controller) localEventsData() framecache.EventsData {
	return c.cache.EventsData(func() framecache.EventsData {
		jsonEvents, binaryEvents := c.events.ExportEventsData()
		return framecache.EventsData{JSON: jsonEvents, Binary: binaryEvents}
	})
}

// ClearCache invalidates every cached value and drops accumulated input
// and the served events snapshot. A secondary has nothing to clear.
func (c *Controller) ClearCache() error {
	if !c.b.enabled {
		return ErrDisabled
	}
	if !c.b.local {
		return nil
	}
	c.cache.Clear()
	c.events.ClearSnapshot()
	c.input.Clear()
	return nil
}

// BeginFrame tells the cache a new frame has started. It fails with
// framecache.ErrStaleFrame if ClearCache was skipped.
func (c *Controller) BeginFrame(frame uint64) error {
	if !c.b.local {
		return nil
	}
	return c.cache.BeginFrame(frame)
}

// Rollover freezes the events emitted so far for replication
func (c *Controller) Rollover() {
	if c.b.local {
		c.events.Rollover()
	}
}

// CacheStats returns the frame cache counters; zero on a secondary
func (c *Controller) CacheStats() framecache.Stats {
	if !c.b.local {
		return framecache.Stats{}
	}
	return c.cache.Stats()
}

// EmitClusterEventJSON queues ev for replication. A secondary forwards it
// to the primary unless primaryOnly is set, in which case it is dropped.
func (c *Controller) EmitClusterEventJSON(ev events.JSONEvent, primaryOnly bool) error {
	if !c.b.enabled {
		return ErrDisabled
	}
	if err := events.ValidateJSON(ev); err != nil {
		return err
	}
	if c.b.local {
		c.events.AddJSON(ev)
		return nil
	}
	if primaryOnly {
		c.logger.Debug("Primary-only event ignored on secondary", logging.String("event", ev.Name))
		return nil
	}
	client, err := c.remote()
	if err != nil {
		return err
	}
	return client.EmitJSON(ev)
}

// EmitClusterEventBinary is EmitClusterEventJSON for binary events
func (c *Controller) EmitClusterEventBinary(ev events.BinaryEvent, primaryOnly bool) error {
	if !c.b.enabled {
		return ErrDisabled
	}
	if c.b.local {
		c.events.AddBinary(ev)
		return nil
	}
	if primaryOnly {
		return nil
	}
	client, err := c.remote()
	if err != nil {
		return err
	}
	return client.EmitBinary(ev)
}

// RequestQuit asks every node to exit at the next replicated frame
func (c *Controller) RequestQuit() error {
	return c.EmitClusterEventJSON(events.QuitEvent(), false)
}
