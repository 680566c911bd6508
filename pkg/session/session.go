// Package session drives a node through the lockstep frame loop.
//
// A Session owns everything one node needs: membership, barriers, the
// frame cache, the sync object registry, the event replicator, the
// controller and the transport. Start brings the node online (listen on the
// primary, connect and say Hello on a secondary); RunFrame then executes
// one frame in the same phase order on every node:
//
//	FrameStart -> deltaTime, timecode -> PreTick sync, events, input ->
//	app.PreTick -> Tick sync -> app.Tick -> PostTick sync -> app.PostTick ->
//	FrameEnd -> ClearCache (primary) -> SwapSync
//
// The first RunFrame also passes the GameStart barrier.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-lockstep/pkg/barrier"
	"github.com/dd0wney/cluso-lockstep/pkg/cluster"
	"github.com/dd0wney/cluso-lockstep/pkg/controller"
	"github.com/dd0wney/cluso-lockstep/pkg/events"
	"github.com/dd0wney/cluso-lockstep/pkg/failover"
	"github.com/dd0wney/cluso-lockstep/pkg/framecache"
	"github.com/dd0wney/cluso-lockstep/pkg/logging"
	"github.com/dd0wney/cluso-lockstep/pkg/metrics"
	"github.com/dd0wney/cluso-lockstep/pkg/protocol"
	"github.com/dd0wney/cluso-lockstep/pkg/syncobj"
	"github.com/dd0wney/cluso-lockstep/pkg/transport"
)

// Session is one node's participation in a lockstep cluster
type Session struct {
	cfg     Config
	id      string
	logger  logging.Logger
	metrics *metrics.Registry

	membership *cluster.Membership
	barriers   map[protocol.Gate]*barrier.Barrier
	cache      *framecache.Cache
	registry   *syncobj.Registry
	events     *events.Replicator
	ctrl       *controller.Controller
	failover   *failover.Handler
	transport  transport.Transport

	state   transport.Lifecycle
	cleanup *transport.ResourceCleanup
	server  transport.Server
	client  *protocol.Client

	// linked is set once Hello succeeded; failures before that are retried
	linked   atomic.Bool
	quitting atomic.Bool

	mu          sync.Mutex
	frame       uint64
	gameStarted bool
	lastFrameAt time.Time
	lastFrame   time.Duration
	lastResults map[protocol.Gate]barrier.Result
	startedAt   time.Time

	doneOnce sync.Once
	done     chan struct{}
	err      error
}

// New builds a session from cfg. Nothing touches the network until Start.
func New(cfg Config, deps Deps) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	policy, err := failover.ParsePolicy(cfg.Cluster.Failover)
	if err != nil {
		return nil, err
	}
	membership, err := cluster.NewMembership(cfg.Cluster, cfg.NodeID)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:         cfg,
		id:          uuid.NewString(),
		metrics:     deps.Metrics,
		membership:  membership,
		cache:       framecache.New(),
		lastResults: make(map[protocol.Gate]barrier.Result, len(protocol.Gates)),
		done:        make(chan struct{}),
	}
	if s.metrics == nil {
		s.metrics = metrics.NewRegistry()
	}
	s.logger = logging.OrNop(deps.Logger).With(
		logging.Component("session"),
		logging.NodeID(cfg.NodeID),
		logging.String("session_id", s.id))
	s.registry = syncobj.NewRegistry(s.logger)
	s.events = events.NewReplicator(s.logger)
	s.cleanup = transport.NewResourceCleanup(s.logger)

	gated := cfg.Mode == cluster.ModeEditor ||
		(cfg.Mode == cluster.ModeCluster && membership.LocalRole() == cluster.RolePrimary)
	if gated {
		if s.barriers, err = s.newBarriers(); err != nil {
			return nil, err
		}
	}

	s.ctrl, err = controller.New(controller.Config{
		Mode:       cfg.Mode,
		Membership: membership,
		SessionID:  s.id,
		Barriers:   s.barriers,
		Cache:      s.cache,
		Registry:   s.registry,
		Events:     s.events,
		Frames:     deps.Frames,
		Input:      deps.Input,
		Logger:     s.logger,
	})
	if err != nil {
		if errors.Is(err, controller.ErrMissingDependency) && deps.Frames == nil {
			return nil, fmt.Errorf("%w: %w", ErrNoFrameSource, err)
		}
		return nil, err
	}

	s.failover = failover.NewHandler(policy, membership.PrimaryID(), s,
		failover.WithLogger(s.logger),
		failover.WithObserver(s.metrics))
	s.events.OnQuit(s.onQuit)

	if cfg.Mode != cluster.ModeDisabled && cfg.Mode != cluster.ModeStandalone {
		s.transport, err = transport.New(cfg.transportKind(), transport.Options{
			NodeID:         cfg.NodeID,
			Logger:         s.logger,
			ConnectTimeout: cfg.Cluster.Connect.Timeout,
			MaxPeers:       membership.Size(),
		})
		if err != nil {
			return nil, err
		}
	}

	s.metrics.SetClusterRole(s.ctrl.Role().String())
	s.updateClusterMetrics()
	return s, nil
}

func (s *Session) newBarriers() (map[protocol.Gate]*barrier.Barrier, error) {
	t := s.cfg.Cluster.Timeouts
	timeouts := map[protocol.Gate]time.Duration{
		protocol.GateGameStart:  t.GameStart,
		protocol.GateFrameStart: t.FrameStart,
		protocol.GateFrameEnd:   t.FrameEnd,
		protocol.GateSwapSync:   t.SwapSync,
	}
	participants := s.membership.Active()

	out := make(map[protocol.Gate]*barrier.Barrier, len(protocol.Gates))
	for _, gate := range protocol.Gates {
		b, err := barrier.New(gate.String(), participants, timeouts[gate], barrier.WithLogger(s.logger))
		if err != nil {
			return nil, fmt.Errorf("barrier %s: %w", gate, err)
		}
		out[gate] = b
		s.metrics.SetBarrierParticipants(gate.String(), len(participants))
	}
	return out, nil
}

// Start brings the node online. A serving node activates its barriers and
// listens; a secondary connects to the primary, retrying within the
// configured budget, and announces itself with Hello.
func (s *Session) Start(ctx context.Context) error {
	unlock, running := s.state.TryStart()
	if running {
		return ErrAlreadyStarted
	}
	defer unlock()

	select {
	case <-s.done:
		return ErrStopped
	default:
	}

	for _, b := range s.barriers {
		if err := b.Activate(); err != nil {
			return err
		}
	}

	var err error
	switch {
	case s.transport == nil:
	case s.ctrl.Serves():
		err = s.listen()
	default:
		err = s.connect(ctx)
	}
	if err != nil {
		s.cleanup.Cleanup()
		for _, b := range s.barriers {
			b.Deactivate()
		}
		return err
	}

	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()
	s.state.MarkStarted()

	s.logger.Info("Session started",
		logging.Role(s.ctrl.Name()),
		logging.String("mode", s.cfg.Mode.String()),
		logging.String("failover", s.failover.Policy().String()),
		logging.Int("nodes", s.membership.Size()))
	return nil
}

func (s *Session) listen() error {
	local := s.membership.Local()
	if s.cfg.Mode == cluster.ModeEditor {
		local = local.WithHost(s.ctrl.ResolvePrimaryHost())
	}

	dispatcher := protocol.NewDispatcher(s.ctrl,
		protocol.WithPeerObserver(s),
		protocol.WithRequestObserver(s.metrics),
		protocol.WithDispatcherLogger(s.logger))

	server, err := s.transport.Listen(local, dispatcher)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", local.SyncAddr(), err)
	}
	s.mu.Lock()
	s.server = server
	s.mu.Unlock()
	s.cleanup.Add(server, "server")

	s.logger.Info("Listening",
		logging.Addr(server.SyncAddr()),
		logging.String("events_addr", server.EventsAddr()),
		logging.String("transport", s.transport.Kind()))
	return nil
}

func (s *Session) connect(ctx context.Context) error {
	primary := s.membership.Primary().WithHost(s.ctrl.ResolvePrimaryHost())
	connect := s.cfg.Cluster.Connect

	err := transport.Retry(ctx, connect.Retries, connect.Delay, s.logger, func(ctx context.Context) error {
		dialCtx, cancel := context.WithTimeout(ctx, connect.Timeout)
		defer cancel()

		requests, evs, err := s.transport.Dial(dialCtx, primary)
		if err != nil {
			return err
		}
		client := protocol.NewClient(primary.ID, requests, evs,
			protocol.WithCommObserver(s),
			protocol.WithClientLogger(s.logger))

		answer, err := client.Hello(dialCtx, s.cfg.NodeID, s.id)
		if err != nil {
			client.Close()
			return err
		}
		if got := answer[protocol.ArgPrimaryID]; got != primary.ID {
			client.Close()
			return fmt.Errorf("%w: expected primary %q, reached %q", cluster.ErrUnknownPrimary, primary.ID, got)
		}
		s.client = client
		return nil
	})
	if err != nil {
		return fmt.Errorf("connect to primary %s at %s: %w", primary.ID, primary.SyncAddr(), err)
	}

	s.cleanup.Add(s.client, "client")
	s.ctrl.SetClient(s.client)
	s.linked.Store(true)
	s.logger.Info("Connected to primary", logging.Peer(primary.ID), logging.Addr(primary.SyncAddr()))
	return nil
}

// Stop ends the session deliberately. Disconnects caused by the shutdown
// are not treated as failures. Safe to call more than once.
func (s *Session) Stop() error {
	s.failover.Disarm()
	s.finish(nil)

	unlock, notRunning := s.state.TryStop()
	if notRunning {
		return nil
	}
	defer unlock()

	for _, b := range s.barriers {
		b.Dispose()
	}
	s.linked.Store(false)
	err := s.cleanup.CloseAll()
	s.state.MarkStopped()

	s.logger.Info("Session stopped", logging.Frame(s.Frame()))
	return err
}

// finish records the terminal error once and releases everything blocked
// on the session
func (s *Session) finish(err error) {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		for _, b := range s.barriers {
			b.Deactivate()
		}
		close(s.done)
	})
}

// Done is closed when the session has stopped or terminated
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session ended: nil after Stop, ErrQuitRequested after
// a replicated quit, or an error wrapping ErrTerminated
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// ID returns the session instance id sent in Hello
func (s *Session) ID() string { return s.id }

// Frame returns the number of the last completed frame
func (s *Session) Frame() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

// Controller exposes the node controller
func (s *Session) Controller() *controller.Controller { return s.ctrl }

// Registry is where the application registers its sync objects
func (s *Session) Registry() *syncobj.Registry { return s.registry }

// Events is where the application adds cluster event listeners
func (s *Session) Events() *events.Replicator { return s.events }

// Membership returns the node table and active set
func (s *Session) Membership() *cluster.Membership { return s.membership }

// Metrics returns the registry the session reports to
func (s *Session) Metrics() *metrics.Registry { return s.metrics }

func (s *Session) serverRef() transport.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server
}

// SyncAddr returns the bound request address of a serving node
func (s *Session) SyncAddr() string {
	if srv := s.serverRef(); srv != nil {
		return srv.SyncAddr()
	}
	return ""
}

// EventsAddr returns the bound events address of a serving node
func (s *Session) EventsAddr() string {
	if srv := s.serverRef(); srv != nil {
		return srv.EventsAddr()
	}
	return ""
}

// Peers returns the secondaries connected to a serving node
func (s *Session) Peers() []string {
	if srv := s.serverRef(); srv != nil {
		return srv.Peers()
	}
	return nil
}

// EmitJSON queues or forwards a JSON cluster event
func (s *Session) EmitJSON(ev events.JSONEvent, primaryOnly bool) error {
	if err := s.ctrl.EmitClusterEventJSON(ev, primaryOnly); err != nil {
		return err
	}
	s.recordEmit("json", primaryOnly)
	return nil
}

// EmitBinary queues or forwards a binary cluster event
func (s *Session) EmitBinary(ev events.BinaryEvent, primaryOnly bool) error {
	if err := s.ctrl.EmitClusterEventBinary(ev, primaryOnly); err != nil {
		return err
	}
	s.recordEmit("binary", primaryOnly)
	return nil
}

// RequestQuit replicates the quit system event to every node
func (s *Session) RequestQuit() error {
	if err := s.ctrl.RequestQuit(); err != nil {
		return err
	}
	s.recordEmit("json", false)
	return nil
}

func (s *Session) recordEmit(kind string, primaryOnly bool) {
	switch {
	case s.ctrl.IsPrimary():
		s.metrics.RecordEventsEmitted(kind, "local", 1)
	case !primaryOnly:
		s.metrics.RecordEventsEmitted(kind, "forwarded", 1)
	}
}

// onQuit runs when the quit event is replicated. The current frame still
// completes on every node; RunFrame returns ErrQuitRequested after it.
func (s *Session) onQuit() {
	if s.quitting.CompareAndSwap(false, true) {
		s.failover.Disarm()
		s.logger.Info("Stopping after the current frame")
	}
}

func (s *Session) updateClusterMetrics() {
	s.metrics.UpdateClusterMetrics(s.membership.Size(), s.membership.ActiveCount(), len(s.Peers()), s.membership.Epoch())
}
