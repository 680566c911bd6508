package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pull"
	"go.nanomsg.org/mangos/v3/protocol/push"
	"go.nanomsg.org/mangos/v3/protocol/rep"
	"go.nanomsg.org/mangos/v3/protocol/req"

	// Register all transports
	_ "go.nanomsg.org/mangos/v3/transport/all"

	"github.com/dd0wney/cluso-lockstep/pkg/cluster"
	"github.com/dd0wney/cluso-lockstep/pkg/logging"
	"github.com/dd0wney/cluso-lockstep/pkg/protocol"
)

// nngPollInterval bounds how long a receive loop blocks before checking for shutdown
const nngPollInterval = time.Second

// NNG carries the protocol over mangos sockets: REQ/REP for requests and
// PUSH/PULL for events.
type NNG struct {
	opts Options
}

// NewNNG creates the nng transport
func NewNNG(opts Options) Transport {
	return &NNG{opts: opts.withDefaults()}
}

// Kind returns "nng"
func (t *NNG) Kind() string { return "nng" }

func nngAddr(host string, port int) string {
	return "tcp://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// freePort asks the kernel for an unused port. mangos does not report the
// port it bound for ":0".
func freePort(host string) (int, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// Listen binds the REP and PULL sockets for the node
func (t *NNG) Listen(node cluster.Node, handler protocol.Handler) (Server, error) {
	s := &nngServer{
		opts:    t.opts,
		handler: handler,
		logger:  t.opts.Logger.With(logging.Component("nng_server")),
		stopCh:  make(chan struct{}),
		pipes:   make(map[uint32]string),
		peers:   make(map[string]uint32),
	}
	if err := s.start(node); err != nil {
		return nil, err
	}
	return s, nil
}

type nngServer struct {
	opts    Options
	handler protocol.Handler
	logger  logging.Logger

	repSock    mangos.Socket
	pullSock   mangos.Socket
	syncAddr   string
	eventsAddr string
	state      Lifecycle
	wg         sync.WaitGroup
	stopCh     chan struct{}

	mu    sync.Mutex
	pipes map[uint32]string
	peers map[string]uint32
}

func (s *nngServer) start(node cluster.Node) error {
	unlock, running := s.state.TryStart()
	if running {
		return nil
	}
	defer unlock()

	ports := node.Ports
	var err error
	if ports.Sync == 0 {
		if ports.Sync, err = freePort(node.Host); err != nil {
			return fmt.Errorf("failed to pick sync port: %w", err)
		}
	}
	if ports.Events == 0 {
		if ports.Events, err = freePort(node.Host); err != nil {
			return fmt.Errorf("failed to pick events port: %w", err)
		}
	}

	cleanup := NewResourceCleanup(s.logger)
	defer cleanup.Cleanup()

	repSock, err := rep.NewSocket()
	if err != nil {
		return fmt.Errorf("failed to create REP socket: %w", err)
	}
	cleanup.Add(repSock, "sync responder")
	repSock.SetPipeEventHook(s.pipeEvent)

	s.syncAddr = nngAddr(node.Host, ports.Sync)
	if err := repSock.Listen(s.syncAddr); err != nil {
		return fmt.Errorf("failed to bind REP socket: %w", err)
	}

	pullSock, err := pull.NewSocket()
	if err != nil {
		return fmt.Errorf("failed to create PULL socket: %w", err)
	}
	cleanup.Add(pullSock, "event receiver")
	if err := pullSock.SetOption(mangos.OptionRecvDeadline, nngPollInterval); err != nil {
		return fmt.Errorf("failed to set PULL deadline: %w", err)
	}

	s.eventsAddr = nngAddr(node.Host, ports.Events)
	if err := pullSock.Listen(s.eventsAddr); err != nil {
		return fmt.Errorf("failed to bind PULL socket: %w", err)
	}

	// One REP context per peer so a blocking wait never holds up another node.
	contexts := make([]mangos.Context, 0, s.opts.MaxPeers)
	for i := 0; i < s.opts.MaxPeers; i++ {
		c, err := repSock.OpenContext()
		if err != nil {
			return fmt.Errorf("failed to open REP context: %w", err)
		}
		cleanup.Add(c, "REP context")
		contexts = append(contexts, c)
	}

	s.repSock = repSock
	s.pullSock = pullSock
	s.state.MarkStarted()

	for _, c := range contexts {
		s.wg.Go(func() { s.serveContext(c) })
	}
	s.wg.Go(s.serveEvents)

	s.logger.Info("Listening",
		logging.Addr(s.syncAddr),
		logging.String("events_addr", s.eventsAddr))

	cleanup.Clear()
	return nil
}

func (s *nngServer) SyncAddr() string   { return s.syncAddr }
func (s *nngServer) EventsAddr() string { return s.eventsAddr }

func (s *nngServer) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.peers))
	for id := range s.peers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *nngServer) serveContext(c mangos.Context) {
	for {
		msg, err := c.RecvMsg()
		if err != nil {
			if errors.Is(err, mangos.ErrClosed) {
				return
			}
			select {
			case <-s.stopCh:
				return
			default:
			}
			s.logger.Debug("Receive failed", logging.Error(err))
			continue
		}

		resp := s.handle(msg)
		msg.Free()
		if resp == nil {
			continue
		}

		out, err := protocol.NewMessage(protocol.MsgResponse, s.opts.NodeID, resp)
		if err == nil {
			var data []byte
			if data, err = out.Marshal(); err == nil {
				err = c.Send(data)
			}
		}
		if err != nil && !errors.Is(err, mangos.ErrClosed) {
			s.logger.Warn("Failed to send response", logging.Request(resp.Name), logging.Error(err))
		}
	}
}

// handle answers one request. Hello binds the pipe to the peer; any other
// request must arrive on an already bound pipe.
func (s *nngServer) handle(msg *mangos.Message) *protocol.Response {
	in, err := protocol.UnmarshalMessage(msg.Body)
	if err != nil {
		s.logger.Warn("Dropping undecodable message", logging.Error(err))
		return nil
	}
	var r protocol.Request
	if err := in.Decode(&r); err != nil {
		s.logger.Warn("Dropping undecodable request", logging.Error(err))
		return nil
	}

	var pipeID uint32
	if msg.Pipe != nil {
		pipeID = msg.Pipe.ID()
	}

	if r.Name == protocol.ReqHello {
		peer := r.Args[protocol.ArgNodeID]
		if s.peerBound(peer) {
			return r.Fail(protocol.CodeInvalidArgument, "%v: %q", ErrDuplicatePeer, peer)
		}
		resp := s.handler.HandleRequest(peer, &r)
		if resp.Error == "" {
			if !s.bindPeer(peer, pipeID) {
				return r.Fail(protocol.CodeInvalidArgument, "%v: %q", ErrDuplicatePeer, peer)
			}
			s.handler.PeerConnected(peer)
		}
		return resp
	}

	peer, ok := s.pipePeer(pipeID)
	if !ok {
		return r.Fail(protocol.CodeInvalidArgument, "first request must be %s", protocol.ReqHello)
	}
	if in.Type == protocol.MsgEvent {
		s.handler.HandleMessage(peer, &r)
		return r.Reply(nil)
	}
	return s.handler.HandleRequest(peer, &r)
}

func (s *nngServer) serveEvents() {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		data, err := s.pullSock.Recv()
		if err != nil {
			if errors.Is(err, mangos.ErrClosed) {
				return
			}
			continue
		}

		msg, err := protocol.UnmarshalMessage(data)
		if err != nil || msg.Type != protocol.MsgEvent {
			s.logger.Warn("Dropping malformed event", logging.Error(err))
			continue
		}
		if !s.peerBound(msg.From) {
			s.logger.Warn("Dropping event from unknown peer", logging.Peer(msg.From))
			continue
		}
		var r protocol.Request
		if err := msg.Decode(&r); err != nil {
			s.logger.Warn("Dropping undecodable event", logging.Peer(msg.From), logging.Error(err))
			continue
		}
		s.handler.HandleMessage(msg.From, &r)
	}
}

// pipeEvent reports a peer as gone when its REQ pipe detaches
func (s *nngServer) pipeEvent(ev mangos.PipeEvent, p mangos.Pipe) {
	if ev != mangos.PipeEventDetached {
		return
	}

	s.mu.Lock()
	peer, ok := s.pipes[p.ID()]
	if ok {
		delete(s.pipes, p.ID())
		delete(s.peers, peer)
	}
	s.mu.Unlock()

	if !ok || !s.state.IsRunning() {
		return
	}
	err := fmt.Errorf("%w: pipe detached", protocol.ErrRecvFailed)
	s.wg.Go(func() { s.handler.PeerDisconnected(peer, err) })
}

func (s *nngServer) peerBound(peer string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.peers[peer]
	return ok
}

func (s *nngServer) pipePeer(id uint32) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	peer, ok := s.pipes[id]
	return peer, ok
}

func (s *nngServer) bindPeer(peer string, pipeID uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[peer]; ok {
		return false
	}
	s.peers[peer] = pipeID
	s.pipes[pipeID] = peer
	return true
}

func (s *nngServer) Close() error {
	unlock, notRunning := s.state.TryStop()
	if notRunning {
		return nil
	}
	defer unlock()

	close(s.stopCh)
	s.state.MarkStopped()

	cleanup := NewResourceCleanup(s.logger)
	cleanup.Add(s.repSock, "sync responder")
	cleanup.Add(s.pullSock, "event receiver")
	err := cleanup.CloseAll()

	s.wg.Wait()
	s.logger.Info("Stopped")
	return err
}

// Dial connects a REQ socket and a PUSH socket to the primary
func (t *NNG) Dial(ctx context.Context, node cluster.Node) (protocol.Channel, protocol.Channel, error) {
	logger := t.opts.Logger.With(logging.Component("nng_client"), logging.Peer(node.ID))

	cleanup := NewResourceCleanup(logger)
	defer cleanup.Cleanup()

	reqSock, err := req.NewSocket()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create REQ socket: %w", err)
	}
	cleanup.Add(reqSock, "sync requester")

	// A resent request would enter a barrier twice.
	if err := reqSock.SetOption(mangos.OptionRetryTime, time.Duration(0)); err != nil {
		return nil, nil, fmt.Errorf("failed to disable REQ retries: %w", err)
	}
	if err := dialWithin(ctx, t.opts.ConnectTimeout, reqSock, nngAddr(node.Host, node.Ports.Sync)); err != nil {
		return nil, nil, err
	}

	pushSock, err := push.NewSocket()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PUSH socket: %w", err)
	}
	cleanup.Add(pushSock, "event sender")

	if err := pushSock.SetOption(mangos.OptionSendDeadline, t.opts.WriteTimeout); err != nil {
		return nil, nil, fmt.Errorf("failed to set PUSH deadline: %w", err)
	}
	if err := dialWithin(ctx, t.opts.ConnectTimeout, pushSock, nngAddr(node.Host, node.Ports.Events)); err != nil {
		return nil, nil, err
	}

	cleanup.Clear()

	requests := &nngChannel{nodeID: t.opts.NodeID, sock: reqSock, logger: logger}
	events := &nngChannel{nodeID: t.opts.NodeID, sock: pushSock, logger: logger}
	requests.state.MarkStarted()
	events.state.MarkStarted()
	return requests, events, nil
}

func dialWithin(ctx context.Context, timeout time.Duration, sock mangos.Socket, addr string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d, err := sock.NewDialer(addr, map[string]interface{}{
		mangos.OptionDialAsynch: false,
	})
	if err != nil {
		return fmt.Errorf("failed to create dialer for %s: %w", addr, err)
	}
	done := make(chan error, 1)
	go func() { done <- d.Dial() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to dial %s: %w", addr, err)
		}
		return nil
	case <-timer.C:
		d.Close()
		return fmt.Errorf("failed to dial %s: timed out after %v", addr, timeout)
	case <-ctx.Done():
		d.Close()
		return ctx.Err()
	}
}

// nngChannel is the client end of a REQ or PUSH socket
type nngChannel struct {
	nodeID string
	sock   mangos.Socket
	logger logging.Logger
	nextID uint64
	mu     sync.Mutex
	state  Lifecycle
}

// Request sends req on a fresh REQ context. Cancelling ctx closes the
// context, which aborts the receive.
func (c *nngChannel) Request(ctx context.Context, r *protocol.Request) (*protocol.Response, error) {
	if !c.state.IsRunning() {
		return nil, protocol.ErrChannelClosed
	}

	c.mu.Lock()
	c.nextID++
	r.ID = c.nextID
	c.mu.Unlock()

	data, err := c.encode(protocol.MsgRequest, r)
	if err != nil {
		return nil, err
	}

	mctx, err := c.sock.OpenContext()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrSendFailed, err)
	}
	defer mctx.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := mctx.SetOption(mangos.OptionRecvDeadline, time.Until(deadline)); err != nil {
			return nil, fmt.Errorf("%w: %v", protocol.ErrSendFailed, err)
		}
	}
	stop := context.AfterFunc(ctx, func() { mctx.Close() })
	defer stop()

	if err := mctx.Send(data); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", protocol.ErrSendFailed, err)
	}

	reply, err := mctx.Recv()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", protocol.ErrRecvFailed, err)
	}

	in, err := protocol.UnmarshalMessage(reply)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrRecvFailed, err)
	}
	var resp protocol.Response
	if err := in.Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrRecvFailed, err)
	}
	return &resp, nil
}

// Send pushes a one-way message
func (c *nngChannel) Send(r *protocol.Request) error {
	if !c.state.IsRunning() {
		return protocol.ErrChannelClosed
	}
	data, err := c.encode(protocol.MsgEvent, r)
	if err != nil {
		return err
	}
	if err := c.sock.Send(data); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrSendFailed, err)
	}
	return nil
}

func (c *nngChannel) encode(t protocol.MessageType, r *protocol.Request) ([]byte, error) {
	msg, err := protocol.NewMessage(t, c.nodeID, r)
	if err != nil {
		return nil, err
	}
	return msg.Marshal()
}

func (c *nngChannel) Close() error {
	c.state.MarkStopped()
	err := c.sock.Close()
	if errors.Is(err, mangos.ErrClosed) {
		return nil
	}
	return err
}
