package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dd0wney/cluso-lockstep/pkg/cluster"
	"github.com/dd0wney/cluso-lockstep/pkg/logging"
	"github.com/dd0wney/cluso-lockstep/pkg/protocol"
)

// TCP sends one JSON envelope per line over plain TCP connections
type TCP struct {
	opts Options
}

// NewTCP creates the TCP transport
func NewTCP(opts Options) Transport {
	return &TCP{opts: opts.withDefaults()}
}

// Kind returns "tcp"
func (t *TCP) Kind() string { return "tcp" }

// Listen binds the node's sync and events ports
func (t *TCP) Listen(node cluster.Node, handler protocol.Handler) (Server, error) {
	s := &tcpServer{
		opts:    t.opts,
		handler: handler,
		logger:  t.opts.Logger.With(logging.Component("tcp_server")),
		stopCh:  make(chan struct{}),
		conns:   make(map[net.Conn]struct{}),
		peers:   make(map[string]net.Conn),
	}
	if err := s.start(node); err != nil {
		return nil, err
	}
	return s, nil
}

// Dial opens the request and event connections to the primary
func (t *TCP) Dial(ctx context.Context, node cluster.Node) (protocol.Channel, protocol.Channel, error) {
	dialer := net.Dialer{Timeout: t.opts.ConnectTimeout}

	syncConn, err := dialer.DialContext(ctx, "tcp", node.SyncAddr())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial %s: %w", node.SyncAddr(), err)
	}
	eventsConn, err := dialer.DialContext(ctx, "tcp", node.EventsAddr())
	if err != nil {
		syncConn.Close()
		return nil, nil, fmt.Errorf("failed to dial %s: %w", node.EventsAddr(), err)
	}

	logger := t.opts.Logger.With(logging.Component("tcp_client"), logging.Peer(node.ID))
	return newTCPChannel(t.opts, syncConn, logger), newTCPChannel(t.opts, eventsConn, logger), nil
}

type tcpServer struct {
	opts    Options
	handler protocol.Handler
	logger  logging.Logger

	syncLn   net.Listener
	eventsLn net.Listener
	state    Lifecycle
	wg       sync.WaitGroup
	stopCh   chan struct{}

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	peers map[string]net.Conn
}

func (s *tcpServer) start(node cluster.Node) error {
	unlock, running := s.state.TryStart()
	if running {
		return nil
	}
	defer unlock()

	cleanup := NewResourceCleanup(s.logger)
	defer cleanup.Cleanup()

	syncLn, err := net.Listen("tcp", node.SyncAddr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", node.SyncAddr(), err)
	}
	cleanup.Add(syncLn, "sync listener")

	eventsLn, err := net.Listen("tcp", node.EventsAddr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", node.EventsAddr(), err)
	}
	cleanup.Add(eventsLn, "events listener")

	s.syncLn = syncLn
	s.eventsLn = eventsLn
	s.state.MarkStarted()

	s.wg.Go(func() { s.acceptLoop(syncLn, s.serveSync) })
	s.wg.Go(func() { s.acceptLoop(eventsLn, s.serveEvents) })

	s.logger.Info("Listening",
		logging.Addr(syncLn.Addr().String()),
		logging.String("events_addr", eventsLn.Addr().String()))

	cleanup.Clear()
	return nil
}

func (s *tcpServer) SyncAddr() string   { return s.syncLn.Addr().String() }
func (s *tcpServer) EventsAddr() string { return s.eventsLn.Addr().String() }

func (s *tcpServer) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.peers))
	for id := range s.peers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// acceptLoop accepts connections with a semaphore bounding the handlers
func (s *tcpServer) acceptLoop(ln net.Listener, serve func(net.Conn)) {
	sem := make(chan struct{}, s.opts.MaxPeers+2)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("Accept failed", logging.Error(err))
			continue
		}

		select {
		case sem <- struct{}{}:
		default:
			s.logger.Warn("Connection rejected: at handler capacity", logging.Addr(conn.RemoteAddr().String()))
			conn.Close()
			continue
		}

		if !s.track(conn) {
			<-sem
			conn.Close()
			return
		}
		s.wg.Go(func() {
			defer func() { <-sem }()
			defer s.untrack(conn)
			serve(conn)
		})
	}
}

func (s *tcpServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.IsRunning() {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *tcpServer) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

// serveSync runs the handshake, then answers requests in order until the
// connection drops
func (s *tcpServer) serveSync(conn net.Conn) {
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)

	peer, err := s.handshake(conn, dec, enc)
	if err != nil {
		s.logger.Warn("Handshake failed", logging.Addr(conn.RemoteAddr().String()), logging.Error(err))
		return
	}
	defer s.unbindPeer(peer, conn)

	s.handler.PeerConnected(peer)
	logger := s.logger.With(logging.Peer(peer))

	for {
		var msg protocol.Message
		if err = dec.Decode(&msg); err != nil {
			break
		}
		var req protocol.Request
		if err = msg.Decode(&req); err != nil {
			logger.Warn("Dropping undecodable message", logging.Error(err))
			continue
		}

		switch msg.Type {
		case protocol.MsgEvent:
			s.handler.HandleMessage(peer, &req)
		case protocol.MsgRequest:
			resp := s.handler.HandleRequest(peer, &req)
			if err = s.write(conn, enc, protocol.MsgResponse, resp); err != nil {
				logger.Warn("Failed to write response", logging.Request(req.Name), logging.Error(err))
			}
		default:
			logger.Warn("Unexpected message type", logging.String("type", msg.Type.String()))
		}
		if err != nil {
			break
		}
	}

	if s.stopping() {
		return
	}
	if errors.Is(err, io.EOF) {
		err = fmt.Errorf("%w: connection closed by peer", protocol.ErrRecvFailed)
	}
	s.handler.PeerDisconnected(peer, err)
}

func (s *tcpServer) handshake(conn net.Conn, dec *json.Decoder, enc *json.Encoder) (string, error) {
	if err := conn.SetDeadline(time.Now().Add(s.opts.HandshakeTimeout)); err != nil {
		return "", err
	}

	var msg protocol.Message
	if err := dec.Decode(&msg); err != nil {
		return "", fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	var req protocol.Request
	if err := msg.Decode(&req); err != nil {
		return "", fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if msg.Type != protocol.MsgRequest || req.Name != protocol.ReqHello {
		resp := req.Fail(protocol.CodeInvalidArgument, "first request must be %s", protocol.ReqHello)
		_ = s.write(conn, enc, protocol.MsgResponse, resp)
		return "", fmt.Errorf("%w: got %q", ErrHandshake, req.Name)
	}

	peer := req.Args[protocol.ArgNodeID]
	var resp *protocol.Response
	if s.peerBound(peer) {
		resp = req.Fail(protocol.CodeInvalidArgument, "%v: %q", ErrDuplicatePeer, peer)
	} else {
		resp = s.handler.HandleRequest(peer, &req)
	}
	if err := s.write(conn, enc, protocol.MsgResponse, resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrHandshake, resp.Err())
	}
	if !s.bindPeer(peer, conn) {
		return "", fmt.Errorf("%w: %q", ErrDuplicatePeer, peer)
	}
	return peer, conn.SetDeadline(time.Time{})
}

// serveEvents applies one-way messages from an events connection
func (s *tcpServer) serveEvents(conn net.Conn) {
	dec := json.NewDecoder(conn)
	for {
		var msg protocol.Message
		if err := dec.Decode(&msg); err != nil {
			return
		}
		if msg.Type != protocol.MsgEvent {
			continue
		}
		if !s.peerBound(msg.From) {
			s.logger.Warn("Dropping event from unknown peer", logging.Peer(msg.From))
			continue
		}
		var req protocol.Request
		if err := msg.Decode(&req); err != nil {
			s.logger.Warn("Dropping undecodable event", logging.Peer(msg.From), logging.Error(err))
			continue
		}
		s.handler.HandleMessage(msg.From, &req)
	}
}

func (s *tcpServer) write(conn net.Conn, enc *json.Encoder, t protocol.MessageType, v any) error {
	msg, err := protocol.NewMessage(t, s.opts.NodeID, v)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
		return err
	}
	return enc.Encode(msg)
}

func (s *tcpServer) peerBound(peer string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.peers[peer]
	return ok
}

func (s *tcpServer) bindPeer(peer string, conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[peer]; ok {
		return false
	}
	s.peers[peer] = conn
	return true
}

func (s *tcpServer) unbindPeer(peer string, conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peers[peer] == conn {
		delete(s.peers, peer)
	}
}

func (s *tcpServer) stopping() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// Close stops accepting, drops every connection and waits for the handlers.
// Handlers blocked inside HandleRequest keep Close waiting until they return.
func (s *tcpServer) Close() error {
	unlock, notRunning := s.state.TryStop()
	if notRunning {
		return nil
	}
	defer unlock()

	close(s.stopCh)

	s.mu.Lock()
	s.state.MarkStopped()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	cleanup := NewResourceCleanup(s.logger)
	cleanup.Add(s.syncLn, "sync listener")
	cleanup.Add(s.eventsLn, "events listener")
	err := cleanup.CloseAll()

	s.wg.Wait()
	s.logger.Info("Stopped")
	return err
}

// tcpChannel is the client end of one TCP connection
type tcpChannel struct {
	opts   Options
	conn   net.Conn
	enc    *json.Encoder
	dec    *json.Decoder
	logger logging.Logger

	mu     sync.Mutex
	nextID uint64
	state  Lifecycle
}

func newTCPChannel(opts Options, conn net.Conn, logger logging.Logger) *tcpChannel {
	c := &tcpChannel{
		opts:   opts,
		conn:   conn,
		enc:    json.NewEncoder(conn),
		dec:    json.NewDecoder(conn),
		logger: logger,
	}
	c.state.MarkStarted()
	return c
}

// Request sends req and waits for the response with the same ID. Any failure
// leaves the connection in an unknown state, so the channel is closed.
func (c *tcpChannel) Request(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.IsRunning() {
		return nil, protocol.ErrChannelClosed
	}

	c.nextID++
	req.ID = c.nextID
	msg, err := protocol.NewMessage(protocol.MsgRequest, c.opts.NodeID, req)
	if err != nil {
		return nil, err
	}

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, c.fail(ctx, protocol.ErrSendFailed, err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := c.enc.Encode(msg); err != nil {
		return nil, c.fail(ctx, protocol.ErrSendFailed, err)
	}

	for {
		var in protocol.Message
		if err := c.dec.Decode(&in); err != nil {
			return nil, c.fail(ctx, protocol.ErrRecvFailed, err)
		}
		if in.Type != protocol.MsgResponse {
			continue
		}
		var resp protocol.Response
		if err := in.Decode(&resp); err != nil {
			return nil, c.fail(ctx, protocol.ErrRecvFailed, err)
		}
		if resp.ID != req.ID {
			c.logger.Debug("Skipping stale response", logging.Uint64("id", resp.ID))
			continue
		}
		return &resp, nil
	}
}

// Send writes a one-way message
func (c *tcpChannel) Send(req *protocol.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.IsRunning() {
		return protocol.ErrChannelClosed
	}
	msg, err := protocol.NewMessage(protocol.MsgEvent, c.opts.NodeID, req)
	if err != nil {
		return err
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return c.fail(context.Background(), protocol.ErrSendFailed, err)
	}
	if err := c.enc.Encode(msg); err != nil {
		return c.fail(context.Background(), protocol.ErrSendFailed, err)
	}
	return nil
}

// fail closes the channel and reports ctx's error if ctx ended the call. The
// conn deadline is ctx's deadline and may fire before ctx is marked done.
func (c *tcpChannel) fail(ctx context.Context, kind, err error) error {
	c.state.MarkStopped()
	c.conn.Close()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
			return context.DeadlineExceeded
		}
	}
	return fmt.Errorf("%w: %v", kind, err)
}

func (c *tcpChannel) Close() error {
	c.state.MarkStopped()
	err := c.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
