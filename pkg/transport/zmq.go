//go:build zmq
// +build zmq

package transport

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/dd0wney/cluso-lockstep/pkg/cluster"
	"github.com/dd0wney/cluso-lockstep/pkg/logging"
	"github.com/dd0wney/cluso-lockstep/pkg/protocol"
)

// zmqPollInterval is the receive timeout of the socket loops. Sockets are
// not safe for concurrent use, so replies queue up until the loop comes
// back around.
const zmqPollInterval = 5 * time.Millisecond

func init() {
	Register("zmq", NewZMQ)
}

// ZMQ carries the protocol over ZeroMQ: ROUTER/DEALER for requests and
// PUSH/PULL for events. Peers are identified by their socket identity,
// which is set to the node id. A vanished peer is only noticed when a
// barrier times out.
type ZMQ struct {
	opts Options
}

// NewZMQ creates the zmq transport
func NewZMQ(opts Options) Transport {
	return &ZMQ{opts: opts.withDefaults()}
}

// Kind returns "zmq"
func (t *ZMQ) Kind() string { return "zmq" }

func zmqAddr(host string, port int) string {
	if port == 0 {
		return "tcp://" + host + ":*"
	}
	return "tcp://" + net.JoinHostPort(host, strconv.Itoa(port))
}

type zmqReply struct {
	identity string
	data     []byte
}

type zmqServer struct {
	opts    Options
	handler protocol.Handler
	logger  logging.Logger

	router     *zmq.Socket
	pull       *zmq.Socket
	syncAddr   string
	eventsAddr string
	replies    chan zmqReply
	state      Lifecycle
	wg         sync.WaitGroup
	stopCh     chan struct{}

	mu    sync.Mutex
	peers map[string]struct{}
}

// Listen binds the ROUTER and PULL sockets for the node
func (t *ZMQ) Listen(node cluster.Node, handler protocol.Handler) (Server, error) {
	s := &zmqServer{
		opts:    t.opts,
		handler: handler,
		logger:  t.opts.Logger.With(logging.Component("zmq_server")),
		replies: make(chan zmqReply, t.opts.MaxPeers*4),
		stopCh:  make(chan struct{}),
		peers:   make(map[string]struct{}),
	}
	if err := s.start(node); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *zmqServer) start(node cluster.Node) error {
	unlock, running := s.state.TryStart()
	if running {
		return nil
	}
	defer unlock()

	cleanup := NewResourceCleanup(s.logger)
	defer cleanup.Cleanup()

	router, err := zmq.NewSocket(zmq.ROUTER)
	if err != nil {
		return fmt.Errorf("failed to create ROUTER socket: %w", err)
	}
	cleanup.Add(router, "sync router")
	if err := router.Bind(zmqAddr(node.Host, node.Ports.Sync)); err != nil {
		return fmt.Errorf("failed to bind ROUTER socket: %w", err)
	}
	if s.syncAddr, err = router.GetLastEndpoint(); err != nil {
		return fmt.Errorf("failed to read ROUTER endpoint: %w", err)
	}

	pull, err := zmq.NewSocket(zmq.PULL)
	if err != nil {
		return fmt.Errorf("failed to create PULL socket: %w", err)
	}
	cleanup.Add(pull, "event receiver")
	if err := pull.Bind(zmqAddr(node.Host, node.Ports.Events)); err != nil {
		return fmt.Errorf("failed to bind PULL socket: %w", err)
	}
	if s.eventsAddr, err = pull.GetLastEndpoint(); err != nil {
		return fmt.Errorf("failed to read PULL endpoint: %w", err)
	}

	s.router = router
	s.pull = pull
	s.state.MarkStarted()

	s.wg.Go(s.serveRequests)
	s.wg.Go(s.serveEvents)

	s.logger.Info("Listening",
		logging.Addr(s.syncAddr),
		logging.String("events_addr", s.eventsAddr))

	cleanup.Clear()
	return nil
}

func (s *zmqServer) SyncAddr() string   { return s.syncAddr }
func (s *zmqServer) EventsAddr() string { return s.eventsAddr }

func (s *zmqServer) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.peers))
	for id := range s.peers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// serveRequests owns the ROUTER socket. Requests run in their own
// goroutines since a barrier wait blocks until every node arrives.
func (s *zmqServer) serveRequests() {
	s.router.SetRcvtimeo(zmqPollInterval)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		s.flushReplies()

		// ROUTER gives us: [identity, empty, payload]
		frames, err := s.router.RecvMessageBytes(0)
		if err != nil || len(frames) < 2 {
			continue
		}
		identity := string(frames[0])
		payload := frames[len(frames)-1]

		s.wg.Go(func() {
			resp := s.handle(identity, payload)
			if resp == nil {
				return
			}
			msg, err := protocol.NewMessage(protocol.MsgResponse, s.opts.NodeID, resp)
			if err != nil {
				return
			}
			data, err := msg.Marshal()
			if err != nil {
				return
			}
			select {
			case s.replies <- zmqReply{identity: identity, data: data}:
			case <-s.stopCh:
			}
		})
	}
}

func (s *zmqServer) flushReplies() {
	for {
		select {
		case r := <-s.replies:
			if _, err := s.router.SendMessage(r.identity, "", r.data); err != nil {
				s.logger.Warn("Failed to send response", logging.Peer(r.identity), logging.Error(err))
			}
		default:
			return
		}
	}
}

func (s *zmqServer) handle(identity string, payload []byte) *protocol.Response {
	in, err := protocol.UnmarshalMessage(payload)
	if err != nil {
		s.logger.Warn("Dropping undecodable message", logging.Peer(identity), logging.Error(err))
		return nil
	}
	var r protocol.Request
	if err := in.Decode(&r); err != nil {
		s.logger.Warn("Dropping undecodable request", logging.Peer(identity), logging.Error(err))
		return nil
	}

	if r.Name == protocol.ReqHello {
		peer := r.Args[protocol.ArgNodeID]
		if peer != identity {
			return r.Fail(protocol.CodeInvalidArgument, "node id %q does not match socket identity %q", peer, identity)
		}
		if s.isPeer(peer) {
			return r.Fail(protocol.CodeInvalidArgument, "%v: %q", ErrDuplicatePeer, peer)
		}
		resp := s.handler.HandleRequest(peer, &r)
		if resp.Error == "" {
			s.mu.Lock()
			s.peers[peer] = struct{}{}
			s.mu.Unlock()
			s.handler.PeerConnected(peer)
		}
		return resp
	}

	if !s.isPeer(identity) {
		return r.Fail(protocol.CodeInvalidArgument, "first request must be %s", protocol.ReqHello)
	}
	return s.handler.HandleRequest(identity, &r)
}

func (s *zmqServer) serveEvents() {
	s.pull.SetRcvtimeo(time.Second)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		data, err := s.pull.RecvBytes(0)
		if err != nil {
			continue
		}
		msg, err := protocol.UnmarshalMessage(data)
		if err != nil || msg.Type != protocol.MsgEvent {
			s.logger.Warn("Dropping malformed event", logging.Error(err))
			continue
		}
		if !s.isPeer(msg.From) {
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

func (s *zmqServer) isPeer(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.peers[id]
	return ok
}

// Close stops the loops before closing the sockets they own
func (s *zmqServer) Close() error {
	unlock, notRunning := s.state.TryStop()
	if notRunning {
		return nil
	}
	defer unlock()

	close(s.stopCh)
	s.state.MarkStopped()
	s.wg.Wait()

	cleanup := NewResourceCleanup(s.logger)
	cleanup.Add(s.router, "sync router")
	cleanup.Add(s.pull, "event receiver")
	err := cleanup.CloseAll()

	s.logger.Info("Stopped")
	return err
}

// Dial connects a DEALER and a PUSH socket to the primary
func (t *ZMQ) Dial(ctx context.Context, node cluster.Node) (protocol.Channel, protocol.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	logger := t.opts.Logger.With(logging.Component("zmq_client"), logging.Peer(node.ID))

	cleanup := NewResourceCleanup(logger)
	defer cleanup.Cleanup()

	dealer, err := zmq.NewSocket(zmq.DEALER)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create DEALER socket: %w", err)
	}
	cleanup.Add(dealer, "sync dealer")
	if err := dealer.SetIdentity(t.opts.NodeID); err != nil {
		return nil, nil, fmt.Errorf("failed to set identity: %w", err)
	}
	if err := dealer.SetLinger(0); err != nil {
		return nil, nil, fmt.Errorf("failed to set linger: %w", err)
	}
	if err := dealer.Connect(zmqAddr(node.Host, node.Ports.Sync)); err != nil {
		return nil, nil, fmt.Errorf("failed to connect DEALER socket: %w", err)
	}

	pusher, err := zmq.NewSocket(zmq.PUSH)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PUSH socket: %w", err)
	}
	cleanup.Add(pusher, "event pusher")
	if err := pusher.SetLinger(t.opts.WriteTimeout); err != nil {
		return nil, nil, fmt.Errorf("failed to set linger: %w", err)
	}
	if err := pusher.SetSndtimeo(t.opts.WriteTimeout); err != nil {
		return nil, nil, fmt.Errorf("failed to set send timeout: %w", err)
	}
	if err := pusher.Connect(zmqAddr(node.Host, node.Ports.Events)); err != nil {
		return nil, nil, fmt.Errorf("failed to connect PUSH socket: %w", err)
	}

	cleanup.Clear()

	requests := &zmqChannel{nodeID: t.opts.NodeID, sock: dealer, logger: logger}
	events := &zmqChannel{nodeID: t.opts.NodeID, sock: pusher, logger: logger}
	requests.state.MarkStarted()
	events.state.MarkStarted()
	return requests, events, nil
}

// zmqChannel is the client end of a DEALER or PUSH socket
type zmqChannel struct {
	nodeID string
	sock   *zmq.Socket
	logger logging.Logger

	mu     sync.Mutex
	nextID uint64
	state  Lifecycle
}

// Request sends req and polls for the matching response until ctx ends
func (c *zmqChannel) Request(ctx context.Context, r *protocol.Request) (*protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.IsRunning() {
		return nil, protocol.ErrChannelClosed
	}

	c.nextID++
	r.ID = c.nextID
	msg, err := protocol.NewMessage(protocol.MsgRequest, c.nodeID, r)
	if err != nil {
		return nil, err
	}
	data, err := msg.Marshal()
	if err != nil {
		return nil, err
	}
	if _, err := c.sock.SendMessage("", data); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrSendFailed, err)
	}

	c.sock.SetRcvtimeo(zmqPollInterval)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frames, err := c.sock.RecvMessageBytes(0)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", protocol.ErrRecvFailed, err)
		}
		if len(frames) == 0 {
			continue
		}

		in, err := protocol.UnmarshalMessage(frames[len(frames)-1])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", protocol.ErrRecvFailed, err)
		}
		var resp protocol.Response
		if err := in.Decode(&resp); err != nil {
			return nil, fmt.Errorf("%w: %v", protocol.ErrRecvFailed, err)
		}
		if resp.ID != r.ID {
			c.logger.Debug("Skipping stale response", logging.Uint64("id", resp.ID))
			continue
		}
		return &resp, nil
	}
}

// Send pushes a one-way message
func (c *zmqChannel) Send(r *protocol.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.IsRunning() {
		return protocol.ErrChannelClosed
	}
	msg, err := protocol.NewMessage(protocol.MsgEvent, c.nodeID, r)
	if err != nil {
		return err
	}
	data, err := msg.Marshal()
	if err != nil {
		return err
	}
	if _, err := c.sock.SendBytes(data, 0); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrSendFailed, err)
	}
	return nil
}

func (c *zmqChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.IsRunning() {
		return nil
	}
	c.state.MarkStopped()
	return c.sock.Close()
}
