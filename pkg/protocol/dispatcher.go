package protocol

import (
	"time"

	"github.com/dd0wney/cluso-lockstep/pkg/barrier"
	"github.com/dd0wney/cluso-lockstep/pkg/logging"
	"github.com/dd0wney/cluso-lockstep/pkg/syncobj"
	"github.com/dd0wney/cluso-lockstep/pkg/validation"
)

// Dispatcher routes inbound requests to a Service. It is the Handler the
// primary's transport server is given.
type Dispatcher struct {
	svc      Service
	peers    PeerObserver
	logger   logging.Logger
	observer RequestObserver

	fence        *eventFence
	fenceTimeout time.Duration
}

// RequestObserver is told about every request the dispatcher served
type RequestObserver interface {
	ObserveRequest(peer, request string, code ErrorCode)
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithPeerObserver forwards peer connect and disconnect notifications
func WithPeerObserver(obs PeerObserver) DispatcherOption {
	return func(d *Dispatcher) {
		d.peers = obs
	}
}

// WithRequestObserver reports every served request
func WithRequestObserver(obs RequestObserver) DispatcherOption {
	return func(d *Dispatcher) {
		d.observer = obs
	}
}

// WithDispatcherLogger sets the dispatcher logger
func WithDispatcherLogger(l logging.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logging.OrNop(l)
	}
}

// WithEventFenceTimeout bounds how long a wait is held for forwarded events
// still in flight
func WithEventFenceTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		disp.fenceTimeout = d
	}
}

// NewDispatcher creates a dispatcher in front of svc
func NewDispatcher(svc Service, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		svc:          svc,
		logger:       logging.NewNopLogger(),
		fence:        newEventFence(),
		fenceTimeout: DefaultEventFenceTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(logging.Component("dispatcher"))
	return d
}

var _ Handler = (*Dispatcher)(nil)

// HandleRequest serves one request and always returns a response
func (d *Dispatcher) HandleRequest(peer string, req *Request) *Response {
	resp := d.handle(peer, req)
	if resp.Error != "" {
		d.logger.Warn("Request rejected",
			logging.Peer(peer),
			logging.Request(req.Name),
			logging.String("code", string(resp.Error)),
			logging.String("message", resp.Message))
	}
	if d.observer != nil {
		d.observer.ObserveRequest(peer, req.Name, resp.Error)
	}
	return resp
}

func (d *Dispatcher) handle(peer string, req *Request) *Response {
	if gate, ok := GateFromRequest(req.Name); ok {
		if !d.fence.await(peer, req, d.fenceTimeout) {
			d.logger.Warn("Forwarded events still missing at barrier",
				logging.Peer(peer),
				logging.Gate(gate.String()),
				logging.Duration("waited", d.fenceTimeout))
		}
		res, times := d.svc.Wait(peer, gate)
		result := EncodeWait(res, times)
		if res == barrier.ResultTimeout {
			EncodeLaggards(result, d.svc.Laggards(gate))
		}
		return req.Reply(result)
	}

	switch req.Name {
	case ReqHello:
		return d.hello(req)

	case ReqGetDeltaTime:
		v, err := d.svc.DeltaTime()
		if err != nil {
			return fail(req, err)
		}
		return req.Reply(EncodeDeltaTime(v))

	case ReqGetTimecode:
		v, err := d.svc.Timecode()
		if err != nil {
			return fail(req, err)
		}
		return req.Reply(EncodeTimecode(v))

	case ReqGetSyncData:
		name, ok := req.Arg(ArgSyncGroup)
		if !ok {
			return req.Fail(CodeMissingArgument, "%s is required", ArgSyncGroup)
		}
		group, err := syncobj.ParseGroup(name)
		if err != nil {
			return req.Fail(CodeInvalidArgument, "%s %q", ArgSyncGroup, name)
		}
		data, err := d.svc.SyncData(group)
		if err != nil {
			return fail(req, err)
		}
		return req.Reply(data)

	case ReqGetInputData:
		data, err := d.svc.InputData()
		if err != nil {
			return fail(req, err)
		}
		return req.Reply(data)

	case ReqGetNativeInputData:
		data, err := d.svc.NativeInputData()
		if err != nil {
			return fail(req, err)
		}
		return req.Reply(data)

	case ReqGetEventsData:
		data, err := d.svc.EventsData()
		if err != nil {
			return fail(req, err)
		}
		resp, err := EncodeEventsData(req, data)
		if err != nil {
			return fail(req, err)
		}
		return resp

	case ReqEmitClusterEventJSON, ReqEmitClusterEventBinary:
		err := d.emit(req)
		d.fence.record(peer, req)
		if err != nil {
			return fail(req, err)
		}
		return req.Reply(nil)

	default:
		return req.Fail(CodeUnknownRequest, "%q", req.Name)
	}
}

func (d *Dispatcher) hello(req *Request) *Response {
	nodeID, ok := req.Arg(ArgNodeID)
	if !ok {
		return req.Fail(CodeMissingArgument, "%s is required", ArgNodeID)
	}
	if err := validation.ValidateNodeID(nodeID); err != nil {
		return req.Fail(CodeInvalidArgument, "%v", err)
	}
	result, err := d.svc.Hello(nodeID, req.Args[ArgSessionID])
	if err != nil {
		return fail(req, err)
	}
	return req.Reply(result)
}

// HandleMessage applies a fire-and-forget message. Failures are only logged.
func (d *Dispatcher) HandleMessage(peer string, req *Request) {
	switch req.Name {
	case ReqEmitClusterEventJSON, ReqEmitClusterEventBinary:
		if err := d.emit(req); err != nil {
			d.logger.Warn("Dropped forwarded event",
				logging.Peer(peer),
				logging.Request(req.Name),
				logging.Error(err))
		}
		// A rejected event still counts, or the next wait would stall on it
		d.fence.record(peer, req)
	default:
		d.logger.Warn("Unexpected one-way message", logging.Peer(peer), logging.Request(req.Name))
	}
	if d.observer != nil {
		d.observer.ObserveRequest(peer, req.Name, "")
	}
}

func (d *Dispatcher) emit(req *Request) error {
	if req.Name == ReqEmitClusterEventJSON {
		ev, err := DecodeJSONEvent(req)
		if err != nil {
			return err
		}
		return d.svc.EmitJSON(ev)
	}
	ev, err := DecodeBinaryEvent(req)
	if err != nil {
		return err
	}
	return d.svc.EmitBinary(ev)
}

// PeerConnected forwards to the peer observer
func (d *Dispatcher) PeerConnected(peer string) {
	d.logger.Info("Peer connected", logging.Peer(peer))
	d.fence.reset(peer)
	if d.peers != nil {
		d.peers.PeerConnected(peer)
	}
}

// PeerDisconnected forwards to the peer observer
func (d *Dispatcher) PeerDisconnected(peer string, err error) {
	d.logger.Warn("Peer disconnected", logging.Peer(peer), logging.Error(err))
	if d.peers != nil {
		d.peers.PeerDisconnected(peer, err)
	}
}

func fail(req *Request, err error) *Response {
	return req.Fail(CodeOf(err), "%v", err)
}
