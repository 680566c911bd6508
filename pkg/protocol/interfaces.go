package protocol

import (
	"context"
	"time"

	"github.com/dd0wney/cluso-lockstep/pkg/barrier"
	"github.com/dd0wney/cluso-lockstep/pkg/events"
	"github.com/dd0wney/cluso-lockstep/pkg/framecache"
	"github.com/dd0wney/cluso-lockstep/pkg/syncobj"
)

// Channel is a reliable, ordered link to one peer.
//
// Request blocks until the matching response arrives or ctx is done. Send
// delivers a one-way message and does not wait for the peer.
type Channel interface {
	Request(ctx context.Context, req *Request) (*Response, error)
	Send(req *Request) error
	Close() error
}

// Handler receives inbound traffic from a transport server. The transport
// holds the Handler; the Handler never holds the transport.
//
// HandleRequest may block (barrier waits do); transports call it from a
// goroutine dedicated to the peer.
type Handler interface {
	HandleRequest(peer string, req *Request) *Response
	HandleMessage(peer string, req *Request)
	PeerConnected(peer string)
	PeerDisconnected(peer string, err error)
}

// Service is the primary-side implementation behind the Dispatcher
type Service interface {
	Hello(peer, sessionID string) (map[string]string, error)
	Wait(peer string, gate Gate) (barrier.Result, barrier.WaitTimes)
	// Laggards lists the participants missing when gate last timed out
	Laggards(gate Gate) []string
	DeltaTime() (float64, error)
	Timecode() (framecache.TimecodeValue, error)
	SyncData(group syncobj.Group) (map[string]string, error)
	InputData() (map[string]string, error)
	EventsData() (framecache.EventsData, error)
	NativeInputData() (map[string]string, error)
	EmitJSON(ev events.JSONEvent) error
	EmitBinary(ev events.BinaryEvent) error
}

// PeerObserver is told when peers come and go
type PeerObserver interface {
	PeerConnected(peer string)
	PeerDisconnected(peer string, err error)
}

// CommResult is the outcome of one request as seen by the requester
type CommResult int

const (
	CommOk CommResult = iota
	CommSendFailed
	CommRecvFailed
	// CommRejected means the peer answered with an error code
	CommRejected
)

func (r CommResult) String() string {
	switch r {
	case CommOk:
		return "ok"
	case CommSendFailed:
		return "send_failed"
	case CommRecvFailed:
		return "recv_failed"
	case CommRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Failed reports whether the link itself failed
func (r CommResult) Failed() bool {
	return r == CommSendFailed || r == CommRecvFailed
}

// CommObserver is notified after every client request
type CommObserver interface {
	ObserveComm(peer, request string, result CommResult, latency time.Duration)
}

// CommObserverFunc adapts a function to CommObserver
type CommObserverFunc func(peer, request string, result CommResult, latency time.Duration)

func (f CommObserverFunc) ObserveComm(peer, request string, result CommResult, latency time.Duration) {
	f(peer, request, result, latency)
}

// CommObservers fans one observation out to several observers
type CommObservers []CommObserver

func (o CommObservers) ObserveComm(peer, request string, result CommResult, latency time.Duration) {
	for _, obs := range o {
		if obs != nil {
			obs.ObserveComm(peer, request, result, latency)
		}
	}
}
