package protocol

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dd0wney/cluso-lockstep/pkg/barrier"
	"github.com/dd0wney/cluso-lockstep/pkg/events"
	"github.com/dd0wney/cluso-lockstep/pkg/framecache"
	"github.com/dd0wney/cluso-lockstep/pkg/logging"
	"github.com/dd0wney/cluso-lockstep/pkg/syncobj"
)

// Client issues the secondary-side requests to the primary. It never caches;
// the frame loop asks for each quantity at most once per frame.
type Client struct {
	peer     string
	requests Channel
	events   Channel
	observer CommObserver
	logger   logging.Logger

	mu       sync.Mutex
	laggards map[Gate][]string

	// sent counts the events handed to the events channel. Every wait
	// carries it so the primary applies them before the barrier.
	emitMu sync.Mutex
	sent   uint64
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithCommObserver reports the outcome of every request to obs
func WithCommObserver(obs CommObserver) ClientOption {
	return func(c *Client) {
		c.observer = obs
	}
}

// WithClientLogger sets the client logger
func WithClientLogger(l logging.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logging.OrNop(l)
	}
}

// NewClient creates a client talking to peer. events may be the same channel
// as requests.
func NewClient(peer string, requests, events Channel, opts ...ClientOption) *Client {
	if events == nil {
		events = requests
	}
	c := &Client{
		peer:     peer,
		requests: requests,
		events:   events,
		observer: CommObservers(nil),
		logger:   logging.NewNopLogger(),
		laggards: make(map[Gate][]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logging.Component("client"), logging.Peer(peer))
	return c
}

// Peer returns the id of the node the client talks to
func (c *Client) Peer() string {
	return c.peer
}

func (c *Client) do(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	resp, err := c.requests.Request(ctx, req)
	latency := time.Since(start)

	result := CommOk
	switch {
	case errors.Is(err, context.Canceled):
		// Local shutdown, not a link failure
		return nil, err
	case errors.Is(err, ErrSendFailed):
		result = CommSendFailed
	case err != nil:
		result = CommRecvFailed
	case resp.Error != "":
		result = CommRejected
	}
	c.observer.ObserveComm(c.peer, req.Name, result, latency)

	if err != nil {
		c.logger.Warn("Request failed", logging.Request(req.Name), logging.Error(err))
		return nil, fmt.Errorf("%s: %w", req.Name, err)
	}
	if rerr := resp.Err(); rerr != nil {
		return nil, rerr
	}
	return resp, nil
}

// Hello announces this node to the primary and returns the primary's answer
func (c *Client) Hello(ctx context.Context, nodeID, sessionID string) (map[string]string, error) {
	resp, err := c.do(ctx, NewRequest(ReqHello, map[string]string{
		ArgNodeID:    nodeID,
		ArgSessionID: sessionID,
	}))
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// Wait blocks on the primary's barrier for gate
func (c *Client) Wait(ctx context.Context, gate Gate) (barrier.Result, barrier.WaitTimes, error) {
	resp, err := c.do(ctx, NewRequest(gate.RequestName(), map[string]string{
		ArgEventsSent: strconv.FormatUint(c.eventsSent(), 10),
	}))
	if err != nil {
		return barrier.ResultNotActive, barrier.WaitTimes{}, err
	}
	res, times, err := DecodeWait(resp.Result)
	if err == nil && res == barrier.ResultTimeout {
		ids, ok := DecodeLaggards(resp.Result)
		c.mu.Lock()
		if ok {
			c.laggards[gate] = ids
		} else {
			delete(c.laggards, gate)
		}
		c.mu.Unlock()
	}
	return res, times, err
}

// Laggards returns the nodes the primary reported missing the last time a
// wait on gate timed out. ok is false when the primary sent no list.
func (c *Client) Laggards(gate Gate) (ids []string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids, ok = c.laggards[gate]
	return append([]string(nil), ids...), ok
}

// DeltaTime fetches the frame delta in seconds
func (c *Client) DeltaTime(ctx context.Context) (float64, error) {
	resp, err := c.do(ctx, NewRequest(ReqGetDeltaTime, nil))
	if err != nil {
		return 0, err
	}
	return DecodeDeltaTime(resp.Result)
}

// Timecode fetches the frame timecode and frame rate
func (c *Client) Timecode(ctx context.Context) (framecache.TimecodeValue, error) {
	resp, err := c.do(ctx, NewRequest(ReqGetTimecode, nil))
	if err != nil {
		return framecache.TimecodeValue{}, err
	}
	return DecodeTimecode(resp.Result)
}

// SyncData fetches the dirty objects of group
func (c *Client) SyncData(ctx context.Context, group syncobj.Group) (map[string]string, error) {
	resp, err := c.do(ctx, NewRequest(ReqGetSyncData, map[string]string{ArgSyncGroup: group.String()}))
	if err != nil {
		return nil, err
	}
	return orEmpty(resp.Result), nil
}

// InputData fetches the input snapshot
func (c *Client) InputData(ctx context.Context) (map[string]string, error) {
	resp, err := c.do(ctx, NewRequest(ReqGetInputData, nil))
	if err != nil {
		return nil, err
	}
	return orEmpty(resp.Result), nil
}

// NativeInputData fetches the native input snapshot
func (c *Client) NativeInputData(ctx context.Context) (map[string]string, error) {
	resp, err := c.do(ctx, NewRequest(ReqGetNativeInputData, nil))
	if err != nil {
		return nil, err
	}
	return orEmpty(resp.Result), nil
}

// EventsData fetches the frozen events snapshot
func (c *Client) EventsData(ctx context.Context) (framecache.EventsData, error) {
	resp, err := c.do(ctx, NewRequest(ReqGetEventsData, nil))
	if err != nil {
		return framecache.EventsData{}, err
	}
	return DecodeEventsData(resp)
}

// EmitJSON forwards a JSON event to the primary without waiting for it to
// be applied. The next barrier wait is held until it was.
func (c *Client) EmitJSON(ev events.JSONEvent) error {
	req, err := EncodeJSONEvent(ev)
	if err != nil {
		return err
	}
	return c.send(req)
}

// EmitBinary forwards a binary event to the primary without waiting
func (c *Client) EmitBinary(ev events.BinaryEvent) error {
	return c.send(EncodeBinaryEvent(ev))
}

func (c *Client) send(req *Request) error {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	seq := c.sent + 1
	if req.Args == nil {
		req.Args = make(map[string]string, 1)
	}
	req.Args[ArgEventSeq] = strconv.FormatUint(seq, 10)

	start := time.Now()
	err := c.events.Send(req)
	if err == nil {
		c.sent = seq
	}
	result := CommOk
	if err != nil {
		result = CommSendFailed
	}
	c.observer.ObserveComm(c.peer, req.Name, result, time.Since(start))
	if err != nil {
		return fmt.Errorf("%s: %w", req.Name, err)
	}
	return nil
}

func (c *Client) eventsSent() uint64 {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	return c.sent
}

// Close closes both channels
func (c *Client) Close() error {
	err := c.requests.Close()
	if c.events != c.requests {
		err = errors.Join(err, c.events.Close())
	}
	return err
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
