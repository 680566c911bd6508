package protocol

import (
	"strconv"
	"sync"
	"time"
)

// DefaultEventFenceTimeout bounds how long a barrier wait is held for
// forwarded events that have not been applied yet
const DefaultEventFenceTimeout = time.Second

// eventFence tracks the highest event sequence applied per peer. Events and
// waits travel on different channels, so a wait can overtake the events
// emitted before it.
type eventFence struct {
	mu      sync.Mutex
	applied map[string]uint64
	changed chan struct{}
}

func newEventFence() *eventFence {
	return &eventFence{
		applied: make(map[string]uint64),
		changed: make(chan struct{}),
	}
}

// record marks the event carrying seq in req as applied
func (f *eventFence) record(peer string, req *Request) {
	seq, ok := sequenceArg(req, ArgEventSeq)
	if !ok {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if seq <= f.applied[peer] {
		return
	}
	f.applied[peer] = seq
	close(f.changed)
	f.changed = make(chan struct{})
}

// await blocks until peer's events up to the count carried in req were
// applied. It reports false if timeout passed first.
func (f *eventFence) await(peer string, req *Request, timeout time.Duration) bool {
	sent, ok := sequenceArg(req, ArgEventsSent)
	if !ok || sent == 0 {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		f.mu.Lock()
		applied, changed := f.applied[peer], f.changed
		f.mu.Unlock()
		if applied >= sent {
			return true
		}
		select {
		case <-changed:
		case <-timer.C:
			return false
		}
	}
}

// reset forgets peer's sequence; a reconnected client counts from one again
func (f *eventFence) reset(peer string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.applied, peer)
}

func sequenceArg(req *Request, key string) (uint64, bool) {
	v, ok := req.Arg(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
