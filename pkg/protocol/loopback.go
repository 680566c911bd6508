package protocol

import (
	"context"
	"sync"
	"sync/atomic"
)

// Loopback is an in-process Channel that hands requests straight to a
// Handler. Standalone nodes and tests use it in place of a network link.
type Loopback struct {
	peer    string
	handler Handler
	nextID  atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// NewLoopback creates a channel that presents itself to handler as peer
func NewLoopback(peer string, handler Handler) *Loopback {
	return &Loopback{peer: peer, handler: handler}
}

// Request runs the handler in its own goroutine so ctx can abandon a blocked wait
func (l *Loopback) Request(ctx context.Context, req *Request) (*Response, error) {
	l.mu.RLock()
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		return nil, ErrChannelClosed
	}

	req.ID = l.nextID.Add(1)
	done := make(chan *Response, 1)
	go func() {
		done <- l.handler.HandleRequest(l.peer, req)
	}()

	select {
	case resp := <-done:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send delivers a one-way message synchronously
func (l *Loopback) Send(req *Request) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrChannelClosed
	}
	l.handler.HandleMessage(l.peer, req)
	return nil
}

// Close makes further calls fail
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
