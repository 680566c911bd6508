package events

import "sync"

type buffer[K comparable, E any] struct {
	// discardable is keyed by IsSystemEvent first, then by event identity
	discardable    map[bool]map[K]E
	nonDiscardable []E
}

func newBuffer[K comparable, E any]() buffer[K, E] {
	return buffer[K, E]{
		discardable: map[bool]map[K]E{
			true:  make(map[K]E),
			false: make(map[K]E),
		},
	}
}

func (b *buffer[K, E]) len() int {
	return len(b.discardable[true]) + len(b.discardable[false]) + len(b.nonDiscardable)
}

// Pool accumulates one kind of event for a frame.
//
// Add writes into the main buffer. Rollover moves main into the frozen out
// buffer and starts a fresh main buffer; Export only ever reads out.
type Pool[K comparable, E Event[K, E]] struct {
	mu   sync.Mutex
	main buffer[K, E]
	out  buffer[K, E]
}

// NewPool creates an empty pool
func NewPool[K comparable, E Event[K, E]]() *Pool[K, E] {
	return &Pool[K, E]{
		main: newBuffer[K, E](),
		out:  newBuffer[K, E](),
	}
}

// Add stores a copy of ev. A discardable event replaces any earlier event
// with the same system flag and key; others are appended.
func (p *Pool[K, E]) Add(ev E) {
	ev = ev.Clone()

	p.mu.Lock()
	defer p.mu.Unlock()

	if ev.Discardable() {
		p.main.discardable[ev.System()][ev.Key()] = ev
		return
	}
	p.main.nonDiscardable = append(p.main.nonDiscardable, ev)
}

// Rollover freezes everything added so far as the out snapshot
func (p *Pool[K, E]) Rollover() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.out = p.main
	p.main = newBuffer[K, E]()
}

// Export flattens the out snapshot: discardable system events, then
// discardable non-system events, then non-discardable events in emit order.
func (p *Pool[K, E]) Export() []E {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]E, 0, p.out.len())
	for _, system := range []bool{true, false} {
		for _, ev := range p.out.discardable[system] {
			out = append(out, ev.Clone())
		}
	}
	for _, ev := range p.out.nonDiscardable {
		out = append(out, ev.Clone())
	}
	return out
}

// ClearOut drops the out snapshot
func (p *Pool[K, E]) ClearOut() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = newBuffer[K, E]()
}

// Pending returns the number of events accumulated since the last rollover
func (p *Pool[K, E]) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.main.len()
}

// Snapshot returns the number of events in the out snapshot
func (p *Pool[K, E]) Snapshot() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.len()
}
