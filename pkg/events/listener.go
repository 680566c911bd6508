package events

import "sync/atomic"

// JSONListener receives replicated JSON events
type JSONListener interface {
	OnClusterEventJSON(ev JSONEvent)
}

// BinaryListener receives replicated binary events
type BinaryListener interface {
	OnClusterEventBinary(ev BinaryEvent)
}

// JSONListenerFunc adapts a function to JSONListener
type JSONListenerFunc func(ev JSONEvent)

func (f JSONListenerFunc) OnClusterEventJSON(ev JSONEvent) { f(ev) }

// BinaryListenerFunc adapts a function to BinaryListener
type BinaryListenerFunc func(ev BinaryEvent)

func (f BinaryListenerFunc) OnClusterEventBinary(ev BinaryEvent) { f(ev) }

// Registration is the handle returned when a listener is added. Once
// invalidated the listener is skipped and pruned on the next delivery pass.
type Registration struct {
	invalid atomic.Bool
}

// Invalidate stops deliveries to the listener
func (r *Registration) Invalidate() {
	r.invalid.Store(true)
}

// Valid reports whether the listener still receives events
func (r *Registration) Valid() bool {
	return !r.invalid.Load()
}

type entry[L any] struct {
	reg      *Registration
	listener L
}

// deliver calls fn for every valid entry in order and returns the entries
// that are still valid afterwards.
func deliver[L any](entries []entry[L], fn func(L)) (kept []entry[L], pruned int) {
	kept = entries[:0:0]
	for _, e := range entries {
		if !e.reg.Valid() {
			pruned++
			continue
		}
		fn(e.listener)
		kept = append(kept, e)
	}
	return kept, pruned
}
