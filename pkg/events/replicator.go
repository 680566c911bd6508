package events

import (
	"sync"

	"github.com/dd0wney/cluso-lockstep/pkg/logging"
)

// Replicator owns the JSON and binary pools and the local listeners.
//
// On the primary, AddJSON and AddBinary accumulate events for the frame and
// ExportEventsData serves the frozen snapshot. On every node,
// ImportEventsData hands a snapshot to the listeners.
type Replicator struct {
	json   *Pool[JSONKey, JSONEvent]
	binary *Pool[int32, BinaryEvent]
	logger logging.Logger

	// delivery serializes ImportEventsData passes so listeners see one batch at a time
	delivery sync.Mutex

	listenersMu     sync.Mutex
	jsonListeners   []entry[JSONListener]
	binaryListeners []entry[BinaryListener]
}

// NewReplicator creates a replicator with empty pools
func NewReplicator(logger logging.Logger) *Replicator {
	return &Replicator{
		json:   NewPool[JSONKey, JSONEvent](),
		binary: NewPool[int32, BinaryEvent](),
		logger: logging.OrNop(logger).With(logging.Component("events")),
	}
}

// AddJSON queues a JSON event for the current frame
func (r *Replicator) AddJSON(ev JSONEvent) {
	r.json.Add(ev)
}

// AddBinary queues a binary event for the current frame
func (r *Replicator) AddBinary(ev BinaryEvent) {
	r.binary.Add(ev)
}

// Rollover freezes both pools' accumulated events as the snapshot to serve
func (r *Replicator) Rollover() {
	r.json.Rollover()
	r.binary.Rollover()
}

// ClearSnapshot drops the served snapshot of both pools
func (r *Replicator) ClearSnapshot() {
	r.json.ClearOut()
	r.binary.ClearOut()
}

// ExportEventsData returns copies of the frozen snapshot of both pools
func (r *Replicator) ExportEventsData() ([]JSONEvent, []BinaryEvent) {
	return r.json.Export(), r.binary.Export()
}

// Pending returns how many events each pool has accumulated since the last rollover
func (r *Replicator) Pending() (jsonEvents, binaryEvents int) {
	return r.json.Pending(), r.binary.Pending()
}

// AddJSONListener registers l for JSON events
func (r *Replicator) AddJSONListener(l JSONListener) *Registration {
	reg := &Registration{}
	r.listenersMu.Lock()
	r.jsonListeners = append(r.jsonListeners, entry[JSONListener]{reg: reg, listener: l})
	r.listenersMu.Unlock()
	return reg
}

// AddBinaryListener registers l for binary events
func (r *Replicator) AddBinaryListener(l BinaryListener) *Registration {
	reg := &Registration{}
	r.listenersMu.Lock()
	r.binaryListeners = append(r.binaryListeners, entry[BinaryListener]{reg: reg, listener: l})
	r.listenersMu.Unlock()
	return reg
}

// OnQuit registers fn to run when the quit system event is delivered
func (r *Replicator) OnQuit(fn func()) *Registration {
	return r.AddJSONListener(JSONListenerFunc(func(ev JSONEvent) {
		if IsQuit(ev) {
			r.logger.Info("Quit event received")
			fn()
		}
	}))
}

// ImportEventsData delivers every event to the listeners, synchronously and
// in registration order. Listeners registered during the pass see the next batch.
func (r *Replicator) ImportEventsData(jsonEvents []JSONEvent, binaryEvents []BinaryEvent) {
	r.delivery.Lock()
	defer r.delivery.Unlock()

	if len(jsonEvents) > 0 {
		pruned := dispatch(&r.listenersMu, &r.jsonListeners, jsonEvents, JSONListener.OnClusterEventJSON)
		if pruned > 0 {
			r.logger.Debug("Pruned invalidated json listeners", logging.Count(pruned))
		}
	}
	if len(binaryEvents) > 0 {
		pruned := dispatch(&r.listenersMu, &r.binaryListeners, binaryEvents, BinaryListener.OnClusterEventBinary)
		if pruned > 0 {
			r.logger.Debug("Pruned invalidated binary listeners", logging.Count(pruned))
		}
	}
}

// dispatch runs one delivery pass over *list without holding mu during
// callbacks, then writes back the surviving entries followed by any entries
// added while the pass was running.
func dispatch[L, E any](mu *sync.Mutex, list *[]entry[L], evs []E, call func(L, E)) int {
	mu.Lock()
	listeners := *list
	n := len(listeners)
	mu.Unlock()

	total := 0
	for _, ev := range evs {
		kept, pruned := deliver(listeners, func(l L) { call(l, ev) })
		listeners = kept
		total += pruned
	}

	mu.Lock()
	*list = append(listeners, (*list)[n:]...)
	mu.Unlock()
	return total
}
