// Package framecache memoizes the values the primary serves once per frame.
//
// Every cell is computed at most once between two calls to Clear; every
// reader in that window, local or remote, gets the same value.
package framecache

import (
	"errors"
	"maps"
	"sync"

	"github.com/dd0wney/cluso-lockstep/pkg/events"
	"github.com/dd0wney/cluso-lockstep/pkg/syncobj"
)

// ErrStaleFrame means a new frame began while values from the previous one
// were still cached
var ErrStaleFrame = errors.New("frame cache was not cleared before the next frame")

// EventsData is the cached events snapshot
type EventsData struct {
	JSON   []events.JSONEvent
	Binary []events.BinaryEvent
}

func (d EventsData) clone() EventsData {
	out := EventsData{
		JSON:   make([]events.JSONEvent, len(d.JSON)),
		Binary: make([]events.BinaryEvent, len(d.Binary)),
	}
	for i, ev := range d.JSON {
		out.JSON[i] = ev.Clone()
	}
	for i, ev := range d.Binary {
		out.Binary[i] = ev.Clone()
	}
	return out
}

type cell[T any] struct {
	valid    bool
	value    T
	computes uint64
}

// get must be called with the cache lock held
func (c *cell[T]) get(compute func() T, clone func(T) T, hits *uint64) T {
	if !c.valid {
		c.value = clone(compute())
		c.valid = true
		c.computes++
	} else {
		*hits++
	}
	return clone(c.value)
}

func (c *cell[T]) reset() {
	var zero T
	c.valid = false
	c.value = zero
}

func same[T any](v T) T { return v }

// Stats counts computes per cell since the cache was created
type Stats struct {
	DeltaTime       uint64
	Timecode        uint64
	SyncData        [3]uint64
	InputData       uint64
	EventsData      uint64
	NativeInputData uint64
	// Hits counts reads served from a valid cell
	Hits uint64
	// Clears counts Clear calls
	Clears uint64
}

// Computes returns the total number of computes across all cells
func (s Stats) Computes() uint64 {
	return s.DeltaTime + s.Timecode + s.SyncData[0] + s.SyncData[1] + s.SyncData[2] +
		s.InputData + s.EventsData + s.NativeInputData
}

// Cache holds one cell per per-frame quantity under a single lock
type Cache struct {
	mu sync.Mutex

	deltaTime       cell[float64]
	timecode        cell[TimecodeValue]
	syncData        [3]cell[map[string]string]
	inputData       cell[map[string]string]
	eventsData      cell[EventsData]
	nativeInputData cell[map[string]string]

	hits   uint64
	clears uint64
	frame  uint64
	dirty  bool // some cell was computed since the last Clear
}

// New creates an empty cache
func New() *Cache {
	return &Cache{}
}

// DeltaTime returns the cached frame delta in seconds
func (c *Cache) DeltaTime(compute func() float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty = true
	return c.deltaTime.get(compute, same[float64], &c.hits)
}

// Timecode returns the cached timecode and frame rate
func (c *Cache) Timecode(compute func() TimecodeValue) TimecodeValue {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty = true
	return c.timecode.get(compute, same[TimecodeValue], &c.hits)
}

// SyncData returns the cached export of group
func (c *Cache) SyncData(group syncobj.Group, compute func() map[string]string) map[string]string {
	if !group.Valid() {
		return map[string]string{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty = true
	return c.syncData[group].get(compute, cloneMap, &c.hits)
}

// InputData returns the cached input snapshot
func (c *Cache) InputData(compute func() map[string]string) map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty = true
	return c.inputData.get(compute, cloneMap, &c.hits)
}

// EventsData returns the cached events snapshot
func (c *Cache) EventsData(compute func() EventsData) EventsData {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty = true
	return c.eventsData.get(compute, EventsData.clone, &c.hits)
}

// NativeInputData returns the cached native input snapshot
func (c *Cache) NativeInputData(compute func() map[string]string) map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty = true
	return c.nativeInputData.get(compute, cloneMap, &c.hits)
}

// Clear invalidates every cell
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

func (c *Cache) clearLocked() {
	c.deltaTime.reset()
	c.timecode.reset()
	for i := range c.syncData {
		c.syncData[i].reset()
	}
	c.inputData.reset()
	c.eventsData.reset()
	c.nativeInputData.reset()
	c.clears++
	c.dirty = false
}

// BeginFrame marks the start of frame. If the previous frame's values were
// never cleared the cache is cleared now and ErrStaleFrame is returned.
func (c *Cache) BeginFrame(frame uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stale := c.dirty && frame != c.frame
	c.frame = frame
	if stale {
		c.clearLocked()
		return ErrStaleFrame
	}
	return nil
}

// Frame returns the frame number passed to the last BeginFrame
func (c *Cache) Frame() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

// Stats returns a snapshot of the compute counters
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		DeltaTime: c.deltaTime.computes,
		Timecode:  c.timecode.computes,
		SyncData: [3]uint64{
			c.syncData[0].computes,
			c.syncData[1].computes,
			c.syncData[2].computes,
		},
		InputData:       c.inputData.computes,
		EventsData:      c.eventsData.computes,
		NativeInputData: c.nativeInputData.computes,
		Hits:            c.hits,
		Clears:          c.clears,
	}
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return maps.Clone(m)
}
