// Package events replicates cluster events from the primary to every node.
//
// There are two independent pools, one for JSON events and one for binary
// events. Events flagged DiscardOnRepeat are de-duplicated by identity within
// a frame (newest wins); all other events are appended. At each frame
// rollover the accumulated events become a frozen snapshot that is served to
// the cluster while the next frame accumulates.
package events

import (
	"errors"
	"maps"
	"slices"
)

// JSONKey identifies a JSON event for discard-on-repeat
type JSONKey struct {
	Category string
	Type     string
	Name     string
}

// JSONEvent is a cluster event carrying string parameters
type JSONEvent struct {
	Category        string            `json:"Category"`
	Type            string            `json:"Type"`
	Name            string            `json:"Name"`
	IsSystemEvent   bool              `json:"IsSystemEvent"`
	DiscardOnRepeat bool              `json:"ShouldDiscardOnRepeat"`
	Parameters      map[string]string `json:"Parameters,omitempty"`
}

// Key returns the event identity
func (e JSONEvent) Key() JSONKey {
	return JSONKey{Category: e.Category, Type: e.Type, Name: e.Name}
}

// System reports whether the event is reserved for internal use
func (e JSONEvent) System() bool { return e.IsSystemEvent }

// Discardable reports whether a newer event with the same key replaces this one
func (e JSONEvent) Discardable() bool { return e.DiscardOnRepeat }

// Clone returns a deep copy
func (e JSONEvent) Clone() JSONEvent {
	e.Parameters = maps.Clone(e.Parameters)
	return e
}

// BinaryEvent is a cluster event carrying an opaque payload
type BinaryEvent struct {
	EventID         int32  `json:"EventId"`
	IsSystemEvent   bool   `json:"IsSystemEvent"`
	DiscardOnRepeat bool   `json:"ShouldDiscardOnRepeat"`
	Payload         []byte `json:"Payload,omitempty"`
}

// Key returns the event identity
func (e BinaryEvent) Key() int32 { return e.EventID }

// System reports whether the event is reserved for internal use
func (e BinaryEvent) System() bool { return e.IsSystemEvent }

// Discardable reports whether a newer event with the same key replaces this one
func (e BinaryEvent) Discardable() bool { return e.DiscardOnRepeat }

// Clone returns a deep copy
func (e BinaryEvent) Clone() BinaryEvent {
	e.Payload = slices.Clone(e.Payload)
	return e
}

// Event is what a Pool stores. E is the concrete event type itself.
type Event[K comparable, E any] interface {
	Key() K
	System() bool
	Discardable() bool
	Clone() E
}

// Reserved identity of the cluster-wide quit request
const (
	SystemCategory = "lockstep"
	SystemType     = "system"
	QuitName       = "quit"
)

// QuitEvent builds the system event that asks every node to exit
func QuitEvent() JSONEvent {
	return JSONEvent{
		Category:        SystemCategory,
		Type:            SystemType,
		Name:            QuitName,
		IsSystemEvent:   true,
		DiscardOnRepeat: true,
	}
}

// IsQuit reports whether e is the reserved quit event
func IsQuit(e JSONEvent) bool {
	return e.IsSystemEvent && e.Key() == QuitEvent().Key()
}

// Event errors
var (
	ErrEmptyIdentity = errors.New("json event needs a category, type or name")
	ErrReservedEvent = errors.New("event identity is reserved for system events")
)

// ValidateJSON rejects events that cannot be keyed or that imitate a system
// event without the system flag
func ValidateJSON(e JSONEvent) error {
	if e.Category == "" && e.Type == "" && e.Name == "" {
		return ErrEmptyIdentity
	}
	if !e.IsSystemEvent && e.Category == SystemCategory && e.Type == SystemType {
		return ErrReservedEvent
	}
	return nil
}
