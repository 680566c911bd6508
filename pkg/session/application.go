package session

import (
	"github.com/dd0wney/cluso-lockstep/pkg/events"
	"github.com/dd0wney/cluso-lockstep/pkg/framecache"
)

// Application is the per-frame game logic. Every node runs the same
// application; the session feeds it the primary's values.
type Application interface {
	PreTick(f *Frame)
	Tick(f *Frame)
	PostTick(f *Frame)
}

// AppFuncs adapts plain functions to Application. Nil phases are skipped.
type AppFuncs struct {
	PreTickFunc  func(f *Frame)
	TickFunc     func(f *Frame)
	PostTickFunc func(f *Frame)
}

func (a AppFuncs) PreTick(f *Frame) {
	if a.PreTickFunc != nil {
		a.PreTickFunc(f)
	}
}

func (a AppFuncs) Tick(f *Frame) {
	if a.TickFunc != nil {
		a.TickFunc(f)
	}
}

func (a AppFuncs) PostTick(f *Frame) {
	if a.PostTickFunc != nil {
		a.PostTickFunc(f)
	}
}

// Frame is what the application sees of the current frame. The values are
// identical on every node.
type Frame struct {
	Number      uint64
	DeltaTime   float64
	Timecode    framecache.TimecodeValue
	Input       map[string]string
	NativeInput map[string]string

	s *Session
}

// EmitJSON queues a cluster event; see Controller.EmitClusterEventJSON
func (f *Frame) EmitJSON(ev events.JSONEvent, primaryOnly bool) error {
	return f.s.EmitJSON(ev, primaryOnly)
}

// EmitBinary queues a binary cluster event
func (f *Frame) EmitBinary(ev events.BinaryEvent, primaryOnly bool) error {
	return f.s.EmitBinary(ev, primaryOnly)
}

// Quit asks every node to stop after the frame the event is replicated in
func (f *Frame) Quit() error {
	return f.s.RequestQuit()
}

// IsPrimary reports whether this node is the authority
func (f *Frame) IsPrimary() bool {
	return f.s.ctrl.IsPrimary()
}
