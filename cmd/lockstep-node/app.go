package main

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/dd0wney/cluso-lockstep/pkg/events"
	"github.com/dd0wney/cluso-lockstep/pkg/framecache"
	"github.com/dd0wney/cluso-lockstep/pkg/logging"
	"github.com/dd0wney/cluso-lockstep/pkg/session"
)

// wallClock measures real frame deltas on the primary and derives the
// timecode from the frame count at a fixed rate
type wallClock struct {
	mu     sync.Mutex
	rate   framecache.FrameRate
	last   time.Time
	frames int
	now    func() time.Time
}

func newWallClock(fps int) *wallClock {
	return &wallClock{
		rate: framecache.FrameRate{Numerator: fps, Denominator: 1},
		now:  time.Now,
	}
}

func (c *wallClock) DeltaTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.frames++
	if c.last.IsZero() {
		c.last = now
		return 1 / c.rate.FPS()
	}
	dt := now.Sub(c.last).Seconds()
	c.last = now
	return dt
}

func (c *wallClock) Timecode() framecache.TimecodeValue {
	c.mu.Lock()
	defer c.mu.Unlock()

	fps := c.rate.Numerator
	total := c.frames
	return framecache.TimecodeValue{
		Timecode: framecache.Timecode{
			Hours:   total / (fps * 3600) % 24,
			Minutes: total / (fps * 60) % 60,
			Seconds: total / fps % 60,
			Frames:  total % fps,
		},
		FrameRate: c.rate,
	}
}

// spinner is a rotating sync object. The primary advances it by the frame
// delta; secondaries take whatever the primary exported.
type spinner struct {
	mu    sync.Mutex
	id    string
	speed float64 // degrees per second
	angle float64
	dirty bool
}

func newSpinner(id string, speed float64) *spinner {
	return &spinner{id: id, speed: speed}
}

func (s *spinner) GetID() string  { return s.id }
func (s *spinner) IsActive() bool { return true }

func (s *spinner) IsDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func (s *spinner) ClearDirty() {
	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
}

func (s *spinner) SerializeToString() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strconv.FormatFloat(s.angle, 'f', 4, 64)
}

func (s *spinner) DeserializeFromString(data string) bool {
	v, err := strconv.ParseFloat(data, 64)
	if err != nil || math.IsNaN(v) {
		return false
	}
	s.mu.Lock()
	s.angle = v
	s.mu.Unlock()
	return true
}

func (s *spinner) advance(dt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.angle = math.Mod(s.angle+s.speed*dt, 360)
	s.dirty = true
}

// Angle returns the current rotation in degrees
func (s *spinner) Angle() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.angle
}

// demoApp drives the spinner and emits a heartbeat event every interval
// frames. Every node logs the heartbeats it receives.
type demoApp struct {
	spinner  *spinner
	interval uint64
	logger   logging.Logger
}

func (a *demoApp) PreTick(f *session.Frame) {}

func (a *demoApp) Tick(f *session.Frame) {
	if a.interval == 0 || f.Number == 0 || f.Number%a.interval != 0 {
		return
	}
	ev := events.JSONEvent{
		Category:        "demo",
		Type:            "heartbeat",
		Name:            "spinner",
		DiscardOnRepeat: true,
		Parameters: map[string]string{
			"frame": strconv.FormatUint(f.Number, 10),
			"angle": strconv.FormatFloat(a.spinner.Angle(), 'f', 1, 64),
		},
	}
	if err := f.EmitJSON(ev, true); err != nil {
		a.logger.Warn("Heartbeat not emitted", logging.Frame(f.Number), logging.Error(err))
	}
}

func (a *demoApp) PostTick(f *session.Frame) {
	if f.IsPrimary() {
		a.spinner.advance(f.DeltaTime)
	}
}

func (a *demoApp) onHeartbeat(ev events.JSONEvent) {
	if ev.Category != "demo" || ev.Type != "heartbeat" {
		return
	}
	a.logger.Info("Heartbeat",
		logging.String("frame", ev.Parameters["frame"]),
		logging.String("angle", ev.Parameters["angle"]))
}
