package transport

import (
	"sync"
	"sync/atomic"
)

// Lifecycle serialises the start and stop of a server, channel or session.
// Running can be read at any time; starting and stopping hold the lock
// until the returned unlock is called.
type Lifecycle struct {
	mu      sync.Mutex
	running atomic.Bool
}

// IsRunning reports whether the owner started and has not stopped since
func (l *Lifecycle) IsRunning() bool {
	return l.running.Load()
}

// TryStart locks the lifecycle unless the owner is already running
func (l *Lifecycle) TryStart() (unlock func(), running bool) {
	l.mu.Lock()
	if l.running.Load() {
		l.mu.Unlock()
		return nil, true
	}
	return l.mu.Unlock, false
}

// TryStop locks the lifecycle unless the owner is not running
func (l *Lifecycle) TryStop() (unlock func(), stopped bool) {
	l.mu.Lock()
	if !l.running.Load() {
		l.mu.Unlock()
		return nil, true
	}
	return l.mu.Unlock, false
}

func (l *Lifecycle) MarkStarted() { l.running.Store(true) }

// MarkStopped may be called without the lock; a failed channel marks
// itself stopped from inside a request.
func (l *Lifecycle) MarkStopped() { l.running.Store(false) }
