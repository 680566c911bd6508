package session

import "errors"

// Lifecycle errors
var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrNotStarted     = errors.New("session not started")
	ErrStopped        = errors.New("session stopped")
)

// Terminal errors. A terminated session wraps the cause after ErrTerminated.
var (
	ErrTerminated    = errors.New("session terminated")
	ErrQuitRequested = errors.New("quit requested by cluster event")
	ErrBarrierFailed = errors.New("barrier wait failed")
)

// Configuration errors
var (
	ErrNoClusterConfig = errors.New("cluster config is required")
	ErrNoFrameSource   = errors.New("frame source is required on a primary")
)
