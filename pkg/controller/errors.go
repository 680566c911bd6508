package controller

import "errors"

// Controller errors
var (
	ErrDisabled          = errors.New("cluster operation is disabled")
	ErrNotConnected      = errors.New("secondary is not connected to the primary")
	ErrMissingDependency = errors.New("controller dependency missing")
	ErrNoBarrier         = errors.New("no barrier for gate")
	ErrBarrierMismatch   = errors.New("barrier participants do not match membership")
)
