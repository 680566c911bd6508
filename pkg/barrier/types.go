package barrier

import (
	"errors"
	"time"
)

// Result is the outcome of a Wait call
type Result int

const (
	// ResultOk means every participant arrived
	ResultOk Result = iota
	// ResultTimeout means the generation timed out before everyone arrived
	ResultTimeout
	// ResultNotActive means the barrier was inactive or got deactivated while waiting
	ResultNotActive
	// ResultRejected means the caller is unknown or already waiting in this generation
	ResultRejected
)

// String returns the wire name of a result
func (r Result) String() string {
	switch r {
	case ResultOk:
		return "Ok"
	case ResultTimeout:
		return "Timeout"
	case ResultNotActive:
		return "NotActive"
	case ResultRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// ParseResult converts a wire name back into a Result
func ParseResult(s string) (Result, error) {
	switch s {
	case "Ok":
		return ResultOk, nil
	case "Timeout":
		return ResultTimeout, nil
	case "NotActive":
		return ResultNotActive, nil
	case "Rejected":
		return ResultRejected, nil
	default:
		return ResultRejected, ErrUnknownResult
	}
}

// Err maps a non-Ok result onto its sentinel error
func (r Result) Err() error {
	switch r {
	case ResultOk:
		return nil
	case ResultTimeout:
		return ErrTimeout
	case ResultNotActive:
		return ErrNotActive
	default:
		return ErrRejected
	}
}

// WaitTimes are diagnostics reported by Wait. They never affect correctness.
type WaitTimes struct {
	// ThreadWait is the wall time the caller spent inside Wait
	ThreadWait time.Duration
	// BarrierWait is the time actually spent blocked on the rendezvous
	BarrierWait time.Duration
}

// State is the lifecycle state of a barrier
type State int

const (
	StateIdle State = iota
	StateActivated
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActivated:
		return "activated"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Wait outcome errors
var (
	ErrTimeout   = errors.New("barrier wait timed out")
	ErrNotActive = errors.New("barrier is not active")
	ErrRejected  = errors.New("barrier wait rejected")
)

// Configuration errors
var (
	ErrNoParticipants       = errors.New("barrier needs at least one participant")
	ErrDuplicateParticipant = errors.New("duplicate barrier participant")
	ErrInvalidTimeout       = errors.New("barrier timeout must be positive")
	ErrDisposed             = errors.New("barrier is disposed")
	ErrUnknownResult        = errors.New("unknown barrier result")
)
