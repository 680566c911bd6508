// Package failover decides how a cluster session reacts to losing a node.
//
// The policy is fixed for the life of the process. Under PolicyDisabled any
// failure ends the session. Under PolicyDropSecondaryOnFail a failed
// secondary is removed from the cluster and the remaining nodes carry on,
// while a failed primary still ends the session since no other node can
// take over.
package failover

import (
	"errors"
	"fmt"
	"strings"
)

// Policy is the configured reaction to node loss
type Policy int

const (
	PolicyDisabled Policy = iota
	PolicyDropSecondaryOnFail
)

func (p Policy) String() string {
	switch p {
	case PolicyDisabled:
		return "disabled"
	case PolicyDropSecondaryOnFail:
		return "drop_secondary_on_fail"
	default:
		return "unknown"
	}
}

// ParsePolicy converts a configuration value into a Policy. The empty
// string selects PolicyDisabled.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "disabled":
		return PolicyDisabled, nil
	case "drop_secondary_on_fail":
		return PolicyDropSecondaryOnFail, nil
	default:
		return PolicyDisabled, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// FailType says how a node failure was detected
type FailType int

const (
	// FailConnectionLost means the transport saw the peer disconnect
	FailConnectionLost FailType = iota
	// FailCommunication means a request to the peer could not be sent or answered
	FailCommunication
	// FailBarrierTimeout means the node never arrived at a barrier
	FailBarrierTimeout
)

func (f FailType) String() string {
	switch f {
	case FailConnectionLost:
		return "connection_lost"
	case FailCommunication:
		return "communication"
	case FailBarrierTimeout:
		return "barrier_timeout"
	default:
		return "unknown"
	}
}

// Action is what the handler did about a failure
type Action int

const (
	// ActionNone means the failure was ignored (already handled or disarmed)
	ActionNone Action = iota
	// ActionDropped means the node was removed from the cluster
	ActionDropped
	// ActionTerminated means the session was torn down
	ActionTerminated
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionDropped:
		return "dropped"
	case ActionTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Failover errors
var (
	ErrUnknownPolicy = errors.New("unknown failover policy")
	ErrNodeFailed    = errors.New("cluster node failed")
	ErrPrimaryFailed = errors.New("primary node failed")
	ErrDropFailed    = errors.New("failed to drop node")
)
