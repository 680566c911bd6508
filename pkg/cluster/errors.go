package cluster

import "errors"

// Configuration errors
var (
	ErrNoNodes          = errors.New("cluster has no nodes")
	ErrUnknownPrimary   = errors.New("primary is not a configured node")
	ErrUnknownNode      = errors.New("node is not part of the cluster")
	ErrInvalidMode      = errors.New("invalid operation mode")
	ErrConfigUnreadable = errors.New("cluster config cannot be read")
)

// Membership errors
var (
	ErrNodeNotFound        = errors.New("node not found in membership")
	ErrNodeInactive        = errors.New("node already removed from the active set")
	ErrCannotRemovePrimary = errors.New("cannot remove the primary from the active set")
)
