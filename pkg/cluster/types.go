package cluster

import (
	"net"
	"strconv"
	"strings"
)

// Role is a node's part in the cluster
type Role int

const (
	RoleNone Role = iota
	RolePrimary
	RoleSecondary
)

// String returns the string representation of a role
func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleSecondary:
		return "secondary"
	default:
		return "none"
	}
}

// OperationMode selects how a node participates in frame synchronization.
// The mode is chosen once at session start and never changes.
type OperationMode int

const (
	// ModeDisabled turns every cluster operation into an error
	ModeDisabled OperationMode = iota
	// ModeStandalone runs the frame loop locally without barriers
	ModeStandalone
	// ModeEditor behaves like a primary that always resolves itself on loopback
	ModeEditor
	// ModeCluster runs as primary or secondary depending on the config
	ModeCluster
)

func (m OperationMode) String() string {
	switch m {
	case ModeDisabled:
		return "disabled"
	case ModeStandalone:
		return "standalone"
	case ModeEditor:
		return "editor"
	case ModeCluster:
		return "cluster"
	default:
		return "unknown"
	}
}

// ParseOperationMode parses a mode name, case-insensitively
func ParseOperationMode(s string) (OperationMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled":
		return ModeDisabled, nil
	case "standalone":
		return ModeStandalone, nil
	case "editor":
		return ModeEditor, nil
	case "cluster", "":
		return ModeCluster, nil
	default:
		return ModeDisabled, ErrInvalidMode
	}
}

// Ports are the listening ports a node exposes. Port 0 asks the OS for an
// ephemeral port, which is only useful for the primary in tests.
type Ports struct {
	Sync   int `yaml:"sync" validate:"min=0,max=65535"`
	Events int `yaml:"events" validate:"min=0,max=65535"`
}

// Node is one render node. Nodes are immutable for the session.
type Node struct {
	ID    string `yaml:"id" validate:"required,nodeid"`
	Host  string `yaml:"host" validate:"required,hostname_rfc1123|ip"`
	Ports Ports  `yaml:"ports"`
}

// SyncAddr returns host:port of the request/response listener
func (n Node) SyncAddr() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Ports.Sync))
}

// EventsAddr returns host:port of the event forwarding listener
func (n Node) EventsAddr() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Ports.Events))
}

// WithHost returns a copy of the node pointing at host
func (n Node) WithHost(host string) Node {
	n.Host = host
	return n
}
