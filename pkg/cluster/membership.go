package cluster

import (
	"fmt"
	"sort"
	"sync"
)

// Membership tracks which configured nodes are still taking part in the
// session. It starts with every node active; failover removes secondaries.
// The primary can never be removed.
type Membership struct {
	mu      sync.RWMutex
	nodes   map[string]Node
	order   []string
	primary string
	local   string
	active  map[string]bool
	epoch   uint64 // bumped on every change to the active set
}

// NewMembership builds the membership view for localID
func NewMembership(cfg *Config, localID string) (*Membership, error) {
	if len(cfg.Nodes) == 0 {
		return nil, ErrNoNodes
	}
	m := &Membership{
		nodes:   make(map[string]Node, len(cfg.Nodes)),
		order:   make([]string, 0, len(cfg.Nodes)),
		primary: cfg.Primary,
		local:   localID,
		active:  make(map[string]bool, len(cfg.Nodes)),
	}
	for _, n := range cfg.Nodes {
		m.nodes[n.ID] = n
		m.order = append(m.order, n.ID)
		m.active[n.ID] = true
	}
	if _, ok := m.nodes[cfg.Primary]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPrimary, cfg.Primary)
	}
	if _, ok := m.nodes[localID]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNode, localID)
	}
	return m, nil
}

// LocalID returns the id of this process's node
func (m *Membership) LocalID() string {
	return m.local
}

// PrimaryID returns the id of the primary
func (m *Membership) PrimaryID() string {
	return m.primary
}

// Local returns this process's node
func (m *Membership) Local() Node {
	return m.nodes[m.local]
}

// Primary returns the primary node
func (m *Membership) Primary() Node {
	return m.nodes[m.primary]
}

// LocalRole returns the role of this process's node
func (m *Membership) LocalRole() Role {
	return m.roleOf(m.local)
}

// RoleOf returns the role of a configured node
func (m *Membership) RoleOf(id string) (Role, error) {
	if _, ok := m.nodes[id]; !ok {
		return RoleNone, fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}
	return m.roleOf(id), nil
}

func (m *Membership) roleOf(id string) Role {
	if id == m.primary {
		return RolePrimary
	}
	return RoleSecondary
}

// Node returns a configured node, active or not
func (m *Membership) Node(id string) (Node, bool) {
	n, ok := m.nodes[id]
	return n, ok
}

// IsKnown reports whether id is a configured node
func (m *Membership) IsKnown(id string) bool {
	_, ok := m.nodes[id]
	return ok
}

// All returns every configured node in config order
func (m *Membership) All() []Node {
	out := make([]Node, len(m.order))
	for i, id := range m.order {
		out[i] = m.nodes[id]
	}
	return out
}

// Size returns the number of configured nodes
func (m *Membership) Size() int {
	return len(m.order)
}

// Secondaries returns every configured secondary in config order
func (m *Membership) Secondaries() []Node {
	out := make([]Node, 0, len(m.order))
	for _, id := range m.order {
		if id != m.primary {
			out = append(out, m.nodes[id])
		}
	}
	return out
}

// Active returns the ids of the active nodes, sorted
func (m *Membership) Active() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.active))
	for id, ok := range m.active {
		if ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// ActiveCount returns the number of active nodes
func (m *Membership) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, ok := range m.active {
		if ok {
			count++
		}
	}
	return count
}

// IsActive reports whether id is still part of the session
func (m *Membership) IsActive(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[id]
}

// Remove takes a secondary out of the active set
func (m *Membership) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[id]; !ok {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	if id == m.primary {
		return ErrCannotRemovePrimary
	}
	if !m.active[id] {
		return ErrNodeInactive
	}
	m.active[id] = false
	m.epoch++
	return nil
}

// Epoch returns the active set version
func (m *Membership) Epoch() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epoch
}
