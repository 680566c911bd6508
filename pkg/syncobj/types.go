// Package syncobj replicates dirty application objects between nodes.
//
// Objects are registered into one of three ordered groups. Each frame the
// primary exports the dirty objects of a group as an id to string map and
// secondaries import that map into their own copies of the objects.
package syncobj

import (
	"errors"
	"strings"
)

// Group is an ordering phase for state replication within a frame
type Group int

const (
	GroupPreTick Group = iota
	GroupTick
	GroupPostTick

	groupCount = 3
)

// Groups lists every group in frame order
var Groups = [groupCount]Group{GroupPreTick, GroupTick, GroupPostTick}

// String returns the wire name of a group
func (g Group) String() string {
	switch g {
	case GroupPreTick:
		return "PreTick"
	case GroupTick:
		return "Tick"
	case GroupPostTick:
		return "PostTick"
	default:
		return "Unknown"
	}
}

// Valid reports whether g is one of the three groups
func (g Group) Valid() bool {
	return g >= GroupPreTick && g <= GroupPostTick
}

// ParseGroup converts a wire name back into a Group
func ParseGroup(s string) (Group, error) {
	switch strings.ToLower(s) {
	case "pretick":
		return GroupPreTick, nil
	case "tick":
		return GroupTick, nil
	case "posttick":
		return GroupPostTick, nil
	default:
		return GroupPreTick, ErrUnknownGroup
	}
}

// Object is application state that can be replicated.
//
// The registry only holds a reference; the application owns the object and
// must unregister it before dropping it.
type Object interface {
	GetID() string
	IsActive() bool
	IsDirty() bool
	ClearDirty()
	SerializeToString() string
	DeserializeFromString(data string) bool
}

// ImportReport summarizes one ImportSyncData pass
type ImportReport struct {
	Applied int
	// Failed holds the ids whose DeserializeFromString returned false
	Failed []string
	// Unknown counts entries in the data with no matching active object
	Unknown int
}

// Registry errors
var (
	ErrDuplicateID  = errors.New("sync object id already registered in group")
	ErrEmptyID      = errors.New("sync object id cannot be empty")
	ErrNilObject    = errors.New("sync object cannot be nil")
	ErrUnknownGroup = errors.New("unknown sync group")
)
