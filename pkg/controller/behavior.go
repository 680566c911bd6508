package controller

import "github.com/dd0wney/cluso-lockstep/pkg/cluster"

// behavior is what a (mode, role) pair does differently from the others
type behavior struct {
	name string
	// enabled is false only for ModeDisabled
	enabled bool
	// local reads go through the frame cache instead of the primary
	local bool
	// gated waits go through barriers; standalone nodes release immediately
	gated bool
	// serves is true for nodes that answer requests from other nodes
	serves bool
	// loopback resolves the primary's host as the local loopback address
	loopback bool
}

var (
	behaviorDisabled   = behavior{name: "disabled"}
	behaviorStandalone = behavior{name: "standalone", enabled: true, local: true}
	behaviorEditor     = behavior{name: "editor", enabled: true, local: true, gated: true, serves: true, loopback: true}
	behaviorPrimary    = behavior{name: "primary", enabled: true, local: true, gated: true, serves: true}
	behaviorSecondary  = behavior{name: "secondary", enabled: true}
)

// behaviorFor picks the behavior and effective role of a node
func behaviorFor(mode cluster.OperationMode, configured cluster.Role) (behavior, cluster.Role) {
	switch mode {
	case cluster.ModeStandalone:
		return behaviorStandalone, cluster.RolePrimary
	case cluster.ModeEditor:
		return behaviorEditor, cluster.RolePrimary
	case cluster.ModeCluster:
		if configured == cluster.RolePrimary {
			return behaviorPrimary, cluster.RolePrimary
		}
		return behaviorSecondary, cluster.RoleSecondary
	default:
		return behaviorDisabled, cluster.RoleNone
	}
}

// LoopbackHost is the primary host an editor node resolves to
const LoopbackHost = "127.0.0.1"
