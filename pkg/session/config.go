package session

import (
	"github.com/dd0wney/cluso-lockstep/pkg/cluster"
	"github.com/dd0wney/cluso-lockstep/pkg/controller"
	"github.com/dd0wney/cluso-lockstep/pkg/logging"
	"github.com/dd0wney/cluso-lockstep/pkg/metrics"
	"github.com/dd0wney/cluso-lockstep/pkg/transport"
	"github.com/dd0wney/cluso-lockstep/pkg/validation"
)

// Config selects the node and how it takes part in the cluster
type Config struct {
	Cluster *cluster.Config
	NodeID  string
	Mode    cluster.OperationMode
	// Transport overrides the cluster file's transport kind when set
	Transport string
	// Debug turns a skipped ClearCache into a panic instead of a warning
	Debug bool
}

// Deps are the collaborators supplied by the host application
type Deps struct {
	// Frames is required on a primary, editor or standalone node
	Frames controller.FrameSource
	Input  controller.InputSource
	Logger logging.Logger
	// Metrics defaults to a private registry
	Metrics *metrics.Registry
}

// Validate checks the config before anything is built
func (c Config) Validate() error {
	if c.Cluster == nil {
		return ErrNoClusterConfig
	}
	v := validation.NewConfigValidator("SessionConfig")
	v.Required("NodeID", c.NodeID).
		MemberOf("NodeID", c.NodeID, c.Cluster.NodeIDs()).
		When(c.Transport != "", func(v *validation.ConfigValidator) {
			v.MemberOf("Transport", c.Transport, transport.Kinds())
		})
	return v.Validate()
}

func (c Config) transportKind() string {
	return validation.DefaultOrString(c.Transport, c.Cluster.Transport)
}
