package cluster

import (
	"fmt"
	"os"
	"time"

	"github.com/dd0wney/cluso-lockstep/pkg/validation"
	"gopkg.in/yaml.v3"
)

// Failover and transport names accepted in the config file
var (
	FailoverPolicies = []string{"disabled", "drop_secondary_on_fail"}
	TransportKinds   = []string{"tcp", "nng", "zmq"}
)

// Timeouts holds one barrier timeout per frame gate
type Timeouts struct {
	GameStart  time.Duration `yaml:"game_start"`
	FrameStart time.Duration `yaml:"frame_start"`
	FrameEnd   time.Duration `yaml:"frame_end"`
	SwapSync   time.Duration `yaml:"swap_sync"`
}

// ConnectConfig bounds how long a secondary keeps trying to reach the primary
type ConnectConfig struct {
	Retries int           `yaml:"retries"`
	Delay   time.Duration `yaml:"delay"`
	Timeout time.Duration `yaml:"timeout"`
}

// Config is the static cluster description shared by every node
type Config struct {
	Primary   string        `yaml:"primary" validate:"required,nodeid"`
	Failover  string        `yaml:"failover" validate:"omitempty,oneof=disabled drop_secondary_on_fail"`
	Transport string        `yaml:"transport" validate:"omitempty,oneof=tcp nng zmq"`
	Timeouts  Timeouts      `yaml:"timeouts"`
	Connect   ConnectConfig `yaml:"connect"`
	Nodes     []Node        `yaml:"nodes" validate:"required,min=1,dive"`
}

// DefaultConfig returns defaults for everything except the node table
func DefaultConfig() Config {
	return Config{
		Failover:  "disabled",
		Transport: "tcp",
		Timeouts: Timeouts{
			GameStart:  30 * time.Second, // nodes may boot at very different speeds
			FrameStart: 5 * time.Second,
			FrameEnd:   5 * time.Second,
			SwapSync:   5 * time.Second,
		},
		Connect: ConnectConfig{
			Retries: 15,
			Delay:   time.Second,
			Timeout: 5 * time.Second,
		},
	}
}

// LoadConfig reads, defaults and validates a YAML cluster file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigUnreadable, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML cluster config bytes, then defaults and validates them
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse cluster config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults applies default values to zero-valued fields
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	c.Failover = validation.DefaultOrString(c.Failover, defaults.Failover)
	c.Transport = validation.DefaultOrString(c.Transport, defaults.Transport)
	c.Timeouts.GameStart = validation.DefaultOrDuration(c.Timeouts.GameStart, defaults.Timeouts.GameStart)
	c.Timeouts.FrameStart = validation.DefaultOrDuration(c.Timeouts.FrameStart, defaults.Timeouts.FrameStart)
	c.Timeouts.FrameEnd = validation.DefaultOrDuration(c.Timeouts.FrameEnd, defaults.Timeouts.FrameEnd)
	c.Timeouts.SwapSync = validation.DefaultOrDuration(c.Timeouts.SwapSync, defaults.Timeouts.SwapSync)
	c.Connect.Retries = validation.DefaultOrInt(c.Connect.Retries, defaults.Connect.Retries)
	c.Connect.Delay = validation.DefaultOrDuration(c.Connect.Delay, defaults.Connect.Delay)
	c.Connect.Timeout = validation.DefaultOrDuration(c.Connect.Timeout, defaults.Connect.Timeout)
}

// Validate checks the struct tags first, then the cross-field rules
func (c *Config) Validate() error {
	if len(c.Nodes) == 0 {
		return ErrNoNodes
	}
	if err := validation.Struct(c); err != nil {
		return err
	}

	ids := c.NodeIDs()
	v := validation.NewConfigValidator("ClusterConfig")
	v.Unique("Nodes.ID", ids).
		Custom("Primary", func() error {
			for _, id := range ids {
				if id == c.Primary {
					return nil
				}
			}
			return fmt.Errorf("%w: %q", ErrUnknownPrimary, c.Primary)
		}).
		OneOf("Failover", c.Failover, FailoverPolicies).
		OneOf("Transport", c.Transport, TransportKinds).
		MinDuration("Timeouts.GameStart", c.Timeouts.GameStart, time.Millisecond).
		MinDuration("Timeouts.FrameStart", c.Timeouts.FrameStart, time.Millisecond).
		MinDuration("Timeouts.FrameEnd", c.Timeouts.FrameEnd, time.Millisecond).
		MinDuration("Timeouts.SwapSync", c.Timeouts.SwapSync, time.Millisecond).
		RangeInt("Connect.Retries", c.Connect.Retries, 1, 1000).
		MinDuration("Connect.Delay", c.Connect.Delay, time.Millisecond)

	return v.Validate()
}

// NodeIDs returns the node ids in file order
func (c *Config) NodeIDs() []string {
	ids := make([]string, len(c.Nodes))
	for i, n := range c.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// Node looks up a node by id
func (c *Config) Node(id string) (Node, bool) {
	for _, n := range c.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// RoleOf returns the role the config assigns to id
func (c *Config) RoleOf(id string) (Role, error) {
	if _, ok := c.Node(id); !ok {
		return RoleNone, fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}
	if id == c.Primary {
		return RolePrimary, nil
	}
	return RoleSecondary, nil
}
