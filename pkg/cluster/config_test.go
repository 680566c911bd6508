package cluster

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
primary: node_1
failover: drop_secondary_on_fail
timeouts:
  frame_start: 2s
nodes:
  - id: node_1
    host: 10.0.0.1
    ports: {sync: 41001, events: 41002}
  - id: node_2
    host: render02
    ports: {sync: 41001, events: 41002}
  - id: node_3
    host: render03
    ports: {sync: 41001, events: 41002}
`

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Primary = "node_1"
	cfg.Nodes = []Node{
		{ID: "node_1", Host: "127.0.0.1", Ports: Ports{Sync: 41001, Events: 41002}},
		{ID: "node_2", Host: "127.0.0.1", Ports: Ports{Sync: 41011, Events: 41012}},
		{ID: "node_3", Host: "127.0.0.1", Ports: Ports{Sync: 41021, Events: 41022}},
	}
	return &cfg
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	if cfg.Primary != "node_1" || len(cfg.Nodes) != 3 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Timeouts.FrameStart != 2*time.Second {
		t.Errorf("FrameStart = %v, want 2s", cfg.Timeouts.FrameStart)
	}
	if cfg.Timeouts.GameStart != 30*time.Second {
		t.Errorf("GameStart default not applied: %v", cfg.Timeouts.GameStart)
	}
	if cfg.Transport != "tcp" {
		t.Errorf("Transport default = %q, want tcp", cfg.Transport)
	}
	if cfg.Nodes[1].SyncAddr() != "render02:41001" {
		t.Errorf("SyncAddr() = %q", cfg.Nodes[1].SyncAddr())
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cluster.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, ErrConfigUnreadable) {
		t.Errorf("missing file error = %v, want ErrConfigUnreadable", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
		wantIs  error
	}{
		{"valid", func(*Config) {}, "", nil},
		{"no nodes", func(c *Config) { c.Nodes = nil }, "", ErrNoNodes},
		{"unknown primary", func(c *Config) { c.Primary = "node_9" }, "", ErrUnknownPrimary},
		{"duplicate ids", func(c *Config) { c.Nodes[2].ID = "node_2" }, "duplicate value", nil},
		{"bad failover", func(c *Config) { c.Failover = "elect" }, "must be one of", nil},
		{"bad transport", func(c *Config) { c.Transport = "udp" }, "must be one of", nil},
		{"bad host", func(c *Config) { c.Nodes[0].Host = "not a host" }, "invalid host", nil},
		{"bad port", func(c *Config) { c.Nodes[0].Ports.Sync = 70000 }, "must not exceed", nil},
		{"zero retries", func(c *Config) { c.Connect.Retries = -1 }, "outside range", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			switch {
			case tt.wantIs != nil:
				if !errors.Is(err, tt.wantIs) {
					t.Errorf("Validate() = %v, want %v", err, tt.wantIs)
				}
			case tt.wantErr != "":
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("Validate() = %v, want containing %q", err, tt.wantErr)
				}
			default:
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}
		})
	}
}

func TestConfigRoleOf(t *testing.T) {
	cfg := testConfig()

	if r, _ := cfg.RoleOf("node_1"); r != RolePrimary {
		t.Errorf("RoleOf(node_1) = %v, want primary", r)
	}
	if r, _ := cfg.RoleOf("node_2"); r != RoleSecondary {
		t.Errorf("RoleOf(node_2) = %v, want secondary", r)
	}
	if _, err := cfg.RoleOf("ghost"); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("RoleOf(ghost) error = %v", err)
	}
}

func TestParseOperationMode(t *testing.T) {
	for _, m := range []OperationMode{ModeDisabled, ModeStandalone, ModeEditor, ModeCluster} {
		got, err := ParseOperationMode(strings.ToUpper(m.String()))
		if err != nil || got != m {
			t.Errorf("ParseOperationMode(%q) = %v, %v", m.String(), got, err)
		}
	}
	if _, err := ParseOperationMode("master"); err != ErrInvalidMode {
		t.Errorf("expected ErrInvalidMode, got %v", err)
	}
}
