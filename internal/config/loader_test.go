package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
log_level: debug
worker:
  server_url: wss://dispatch.example.com/agent
  token: secret
  agent_name: concierge
  version: "1.4.0"
  register_timeout: 10s
  assignment_timeout: 7500ms
pool:
  num_idle_processes: 2
  spawn_retry_interval: 1s
session:
  allow_interruptions: true
  min_interruption_duration: 500ms
  min_interruption_words: 2
  min_endpointing_delay: 500ms
  max_endpointing_delay: 6s
  max_tool_steps: 3
  preemptive_generation: true
  user_away_timeout: 15s
  voice: nova
  language: en-US
history:
  postgres_dsn: postgres://cadenza@localhost:5432/cadenza
observe:
  service_name: cadenza-worker
`

func TestLoadFromReader(t *testing.T) {
	t.Parallel()
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.LogLevel != LogDebug {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.Worker.ServerURL != "wss://dispatch.example.com/agent" {
		t.Errorf("ServerURL = %q", cfg.Worker.ServerURL)
	}
	if got := cfg.Worker.AssignmentTimeout.Std(); got != 7500*time.Millisecond {
		t.Errorf("AssignmentTimeout = %s, want 7.5s", got)
	}
	if cfg.Pool.NumIdleProcesses != 2 {
		t.Errorf("NumIdleProcesses = %d, want 2", cfg.Pool.NumIdleProcesses)
	}
	if cfg.Session.AllowInterruptions == nil || !*cfg.Session.AllowInterruptions {
		t.Error("AllowInterruptions not decoded as true")
	}
	if cfg.Session.MaxToolSteps == nil || *cfg.Session.MaxToolSteps != 3 {
		t.Error("MaxToolSteps not decoded as 3")
	}
	if got := cfg.Session.MaxEndpointingDelay.Std(); got != 6*time.Second {
		t.Errorf("MaxEndpointingDelay = %s, want 6s", got)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
worker:
  server_url: wss://dispatch.example.com
  agent_name: a
  listen_addr: ":8080"
`
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Worker: WorkerConfig{
				ServerURL: "wss://dispatch.example.com",
				AgentName: "concierge",
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid minimal",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing server url",
			mutate:  func(c *Config) { c.Worker.ServerURL = "" },
			wantErr: "worker.server_url is required",
		},
		{
			name:    "http scheme rejected",
			mutate:  func(c *Config) { c.Worker.ServerURL = "http://dispatch.example.com" },
			wantErr: "scheme",
		},
		{
			name:    "missing agent name",
			mutate:  func(c *Config) { c.Worker.AgentName = "" },
			wantErr: "worker.agent_name is required",
		},
		{
			name: "token and token file exclusive",
			mutate: func(c *Config) {
				c.Worker.Token = "a"
				c.Worker.TokenFile = "/b"
			},
			wantErr: "mutually exclusive",
		},
		{
			name:    "negative idle processes",
			mutate:  func(c *Config) { c.Pool.NumIdleProcesses = -1 },
			wantErr: "pool.num_idle_processes",
		},
		{
			name: "endpointing delays inverted",
			mutate: func(c *Config) {
				c.Session.MinEndpointingDelay = Duration(time.Second)
				c.Session.MaxEndpointingDelay = Duration(100 * time.Millisecond)
			},
			wantErr: "max_endpointing_delay",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: "log_level",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestWorkerConfig_ResolveToken(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	w := WorkerConfig{TokenFile: path}
	got, err := w.ResolveToken()
	if err != nil {
		t.Fatalf("ResolveToken: %v", err)
	}
	if got != "from-file" {
		t.Errorf("token = %q, want trailing newline stripped", got)
	}

	w = WorkerConfig{Token: "inline"}
	if got, _ := w.ResolveToken(); got != "inline" {
		t.Errorf("inline token = %q", got)
	}
}

func TestDuration_UnmarshalRejectsGarbage(t *testing.T) {
	t.Parallel()
	yaml := `
worker:
  server_url: wss://dispatch.example.com
  agent_name: a
  register_timeout: soon
`
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("invalid duration accepted")
	}
}
