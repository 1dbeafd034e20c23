package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Worker
	if cfg.Worker.ServerURL == "" {
		errs = append(errs, errors.New("worker.server_url is required"))
	} else if u, err := url.Parse(cfg.Worker.ServerURL); err != nil {
		errs = append(errs, fmt.Errorf("worker.server_url %q is not a valid URL: %w", cfg.Worker.ServerURL, err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("worker.server_url scheme %q is invalid; valid schemes: ws, wss", u.Scheme))
	}
	if cfg.Worker.AgentName == "" {
		errs = append(errs, errors.New("worker.agent_name is required"))
	}
	if cfg.Worker.Token != "" && cfg.Worker.TokenFile != "" {
		errs = append(errs, errors.New("worker.token and worker.token_file are mutually exclusive"))
	}
	if cfg.Worker.RegisterTimeout < 0 {
		errs = append(errs, errors.New("worker.register_timeout must not be negative"))
	}
	if cfg.Worker.AssignmentTimeout < 0 {
		errs = append(errs, errors.New("worker.assignment_timeout must not be negative"))
	}

	// Pool
	if cfg.Pool.NumIdleProcesses < 0 {
		errs = append(errs, fmt.Errorf("pool.num_idle_processes %d must not be negative", cfg.Pool.NumIdleProcesses))
	}
	if cfg.Pool.SpawnRetryInterval < 0 {
		errs = append(errs, errors.New("pool.spawn_retry_interval must not be negative"))
	}

	// Session
	s := cfg.Session
	for name, d := range map[string]Duration{
		"session.min_interruption_duration": s.MinInterruptionDuration,
		"session.min_endpointing_delay":     s.MinEndpointingDelay,
		"session.max_endpointing_delay":     s.MaxEndpointingDelay,
		"session.user_away_timeout":         s.UserAwayTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if s.MaxEndpointingDelay > 0 && s.MaxEndpointingDelay < s.MinEndpointingDelay {
		errs = append(errs, fmt.Errorf("session.max_endpointing_delay %s is below session.min_endpointing_delay %s",
			s.MaxEndpointingDelay.Std(), s.MinEndpointingDelay.Std()))
	}
	if s.MinInterruptionWords < 0 {
		errs = append(errs, fmt.Errorf("session.min_interruption_words %d must not be negative", s.MinInterruptionWords))
	}
	if s.MaxToolSteps != nil && *s.MaxToolSteps < 0 {
		errs = append(errs, fmt.Errorf("session.max_tool_steps %d must not be negative", *s.MaxToolSteps))
	}

	return errors.Join(errs...)
}

// ResolveToken returns the dispatch-server token, reading TokenFile when set.
func (w WorkerConfig) ResolveToken() (string, error) {
	if w.TokenFile == "" {
		return w.Token, nil
	}
	data, err := os.ReadFile(w.TokenFile)
	if err != nil {
		return "", fmt.Errorf("config: read token file: %w", err)
	}
	token := string(data)
	for len(token) > 0 && (token[len(token)-1] == '\n' || token[len(token)-1] == '\r') {
		token = token[:len(token)-1]
	}
	return token, nil
}
