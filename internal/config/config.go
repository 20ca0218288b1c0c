package config

import (
	"fmt"
	"strings"
)

// ModelEntry is one row of the model registry (spec §6): a short name the
// wrap pipeline and room equipment reference, routed to a backend.
type ModelEntry struct {
	ShortName      string `yaml:"short_name"`
	DisplayName    string `yaml:"display_name"`
	Backend        string `yaml:"backend"` // anthropic, openai
	Endpoint       string `yaml:"endpoint,omitempty"`
	APIKeyEnv      string `yaml:"api_key_env,omitempty"`
	SystemPrompt   string `yaml:"system_prompt,omitempty"`
	ContextWindow  int    `yaml:"context_window,omitempty"`
	MaxTokens      int    `yaml:"max_tokens,omitempty"`
}

// MCPServerEntry configures one external tool server connection.
type MCPServerEntry struct {
	ID        string            `yaml:"id"`
	Transport string            `yaml:"transport"` // stdio, http
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	URL       string            `yaml:"url,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	RateRPS   float64           `yaml:"rate_rps,omitempty"`
	RateBurst int               `yaml:"rate_burst,omitempty"`
}

// ScriptConfig points at the entrypoint script for new sessions and
// controls hot-reload behavior (spec §4.3).
type ScriptConfig struct {
	EntrypointModule string `yaml:"entrypoint_module"`
	WatchFiles       bool   `yaml:"watch_files"`
}

// LogConfig controls slog output shape.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TracingConfig controls OpenTelemetry span export. An empty Endpoint
// disables export entirely (observability.NewTracer returns a no-op tracer).
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint,omitempty"`
	SamplingRate float64 `yaml:"sampling_rate,omitempty"`
}

// Config is the top-level sshwarpd configuration (spec §6): listen
// address, host-key path, data directory, backend credentials, and the
// model registry.
type Config struct {
	Version int `yaml:"version"`

	ListenAddr  string `yaml:"listen_addr"`
	HostKeyPath string `yaml:"host_key_path"`
	DataDir     string `yaml:"data_dir"`

	Models     []ModelEntry     `yaml:"models"`
	MCPServers []MCPServerEntry `yaml:"mcp_servers,omitempty"`
	Script     ScriptConfig     `yaml:"script"`
	Log        LogConfig        `yaml:"log"`
	Tracing    TracingConfig    `yaml:"tracing,omitempty"`

	DefaultMaxTurns int `yaml:"default_max_turns,omitempty"`
	WrapBudget      int `yaml:"wrap_budget,omitempty"`
}

// Load reads, merges $include directives, and decodes path into a
// validated Config.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Script.EntrypointModule == "" {
		c.Script.EntrypointModule = "main"
	}
	if c.DefaultMaxTurns <= 0 {
		c.DefaultMaxTurns = 10
	}
	if c.WrapBudget <= 0 {
		c.WrapBudget = 8000
	}
	for i := range c.MCPServers {
		if c.MCPServers[i].RateBurst <= 0 {
			c.MCPServers[i].RateBurst = 5
		}
	}
	return nil
}

// Validate checks structural requirements Load's decode step can't express
// in struct tags: required fields, referential integrity of model entries,
// and per-server id uniqueness.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("config: listen_addr is required")
	}
	if strings.TrimSpace(c.HostKeyPath) == "" {
		return fmt.Errorf("config: host_key_path is required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("config: at least one model registry entry is required")
	}

	seenModels := map[string]bool{}
	for _, m := range c.Models {
		if m.ShortName == "" {
			return fmt.Errorf("config: model entry missing short_name")
		}
		if seenModels[m.ShortName] {
			return fmt.Errorf("config: duplicate model short_name %q", m.ShortName)
		}
		seenModels[m.ShortName] = true
		switch m.Backend {
		case "anthropic", "openai":
		default:
			return fmt.Errorf("config: model %q has unsupported backend %q", m.ShortName, m.Backend)
		}
	}

	seenServers := map[string]bool{}
	for _, s := range c.MCPServers {
		if s.ID == "" {
			return fmt.Errorf("config: mcp server entry missing id")
		}
		if seenServers[s.ID] {
			return fmt.Errorf("config: duplicate mcp server id %q", s.ID)
		}
		seenServers[s.ID] = true
		switch s.Transport {
		case "stdio":
			if s.Command == "" {
				return fmt.Errorf("config: mcp server %q missing command for stdio transport", s.ID)
			}
		case "http":
			if s.URL == "" {
				return fmt.Errorf("config: mcp server %q missing url for http transport", s.ID)
			}
		default:
			return fmt.Errorf("config: mcp server %q has unsupported transport %q", s.ID, s.Transport)
		}
	}

	return nil
}
