package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Config is the full node configuration. Secrets (API key, registry DSN)
// come from environment variables only, never from the file.
type Config struct {
	App        AppConfig        `json:"app"`
	Provider   ProviderConfig   `json:"provider"`
	Agent      AgentConfig      `json:"agent"`
	Compaction CompactionConfig `json:"compaction"`
	Skills     SkillsConfig     `json:"skills"`
	Registry   RegistryConfig   `json:"registry"`
	Server     ServerConfig     `json:"server"`
	Telemetry  TelemetryConfig  `json:"telemetry"`
}

// AppConfig names the swarm application scope sessions are keyed under.
type AppConfig struct {
	Name    string `json:"name"`     // app_name used for locally created sessions
	DataDir string `json:"data_dir"` // session DBs, default registry file, workspace
}

// ProviderConfig selects the model backend.
type ProviderConfig struct {
	Name          string `json:"name"`
	APIBase       string `json:"api_base"`
	Model         string `json:"model"`
	ContextWindow int    `json:"context_window"`
	APIKey        string `json:"-"` // SWARM_API_KEY only
}

// AgentConfig tunes the session runtime.
type AgentConfig struct {
	SystemPrompt      string `json:"system_prompt"`
	MaxToolIterations int    `json:"max_tool_iterations"`
	ToolWarnLimit     int    `json:"tool_warn_limit"` // log a warning above this many bound tools
}

// CompactionConfig tunes the three compaction tiers.
type CompactionConfig struct {
	MaxEvents int    `json:"max_events"` // structural threshold
	MinEvents int    `json:"min_events"` // below this, compaction never runs
	Model     string `json:"model"`      // summarizer model; empty = provider default
}

// SkillsConfig locates skill packages.
type SkillsConfig struct {
	Dir   string `json:"dir"`
	Watch bool   `json:"watch"` // fsnotify hot-reload of the discovery cache
}

// RegistryConfig locates the swarm registry.
type RegistryConfig struct {
	Path string `json:"path"` // SQLite file; SWARM_REGISTRY_DSN overrides with Postgres
	DSN  string `json:"-"`    // SWARM_REGISTRY_DSN only
}

// ServerConfig tunes the HTTP facade.
type ServerConfig struct {
	Host         string  `json:"host"`
	RateLimitRPS float64 `json:"rate_limit_rps"` // 0 = disabled
	RateBurst    int     `json:"rate_burst"`
}

// TelemetryConfig enables OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint"`
	ServiceName string `json:"service_name"`
	Insecure    bool   `json:"insecure"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:    "swarm_app",
			DataDir: ".",
		},
		Provider: ProviderConfig{
			Name:          "openai",
			Model:         "gpt-4o-mini",
			ContextWindow: 128000,
		},
		Agent: AgentConfig{
			MaxToolIterations: 30,
			ToolWarnLimit:     12,
		},
		Compaction: CompactionConfig{
			MaxEvents: 700,
			MinEvents: 10,
		},
		Skills: SkillsConfig{
			Dir:   "skills",
			Watch: true,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "goswarm",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("SWARM_API_KEY", &c.Provider.APIKey)
	envStr("SWARM_API_BASE", &c.Provider.APIBase)
	envStr("SWARM_MODEL", &c.Provider.Model)
	envStr("SWARM_REGISTRY_DSN", &c.Registry.DSN)
	envStr("SWARM_SKILLS_DIR", &c.Skills.Dir)
	envStr("SWARM_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	if v := os.Getenv("SWARM_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SWARM_CONTEXT_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Provider.ContextWindow = n
		}
	}
}

// SessionDBPath returns the per-node session database file.
func (c *Config) SessionDBPath(port int) string {
	return filepath.Join(c.App.DataDir, fmt.Sprintf("swarm_sessions_port_%d.db", port))
}

// RegistryDSN returns the registry location: the Postgres DSN when set,
// otherwise the shared SQLite file under the data dir.
func (c *Config) RegistryDSN() string {
	if c.Registry.DSN != "" {
		return c.Registry.DSN
	}
	if c.Registry.Path != "" {
		return c.Registry.Path
	}
	return filepath.Join(c.App.DataDir, "swarm_registry.db")
}

// WorkspaceDir returns the directory workers store task artifacts under.
func (c *Config) WorkspaceDir() string {
	return filepath.Join(c.App.DataDir, "workspace")
}
