package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/devports/procwatch/pkg/models"
)

// Config represents the config.toml file.
type Config struct {
	LogLevel  string            `toml:"log_level,omitempty"`
	Discovery Discovery         `toml:"discovery"`
	Callback  Callback          `toml:"callback"`
	Tools     []models.ToolSpec `toml:"tools"`
}

// Discovery tunes port and process discovery.
type Discovery struct {
	PortCacheTTLMS   int `toml:"port_cache_ttl_ms,omitempty"`
	NameCacheTTLMS   int `toml:"name_cache_ttl_ms,omitempty"`
	CommandTimeoutMS int `toml:"command_timeout_ms,omitempty"`
	MaxOutputBytes   int `toml:"max_output_bytes,omitempty"`
}

// Callback tunes the authorization callback listener.
type Callback struct {
	TimeoutS        int `toml:"timeout_s,omitempty"`
	ShutdownDelayMS int `toml:"shutdown_delay_ms,omitempty"`
}

// PortCacheTTL returns the TTL for cached port queries.
func (d Discovery) PortCacheTTL() time.Duration {
	return millis(d.PortCacheTTLMS, 2*time.Second)
}

// NameCacheTTL returns the TTL for cached process names and command lines.
func (d Discovery) NameCacheTTL() time.Duration {
	return millis(d.NameCacheTTLMS, 10*time.Second)
}

// CommandTimeout bounds a single OS query.
func (d Discovery) CommandTimeout() time.Duration {
	return millis(d.CommandTimeoutMS, 4*time.Second)
}

// OutputLimit caps captured stdout of a single OS query.
func (d Discovery) OutputLimit() int {
	if d.MaxOutputBytes <= 0 {
		return 4 << 20
	}
	return d.MaxOutputBytes
}

// Timeout is how long a login waits for the browser redirect.
func (c Callback) Timeout() time.Duration {
	if c.TimeoutS <= 0 {
		return 300 * time.Second
	}
	return time.Duration(c.TimeoutS) * time.Second
}

// ShutdownDelay lets the confirmation page render before the socket closes.
func (c Callback) ShutdownDelay() time.Duration {
	return millis(c.ShutdownDelayMS, 500*time.Millisecond)
}

func millis(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// Default returns the configuration used when no config.toml exists.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Tools: []models.ToolSpec{
			{
				Name:          "router",
				Executable:    "~/.local/bin/ccr",
				Args:          []string{"start"},
				PortFlag:      "--port",
				APIKeyFlag:    "--api-key",
				NoBrowserFlag: "--no-browser",
				DefaultPorts:  []uint16{3456, 3457, 3458},
				StatusPath:    "/api/status",
				AuthHeader:    "x-api-key",
			},
			{
				Name:          "auth-proxy",
				Executable:    "~/.local/bin/auth-proxy",
				PortFlag:      "--port",
				APIKeyFlag:    "--api-key",
				NoBrowserFlag: "--no-browser",
				DefaultPorts:  []uint16{8317, 8318},
				StatusPath:    "/v0/status",
				AuthHeader:    "x-api-key",
			},
		},
	}
}

// Load reads config.toml at path and returns a Config struct.
// If the file does not exist, it returns Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config.toml: %w", err)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the Config struct to path.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Encode writes cfg as TOML to w.
func Encode(w io.Writer, cfg *Config) error {
	return toml.NewEncoder(w).Encode(cfg)
}

// Validate checks tool definitions for duplicates and missing fields.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for i, t := range c.Tools {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return fmt.Errorf("tools[%d]: name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("tools[%d]: duplicate tool name %q", i, name)
		}
		seen[name] = true
		if strings.TrimSpace(t.Executable) == "" {
			return fmt.Errorf("tool %q: executable is required", name)
		}
		if t.PortFlag == "" || t.APIKeyFlag == "" {
			return fmt.Errorf("tool %q: port_flag and api_key_flag are required", name)
		}
		for _, p := range t.DefaultPorts {
			if p == 0 {
				return fmt.Errorf("tool %q: default port 0 is not allowed", name)
			}
		}
	}
	return nil
}

// Tool returns the tool named name with its executable path expanded.
func (c *Config) Tool(name string) (models.ToolSpec, bool) {
	for _, t := range c.Tools {
		if t.Name == name {
			t.Executable = ExpandHome(t.Executable)
			return t, true
		}
	}
	return models.ToolSpec{}, false
}

// ResolvedTools returns all tools with executable paths expanded.
func (c *Config) ResolvedTools() []models.ToolSpec {
	out := make([]models.ToolSpec, 0, len(c.Tools))
	for _, t := range c.Tools {
		t.Executable = ExpandHome(t.Executable)
		out = append(out, t)
	}
	return out
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
