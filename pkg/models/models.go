package models

import (
	"strconv"
	"strings"
	"time"
)

// PortRecord represents one observed listening socket
type PortRecord struct {
	Port        uint16 `json:"port"`
	PID         int    `json:"pid"`
	BindAddress string `json:"bind_address"`
	ProcessName string `json:"process_name"`
	Command     string `json:"command,omitempty"` // only filled by whole-system scans
}

// Addr returns the record in host:port form.
func (r PortRecord) Addr() string {
	host := r.BindAddress
	if host == "" {
		host = "0.0.0.0"
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return host + ":" + strconv.Itoa(int(r.Port))
}

// State is the lifecycle state of a supervised tool
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateErrored  State = "errored"
)

// ErrorKind classifies the failure recorded in a Status
type ErrorKind string

const (
	ErrorNone                ErrorKind = ""
	ErrorToolNotInstalled    ErrorKind = "tool_not_installed"
	ErrorSpawnFailure        ErrorKind = "spawn_failure"
	ErrorCrashedWhileRunning ErrorKind = "crashed_while_running"
)

// Status is an immutable snapshot of a supervisor's session state
type Status struct {
	Name      string     `json:"name"`
	State     State      `json:"state"`
	PID       int        `json:"pid,omitempty"`
	Port      uint16     `json:"port,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	ErrorKind ErrorKind  `json:"error_kind,omitempty"`
	RunID     string     `json:"run_id,omitempty"`
	APIKey    string     `json:"-"`
}

// Running reports whether the tool is up and past its settle window.
func (s Status) Running() bool {
	return s.State == StateRunning
}

// Active reports whether a process is currently attached to the session.
func (s Status) Active() bool {
	return s.State == StateStarting || s.State == StateRunning || s.State == StateStopping
}

// Uptime returns how long the current session has been alive.
func (s Status) Uptime(now time.Time) time.Duration {
	if s.StartedAt == nil || !s.Active() {
		return 0
	}
	return now.Sub(*s.StartedAt)
}

// ToolSpec describes one supervised external helper
type ToolSpec struct {
	Name            string            `toml:"name" json:"name"`
	Executable      string            `toml:"executable" json:"executable"`
	Args            []string          `toml:"args,omitempty" json:"args,omitempty"`
	Env             map[string]string `toml:"env,omitempty" json:"env,omitempty"`
	PortFlag        string            `toml:"port_flag" json:"port_flag"`
	APIKeyFlag      string            `toml:"api_key_flag" json:"api_key_flag"`
	NoBrowserFlag   string            `toml:"no_browser_flag,omitempty" json:"no_browser_flag,omitempty"`
	DefaultPorts    []uint16          `toml:"default_ports,omitempty" json:"default_ports,omitempty"`
	StatusPath      string            `toml:"status_path" json:"status_path"`
	AuthHeader      string            `toml:"auth_header" json:"auth_header"`
	SettleMS        int               `toml:"settle_ms,omitempty" json:"settle_ms,omitempty"`
	StopTimeoutMS   int               `toml:"stop_timeout_ms,omitempty" json:"stop_timeout_ms,omitempty"`
	HealthTimeoutMS int               `toml:"health_timeout_ms,omitempty" json:"health_timeout_ms,omitempty"`
}

const (
	DefaultSettleWindow  = 1500 * time.Millisecond
	DefaultStopTimeout   = 5 * time.Second
	DefaultHealthTimeout = 2 * time.Second
)

// SettleWindow is how long a fresh process must survive to count as running.
func (t ToolSpec) SettleWindow() time.Duration {
	return msOr(t.SettleMS, DefaultSettleWindow)
}

// StopTimeout bounds the graceful phase of a stop.
func (t ToolSpec) StopTimeout() time.Duration {
	return msOr(t.StopTimeoutMS, DefaultStopTimeout)
}

// HealthTimeout bounds a single liveness probe.
func (t ToolSpec) HealthTimeout() time.Duration {
	return msOr(t.HealthTimeoutMS, DefaultHealthTimeout)
}

func msOr(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// ToolHistory is the persisted record of a tool's most recent run
type ToolHistory struct {
	Name      string     `json:"name"`
	LastPID   *int       `json:"last_pid,omitempty"`
	LastPort  uint16     `json:"last_port,omitempty"`
	LastRunID string     `json:"last_run_id,omitempty"`
	LastStart *time.Time `json:"last_start,omitempty"`
	LastStop  *time.Time `json:"last_stop,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// History holds run history for all supervised tools
type History struct {
	Tools   map[string]*ToolHistory `json:"tools"`
	Version string                  `json:"version"`
}
