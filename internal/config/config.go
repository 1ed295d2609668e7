// Package config provides configuration management for webdap.
//
// Configuration controls:
//   - Target defaults: remote debugging host/port for the application
//   - Reconnect policy: how many times a lost connection is retried
//   - Readiness polling: attempt count and inter-attempt delay
//   - Proxy settings: listen port for the CDP proxy
//   - Launcher settings: application path, arguments, required install paths
//   - Logging level
//
// Configuration can be loaded from a JSON file or use sensible defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Duration is a time.Duration that unmarshals from either a JSON number of
// nanoseconds or a string like "30s" accepted by time.ParseDuration.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*d = Duration(time.Duration(val))
		return nil
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config holds the adapter configuration
type Config struct {
	// Target defaults applied when an attach request omits them
	TargetHost string `json:"targetHost"`
	TargetPort int    `json:"targetPort"`

	// Reconnect policy: number of re-attach attempts after connection loss
	ReconnectAttempts int `json:"reconnectAttempts"`

	// Readiness polling
	Readiness ReadinessConfig `json:"readiness"`

	// Proxy settings
	Proxy ProxyConfig `json:"proxy"`

	// Launcher settings
	Launcher LauncherConfig `json:"launcher"`

	// Limits for safety
	MaxSessions    int      `json:"maxSessions"`
	SessionTimeout Duration `json:"sessionTimeout"`

	// LogLevel is one of: debug, info, warn, error
	LogLevel string `json:"logLevel"`
}

// ReadinessConfig controls how the target's debugging endpoint is polled
// after launch.
type ReadinessConfig struct {
	Attempts int      `json:"attempts"`
	Interval Duration `json:"interval"`
}

// ProxyConfig holds CDP proxy settings. ListenPort 0 binds an ephemeral
// port.
type ProxyConfig struct {
	ListenHost string `json:"listenHost"`
	ListenPort int    `json:"listenPort"`
}

// LauncherConfig holds settings for launching the application target.
type LauncherConfig struct {
	// ApplicationPath is the executable started for launch requests.
	ApplicationPath string `json:"applicationPath"`

	// Args are prepended to the launch arguments before the remote
	// debugging flag.
	Args []string `json:"args,omitempty"`

	// WorkspaceRoot is the root used for child-session source resolution.
	WorkspaceRoot string `json:"workspaceRoot,omitempty"`

	// Dependencies lists install paths that must exist before launch,
	// keyed by the command that installs them.
	Dependencies []Dependency `json:"dependencies,omitempty"`
}

// Dependency names one required install path and the command that puts it
// in place.
type Dependency struct {
	Path           string `json:"path"`
	InstallCommand string `json:"installCommand"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		TargetHost:        "127.0.0.1",
		TargetPort:        9222,
		ReconnectAttempts: 3,
		Readiness: ReadinessConfig{
			Attempts: 10,
			Interval: Duration(time.Second),
		},
		Proxy: ProxyConfig{
			ListenHost: "127.0.0.1",
			ListenPort: 0,
		},
		MaxSessions:    10,
		SessionTimeout: Duration(30 * time.Minute),
		LogLevel:       "info",
	}
}

// LoadConfig loads configuration from a JSON file
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

// Validate rejects configurations the orchestrator cannot honor.
func (c *Config) Validate() error {
	if c.ReconnectAttempts < 0 {
		return fmt.Errorf("reconnectAttempts must be >= 0, got %d", c.ReconnectAttempts)
	}
	if c.Readiness.Attempts < 1 {
		return fmt.Errorf("readiness.attempts must be >= 1, got %d", c.Readiness.Attempts)
	}
	if c.TargetPort < 0 || c.TargetPort > 65535 {
		return fmt.Errorf("targetPort out of range: %d", c.TargetPort)
	}
	return nil
}
