// Package config loads orchestrator configuration from an optional YAML
// file overlaid with CONVOFLOW_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the full orchestrator configuration.
type Config struct {
	Server     ServerConfig             `koanf:"server"`
	Storage    StorageConfig            `koanf:"storage"`
	Workflow   WorkflowConfig           `koanf:"workflow"`
	Resilience ResilienceConfig         `koanf:"resilience"`
	Services   map[string]ServiceConfig `koanf:"services"`
	Telemetry  TelemetryConfig          `koanf:"telemetry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StorageConfig configures persistence.
type StorageConfig struct {
	// SQLitePath is the database file. ":memory:" is accepted for tests.
	SQLitePath string `koanf:"sqlite_path"`

	// CheckpointingEnabled toggles durable workflow checkpoints. When
	// disabled, a turn's state is rebuilt from the session's collected
	// data instead.
	CheckpointingEnabled bool `koanf:"checkpointing_enabled"`
}

// WorkflowConfig configures conversation behavior.
type WorkflowConfig struct {
	// IntentsPath optionally points at a YAML intent catalog. Empty
	// means the built-in banking catalog.
	IntentsPath string `koanf:"intents_path"`

	// ConfidenceThreshold below which the engine asks for clarification.
	ConfidenceThreshold float64 `koanf:"confidence_threshold"`

	// FeedbackTTL is how long a pending human input request stays valid.
	FeedbackTTL time.Duration `koanf:"feedback_ttl"`

	// SessionTTL is the inactivity window after which a session expires.
	SessionTTL time.Duration `koanf:"session_ttl"`

	// SweepInterval is how often expired sessions and feedback requests
	// are collected.
	SweepInterval time.Duration `koanf:"sweep_interval"`

	// MaxIterations bounds a single workflow run.
	MaxIterations int `koanf:"max_iterations"`
}

// ResilienceConfig configures the downstream call layer.
type ResilienceConfig struct {
	MaxRetries       int           `koanf:"max_retries"`
	BaseDelay        time.Duration `koanf:"base_delay"`
	MaxDelay         time.Duration `koanf:"max_delay"`
	BreakerThreshold int           `koanf:"breaker_threshold"`
	BreakerTimeout   time.Duration `koanf:"breaker_timeout"`
	CallTimeout      time.Duration `koanf:"call_timeout"`
}

// ServiceConfig locates one downstream banking service.
type ServiceConfig struct {
	BaseURL string `koanf:"base_url"`
}

// TelemetryConfig configures tracing output.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

// envPrefix is stripped and lowercased; underscores become dots, so
// CONVOFLOW_SERVER_PORT maps to server.port.
const envPrefix = "CONVOFLOW_"

// Load reads configuration from the optional YAML file at path (skipped
// when empty), then environment variables, then fills defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	applyDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.host":                   "0.0.0.0",
		"server.port":                   8080,
		"server.request_timeout":        "30s",
		"server.shutdown_timeout":       "15s",
		"storage.sqlite_path":           "./convoflow.db",
		"storage.checkpointing_enabled": true,
		"workflow.confidence_threshold": 0.6,
		"workflow.feedback_ttl":         "5m",
		"workflow.session_ttl":          "30m",
		"workflow.sweep_interval":       "1m",
		"workflow.max_iterations":       50,
		"resilience.max_retries":        3,
		"resilience.base_delay":         "500ms",
		"resilience.max_delay":          "10s",
		"resilience.breaker_threshold":  5,
		"resilience.breaker_timeout":    "30s",
		"resilience.call_timeout":       "10s",
	}
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}
}

// Validate rejects configurations the orchestrator cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path is required")
	}
	if c.Workflow.ConfidenceThreshold < 0 || c.Workflow.ConfidenceThreshold > 1 {
		return fmt.Errorf("workflow.confidence_threshold must be in [0,1], got %v", c.Workflow.ConfidenceThreshold)
	}
	if c.Workflow.FeedbackTTL <= 0 {
		return fmt.Errorf("workflow.feedback_ttl must be positive")
	}
	if c.Workflow.SessionTTL <= 0 {
		return fmt.Errorf("workflow.session_ttl must be positive")
	}
	for name, svc := range c.Services {
		if svc.BaseURL == "" {
			return fmt.Errorf("services.%s.base_url is required", name)
		}
	}
	return nil
}

// Addr returns the host:port the server binds to.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
