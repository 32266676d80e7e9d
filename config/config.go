// Package config provides configuration loading and management for Evoq.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Evoq configuration
type Config struct {
	Queue        QueueConfig        `yaml:"queue"`
	Dispatcher   DispatcherConfig   `yaml:"dispatcher"`
	Approvals    ApprovalsConfig    `yaml:"approvals"`
	Housekeeping HousekeepingConfig `yaml:"housekeeping"`
	Safety       SafetyConfig       `yaml:"safety"`
	Models       ModelsConfig       `yaml:"models"`
	HTTP         HTTPConfig         `yaml:"http"`
}

// QueueConfig selects and configures the queue substrate
type QueueConfig struct {
	// Substrate is the queue backend: jetstream, pgmq, or memory
	Substrate string `yaml:"substrate"`
	// URL is the NATS server URL (jetstream substrate)
	URL string `yaml:"url"`
	// StreamName is the JetStream stream carrying the queue subjects
	StreamName string `yaml:"stream_name"`
	// DSN is the Postgres connection string (pgmq substrate)
	DSN string `yaml:"dsn"`
	// MaxConns is the Postgres pool size (pgmq substrate)
	MaxConns int `yaml:"max_conns"`
}

// DispatcherConfig tunes the workflow consumer
type DispatcherConfig struct {
	// Workers is the number of parallel handler workers
	Workers int `yaml:"workers"`
	// BatchSize is the maximum messages fetched per queue read
	BatchSize int `yaml:"batch_size"`
	// PollInterval is the pause between polls of an idle queue
	PollInterval time.Duration `yaml:"poll_interval"`
	// VisibilityTimeout is how long a read message stays hidden
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	// CancelGrace is the window after a handler timeout before abandonment
	CancelGrace time.Duration `yaml:"cancel_grace"`
}

// ApprovalsConfig tunes the approval token service
type ApprovalsConfig struct {
	// TokenTTL is the default lifetime of an issued token
	TokenTTL time.Duration `yaml:"token_ttl"`
	// GCGrace keeps expired tokens inspectable before the sweeper drops them
	GCGrace time.Duration `yaml:"gc_grace"`
	// MaxRequestTTL caps per-issue lifetime overrides through the API
	MaxRequestTTL time.Duration `yaml:"max_request_ttl"`
}

// HousekeepingConfig tunes the background GC component
type HousekeepingConfig struct {
	// GCInterval is the pause between sweep passes
	GCInterval time.Duration `yaml:"gc_interval"`
	// TerminalRetention is how long finished workflow records stay queryable
	TerminalRetention time.Duration `yaml:"terminal_retention"`
}

// SafetyConfig locates the safety-rule profile
type SafetyConfig struct {
	// Profile is the path to a YAML rule profile (empty = start with no rules)
	Profile string `yaml:"profile"`
	// Watch reloads the profile when the file changes
	Watch bool `yaml:"watch"`
}

// ModelsConfig locates the LLM model registry
type ModelsConfig struct {
	// Config is the path to a model registry file (empty = built-in defaults)
	Config string `yaml:"config"`
}

// HTTPConfig configures the HTTP surface
type HTTPConfig struct {
	// Port is the listen port for the control API and metrics
	Port int `yaml:"port"`
	// DisableMetrics hides the Prometheus endpoint
	DisableMetrics bool `yaml:"disable_metrics"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Queue: QueueConfig{
			Substrate:  "jetstream",
			URL:        "nats://localhost:4222",
			StreamName: "EVOQ",
			MaxConns:   6,
		},
		Dispatcher: DispatcherConfig{
			Workers:           4,
			BatchSize:         10,
			PollInterval:      time.Second,
			VisibilityTimeout: 60 * time.Second,
			CancelGrace:       2 * time.Second,
		},
		Approvals: ApprovalsConfig{
			TokenTTL:      60 * time.Second,
			GCGrace:       30 * time.Second,
			MaxRequestTTL: time.Hour,
		},
		Housekeeping: HousekeepingConfig{
			GCInterval:        30 * time.Second,
			TerminalRetention: time.Hour,
		},
		Safety: SafetyConfig{
			Profile: "", // No rules until a profile or the API adds them
		},
		Models: ModelsConfig{
			Config: "", // Built-in registry
		},
		HTTP: HTTPConfig{
			Port: 8080,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Queue.Substrate {
	case "jetstream", "pgmq", "memory":
	default:
		return fmt.Errorf("queue.substrate must be jetstream, pgmq, or memory")
	}
	if c.Queue.Substrate == "jetstream" && c.Queue.StreamName == "" {
		return fmt.Errorf("queue.stream_name is required for the jetstream substrate")
	}
	if c.Queue.Substrate == "pgmq" && c.Queue.DSN == "" {
		return fmt.Errorf("queue.dsn is required for the pgmq substrate")
	}
	if c.Dispatcher.Workers < 1 {
		return fmt.Errorf("dispatcher.workers must be at least 1")
	}
	if c.Dispatcher.BatchSize < 1 {
		return fmt.Errorf("dispatcher.batch_size must be at least 1")
	}
	if c.Dispatcher.PollInterval <= 0 {
		return fmt.Errorf("dispatcher.poll_interval must be positive")
	}
	if c.Dispatcher.VisibilityTimeout <= 0 {
		return fmt.Errorf("dispatcher.visibility_timeout must be positive")
	}
	if c.Dispatcher.CancelGrace < 0 {
		return fmt.Errorf("dispatcher.cancel_grace cannot be negative")
	}
	if c.Approvals.TokenTTL <= 0 {
		return fmt.Errorf("approvals.token_ttl must be positive")
	}
	if c.Approvals.GCGrace < 0 {
		return fmt.Errorf("approvals.gc_grace cannot be negative")
	}
	if c.Housekeeping.GCInterval <= 0 {
		return fmt.Errorf("housekeeping.gc_interval must be positive")
	}
	if c.Housekeeping.TerminalRetention <= 0 {
		return fmt.Errorf("housekeeping.terminal_retention must be positive")
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Queue
	if other.Queue.Substrate != "" {
		c.Queue.Substrate = other.Queue.Substrate
	}
	if other.Queue.URL != "" {
		c.Queue.URL = other.Queue.URL
	}
	if other.Queue.StreamName != "" {
		c.Queue.StreamName = other.Queue.StreamName
	}
	if other.Queue.DSN != "" {
		c.Queue.DSN = other.Queue.DSN
	}
	if other.Queue.MaxConns != 0 {
		c.Queue.MaxConns = other.Queue.MaxConns
	}

	// Dispatcher
	if other.Dispatcher.Workers != 0 {
		c.Dispatcher.Workers = other.Dispatcher.Workers
	}
	if other.Dispatcher.BatchSize != 0 {
		c.Dispatcher.BatchSize = other.Dispatcher.BatchSize
	}
	if other.Dispatcher.PollInterval != 0 {
		c.Dispatcher.PollInterval = other.Dispatcher.PollInterval
	}
	if other.Dispatcher.VisibilityTimeout != 0 {
		c.Dispatcher.VisibilityTimeout = other.Dispatcher.VisibilityTimeout
	}
	if other.Dispatcher.CancelGrace != 0 {
		c.Dispatcher.CancelGrace = other.Dispatcher.CancelGrace
	}

	// Approvals
	if other.Approvals.TokenTTL != 0 {
		c.Approvals.TokenTTL = other.Approvals.TokenTTL
	}
	if other.Approvals.GCGrace != 0 {
		c.Approvals.GCGrace = other.Approvals.GCGrace
	}
	if other.Approvals.MaxRequestTTL != 0 {
		c.Approvals.MaxRequestTTL = other.Approvals.MaxRequestTTL
	}

	// Housekeeping
	if other.Housekeeping.GCInterval != 0 {
		c.Housekeeping.GCInterval = other.Housekeeping.GCInterval
	}
	if other.Housekeeping.TerminalRetention != 0 {
		c.Housekeeping.TerminalRetention = other.Housekeeping.TerminalRetention
	}

	// Safety
	if other.Safety.Profile != "" {
		c.Safety.Profile = other.Safety.Profile
	}
	if other.Safety.Watch {
		c.Safety.Watch = true
	}

	// Models
	if other.Models.Config != "" {
		c.Models.Config = other.Models.Config
	}

	// HTTP
	if other.HTTP.Port != 0 {
		c.HTTP.Port = other.HTTP.Port
	}
	if other.HTTP.DisableMetrics {
		c.HTTP.DisableMetrics = true
	}
}
