package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quillchat/quill/persistence"
	"github.com/quillchat/quill/stream"
)

// Config is the complete quill configuration.
type Config struct {
	// Stream tunes the orchestrator.
	Stream stream.Config `yaml:"stream"`

	// Cache tunes the session view cache.
	Cache CacheConfig `yaml:"cache"`

	// Persistence selects the transcript backend.
	Persistence persistence.Config `yaml:"persistence"`

	// Prompt controls outgoing prompt assembly.
	Prompt PromptConfig `yaml:"prompt"`

	// Events sizes the notification bus.
	Events EventsConfig `yaml:"events"`

	// Log configures the process logger.
	Log LogConfig `yaml:"log"`

	// Telemetry configures OTLP trace export.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Metrics configures the Prometheus endpoint of the daemon.
	Metrics MetricsConfig `yaml:"metrics"`
}

// CacheConfig tunes the session view cache.
type CacheConfig struct {
	// Capacity bounds the number of cached session views.
	Capacity int `yaml:"capacity"`
	// HistoryLimit caps transcript hydration per view. <= 0 loads all.
	HistoryLimit int `yaml:"history_limit"`
}

// PromptConfig controls outgoing prompt assembly.
type PromptConfig struct {
	SystemPrompt string `yaml:"system_prompt"`
	// TokenBudget bounds history trimming. <= 0 disables trimming.
	TokenBudget int `yaml:"token_budget"`
	// Encoding names the tiktoken encoding used for counting.
	Encoding string `yaml:"encoding"`
}

// EventsConfig sizes the notification bus.
type EventsConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format: json or console.
	Format string `yaml:"format"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"service_name"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
}

// MetricsConfig configures the daemon's Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Stream:      stream.DefaultConfig(),
		Cache:       CacheConfig{Capacity: 16, HistoryLimit: 200},
		Persistence: persistence.DefaultConfig(),
		Prompt: PromptConfig{
			TokenBudget: 4096,
			Encoding:    "cl100k_base",
		},
		Events: EventsConfig{BufferSize: 128},
		Log:    LogConfig{Level: "info", Format: "json"},
		Telemetry: TelemetryConfig{
			ServiceName: "quill",
			SampleRate:  1.0,
		},
		Metrics: MetricsConfig{Enabled: true, Addr: ":9090"},
	}
}

// Load returns the defaults overlaid with the YAML file at path, when
// path is non-empty, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("stream: %w", err)
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache: capacity must be positive, got %d", c.Cache.Capacity)
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("log: unknown format %q", c.Log.Format)
	}
	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("telemetry: otlp_endpoint required when enabled")
	}
	return nil
}
