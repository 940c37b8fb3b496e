package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/quillchat/quill/persistence"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Stream.MaxConcurrentStreams)
	assert.Equal(t, 16, cfg.Cache.Capacity)
	assert.Equal(t, persistence.BackendSQLite, cfg.Persistence.Backend)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := writeConfig(t, `
stream:
  max_concurrent_streams: 5
cache:
  capacity: 3
persistence:
  backend: memory
log:
  level: debug
  format: console
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Stream.MaxConcurrentStreams)
	assert.Equal(t, 3, cfg.Cache.Capacity)
	assert.Equal(t, persistence.BackendMemory, cfg.Persistence.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched sections keep their defaults.
	assert.Equal(t, 64, cfg.Stream.SubscriberBuffer)
	assert.Equal(t, 4096, cfg.Prompt.TokenBudget)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "stream: [not a mapping")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateCatchesBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero stream capacity", func(c *Config) { c.Stream.MaxConcurrentStreams = 0 }},
		{"zero cache capacity", func(c *Config) { c.Cache.Capacity = 0 }},
		{"unknown log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
		{"telemetry without endpoint", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.OTLPEndpoint = ""
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewLoggerBuildsConfiguredLevels(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, logger.Check(zapcore.DebugLevel, "debug message"))

	logger, err = NewLogger(LogConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	assert.Nil(t, logger.Check(zapcore.InfoLevel, "info message"))

	_, err = NewLogger(LogConfig{Level: "nonsense"})
	assert.Error(t, err)
}
