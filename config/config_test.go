package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnv(t *testing.T) {
	// Test case 1: Environment variable is set
	t.Setenv("TEST_ENV_VAR", "test_value")
	value := GetEnv("TEST_ENV_VAR", "default_value")
	if value != "test_value" {
		t.Errorf("Expected 'test_value', but got '%s'", value)
	}

	// Test case 2: Environment variable is not set, should return default value
	value = GetEnv("NON_EXISTENT_VAR", "default_value")
	if value != "default_value" {
		t.Errorf("Expected 'default_value', but got '%s'", value)
	}
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("PIPELINE_MODE", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ModeStream, cfg.Mode)
	assert.Equal(t, "call-records-raw", cfg.Kafka.RawTopic)
	assert.Equal(t, DefaultSinkName, cfg.Storage.Default)
	require.Contains(t, cfg.Storage.Sinks, DefaultSinkName)
	assert.Equal(t, "mongo", cfg.Storage.Sinks[DefaultSinkName].Driver)
	assert.Equal(t, "calls", cfg.Storage.Sinks[DefaultSinkName].Collection)
	assert.False(t, cfg.OIDC.Enabled())
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "callpipe.yaml")
	yamlDoc := `
api_port: "9090"
mode: inline
shutdown_timeout: 3s
kafka:
  raw_topic: raw-from-file
storage:
  default: primary
  sinks:
    primary:
      driver: memory
    archive:
      driver: sqlite
      uri: file:archive.db
  routes:
    Avaya: archive
    ZOOM: archive
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))
	t.Setenv("API_PORT", "7070")
	t.Setenv("PIPELINE_MODE", "")
	t.Setenv("KAFKA_RAW_TOPIC", "")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.APIPort, "env wins over file")
	assert.Equal(t, ModeInline, cfg.Mode)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "raw-from-file", cfg.Kafka.RawTopic)
	assert.Equal(t, map[string]string{"avaya": "archive", "zoom": "archive"}, cfg.Storage.Routes)
	assert.Equal(t, "primary", cfg.Storage.Default)
}

func TestLoad_SingleSinkBecomesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "one.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  sinks:\n    only:\n      driver: memory\n"), 0o600))
	t.Setenv("PIPELINE_MODE", "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "only", cfg.Storage.Default)
}

func TestValidate(t *testing.T) {
	t.Run("unknown mode", func(t *testing.T) {
		cfg := Default()
		cfg.Mode = "batch"
		cfg.ensureDefaultSink()
		assert.ErrorContains(t, cfg.Validate(), "mode")
	})

	t.Run("route to undefined sink", func(t *testing.T) {
		cfg := Default()
		cfg.Storage = StorageConfig{
			Sinks:   map[string]SinkConfig{"a": {Driver: "memory"}},
			Default: "a",
			Routes:  map[string]string{"teams": "b"},
		}
		assert.ErrorContains(t, cfg.Validate(), `undefined sink "b"`)
	})

	t.Run("sql sink without dsn", func(t *testing.T) {
		cfg := Default()
		cfg.Storage = StorageConfig{
			Sinks:   map[string]SinkConfig{"pg": {Driver: "postgres"}},
			Default: "pg",
		}
		assert.ErrorContains(t, cfg.Validate(), "uri required")
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := Default()
		cfg.Storage = StorageConfig{
			Sinks:   map[string]SinkConfig{"x": {Driver: "cassandra"}},
			Default: "x",
		}
		assert.ErrorContains(t, cfg.Validate(), "unknown driver")
	})
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}
