package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-sync/types"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewStaticManager_MergesDefaults(t *testing.T) {
	cm, err := NewStaticManager(context.Background(), &types.EngineConfig{
		Name:    "static-test",
		Version: "0.1.0",
		Queue:   &types.QueueConfig{MaxEntries: 50},
	})
	require.NoError(t, err)

	cfg := cm.GetConfig()
	assert.Equal(t, "static-test", cfg.Name)

	// A provided section replaces the default one wholesale.
	assert.Equal(t, 50, cfg.Queue.MaxEntries)
	assert.Zero(t, cfg.Queue.DefaultPriority)

	// Untouched sections keep their defaults.
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "memory", cfg.Cache.Type)
	assert.Equal(t, time.Hour, cfg.Cache.DefaultTTL)
	assert.Equal(t, "sqlite", cfg.Store.Type)
	assert.True(t, cfg.Sync.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, "probe", cfg.Connectivity.Type)
	assert.False(t, cfg.Metrics.Enabled)

	// A static config has an empty raw document; lookups fall through.
	assert.Equal(t, "fallback", cm.GetValue("store.type", "fallback"))
}

func TestNewStaticManager_NilConfig(t *testing.T) {
	_, err := NewStaticManager(context.Background(), nil)
	assert.True(t, types.IsError(err, types.ErrConfigIsNil))
}

func TestNewStaticManager_ValidationRejectsMissingName(t *testing.T) {
	_, err := NewStaticManager(context.Background(), &types.EngineConfig{Version: "0.1.0"})
	assert.Error(t, err)
}

func TestConfigurationManager_LoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
name: "file-test"
version: "0.1.0"

logger:
  level: "warn"

store:
  type: "memory"

transport:
  type: "http"
  config:
    base_url: "${FILE_TEST_BASE_URL:https://fallback.example.com}"
`)

	cm, err := NewConfigurationManager(context.Background(), path)
	require.NoError(t, err)

	cfg := cm.GetConfig()
	assert.Equal(t, "file-test", cfg.Name)
	assert.Equal(t, "warn", cfg.Logger.Level)
	assert.Equal(t, "memory", cfg.Store.Type)

	// File values land on top of the defaults field by field, so the
	// untouched ones survive within a partially specified section.
	assert.Equal(t, "sai_sync.db", cfg.Store.Path)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "@every 7m", cfg.Cache.SweepSchedule)

	assert.Equal(t, "https://fallback.example.com",
		cm.GetValue("transport.config.base_url", ""))
}

func TestConfigurationManager_EnvExpansion(t *testing.T) {
	t.Setenv("FILE_TEST_BASE_URL", "https://real.example.com")

	path := writeConfigFile(t, `
name: "env-test"
version: "0.1.0"

transport:
  type: "http"
  config:
    base_url: "${FILE_TEST_BASE_URL:https://fallback.example.com}"
`)

	cm, err := NewConfigurationManager(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "https://real.example.com",
		cm.GetValue("transport.config.base_url", ""))
}

func TestConfigurationManager_GetAs(t *testing.T) {
	path := writeConfigFile(t, `
name: "getas-test"
version: "0.1.0"

transport:
  type: "http"
  config:
    base_url: "https://api.example.com"
    max_conns_per_host: 8
`)

	cm, err := NewConfigurationManager(context.Background(), path)
	require.NoError(t, err)

	var transportConfig struct {
		BaseURL         string `yaml:"base_url"`
		MaxConnsPerHost int    `yaml:"max_conns_per_host"`
	}
	require.NoError(t, cm.GetAs("transport.config", &transportConfig))
	assert.Equal(t, "https://api.example.com", transportConfig.BaseURL)
	assert.Equal(t, 8, transportConfig.MaxConnsPerHost)

	err = cm.GetAs("transport.missing", &transportConfig)
	assert.True(t, types.IsError(err, types.ErrConfigNotFound))

	assert.Equal(t, 42, cm.GetValue("no.such.path", 42))
}

func TestConfigurationManager_MissingFile(t *testing.T) {
	_, err := NewConfigurationManager(context.Background(), filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}

func TestConfigurationManager_InvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "name: [unclosed")

	_, err := NewConfigurationManager(context.Background(), path)
	assert.Error(t, err)
}

func TestConfigurationManager_Lifecycle(t *testing.T) {
	cm, err := NewStaticManager(context.Background(), &types.EngineConfig{
		Name:    "lifecycle-test",
		Version: "0.1.0",
	})
	require.NoError(t, err)

	require.NoError(t, cm.Start())
	assert.True(t, cm.IsRunning())
	assert.True(t, types.IsError(cm.Start(), types.ErrComponentAlreadyRunning))

	require.NoError(t, cm.Stop())
	assert.False(t, cm.IsRunning())
	assert.True(t, types.IsError(cm.Stop(), types.ErrComponentNotRunning))
}
