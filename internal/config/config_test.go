package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, DefaultDBPath(), cfg.Storage.Path)
	assert.Equal(t, 10, cfg.Retrieval.TopK)
	assert.Equal(t, 0.3, cfg.Retrieval.RecencyWeight)
	assert.Equal(t, 0.3, cfg.Learning.BaseRate)
	assert.Equal(t, time.Hour, cfg.Learning.RehearsalInterval)
	assert.Equal(t, 30*24*time.Hour, cfg.Memory.ForgetAge())
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeFile(t, "config.yaml", `
storage:
  driver: badger
  path: /tmp/am-badger
retrieval:
  top_k: 5
learning:
  rehearsal_interval: 30m
log:
  level: debug
  format: json
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "badger", cfg.Storage.Driver)
	assert.Equal(t, "/tmp/am-badger", cfg.Storage.Path)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 30*time.Minute, cfg.Learning.RehearsalInterval)
	assert.Equal(t, "json", cfg.Log.Format)
	// Untouched keys keep their defaults.
	assert.Equal(t, 1000, cfg.Retrieval.CandidateLimit)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadJSONFile(t *testing.T) {
	path := writeFile(t, "config.json", `{"memory": {"forget_age_days": 7}, "server": {"addr": ":9090"}}`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, cfg.Memory.ForgetAge())
	assert.Equal(t, ":9090", cfg.Server.Addr)
}

func TestLoadUnsupportedExtension(t *testing.T) {
	path := writeFile(t, "config.toml", "x = 1")
	_, err := Load(path, nil)
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "config.yaml", "retrieval:\n  top_k: 5\n")
	t.Setenv("ADAPTIVE_MEMORY_RETRIEVAL__TOP_K", "7")
	t.Setenv("ADAPTIVE_MEMORY_LOG__LEVEL", "warn")
	t.Setenv("ADAPTIVE_MEMORY_DB", "/tmp/env.db")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Retrieval.TopK)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "/tmp/env.db", cfg.Storage.Path)
}

func TestOverridesWin(t *testing.T) {
	t.Setenv("ADAPTIVE_MEMORY_DB", "/tmp/env.db")
	cfg, err := Load("", map[string]any{"storage.path": "/tmp/flag.db", "metrics.enabled": false})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/flag.db", cfg.Storage.Path)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestValidationErrors(t *testing.T) {
	_, err := Load("", map[string]any{
		"storage.driver":           "postgres",
		"retrieval.recency_weight": 1.5,
		"learning.medium_window":   5,
	})
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	fields := map[string]bool{}
	for _, e := range verrs {
		fields[e.Field] = true
	}
	assert.True(t, fields["Config.Storage.Driver"])
	assert.True(t, fields["Config.Retrieval.RecencyWeight"])
	assert.True(t, fields["Config.Learning.MediumWindow"])
	assert.Contains(t, err.Error(), "must be one of [sqlite badger]")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "server.rate_limit", envKey("ADAPTIVE_MEMORY_SERVER__RATE_LIMIT"))
	assert.Equal(t, "storage.path", envKey("ADAPTIVE_MEMORY_DB"))
	assert.Equal(t, "log.level", envKey("ADAPTIVE_MEMORY_LOG__LEVEL"))
}

func TestStructToMap(t *testing.T) {
	m := structToMap(DefaultConfig(), "")
	assert.Equal(t, "sqlite", m["storage.driver"])
	assert.Equal(t, 10, m["retrieval.top_k"])
	assert.Equal(t, time.Hour, m["learning.rehearsal_interval"])
}
