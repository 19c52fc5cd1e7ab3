package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 9999, cfg.Manager.Port)
	assert.Equal(t, 60, cfg.Manager.HeartbeatTimeout)
	assert.Equal(t, 120, cfg.Manager.SessionTimeout)
	assert.Equal(t, 100, cfg.Manager.StartingCredits)
	assert.Equal(t, 5, cfg.Manager.MinJobCost)
	assert.Equal(t, 3, cfg.Manager.MaxJobRetries)

	assert.Equal(t, 30, cfg.Worker.HeartbeatInterval)
	assert.Equal(t, 600, cfg.Worker.MaxJobTimeout)
	assert.True(t, cfg.Worker.UseDocker)
	assert.Equal(t, "python:3.11-slim", cfg.Worker.DockerImage)
	assert.Equal(t, 1024, cfg.Worker.DockerMemoryMB)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Manager.Port, cfg.Manager.Port)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
manager:
  port: 7777
  starting_credits: 250
worker:
  manager_host: grid.campus.edu
  use_docker: false
log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Manager.Port)
	assert.Equal(t, 250, cfg.Manager.StartingCredits)
	assert.Equal(t, "grid.campus.edu", cfg.Worker.ManagerHost)
	assert.False(t, cfg.Worker.UseDocker)
	assert.Equal(t, "debug", cfg.LogLevel)

	// untouched keys keep their defaults
	assert.Equal(t, 60, cfg.Manager.HeartbeatTimeout)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("manager:\n  port: 7777\n"), 0o644))

	t.Setenv("MANAGER_PORT", "8888")
	t.Setenv("WORKER_NAME", "env-worker")
	t.Setenv("USE_DOCKER", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Manager.Port)
	assert.Equal(t, 8888, cfg.Worker.ManagerPort)
	assert.Equal(t, "env-worker", cfg.Worker.Name)
	assert.False(t, cfg.Worker.UseDocker)
}

func TestEnvIgnoresUnparseableValues(t *testing.T) {
	t.Setenv("MANAGER_PORT", "not-a-number")
	t.Setenv("USE_DOCKER", "maybe")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Manager.Port)
	assert.True(t, cfg.Worker.UseDocker)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("manager: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 60*time.Second, cfg.Manager.HeartbeatTimeoutDuration())
	assert.Equal(t, 120*time.Second, cfg.Manager.SessionTimeoutDuration())
	assert.Equal(t, 30*time.Second, cfg.Worker.HeartbeatIntervalDuration())
}

func TestManagerAddr(t *testing.T) {
	w := Worker{ManagerHost: "10.0.0.5", ManagerPort: 9999}
	assert.Equal(t, "10.0.0.5:9999", w.ManagerAddr())
}
