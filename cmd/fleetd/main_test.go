package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "sim", cfg.Prober.Mode)
	assert.Equal(t, 3, cfg.Orchestrator.NodeFailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Orchestrator.HealthCheckInterval)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9090"
orchestrator:
  health_check_interval: 10s
  node_failure_threshold: 5
prober:
  mode: http
executor:
  min_latency: 10ms
`), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "http", cfg.Prober.Mode)
	assert.Equal(t, 10*time.Second, cfg.Orchestrator.HealthCheckInterval)
	assert.Equal(t, 5, cfg.Orchestrator.NodeFailureThreshold)
	assert.Equal(t, 10*time.Millisecond, cfg.Executor.MinLatency)
	// Fields absent from the file keep their defaults
	assert.Equal(t, 0.95, cfg.Executor.SuccessRate)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("orchestrator:\n  probe_timeout: soon\n"), 0o644))
	_, err = loadConfig(bad)
	assert.Error(t, err)
}
