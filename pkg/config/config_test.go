package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flotilla.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "jobs:\n  max_history: 500\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Jobs.MaxHistory)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_addr: ":9090"
log_level: debug
artifacts:
  max_age: 24h
  max_total_size_bytes: 1073741824
  persist: true
idle:
  idle_timeout: 10m
regions:
  - region_id: us-east
    backup_region_id: us-west
    failure_threshold: 3
    check_interval: 5s
    failback_delay: 1m
    recovery_threshold: 2
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 24*time.Hour, cfg.Artifacts.MaxAge)
	assert.True(t, cfg.Artifacts.Persist)
	assert.Equal(t, 10*time.Minute, cfg.Idle.IdleTimeout)
	require.Len(t, cfg.Regions, 1)
	assert.Equal(t, "us-east", cfg.Regions[0].RegionID)
	assert.Equal(t, 5*time.Second, cfg.Regions[0].CheckInterval)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad log level", "log_level: loud\n"},
		{"region missing backup", "regions:\n  - region_id: r1\n    failure_threshold: 3\n    check_interval: 1s\n    recovery_threshold: 1\n"},
		{"backup equals region", "regions:\n  - region_id: r1\n    backup_region_id: r1\n    failure_threshold: 3\n    check_interval: 1s\n    recovery_threshold: 1\n"},
		{"negative history", "jobs:\n  max_history: -1\n"},
		{"not yaml", "{{{{\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
