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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
jablonet:
  username: user@example.com
  password: secret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Jablonet.Timeout)
	assert.Equal(t, 30*time.Minute, cfg.Jablonet.RetryDelay)
	assert.Equal(t, 5*time.Minute, cfg.Poller.Interval)
	assert.Equal(t, 1, cfg.WorkerPool.Size)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 3600, cfg.Push.TTL)
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
jablonet:
  username: user@example.com
  password: secret
  service_id: "12345"
  pgm_code: "4321"
  timeout_seconds: 5
  retry_delay_minutes: 10
poller:
  enabled: true
  interval_seconds: 60
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "12345", cfg.Jablonet.ServiceID)
	assert.Equal(t, "4321", cfg.Jablonet.PGMCode)
	assert.Equal(t, 5*time.Second, cfg.Jablonet.Timeout)
	assert.Equal(t, 10*time.Minute, cfg.Jablonet.RetryDelay)
	assert.True(t, cfg.Poller.Enabled)
	assert.Equal(t, time.Minute, cfg.Poller.Interval)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_MissingCredentials(t *testing.T) {
	path := writeConfig(t, `
jablonet:
  username: user@example.com
`)

	_, err := Load(path)
	assert.Error(t, err)
}
