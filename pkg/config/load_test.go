package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"sfucore/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoad_UsesDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := config.Load("non-existent-config.yaml")
	assert.NoError(t, err)
	assert.Equal(t, ":3000", cfg.Server.Address)
	assert.Equal(t, ":3001", cfg.Signal.Address)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "jwt", cfg.Identity.Provider)
}

func TestLoad_LoadsFromYAMLAndAppliesEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
server:
  address: ":9000"
  read_timeout: 10s

signal:
  address: ":9001"
  ping_interval: 5s
  pong_timeout: 15s

media:
  num_workers: 3
  rtc_min_port: 40000
  rtc_max_port: 40100
  codecs:
    - kind: audio
      mime_type: audio/opus
      clock_rate: 48000
      channels: 2
      payload_type: 111

session:
  invite_ttl: 2m
  heartbeat:
    enabled: false

logging:
  level: "debug"
  format: "console"
`)

	t.Setenv("SFUCORE_SERVER_ADDRESS", ":7000")
	t.Setenv("SFUCORE_LOG_LEVEL", "warn")
	t.Setenv("SFUCORE_REDIS_ADDRESS", "redis:6379")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	// YAML values
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, ":9001", cfg.Signal.Address)
	assert.Equal(t, 3, cfg.Media.NumWorkers)
	assert.Equal(t, uint16(40000), cfg.Media.RTCMinPort)
	require.Len(t, cfg.Media.Codecs, 1)
	assert.Equal(t, uint8(111), cfg.Media.Codecs[0].PayloadType)
	assert.Equal(t, 2*time.Minute, cfg.Session.InviteTTL)
	assert.False(t, cfg.Session.Heartbeat.Enabled)
	assert.Equal(t, "console", cfg.Logging.Format)

	// Env overrides
	assert.Equal(t, ":7000", cfg.Server.Address)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Address)
}

func TestLoad_KeepsDefaultCodecsWhenOmitted(t *testing.T) {
	path := writeTempConfig(t, `
logging:
  level: "info"
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Media.Codecs, 2)
}

func TestLoad_InvalidConfigFailsValidation(t *testing.T) {
	path := writeTempConfig(t, `
server:
  address: ""

media:
  num_workers: 0
`)

	_, err := config.Load(path)
	assert.Error(t, err)
}
