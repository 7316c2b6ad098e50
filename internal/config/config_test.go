package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 8.0, cfg.Settlement.PlatformFeePercent)
	assert.Equal(t, 4, cfg.Settlement.Workers)
	assert.Equal(t, 30*time.Minute, cfg.Settlement.Timeout)
	assert.Equal(t, "simulated", cfg.Pi.Mode)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
settlement:
  platform_fee_percent: 10
  workers: 2
  timeout: 5m
pi:
  mode: simulated
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10.0, cfg.Settlement.PlatformFeePercent)
	assert.Equal(t, 2, cfg.Settlement.Workers)
	assert.Equal(t, 5*time.Minute, cfg.Settlement.Timeout)
	// 未配置的字段取默认值
	assert.Equal(t, 1024, cfg.Settlement.QueueSize)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o600))

	t.Setenv("PIMARKET_SERVER_PORT", "7070")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Settlement.PlatformFeePercent = 120
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Pi.Mode = "live"
	assert.Error(t, cfg.Validate(), "live 模式缺少 api_key")

	cfg.Pi.APIKey = "key"
	assert.NoError(t, cfg.Validate())
}

func TestValidateLockBackend(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "redis", cfg.Settlement.LockBackend)
	assert.Equal(t, int64(1), cfg.Server.WorkerID)

	cfg.Settlement.LockBackend = "local"
	assert.NoError(t, cfg.Validate())

	cfg.Settlement.LockBackend = "zookeeper"
	assert.Error(t, cfg.Validate())
}
