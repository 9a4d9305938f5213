package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  port: 9090
database:
  dsn: "host=localhost user=locker dbname=locker sslmode=disable"
executor:
  baseUrl: "http://executor:8000"
automation:
  submissionDelaySeconds: 20
blockchain:
  networks:
    polygon:
      chainId: 137
      name: Polygon
      nativeSymbol: MATIC
      enabled: true
    base:
      chainId: 8453
      enabled: false
`

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 20*time.Second, cfg.SubmissionDelay())
	assert.Equal(t, 64, cfg.Automation.QueueSize)
	assert.Equal(t, "indexer.transfers.>", cfg.NATS.IndexerSubject)
	assert.Equal(t, "token_transfer_changes", cfg.ChangeListener.Channel)
	assert.Equal(t, 18, cfg.Blockchain.Networks["polygon"].NativeDecimals)
	assert.Equal(t, "ETH", cfg.Blockchain.Networks["base"].NativeSymbol)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_DSN", "postgres://override")
	t.Setenv("EXECUTOR_BASE_URL", "http://other-executor")
	t.Setenv("NATS_URL", "nats://nats:4222")
	t.Setenv("ADMIN_ALLOWED_IPS", "10.0.0.1, 10.0.0.0/24 ,")

	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "postgres://override", cfg.Database.DSN)
	assert.Equal(t, "http://other-executor", cfg.Executor.BaseURL)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.0/24"}, cfg.Admin.AllowedIPs)
}

func TestParse_Validation(t *testing.T) {
	_, err := Parse([]byte("executor:\n  baseUrl: http://x\n"))
	assert.ErrorContains(t, err, "database.dsn")

	_, err = Parse([]byte("database:\n  dsn: x\n"))
	assert.ErrorContains(t, err, "executor.baseUrl")
}

func TestNetworkByChainID(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	network, ok := cfg.NetworkByChainID(137)
	require.True(t, ok)
	assert.Equal(t, "MATIC", network.NativeSymbol)

	_, ok = cfg.NetworkByChainID(8453)
	assert.False(t, ok, "disabled networks are not returned")
}

func TestLoadConfig_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
