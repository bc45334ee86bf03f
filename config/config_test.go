package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/payterm/types"
)

const sampleConfig = `
terminal:
  env: production
  poll_interval: 3s
  clients:
    sepolia:
      rpc_url: https://rpc.sepolia.org
      contract_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
      contract_variant: extended
      signer:
        private_key: ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80
http:
  addr: ":9000"
redis:
  url: redis://localhost:6379/0
kafka:
  brokers: ["localhost:9092"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Terminal.Env)
	assert.Equal(t, 3*time.Second, cfg.Terminal.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Terminal.WatchdogTimeout)
	assert.Equal(t, "@every 30s", cfg.Terminal.RecentSchedule)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, "120-M", cfg.HTTP.RateLimit)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)

	client, ok := cfg.Terminal.Clients[types.NetworkSepolia]
	require.True(t, ok)
	assert.Equal(t, types.NetworkSepolia, client.Network)
	assert.Equal(t, "extended", client.ContractVariant)
	assert.NotEmpty(t, client.Signer.PrivateKey)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PAYTERM_HTTP_ADDR", ":7000")
	t.Setenv("PAYTERM_TERMINAL_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTP.Addr)
	assert.Equal(t, "debug", cfg.Terminal.LogLevel)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, `
terminal:
  log_level: loud
`))
	require.Error(t, err)

	_, err = Load(writeConfig(t, `
terminal:
  clients:
    sepolia:
      rpc_url: https://rpc.sepolia.org
      contract_address: not-an-address
`))
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
