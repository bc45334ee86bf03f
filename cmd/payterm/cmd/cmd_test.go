package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
terminal:
  log_level: error
  clients:
    sepolia:
      rpc_url: http://127.0.0.1:8545
      contract_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	return path
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "payterm dev")
}

func TestQRPrintsPayload(t *testing.T) {
	out, err := run(t, "--config", writeTestConfig(t), "qr", "--network", "sepolia", "--png", "")
	require.NoError(t, err)
	assert.Contains(t, out, `"contractAddress":"0x5FbDB2315678afecb367f032d93F642f64180aa3"`)
	assert.Contains(t, out, `"chainId":11155111`)
}

func TestQRWritesPNG(t *testing.T) {
	png := filepath.Join(t.TempDir(), "qr.png")
	_, err := run(t, "--config", writeTestConfig(t), "qr", "--network", "sepolia", "--png", png)
	require.NoError(t, err)

	data, err := os.ReadFile(png)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))
}

func TestQRUnknownNetwork(t *testing.T) {
	_, err := run(t, "--config", writeTestConfig(t), "qr", "--network", "tron-nile", "--png", "")
	require.Error(t, err)
}
