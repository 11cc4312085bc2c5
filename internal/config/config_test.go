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
  dsn: postgres://localhost/withdraw
blockchain:
  rpcEndpoints: ["http://localhost:8545"]
  chainId: 56
  tokenContract: "0x55d398326f99059fF775485246999027B3197955"
  withdrawalContract: "0x1111111111111111111111111111111111111111"
  domainName: "MetaWithdrawal"
relay:
  url: "https://relay.example"
ledger:
  baseUrl: "https://ledger.example"
wallet:
  serviceUrl: "https://signer.example"
withdrawal:
  minAmount: "1000"
  confirmations: 3
auth:
  jwtSecret: "secret"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_DefaultsAndOverrides(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, uint64(3), cfg.Withdrawal.Confirmations)
	assert.Equal(t, 30*time.Minute, cfg.Withdrawal.DeadlineWindowDuration())
	assert.Equal(t, 3*time.Second, cfg.Withdrawal.PollIntervalDuration())
	assert.Equal(t, "1000", cfg.Withdrawal.MinAmountValue().String())
	assert.Equal(t, "postgres", cfg.Session.Driver)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("WITHDRAW_SERVER_PORT", "7070")
	t.Setenv("WITHDRAW_RPC_ENDPOINTS", "http://a:8545, http://b:8545")
	t.Setenv("WITHDRAW_NATS_URL", "nats://localhost:4222")
	t.Setenv("WITHDRAW_SESSION_DRIVER", "redis")

	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, []string{"http://a:8545", "http://b:8545"}, cfg.Blockchain.RPCEndpoints)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "redis", cfg.Session.Driver)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Wallet.Mode = "hsm"
	cfg.Withdrawal.AccountNumberPattern = "("
	cfg.Withdrawal.MinAmount = "ten"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"blockchain.rpcEndpoints",
		"blockchain.tokenContract",
		"relay.url",
		"ledger.baseUrl",
		"wallet.mode",
		"withdrawal.minAmount",
		"withdrawal.accountNumberPattern",
		"database.dsn",
		"auth.jwtSecret",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestMinAmountValue_Invalid(t *testing.T) {
	w := WithdrawalConfig{MinAmount: "abc"}
	assert.Equal(t, int64(0), w.MinAmountValue().Int64())
}
