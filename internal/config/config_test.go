package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
payment:
  network: base-sepolia
  chain_id: 84532
  asset: "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
  asset_name: USDC
  asset_version: "2"
  pay_to: "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"
pricing:
  flat_amount: "10000"
settlement:
  facilitator_url: https://facilitator.example.com
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, ":8402", cfg.Listen)
	assert.Equal(t, "https://api.anthropic.com", cfg.Upstream.BaseURL)
	assert.Equal(t, "ANTHROPIC_API_KEY", cfg.Upstream.APIKeyEnv)
	assert.Equal(t, 600, cfg.Upstream.TimeoutSeconds)
	assert.Equal(t, 300, cfg.Payment.TimeoutSeconds)
	assert.Equal(t, int64(4096), cfg.Pricing.DefaultMaxTokens)
	assert.Equal(t, "facilitator", cfg.Settlement.Mode)
	assert.Equal(t, "memory", cfg.NonceStore.Mode)
	assert.Equal(t, 3600, cfg.NonceStore.TTLSeconds)
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
listen: ":9000"
upstream:
  base_url: https://api.anthropic.com
  timeout_seconds: 120
payment:
  network: base
  chain_id: 8453
  asset: "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
  asset_name: USDC
  asset_version: "2"
  pay_to: "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"
pricing:
  rate_per_1k_tokens: "250"
  default_max_tokens: 8192
  models:
    claude-sonnet-4-5:
      input_per_1k: "300"
      output_per_1k: "1500"
settlement:
  mode: rpc
  rpc_url: https://sepolia.base.org
nonce_store:
  mode: redis
  redis_addr: localhost:6379
`))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, int64(8453), cfg.Payment.ChainID)
	assert.Equal(t, "250", cfg.Pricing.RatePer1kTokens)
	assert.Equal(t, int64(8192), cfg.Pricing.DefaultMaxTokens)
	assert.Equal(t, "1500", cfg.Pricing.Models["claude-sonnet-4-5"].OutputPer1k)
	assert.Equal(t, "rpc", cfg.Settlement.Mode)
	assert.Equal(t, "redis", cfg.NonceStore.Mode)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		old  string
		new  string
	}{
		{"missing network", "network: base-sepolia", "network: \"\""},
		{"missing chain id", "chain_id: 84532", "chain_id: 0"},
		{"missing pay_to", `pay_to: "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"`, `pay_to: ""`},
		{"both pricing modes", `flat_amount: "10000"`,
			"flat_amount: \"10000\"\n  rate_per_1k_tokens: \"250\""},
		{"no pricing mode", `flat_amount: "10000"`, `flat_amount: ""`},
		{"non-numeric amount", `flat_amount: "10000"`, `flat_amount: "lots"`},
		{"facilitator mode without url",
			"facilitator_url: https://facilitator.example.com", `facilitator_url: ""`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mangled := strings.Replace(minimalConfig, tt.old, tt.new, 1)
			require.NotEqual(t, minimalConfig, mangled)
			_, err := Load(writeConfig(t, mangled))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestSecretsResolveFromEnvironment(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	key, err := cfg.UpstreamAPIKey()
	require.NoError(t, err)
	assert.Equal(t, "sk-test", key)

	os.Unsetenv("SETTLEMENT_PRIVATE_KEY")
	_, err = cfg.SettlementPrivateKey()
	assert.Error(t, err)
}

func TestParseAmount(t *testing.T) {
	amount, err := ParseAmount("12345")
	require.NoError(t, err)
	assert.Equal(t, "12345", amount.String())

	_, err = ParseAmount("-1")
	assert.Error(t, err)
	_, err = ParseAmount("1.5")
	assert.Error(t, err)
	_, err = ParseAmount("")
	assert.Error(t, err)
}
