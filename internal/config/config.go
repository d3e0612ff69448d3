// Package config loads and validates the gateway's YAML configuration.
// Secrets (upstream API key, settlement private key) are never stored in the
// file; the file names the environment variables that hold them.
package config

import (
	"fmt"
	"math/big"
	"os"

	"github.com/goccy/go-yaml"
)

// Config is the root configuration.
type Config struct {
	Listen     string           `yaml:"listen"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Payment    PaymentConfig    `yaml:"payment"`
	Pricing    PricingConfig    `yaml:"pricing"`
	Settlement SettlementConfig `yaml:"settlement"`
	NonceStore NonceStoreConfig `yaml:"nonce_store"`
}

// UpstreamConfig points at the LLM provider.
type UpstreamConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKeyEnv      string `yaml:"api_key_env"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// PaymentConfig describes the payment offer: network, asset and recipient.
type PaymentConfig struct {
	Network        string `yaml:"network"`
	ChainID        int64  `yaml:"chain_id"`
	Asset          string `yaml:"asset"`
	AssetName      string `yaml:"asset_name"`
	AssetVersion   string `yaml:"asset_version"`
	PayTo          string `yaml:"pay_to"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// ModelRateConfig is a per-model price in the asset's smallest unit per
// 1000 tokens.
type ModelRateConfig struct {
	InputPer1k  string `yaml:"input_per_1k"`
	OutputPer1k string `yaml:"output_per_1k"`
}

// PricingConfig prices the messages endpoint. Exactly one of FlatAmount or
// RatePer1kTokens must be set; the per-model table feeds the usage meter
// and the discovery document.
type PricingConfig struct {
	FlatAmount       string                     `yaml:"flat_amount"`
	RatePer1kTokens  string                     `yaml:"rate_per_1k_tokens"`
	DefaultMaxTokens int64                      `yaml:"default_max_tokens"`
	Models           map[string]ModelRateConfig `yaml:"models"`
}

// SettlementConfig selects the settlement backend.
type SettlementConfig struct {
	// Mode is "facilitator" or "rpc".
	Mode           string `yaml:"mode"`
	FacilitatorURL string `yaml:"facilitator_url"`
	RPCURL         string `yaml:"rpc_url"`
	PrivateKeyEnv  string `yaml:"private_key_env"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// NonceStoreConfig selects the replay guard backend.
type NonceStoreConfig struct {
	// Mode is "memory" or "redis".
	Mode       string `yaml:"mode"`
	RedisAddr  string `yaml:"redis_addr"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8402"
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = "https://api.anthropic.com"
	}
	if c.Upstream.APIKeyEnv == "" {
		c.Upstream.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		c.Upstream.TimeoutSeconds = 600
	}
	if c.Payment.TimeoutSeconds <= 0 {
		c.Payment.TimeoutSeconds = 300
	}
	if c.Pricing.DefaultMaxTokens <= 0 {
		c.Pricing.DefaultMaxTokens = 4096
	}
	if c.Settlement.Mode == "" {
		c.Settlement.Mode = "facilitator"
	}
	if c.Settlement.PrivateKeyEnv == "" {
		c.Settlement.PrivateKeyEnv = "SETTLEMENT_PRIVATE_KEY"
	}
	if c.NonceStore.Mode == "" {
		c.NonceStore.Mode = "memory"
	}
	if c.NonceStore.TTLSeconds <= 0 {
		c.NonceStore.TTLSeconds = 3600
	}
}

// Validate fails fast on misconfiguration so no error surfaces per request.
func (c *Config) Validate() error {
	if c.Payment.Network == "" {
		return fmt.Errorf("payment.network is required")
	}
	if c.Payment.ChainID <= 0 {
		return fmt.Errorf("payment.chain_id is required")
	}
	if c.Payment.Asset == "" {
		return fmt.Errorf("payment.asset is required")
	}
	if c.Payment.PayTo == "" {
		return fmt.Errorf("payment.pay_to is required")
	}
	if c.Payment.AssetName == "" || c.Payment.AssetVersion == "" {
		return fmt.Errorf("payment.asset_name and payment.asset_version are required")
	}

	hasFlat := c.Pricing.FlatAmount != ""
	hasRate := c.Pricing.RatePer1kTokens != ""
	if hasFlat == hasRate {
		return fmt.Errorf("pricing: exactly one of flat_amount or rate_per_1k_tokens must be set")
	}
	if hasFlat {
		if _, err := parseAmount(c.Pricing.FlatAmount); err != nil {
			return fmt.Errorf("pricing.flat_amount: %w", err)
		}
	}
	if hasRate {
		if _, err := parseAmount(c.Pricing.RatePer1kTokens); err != nil {
			return fmt.Errorf("pricing.rate_per_1k_tokens: %w", err)
		}
	}
	for model, rate := range c.Pricing.Models {
		if _, err := parseAmount(rate.InputPer1k); err != nil {
			return fmt.Errorf("pricing.models[%s].input_per_1k: %w", model, err)
		}
		if _, err := parseAmount(rate.OutputPer1k); err != nil {
			return fmt.Errorf("pricing.models[%s].output_per_1k: %w", model, err)
		}
	}

	switch c.Settlement.Mode {
	case "facilitator":
		if c.Settlement.FacilitatorURL == "" {
			return fmt.Errorf("settlement.facilitator_url is required in facilitator mode")
		}
	case "rpc":
		if c.Settlement.RPCURL == "" {
			return fmt.Errorf("settlement.rpc_url is required in rpc mode")
		}
	default:
		return fmt.Errorf("settlement.mode must be \"facilitator\" or \"rpc\", got %q", c.Settlement.Mode)
	}

	switch c.NonceStore.Mode {
	case "memory":
	case "redis":
		if c.NonceStore.RedisAddr == "" {
			return fmt.Errorf("nonce_store.redis_addr is required in redis mode")
		}
	default:
		return fmt.Errorf("nonce_store.mode must be \"memory\" or \"redis\", got %q", c.NonceStore.Mode)
	}

	return nil
}

// UpstreamAPIKey resolves the upstream API key from the environment.
func (c *Config) UpstreamAPIKey() (string, error) {
	key := os.Getenv(c.Upstream.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("environment variable %s is not set", c.Upstream.APIKeyEnv)
	}
	return key, nil
}

// SettlementPrivateKey resolves the settlement key from the environment.
// Only needed in rpc mode.
func (c *Config) SettlementPrivateKey() (string, error) {
	key := os.Getenv(c.Settlement.PrivateKeyEnv)
	if key == "" {
		return "", fmt.Errorf("environment variable %s is not set", c.Settlement.PrivateKeyEnv)
	}
	return key, nil
}

func parseAmount(s string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("must be a non-negative integer amount, got %q", s)
	}
	return amount, nil
}

// ParseAmount exposes amount parsing for wiring code.
func ParseAmount(s string) (*big.Int, error) {
	return parseAmount(s)
}
