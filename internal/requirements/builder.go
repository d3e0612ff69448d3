// Package requirements builds the signed-offer descriptors returned to
// unpaid requests: for a route and a price policy it produces a fresh
// PaymentRequirements with the configured recipient, asset and network and a
// new timeout window.
package requirements

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Loa212/claude-reseller/internal/x402"
)

// PricePolicy determines the amount pre-authorized for a request. Either a
// flat fee or a per-1k-token rate applied to the request's maximum output
// tokens; exactly one mode is active.
type PricePolicy struct {
	// FlatAmount is a fixed price in the asset's smallest unit.
	FlatAmount *big.Int

	// RatePer1kTokens prices the request at the rate times the maximum
	// token count the client may consume (so the pre-authorization covers
	// the worst case).
	RatePer1kTokens *big.Int
}

// Amount computes the price for a request that may consume up to maxTokens
// tokens. Token counts are rounded up to the next 1k block.
func (p PricePolicy) Amount(maxTokens int64) *big.Int {
	if p.FlatAmount != nil {
		return new(big.Int).Set(p.FlatAmount)
	}
	blocks := (maxTokens + 999) / 1000
	if blocks < 1 {
		blocks = 1
	}
	return new(big.Int).Mul(p.RatePer1kTokens, big.NewInt(blocks))
}

// Builder produces payment requirements for protected routes. Pure function
// of the configuration and the clock; construction fails fast on
// misconfiguration so no error path exists per request.
type Builder struct {
	network        string
	asset          string
	payTo          string
	assetDomain    x402.AssetDomain
	timeoutSeconds int
}

// Config configures a Builder.
type Config struct {
	// Network is the network identifier (e.g. "base-sepolia").
	Network string

	// Asset is the asset contract address.
	Asset string

	// PayTo is the recipient address for settled payments.
	PayTo string

	// AssetName and AssetVersion are the asset contract's EIP-712 domain
	// parameters (e.g. "USD Coin", "2").
	AssetName    string
	AssetVersion string

	// TimeoutSeconds is the validity window of issued requirements.
	// Defaults to 300.
	TimeoutSeconds int
}

// NewBuilder validates the configuration and returns a Builder. A missing
// recipient or asset is a startup error, never a per-request one.
func NewBuilder(config Config) (*Builder, error) {
	if config.Network == "" {
		return nil, fmt.Errorf("network is required")
	}
	if !common.IsHexAddress(config.Asset) {
		return nil, fmt.Errorf("asset must be a valid contract address, got %q", config.Asset)
	}
	if !common.IsHexAddress(config.PayTo) {
		return nil, fmt.Errorf("payTo must be a valid recipient address, got %q", config.PayTo)
	}
	if config.AssetName == "" || config.AssetVersion == "" {
		return nil, fmt.Errorf("asset EIP-712 domain name and version are required")
	}

	timeout := config.TimeoutSeconds
	if timeout <= 0 {
		timeout = 300
	}

	return &Builder{
		network:        config.Network,
		asset:          common.HexToAddress(config.Asset).Hex(),
		payTo:          common.HexToAddress(config.PayTo).Hex(),
		assetDomain:    x402.AssetDomain{Name: config.AssetName, Version: config.AssetVersion},
		timeoutSeconds: timeout,
	}, nil
}

// Build produces a fresh requirement for the given resource path. maxTokens
// is the maximum output token count of the request, used by token-rate
// policies; flat policies ignore it.
func (b *Builder) Build(resource, description string, policy PricePolicy, maxTokens int64) x402.PaymentRequirements {
	domain := b.assetDomain
	return x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           b.network,
		MaxAmountRequired: policy.Amount(maxTokens).String(),
		Resource:          resource,
		Description:       description,
		MimeType:          "application/json",
		PayTo:             b.payTo,
		MaxTimeoutSeconds: b.timeoutSeconds,
		Asset:             b.asset,
		Extra:             &domain,
	}
}
