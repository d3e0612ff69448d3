// Package gateway implements the payment-gated reverse proxy: it intercepts
// requests to the messages endpoint, answers unpaid ones with 402 and a
// payment requirement, verifies and settles attached payments, and only then
// forwards the request upstream, relaying the response back with the
// settlement receipt attached.
package gateway

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Loa212/claude-reseller/internal/meter"
	"github.com/Loa212/claude-reseller/internal/nonce"
	"github.com/Loa212/claude-reseller/internal/requirements"
	"github.com/Loa212/claude-reseller/internal/settle"
	"github.com/Loa212/claude-reseller/internal/verify"
	"github.com/Loa212/claude-reseller/internal/x402"
)

// Options wires a Gateway together. All fields are required unless noted.
type Options struct {
	Logger   *zap.Logger
	Builder  *requirements.Builder
	Verifier *verify.Verifier
	Settler  settle.Settler
	Nonces   nonce.Store
	Meter    *meter.Meter
	Upstream *Upstream

	// Policy prices the messages endpoint.
	Policy requirements.PricePolicy

	// DefaultMaxTokens is assumed when a request does not set max_tokens.
	// Defaults to 4096.
	DefaultMaxTokens int64

	// Discovery lists per-model pricing for the discovery document
	// (optional).
	Discovery map[string]DiscoveryRate
}

// DiscoveryRate is the published per-1k-token pricing of a model, in the
// asset's smallest unit.
type DiscoveryRate struct {
	InputPer1k  string `json:"inputPer1k"`
	OutputPer1k string `json:"outputPer1k"`
}

// Gateway is the payment-gated proxy.
type Gateway struct {
	logger           *zap.Logger
	builder          *requirements.Builder
	verifier         *verify.Verifier
	settler          settle.Settler
	nonces           nonce.Store
	meter            *meter.Meter
	upstream         *Upstream
	policy           requirements.PricePolicy
	defaultMaxTokens int64
	discovery        map[string]DiscoveryRate
	engine           *gin.Engine
}

// New validates the options and builds the gateway with its routes.
func New(opts Options) (*Gateway, error) {
	if opts.Logger == nil || opts.Builder == nil || opts.Verifier == nil ||
		opts.Settler == nil || opts.Nonces == nil || opts.Meter == nil || opts.Upstream == nil {
		return nil, fmt.Errorf("gateway: all components are required")
	}
	if opts.Policy.FlatAmount == nil && opts.Policy.RatePer1kTokens == nil {
		return nil, fmt.Errorf("gateway: a price policy is required")
	}

	defaultMaxTokens := opts.DefaultMaxTokens
	if defaultMaxTokens <= 0 {
		defaultMaxTokens = 4096
	}

	g := &Gateway{
		logger:           opts.Logger,
		builder:          opts.Builder,
		verifier:         opts.Verifier,
		settler:          opts.Settler,
		nonces:           opts.Nonces,
		meter:            opts.Meter,
		upstream:         opts.Upstream,
		policy:           opts.Policy,
		defaultMaxTokens: defaultMaxTokens,
		discovery:        opts.Discovery,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.POST("/v1/messages", g.handleMessages)
	engine.GET("/.well-known/x402", g.handleDiscovery)
	engine.GET("/healthz", g.handleHealth)

	g.engine = engine
	return g, nil
}

// Handler returns the HTTP handler for the gateway.
func (g *Gateway) Handler() http.Handler {
	return g.engine
}

// handleDiscovery serves the static x402 discovery document: the supported
// payment kind and the published pricing.
func (g *Gateway) handleDiscovery(c *gin.Context) {
	requirement := g.requirementFor("/v1/messages", g.defaultMaxTokens)
	c.JSON(http.StatusOK, gin.H{
		"x402Version": x402.X402Version,
		"kinds": []gin.H{{
			"scheme":  requirement.Scheme,
			"network": requirement.Network,
			"asset":   requirement.Asset,
		}},
		"pricing": g.discovery,
	})
}

func (g *Gateway) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
