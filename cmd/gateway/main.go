// Command gateway runs the payment-gated LLM proxy.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/Loa212/claude-reseller/internal/config"
	"github.com/Loa212/claude-reseller/internal/gateway"
	"github.com/Loa212/claude-reseller/internal/meter"
	"github.com/Loa212/claude-reseller/internal/nonce"
	"github.com/Loa212/claude-reseller/internal/requirements"
	"github.com/Loa212/claude-reseller/internal/settle"
	"github.com/Loa212/claude-reseller/internal/verify"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the gateway configuration file")
	listenAddr := flag.String("addr", "", "listen address (overrides config)")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(*configPath, *listenAddr, logger); err != nil {
		logger.Fatal("gateway exited", zap.Error(err))
	}
}

func run(configPath, listenAddr string, logger *zap.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}

	apiKey, err := cfg.UpstreamAPIKey()
	if err != nil {
		return err
	}

	builder, err := requirements.NewBuilder(requirements.Config{
		Network:        cfg.Payment.Network,
		Asset:          cfg.Payment.Asset,
		PayTo:          cfg.Payment.PayTo,
		AssetName:      cfg.Payment.AssetName,
		AssetVersion:   cfg.Payment.AssetVersion,
		TimeoutSeconds: cfg.Payment.TimeoutSeconds,
	})
	if err != nil {
		return err
	}

	verifier := verify.NewVerifier(big.NewInt(cfg.Payment.ChainID))

	settler, err := buildSettler(cfg)
	if err != nil {
		return err
	}

	nonces, err := buildNonceStore(cfg)
	if err != nil {
		return err
	}

	policy, err := buildPolicy(cfg)
	if err != nil {
		return err
	}

	pricing, discovery, err := buildPricing(cfg)
	if err != nil {
		return err
	}

	upstream, err := gateway.NewUpstream(cfg.Upstream.BaseURL, apiKey,
		time.Duration(cfg.Upstream.TimeoutSeconds)*time.Second)
	if err != nil {
		return err
	}

	gw, err := gateway.New(gateway.Options{
		Logger:           logger,
		Builder:          builder,
		Verifier:         verifier,
		Settler:          settler,
		Nonces:           nonces,
		Meter:            meter.NewMeter(pricing, logger),
		Upstream:         upstream,
		Policy:           policy,
		DefaultMaxTokens: cfg.Pricing.DefaultMaxTokens,
		Discovery:        discovery,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: gw.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening",
			zap.String("addr", cfg.Listen),
			zap.String("network", cfg.Payment.Network),
			zap.String("pay_to", cfg.Payment.PayTo))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildSettler(cfg *config.Config) (settle.Settler, error) {
	timeout := time.Duration(cfg.Settlement.TimeoutSeconds) * time.Second

	switch cfg.Settlement.Mode {
	case "facilitator":
		return settle.NewFacilitatorClient(settle.FacilitatorConfig{
			URL:     cfg.Settlement.FacilitatorURL,
			Timeout: timeout,
		})
	case "rpc":
		privateKey, err := cfg.SettlementPrivateKey()
		if err != nil {
			return nil, err
		}
		return settle.NewOnChainSettler(cfg.Settlement.RPCURL, privateKey,
			big.NewInt(cfg.Payment.ChainID), cfg.Payment.Network)
	default:
		return nil, fmt.Errorf("unknown settlement mode %q", cfg.Settlement.Mode)
	}
}

func buildNonceStore(cfg *config.Config) (nonce.Store, error) {
	ttl := time.Duration(cfg.NonceStore.TTLSeconds) * time.Second

	switch cfg.NonceStore.Mode {
	case "memory":
		return nonce.NewMemoryStore(ttl), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.NonceStore.RedisAddr})
		return nonce.NewRedisStore(client, ttl), nil
	default:
		return nil, fmt.Errorf("unknown nonce store mode %q", cfg.NonceStore.Mode)
	}
}

func buildPolicy(cfg *config.Config) (requirements.PricePolicy, error) {
	if cfg.Pricing.FlatAmount != "" {
		amount, err := config.ParseAmount(cfg.Pricing.FlatAmount)
		if err != nil {
			return requirements.PricePolicy{}, err
		}
		return requirements.PricePolicy{FlatAmount: amount}, nil
	}
	rate, err := config.ParseAmount(cfg.Pricing.RatePer1kTokens)
	if err != nil {
		return requirements.PricePolicy{}, err
	}
	return requirements.PricePolicy{RatePer1kTokens: rate}, nil
}

func buildPricing(cfg *config.Config) (*meter.PricingTable, map[string]gateway.DiscoveryRate, error) {
	rates := make(map[string]meter.ModelRate, len(cfg.Pricing.Models))
	discovery := make(map[string]gateway.DiscoveryRate, len(cfg.Pricing.Models))

	for model, rate := range cfg.Pricing.Models {
		inputRate, err := config.ParseAmount(rate.InputPer1k)
		if err != nil {
			return nil, nil, err
		}
		outputRate, err := config.ParseAmount(rate.OutputPer1k)
		if err != nil {
			return nil, nil, err
		}
		rates[model] = meter.ModelRate{InputPer1k: inputRate, OutputPer1k: outputRate}
		discovery[model] = gateway.DiscoveryRate{InputPer1k: rate.InputPer1k, OutputPer1k: rate.OutputPer1k}
	}

	var defaultRate *meter.ModelRate
	if cfg.Pricing.RatePer1kTokens != "" {
		rate, err := config.ParseAmount(cfg.Pricing.RatePer1kTokens)
		if err != nil {
			return nil, nil, err
		}
		defaultRate = &meter.ModelRate{InputPer1k: rate, OutputPer1k: rate}
	}

	return meter.NewPricingTable(rates, defaultRate), discovery, nil
}
