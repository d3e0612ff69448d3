package settle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Loa212/claude-reseller/internal/x402"
)

// FacilitatorClient settles payments through a remote facilitator service
// that performs the on-chain transfer on the gateway's behalf.
type FacilitatorClient struct {
	url         string
	httpClient  *http.Client
	authHeaders map[string]string
}

// FacilitatorConfig configures the facilitator client.
type FacilitatorConfig struct {
	// URL is the base URL of the facilitator service.
	URL string

	// HTTPClient is the HTTP client to use (optional).
	HTTPClient *http.Client

	// Timeout bounds each settlement call (optional, defaults to 30s).
	Timeout time.Duration

	// AuthHeaders are added to every facilitator request (optional).
	AuthHeaders map[string]string
}

// settleRequest is the facilitator /settle request body.
type settleRequest struct {
	X402Version         int                      `json:"x402Version"`
	PaymentPayload      x402.PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements x402.PaymentRequirements `json:"paymentRequirements"`
}

// settleResponse is the facilitator /settle response body.
type settleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Payer       string `json:"payer,omitempty"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
}

// NewFacilitatorClient creates a facilitator-backed Settler.
func NewFacilitatorClient(config FacilitatorConfig) (*FacilitatorClient, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("facilitator URL is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &FacilitatorClient{
		url:         strings.TrimSuffix(config.URL, "/"),
		httpClient:  httpClient,
		authHeaders: config.AuthHeaders,
	}, nil
}

// Settle submits the payment to the facilitator's /settle endpoint and
// translates its outcome into the settlement error taxonomy.
func (c *FacilitatorClient) Settle(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirements) (*x402.SettlementReceipt, error) {
	body, err := json.Marshal(settleRequest{
		X402Version:         x402.X402Version,
		PaymentPayload:      payment,
		PaymentRequirements: requirement,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settle request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/settle", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create settle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.authHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: facilitator returned %d: %s", ErrUnavailable, resp.StatusCode, responseBody)
	}

	var settlement settleResponse
	if err := json.Unmarshal(responseBody, &settlement); err != nil {
		return nil, fmt.Errorf("%w: malformed facilitator response: %v", ErrUnavailable, err)
	}

	if !settlement.Success {
		return nil, errorForReason(settlement.ErrorReason)
	}

	return &x402.SettlementReceipt{
		Success:     true,
		Transaction: settlement.Transaction,
		Network:     settlement.Network,
		Payer:       settlement.Payer,
		Amount:      payment.Payload.Authorization.Value,
	}, nil
}

// errorForReason maps a facilitator errorReason string onto the settlement
// error taxonomy.
func errorForReason(reason string) error {
	normalized := strings.ToLower(reason)
	switch {
	case strings.Contains(normalized, "insufficient"):
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, reason)
	case strings.Contains(normalized, "nonce"), strings.Contains(normalized, "already"):
		return fmt.Errorf("%w: %s", ErrReplayedNonce, reason)
	case strings.Contains(normalized, "timeout"):
		return fmt.Errorf("%w: %s", ErrTimeout, reason)
	default:
		return fmt.Errorf("%w: %s", ErrUnavailable, reason)
	}
}

var _ Settler = (*FacilitatorClient)(nil)
