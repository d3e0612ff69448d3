// Package x402 defines the wire types and header encoding for the x402
// payment protocol as used by the gateway: payment requirements offered on
// 402 responses, signed payment payloads submitted by clients, and
// settlement receipts returned after a payment clears.
package x402

import (
	"fmt"
	"math/big"
)

// X402Version is the protocol version spoken by this gateway.
const X402Version = 1

// SchemeExact is the only payment scheme the gateway supports: a
// pre-authorized transfer of an exact amount (EIP-3009
// transferWithAuthorization on EVM networks).
const SchemeExact = "exact"

// Header names used on the /v1/messages payment handshake.
const (
	// HeaderPaymentRequired carries base64(JSON array of PaymentRequirements)
	// on 402 responses.
	HeaderPaymentRequired = "Payment-Required"

	// HeaderPaymentSignature carries base64(JSON PaymentPayload) on paid
	// client requests.
	HeaderPaymentSignature = "Payment-Signature"

	// HeaderPaymentResponse carries base64(JSON SettlementReceipt) on
	// successful responses.
	HeaderPaymentResponse = "Payment-Response"
)

// PaymentRequirements describes what payment is acceptable for a resource.
// Issued per unpaid request and immutable once issued; it expires
// MaxTimeoutSeconds after issue.
type PaymentRequirements struct {
	Scheme            string       `json:"scheme"`
	Network           string       `json:"network"`
	MaxAmountRequired string       `json:"maxAmountRequired"`
	Resource          string       `json:"resource"`
	Description       string       `json:"description,omitempty"`
	MimeType          string       `json:"mimeType,omitempty"`
	PayTo             string       `json:"payTo"`
	MaxTimeoutSeconds int          `json:"maxTimeoutSeconds"`
	Asset             string       `json:"asset"`
	Extra             *AssetDomain `json:"extra,omitempty"`
}

// AssetDomain carries the EIP-712 domain parameters of the asset contract
// (name and version; chainId and verifyingContract come from the network and
// asset fields). Required for signature verification of the exact scheme.
type AssetDomain struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MaxAmount parses MaxAmountRequired into a big integer in the asset's
// smallest unit.
func (r PaymentRequirements) MaxAmount() (*big.Int, error) {
	amount, ok := new(big.Int).SetString(r.MaxAmountRequired, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid maxAmountRequired: %q", r.MaxAmountRequired)
	}
	return amount, nil
}

// Validate performs basic field validation on payment requirements.
func (r PaymentRequirements) Validate() error {
	if r.Scheme == "" {
		return fmt.Errorf("payment scheme is required")
	}
	if r.Network == "" {
		return fmt.Errorf("payment network is required")
	}
	if r.Asset == "" {
		return fmt.Errorf("payment asset is required")
	}
	if r.PayTo == "" {
		return fmt.Errorf("payment recipient is required")
	}
	if _, err := r.MaxAmount(); err != nil {
		return err
	}
	if r.MaxTimeoutSeconds <= 0 {
		return fmt.Errorf("maxTimeoutSeconds must be positive")
	}
	return nil
}

// PaymentRequired is the JSON body of a 402 response.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// ExactAuthorization is the EIP-3009 TransferWithAuthorization message the
// client signed. All numeric fields are decimal strings; Nonce is a 32-byte
// hex string. The field layout is fixed by the asset contract and must match
// the signed typed data exactly.
type ExactAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactPayload is the scheme-specific payload of a payment: the signed
// authorization plus its 65-byte hex signature.
type ExactPayload struct {
	Signature     string             `json:"signature"`
	Authorization ExactAuthorization `json:"authorization"`
}

// PaymentPayload is the client-constructed payment submitted on the
// Payment-Signature header. Single-use: the authorization nonce must never
// be accepted twice for the same payer and asset.
type PaymentPayload struct {
	X402Version int          `json:"x402Version"`
	Scheme      string       `json:"scheme"`
	Network     string       `json:"network"`
	Payload     ExactPayload `json:"payload"`
}

// SettlementReceipt is produced exactly once per successfully settled
// request and is terminal. It is returned to the client on the
// Payment-Response header.
type SettlementReceipt struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer"`
	Amount      string `json:"amount"`
}

// UsageRecord captures the actual token usage of a proxied request and the
// cost derived from the configured per-1k-token rates. Computed after the
// upstream response is fully known; informational only (settlement has
// already happened).
type UsageRecord struct {
	RequestID    string `json:"requestId"`
	Model        string `json:"model"`
	InputTokens  int64  `json:"inputTokens"`
	OutputTokens int64  `json:"outputTokens"`
	// Cost is the derived cost in the asset's smallest unit.
	Cost *big.Int `json:"cost"`
}
