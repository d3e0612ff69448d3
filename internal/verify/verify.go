// Package verify decides whether a client-submitted payment payload
// satisfies a payment requirement without trusting the client. Verification
// is pure signature and field checking; it never consults chain state, so
// balance sufficiency is only discovered at settlement.
package verify

import (
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Loa212/claude-reseller/internal/eip712"
	"github.com/Loa212/claude-reseller/internal/x402"
)

// Result is the outcome of verifying a payment against a requirement.
type Result struct {
	Valid  bool
	Reason string
	Payer  string
}

// Verifier verifies exact-scheme payments for a single network.
type Verifier struct {
	chainID *big.Int
	clock   func() time.Time
}

// NewVerifier creates a Verifier for the given chain id.
func NewVerifier(chainID *big.Int) *Verifier {
	return &Verifier{chainID: chainID, clock: time.Now}
}

// WithClock overrides the time source. Used by tests.
func (v *Verifier) WithClock(clock func() time.Time) *Verifier {
	v.clock = clock
	return v
}

func rejected(reason string) Result {
	return Result{Valid: false, Reason: reason}
}

// Verify checks a payment payload against a requirement. Checks run in a
// fixed order: scheme, network, recipient, amount, time window, signature.
// The first failing check determines the rejection reason.
func (v *Verifier) Verify(payment x402.PaymentPayload, requirement x402.PaymentRequirements) Result {
	// (a) Only the exact scheme is supported, on both sides.
	if payment.Scheme != x402.SchemeExact || requirement.Scheme != x402.SchemeExact {
		return rejected(x402.ReasonUnsupportedScheme)
	}

	// (b) Network must match the requirement it was issued against.
	if payment.Network != requirement.Network {
		return rejected(x402.ReasonUnsupportedNetwork)
	}

	auth := payment.Payload.Authorization

	// (c) Funds must go to the configured recipient.
	if !common.IsHexAddress(auth.To) || !common.IsHexAddress(requirement.PayTo) {
		return rejected(x402.ReasonInvalidRecipient)
	}
	if common.HexToAddress(auth.To) != common.HexToAddress(requirement.PayTo) {
		return rejected(x402.ReasonInvalidRecipient)
	}

	// (d) The exact scheme requires the authorized value to equal the
	// required amount. Under-payment gives away service; over-payment
	// over-collects with no refund path.
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok || value.Sign() < 0 {
		return rejected(x402.ReasonMalformedPayment)
	}
	maxAmount, err := requirement.MaxAmount()
	if err != nil {
		return rejected(x402.ReasonMalformedPayment)
	}
	if value.Cmp(maxAmount) != 0 {
		return rejected(x402.ReasonInvalidExactValue)
	}

	// (e) Time window: validBefore in the future, validAfter not in the
	// future, and the window itself coherent.
	validAfter, err := strconv.ParseInt(auth.ValidAfter, 10, 64)
	if err != nil {
		return rejected(x402.ReasonMalformedPayment)
	}
	validBefore, err := strconv.ParseInt(auth.ValidBefore, 10, 64)
	if err != nil {
		return rejected(x402.ReasonMalformedPayment)
	}
	if validAfter >= validBefore {
		return rejected(x402.ReasonMalformedPayment)
	}
	now := v.clock().Unix()
	if now >= validBefore {
		return rejected(x402.ReasonExpiredAuthorization)
	}
	if now < validAfter {
		return rejected(x402.ReasonAuthorizationNotActive)
	}

	// (f) Signature must recover to authorization.from under the asset
	// contract's typed-data domain.
	if !common.IsHexAddress(auth.From) {
		return rejected(x402.ReasonMalformedPayment)
	}
	if requirement.Extra == nil {
		return rejected(x402.ReasonMalformedPayment)
	}
	domain := eip712.Domain{
		Name:              requirement.Extra.Name,
		Version:           requirement.Extra.Version,
		ChainID:           v.chainID,
		VerifyingContract: requirement.Asset,
	}
	digest, err := eip712.AuthorizationDigest(auth, domain)
	if err != nil {
		return rejected(x402.ReasonMalformedPayment)
	}
	signer, err := eip712.RecoverSigner(digest, payment.Payload.Signature)
	if err != nil {
		return rejected(x402.ReasonInvalidSignature)
	}
	if signer != common.HexToAddress(auth.From) {
		return rejected(x402.ReasonInvalidSignature)
	}

	return Result{Valid: true, Payer: signer.Hex()}
}
