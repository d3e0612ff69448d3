package verify

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Loa212/claude-reseller/internal/eip712"
	"github.com/Loa212/claude-reseller/internal/x402"
)

var testChainID = big.NewInt(84532)

// testNow is the fixed verification time; authorizations in tests are built
// around it.
var testNow = time.Unix(1700000300, 0)

func newTestVerifier() *Verifier {
	return NewVerifier(testChainID).WithClock(func() time.Time { return testNow })
}

func testRequirement(amount string) x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           "base-sepolia",
		MaxAmountRequired: amount,
		Resource:          "/v1/messages",
		PayTo:             "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
		MaxTimeoutSeconds: 300,
		Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Extra:             &x402.AssetDomain{Name: "USDC", Version: "2"},
	}
}

// signedPayment builds a payment whose authorization is signed by key over
// the requirement's asset domain. Callers may mutate the result before
// verification to break individual checks.
func signedPayment(t *testing.T, key *ecdsa.PrivateKey, requirement x402.PaymentRequirements, value string) x402.PaymentPayload {
	t.Helper()

	from := crypto.PubkeyToAddress(key.PublicKey)
	auth := x402.ExactAuthorization{
		From:        from.Hex(),
		To:          requirement.PayTo,
		Value:       value,
		ValidAfter:  fmt.Sprintf("%d", testNow.Unix()-60),
		ValidBefore: fmt.Sprintf("%d", testNow.Unix()+240),
		Nonce:       "0x0101010101010101010101010101010101010101010101010101010101010101",
	}
	domain := eip712.Domain{
		Name:              requirement.Extra.Name,
		Version:           requirement.Extra.Version,
		ChainID:           testChainID,
		VerifyingContract: requirement.Asset,
	}
	signature, err := eip712.SignAuthorization(key, auth, domain)
	require.NoError(t, err)

	return x402.PaymentPayload{
		X402Version: x402.X402Version,
		Scheme:      x402.SchemeExact,
		Network:     requirement.Network,
		Payload: x402.ExactPayload{
			Signature:     signature,
			Authorization: auth,
		},
	}
}

func TestVerifyAcceptsValidPayment(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	requirement := testRequirement("10000")
	payment := signedPayment(t, key, requirement, "10000")

	result := newTestVerifier().Verify(payment, requirement)
	require.True(t, result.Valid, "reason: %s", result.Reason)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Hex(), result.Payer)
}

func TestVerifyRejections(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	requirement := testRequirement("10000")

	tests := []struct {
		name   string
		mutate func(*x402.PaymentPayload)
		reason string
	}{
		{
			"wrong scheme",
			func(p *x402.PaymentPayload) { p.Scheme = "deferred" },
			x402.ReasonUnsupportedScheme,
		},
		{
			"wrong network",
			func(p *x402.PaymentPayload) { p.Network = "base" },
			x402.ReasonUnsupportedNetwork,
		},
		{
			"wrong recipient",
			func(p *x402.PaymentPayload) {
				p.Payload.Authorization.To = "0x857aA121A4AdE0Dfbdcc4A0c1BbF51a8731a4C4a"
			},
			x402.ReasonInvalidRecipient,
		},
		{
			"value below required",
			func(p *x402.PaymentPayload) { p.Payload.Authorization.Value = "9999" },
			x402.ReasonInvalidExactValue,
		},
		{
			"value above required",
			func(p *x402.PaymentPayload) { p.Payload.Authorization.Value = "10001" },
			x402.ReasonInvalidExactValue,
		},
		{
			"expired authorization",
			func(p *x402.PaymentPayload) {
				p.Payload.Authorization.ValidBefore = fmt.Sprintf("%d", testNow.Unix()-1)
			},
			x402.ReasonExpiredAuthorization,
		},
		{
			"not yet active",
			func(p *x402.PaymentPayload) {
				p.Payload.Authorization.ValidAfter = fmt.Sprintf("%d", testNow.Unix()+60)
				p.Payload.Authorization.ValidBefore = fmt.Sprintf("%d", testNow.Unix()+240)
			},
			x402.ReasonAuthorizationNotActive,
		},
		{
			"incoherent window",
			func(p *x402.PaymentPayload) {
				p.Payload.Authorization.ValidAfter = p.Payload.Authorization.ValidBefore
			},
			x402.ReasonMalformedPayment,
		},
		{
			"non-numeric value",
			func(p *x402.PaymentPayload) { p.Payload.Authorization.Value = "ten" },
			x402.ReasonMalformedPayment,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payment := signedPayment(t, key, requirement, "10000")
			tt.mutate(&payment)
			result := newTestVerifier().Verify(payment, requirement)
			assert.False(t, result.Valid)
			assert.Equal(t, tt.reason, result.Reason)
		})
	}
}

func TestVerifyRejectsForgedSigner(t *testing.T) {
	signerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	victimKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	requirement := testRequirement("10000")

	// Signed by one key but claiming to be from another address.
	payment := signedPayment(t, signerKey, requirement, "10000")
	payment.Payload.Authorization.From = crypto.PubkeyToAddress(victimKey.PublicKey).Hex()

	result := newTestVerifier().Verify(payment, requirement)
	assert.False(t, result.Valid)
	assert.Equal(t, x402.ReasonInvalidSignature, result.Reason)
}

func TestVerifyRejectsTamperedAuthorization(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	// Sign for the required amount against a requirement that demands more,
	// then bump the claimed value to match. The signature no longer covers
	// the submitted fields.
	requirement := testRequirement("20000")
	payment := signedPayment(t, key, requirement, "10000")
	payment.Payload.Authorization.Value = "20000"

	result := newTestVerifier().Verify(payment, requirement)
	assert.False(t, result.Valid)
	assert.Equal(t, x402.ReasonInvalidSignature, result.Reason)
}

func TestVerifyRejectsMissingDomain(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	requirement := testRequirement("10000")
	payment := signedPayment(t, key, requirement, "10000")
	requirement.Extra = nil

	result := newTestVerifier().Verify(payment, requirement)
	assert.False(t, result.Valid)
	assert.Equal(t, x402.ReasonMalformedPayment, result.Reason)
}
