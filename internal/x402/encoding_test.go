package x402

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequirement() PaymentRequirements {
	return PaymentRequirements{
		Scheme:            SchemeExact,
		Network:           "base-sepolia",
		MaxAmountRequired: "10000",
		Resource:          "/v1/messages",
		PayTo:             "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
		MaxTimeoutSeconds: 300,
		Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Extra:             &AssetDomain{Name: "USDC", Version: "2"},
	}
}

func TestEncodeRequirementsRoundTrip(t *testing.T) {
	encoded, err := EncodeRequirements([]PaymentRequirements{sampleRequirement()})
	require.NoError(t, err)

	// The header value must be base64 of a JSON array.
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	var asArray []json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &asArray))
	require.Len(t, asArray, 1)

	decoded, err := DecodeRequirements(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, sampleRequirement(), decoded[0])
}

func TestDecodePaymentRejectsBadInput(t *testing.T) {
	_, err := DecodePayment("not-base64!!!")
	assert.Error(t, err)

	_, err = DecodePayment(base64.StdEncoding.EncodeToString([]byte("not json")))
	assert.Error(t, err)
}

func TestEncodeReceiptRoundTrip(t *testing.T) {
	receipt := SettlementReceipt{
		Success:     true,
		Transaction: "0xabc",
		Network:     "base-sepolia",
		Payer:       "0x857aA121A4AdE0Dfbdcc4A0c1BbF51a8731a4C4a",
		Amount:      "10000",
	}

	encoded, err := EncodeReceipt(receipt)
	require.NoError(t, err)
	decoded, err := DecodeReceipt(encoded)
	require.NoError(t, err)
	assert.Equal(t, receipt, decoded)
}

func TestRequirementsValidate(t *testing.T) {
	valid := sampleRequirement()
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*PaymentRequirements)
	}{
		{"missing scheme", func(r *PaymentRequirements) { r.Scheme = "" }},
		{"missing network", func(r *PaymentRequirements) { r.Network = "" }},
		{"missing asset", func(r *PaymentRequirements) { r.Asset = "" }},
		{"missing recipient", func(r *PaymentRequirements) { r.PayTo = "" }},
		{"bad amount", func(r *PaymentRequirements) { r.MaxAmountRequired = "ten" }},
		{"zero timeout", func(r *PaymentRequirements) { r.MaxTimeoutSeconds = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := sampleRequirement()
			tt.mutate(&r)
			assert.Error(t, r.Validate())
		})
	}
}
