package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EncodeRequirements converts a list of payment requirements to the
// base64-encoded JSON array carried on the Payment-Required header.
func EncodeRequirements(requirements []PaymentRequirements) (string, error) {
	data, err := json.Marshal(requirements)
	if err != nil {
		return "", fmt.Errorf("failed to marshal requirements: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeRequirements converts a Payment-Required header value back to a
// list of payment requirements.
func DecodeRequirements(encoded string) ([]PaymentRequirements, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}
	var requirements []PaymentRequirements
	if err := json.Unmarshal(decoded, &requirements); err != nil {
		return nil, fmt.Errorf("failed to unmarshal requirements: %w", err)
	}
	return requirements, nil
}

// EncodePayment converts a payment payload to the base64-encoded JSON
// carried on the Payment-Signature header.
func EncodePayment(payment PaymentPayload) (string, error) {
	data, err := json.Marshal(payment)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePayment converts a Payment-Signature header value back to a payment
// payload. The shape of the decoded JSON is not validated here; see
// ValidatePaymentJSON.
func DecodePayment(encoded string) (PaymentPayload, error) {
	var payment PaymentPayload
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return payment, fmt.Errorf("failed to decode base64: %w", err)
	}
	if err := json.Unmarshal(decoded, &payment); err != nil {
		return payment, fmt.Errorf("failed to unmarshal payment: %w", err)
	}
	return payment, nil
}

// EncodeReceipt converts a settlement receipt to the base64-encoded JSON
// carried on the Payment-Response header.
func EncodeReceipt(receipt SettlementReceipt) (string, error) {
	data, err := json.Marshal(receipt)
	if err != nil {
		return "", fmt.Errorf("failed to marshal receipt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeReceipt converts a Payment-Response header value back to a
// settlement receipt.
func DecodeReceipt(encoded string) (SettlementReceipt, error) {
	var receipt SettlementReceipt
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return receipt, fmt.Errorf("failed to decode base64: %w", err)
	}
	if err := json.Unmarshal(decoded, &receipt); err != nil {
		return receipt, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}
	return receipt, nil
}
