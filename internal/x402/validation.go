package x402

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// paymentSchema is the JSON schema a decoded Payment-Signature header must
// satisfy before any cryptographic verification is attempted. Shape errors
// are reported as malformed payment (400), not as verification failures.
const paymentSchema = `{
	"type": "object",
	"required": ["x402Version", "scheme", "network", "payload"],
	"properties": {
		"x402Version": {"type": "integer", "minimum": 1},
		"scheme": {"type": "string", "minLength": 1},
		"network": {"type": "string", "minLength": 1},
		"payload": {
			"type": "object",
			"required": ["signature", "authorization"],
			"properties": {
				"signature": {"type": "string", "pattern": "^0x[0-9a-fA-F]+$"},
				"authorization": {
					"type": "object",
					"required": ["from", "to", "value", "validAfter", "validBefore", "nonce"],
					"properties": {
						"from": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
						"to": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
						"value": {"type": "string", "pattern": "^[0-9]+$"},
						"validAfter": {"type": "string", "pattern": "^[0-9]+$"},
						"validBefore": {"type": "string", "pattern": "^[0-9]+$"},
						"nonce": {"type": "string", "pattern": "^0x[0-9a-fA-F]{64}$"}
					}
				}
			}
		}
	}
}`

var paymentSchemaLoader = gojsonschema.NewStringLoader(paymentSchema)

// ValidatePaymentJSON checks the raw decoded payment JSON against the
// payment payload schema.
func ValidatePaymentJSON(paymentJSON []byte) error {
	documentLoader := gojsonschema.NewBytesLoader(paymentJSON)

	result, err := gojsonschema.Validate(paymentSchemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("failed to validate payment payload: %w", err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}
		return fmt.Errorf("invalid payment payload: %s", strings.Join(messages, "; "))
	}

	return nil
}
