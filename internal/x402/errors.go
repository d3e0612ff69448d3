package x402

import "net/http"

// Reason codes returned to clients on rejected or failed payments. Every
// non-200 response carries one of these so an x402-aware client can decide
// whether to reissue a payment, wait, or give up without human intervention.
const (
	ReasonMalformedPayment       = "malformed_payment"
	ReasonUnsupportedScheme      = "unsupported_scheme"
	ReasonUnsupportedNetwork     = "unsupported_network"
	ReasonInvalidRecipient       = "invalid_recipient"
	ReasonInvalidExactValue      = "invalid_exact_value"
	ReasonExpiredAuthorization   = "expired_authorization"
	ReasonAuthorizationNotActive = "authorization_not_yet_active"
	ReasonInvalidSignature       = "invalid_signature"
	ReasonInsufficientFunds      = "insufficient_funds"
	ReasonReplayedNonce          = "replayed_nonce"
	ReasonSettlementUnavailable  = "settlement_backend_unavailable"
	ReasonSettlementTimeout      = "settlement_timeout"
	ReasonUpstreamFailure        = "upstream_failure"
)

// StatusForReason maps a reason code to the HTTP status the gateway responds
// with. Verification failures are 402 (the client should fetch fresh
// requirements and pay again); replays are 409; backend trouble is 503/504.
func StatusForReason(reason string) int {
	switch reason {
	case ReasonMalformedPayment, ReasonUnsupportedScheme, ReasonUnsupportedNetwork:
		return http.StatusBadRequest
	case ReasonInvalidRecipient, ReasonInvalidExactValue, ReasonExpiredAuthorization,
		ReasonAuthorizationNotActive, ReasonInvalidSignature, ReasonInsufficientFunds:
		return http.StatusPaymentRequired
	case ReasonReplayedNonce:
		return http.StatusConflict
	case ReasonSettlementUnavailable:
		return http.StatusServiceUnavailable
	case ReasonSettlementTimeout:
		return http.StatusGatewayTimeout
	case ReasonUpstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusPaymentRequired
	}
}
