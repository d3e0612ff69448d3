// Package settle turns a verified payment into an actual transfer and
// obtains proof. Two backends exist: a delegated facilitator service spoken
// to over HTTP, and a direct on-chain transferWithAuthorization call.
// Settlement is always completed before the upstream API is called.
package settle

import (
	"context"
	"errors"

	"github.com/Loa212/claude-reseller/internal/x402"
)

// Settler submits a verified payment to a settlement backend and returns a
// receipt. Implementations must be safe for concurrent use; replay
// protection rests on the asset contract's nonce uniqueness, so
// resubmitting the same nonce never double-charges.
type Settler interface {
	Settle(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirements) (*x402.SettlementReceipt, error)
}

// Settlement failure modes. The gateway maps these onto the HTTP error
// taxonomy; anything not wrapped in one of these is an internal error.
var (
	// ErrInsufficientFunds means the payer's balance cannot cover the
	// authorized amount. Not retryable with the same payload.
	ErrInsufficientFunds = errors.New("settle: insufficient funds")

	// ErrReplayedNonce means the authorization nonce was already consumed.
	// Fatal to this request; the client must sign a fresh authorization.
	ErrReplayedNonce = errors.New("settle: authorization nonce already used")

	// ErrUnavailable means the settlement backend was unreachable. The
	// client may retry the same payload after backoff.
	ErrUnavailable = errors.New("settle: settlement backend unavailable")

	// ErrTimeout means the backend did not confirm within the bound. The
	// funds state is unknown: the same payload must not be silently
	// retried.
	ErrTimeout = errors.New("settle: settlement not confirmed in time")

	// ErrReverted means the on-chain transfer executed and reverted.
	ErrReverted = errors.New("settle: transfer reverted on chain")
)

// ReasonForError maps a settlement error to the wire reason code.
func ReasonForError(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrReverted):
		return x402.ReasonInsufficientFunds
	case errors.Is(err, ErrReplayedNonce):
		return x402.ReasonReplayedNonce
	case errors.Is(err, ErrTimeout):
		return x402.ReasonSettlementTimeout
	default:
		return x402.ReasonSettlementUnavailable
	}
}
