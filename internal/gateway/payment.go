package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Loa212/claude-reseller/internal/meter"
	"github.com/Loa212/claude-reseller/internal/settle"
	"github.com/Loa212/claude-reseller/internal/x402"
)

// maxBodyBytes bounds the request body the gateway is willing to buffer
// before forwarding.
const maxBodyBytes = 10 << 20

// messageRequest is the subset of the upstream request schema the gateway
// needs: the model and token bound for pricing, and the stream flag for
// relay semantics. The body is otherwise forwarded unchanged.
type messageRequest struct {
	Model     string `json:"model"`
	MaxTokens int64  `json:"max_tokens"`
	Stream    bool   `json:"stream"`
}

// handleMessages runs the payment state machine for one request:
// unpaid -> 402 with requirements; paid -> verify -> settle -> proxy,
// with the settlement receipt attached to the response.
func (g *Gateway) handleMessages(c *gin.Context) {
	requestID := uuid.NewString()
	logger := g.logger.With(zap.String("request_id", requestID))

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	var msg messageRequest
	if err := json.Unmarshal(body, &msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be valid JSON"})
		return
	}
	maxTokens := msg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.defaultMaxTokens
	}

	// Requirements are rebuilt per request rather than remembered: the
	// 402 handshake is two independent requests, and prices or expiry may
	// legitimately differ between attempts.
	requirement := g.requirementFor(c.Request.URL.Path, maxTokens)

	encodedPayment := c.GetHeader(x402.HeaderPaymentSignature)
	if encodedPayment == "" {
		logger.Info("unpaid request", zap.String("path", c.Request.URL.Path))
		g.respondPaymentRequired(c, requirement, "payment required")
		return
	}

	paymentJSON, err := base64.StdEncoding.DecodeString(encodedPayment)
	if err != nil {
		g.respondError(c, x402.ReasonMalformedPayment, "payment header is not valid base64")
		return
	}
	if err := x402.ValidatePaymentJSON(paymentJSON); err != nil {
		logger.Warn("malformed payment", zap.Error(err))
		g.respondError(c, x402.ReasonMalformedPayment, err.Error())
		return
	}
	var payment x402.PaymentPayload
	if err := json.Unmarshal(paymentJSON, &payment); err != nil {
		g.respondError(c, x402.ReasonMalformedPayment, "payment payload does not parse")
		return
	}

	result := g.verifier.Verify(payment, requirement)
	if !result.Valid {
		logger.Warn("payment rejected", zap.String("reason", result.Reason))
		if x402.StatusForReason(result.Reason) == http.StatusPaymentRequired {
			g.respondPaymentRequired(c, requirement, result.Reason)
		} else {
			g.respondError(c, result.Reason, "payment verification failed")
		}
		return
	}

	auth := payment.Payload.Authorization
	logger = logger.With(zap.String("payer", result.Payer))

	// Settlement must finish even if the client disconnects mid-flight:
	// funds moving without a recorded receipt is the one state to avoid.
	settleCtx, cancel := context.WithTimeout(
		context.WithoutCancel(c.Request.Context()),
		time.Duration(requirement.MaxTimeoutSeconds)*time.Second,
	)
	defer cancel()

	claimed, err := g.nonces.MarkUsed(settleCtx, result.Payer, auth.Nonce)
	if err != nil {
		logger.Error("nonce store failure", zap.Error(err))
		g.respondError(c, x402.ReasonSettlementUnavailable, "replay guard unavailable")
		return
	}
	if !claimed {
		logger.Warn("replayed nonce")
		g.respondError(c, x402.ReasonReplayedNonce, "authorization nonce already used")
		return
	}

	receipt, err := g.settler.Settle(settleCtx, payment, requirement)
	if err != nil {
		reason := settle.ReasonForError(err)
		logger.Error("settlement failed", zap.String("reason", reason), zap.Error(err))

		// The claim outlives replays (the nonce really is spent) and
		// timeouts (funds state unknown). Everything else releases it so
		// the client may resubmit the same payload.
		if reason != x402.ReasonReplayedNonce && reason != x402.ReasonSettlementTimeout {
			if rerr := g.nonces.Release(settleCtx, result.Payer, auth.Nonce); rerr != nil {
				logger.Warn("failed to release nonce claim", zap.Error(rerr))
			}
		}
		g.respondError(c, reason, "payment settlement failed")
		return
	}

	logger.Info("payment settled",
		zap.String("transaction", receipt.Transaction),
		zap.String("amount", receipt.Amount))

	g.proxy(c, logger, requestID, msg, body, requirement, receipt)
}

// proxy forwards the paid request upstream and relays the response. The
// settlement receipt is attached as a header before the body starts: for
// streamed responses headers cannot follow the body, and the receipt is
// already final at this point.
func (g *Gateway) proxy(c *gin.Context, logger *zap.Logger, requestID string, msg messageRequest, body []byte, requirement x402.PaymentRequirements, receipt *x402.SettlementReceipt) {
	encodedReceipt, err := x402.EncodeReceipt(*receipt)
	if err != nil {
		logger.Error("failed to encode receipt", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	resp, err := g.upstream.Forward(c.Request.Context(), c.Request.URL.Path, c.Request.Header, body)
	if err != nil {
		// Settlement is final; the payment is not reversed on upstream
		// failure.
		logger.Error("upstream call failed", zap.Error(err))
		c.Header(x402.HeaderPaymentResponse, encodedReceipt)
		g.respondError(c, x402.ReasonUpstreamFailure, "upstream request failed")
		return
	}
	defer resp.Body.Close()

	c.Header(x402.HeaderPaymentResponse, encodedReceipt)

	settled, _ := requirement.MaxAmount()

	if msg.Stream {
		streamMeter := meter.NewStreamMeter()
		if err := relay(c.Writer, resp, streamMeter); err != nil {
			logger.Warn("stream relay interrupted", zap.Error(err))
		}
		model, inputTokens, outputTokens := streamMeter.Usage()
		if model == "" {
			model = msg.Model
		}
		g.meter.Record(requestID, model, inputTokens, outputTokens, settled)
		return
	}

	var responseBody bytes.Buffer
	if err := relay(c.Writer, resp, &responseBody); err != nil {
		logger.Warn("relay interrupted", zap.Error(err))
		return
	}

	if resp.StatusCode == http.StatusOK {
		model, inputTokens, outputTokens, err := meter.ParseUsage(responseBody.Bytes())
		if err != nil {
			logger.Warn("failed to parse upstream usage", zap.Error(err))
			return
		}
		g.meter.Record(requestID, model, inputTokens, outputTokens, settled)
	}
}

// requirementFor builds a fresh requirement for a resource path.
func (g *Gateway) requirementFor(resource string, maxTokens int64) x402.PaymentRequirements {
	return g.builder.Build(resource, "LLM messages API access", g.policy, maxTokens)
}

// respondPaymentRequired sends a 402 with the requirement on the
// Payment-Required header (base64 JSON array) and in the JSON body.
func (g *Gateway) respondPaymentRequired(c *gin.Context, requirement x402.PaymentRequirements, errMsg string) {
	encoded, err := x402.EncodeRequirements([]x402.PaymentRequirements{requirement})
	if err != nil {
		g.logger.Error("failed to encode requirements", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.Header(x402.HeaderPaymentRequired, encoded)
	c.JSON(http.StatusPaymentRequired, x402.PaymentRequired{
		X402Version: x402.X402Version,
		Error:       errMsg,
		Accepts:     []x402.PaymentRequirements{requirement},
	})
}

// respondError sends an error response with the reason code and its mapped
// status. The message is kept client-actionable and free of payment
// material.
func (g *Gateway) respondError(c *gin.Context, reason, message string) {
	c.JSON(x402.StatusForReason(reason), gin.H{
		"x402Version": x402.X402Version,
		"error":       reason,
		"message":     message,
	})
}
