package meter

import (
	"bytes"
	"encoding/json"
	"math/big"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Loa212/claude-reseller/internal/x402"
)

// tokenUsage is the usage envelope of the upstream messages API.
type tokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// messageEnvelope is the subset of a non-streaming upstream response the
// meter cares about.
type messageEnvelope struct {
	Model string     `json:"model"`
	Usage tokenUsage `json:"usage"`
}

// ParseUsage extracts model and token counts from a complete (non-streaming)
// upstream response body.
func ParseUsage(body []byte) (model string, inputTokens, outputTokens int64, err error) {
	var envelope messageEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", 0, 0, err
	}
	return envelope.Model, envelope.Usage.InputTokens, envelope.Usage.OutputTokens, nil
}

// StreamMeter accumulates token usage from a server-sent-event stream as it
// is relayed to the client. It is an io.Writer so the relay can tee chunks
// into it without buffering the stream. Input tokens arrive on the
// message_start event; output tokens are cumulative on message_delta events.
type StreamMeter struct {
	mu           sync.Mutex
	buf          bytes.Buffer
	model        string
	inputTokens  int64
	outputTokens int64
}

// NewStreamMeter creates an empty stream meter.
func NewStreamMeter() *StreamMeter {
	return &StreamMeter{}
}

// Write consumes a relayed chunk. Always succeeds; a malformed event leaves
// the counters unchanged rather than disturbing the relay.
func (m *StreamMeter) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buf.Write(p)
	for {
		line, err := m.buf.ReadString('\n')
		if err != nil {
			// Partial line: keep it for the next chunk.
			m.buf.WriteString(line)
			break
		}
		m.consumeLine(strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

// streamEvent is the subset of an SSE data payload the meter cares about.
type streamEvent struct {
	Type    string `json:"type"`
	Message struct {
		Model string     `json:"model"`
		Usage tokenUsage `json:"usage"`
	} `json:"message"`
	Usage tokenUsage `json:"usage"`
}

func (m *StreamMeter) consumeLine(line string) {
	data, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return
	}

	var event streamEvent
	if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &event); err != nil {
		return
	}

	switch event.Type {
	case "message_start":
		m.model = event.Message.Model
		m.inputTokens = event.Message.Usage.InputTokens
		m.outputTokens = event.Message.Usage.OutputTokens
	case "message_delta":
		// Cumulative count; the last delta wins.
		if event.Usage.OutputTokens > 0 {
			m.outputTokens = event.Usage.OutputTokens
		}
	}
}

// Usage returns the model and token counts observed so far. Call after the
// terminal chunk has been relayed.
func (m *StreamMeter) Usage() (model string, inputTokens, outputTokens int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model, m.inputTokens, m.outputTokens
}

// Meter derives usage records and reconciles them against settled amounts.
type Meter struct {
	pricing *PricingTable
	logger  *zap.Logger
}

// NewMeter creates a Meter.
func NewMeter(pricing *PricingTable, logger *zap.Logger) *Meter {
	return &Meter{pricing: pricing, logger: logger}
}

// Record computes the cost of the observed usage and compares it to the
// settled amount. An under-collection is logged for offline follow-up; the
// record is returned either way.
func (m *Meter) Record(requestID, model string, inputTokens, outputTokens int64, settled *big.Int) x402.UsageRecord {
	record := x402.UsageRecord{
		RequestID:    requestID,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}

	cost, err := m.pricing.Cost(model, inputTokens, outputTokens)
	if err != nil {
		m.logger.Warn("usage not priced",
			zap.String("request_id", requestID),
			zap.String("model", model),
			zap.Error(err))
		return record
	}
	record.Cost = cost

	if settled != nil && cost.Cmp(settled) > 0 {
		shortfall := new(big.Int).Sub(cost, settled)
		m.logger.Warn("reconciliation shortfall",
			zap.String("request_id", requestID),
			zap.String("model", model),
			zap.String("settled", settled.String()),
			zap.String("cost", cost.String()),
			zap.String("shortfall", shortfall.String()))
	}

	m.logger.Info("usage recorded",
		zap.String("request_id", requestID),
		zap.String("model", model),
		zap.Int64("input_tokens", inputTokens),
		zap.Int64("output_tokens", outputTokens))

	return record
}
