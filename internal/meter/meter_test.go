package meter

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseUsage(t *testing.T) {
	body := []byte(`{
		"id": "msg_01",
		"model": "claude-sonnet-4-5",
		"content": [{"type": "text", "text": "hi"}],
		"usage": {"input_tokens": 120, "output_tokens": 45}
	}`)

	model, input, output, err := ParseUsage(body)
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", model)
	assert.Equal(t, int64(120), input)
	assert.Equal(t, int64(45), output)

	_, _, _, err = ParseUsage([]byte("not json"))
	assert.Error(t, err)
}

func TestStreamMeterReadsEvents(t *testing.T) {
	m := NewStreamMeter()

	chunks := []string{
		"event: message_start\n",
		`data: {"type":"message_start","message":{"model":"claude-sonnet-4-5","usage":{"input_tokens":25,"output_tokens":1}}}` + "\n\n",
		"event: content_block_delta\n",
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hello"}}` + "\n\n",
		`data: {"type":"message_delta","usage":{"output_tokens":12}}` + "\n\n",
		`data: {"type":"message_delta","usage":{"output_tokens":31}}` + "\n\n",
		`data: {"type":"message_stop"}` + "\n\n",
	}
	for _, chunk := range chunks {
		n, err := m.Write([]byte(chunk))
		require.NoError(t, err)
		assert.Equal(t, len(chunk), n)
	}

	model, input, output := m.Usage()
	assert.Equal(t, "claude-sonnet-4-5", model)
	assert.Equal(t, int64(25), input)
	assert.Equal(t, int64(31), output)
}

func TestStreamMeterHandlesSplitLines(t *testing.T) {
	m := NewStreamMeter()

	// A data line split across two writes must still be parsed whole.
	event := `data: {"type":"message_start","message":{"model":"claude-haiku-4-5","usage":{"input_tokens":7,"output_tokens":2}}}` + "\n"
	_, err := m.Write([]byte(event[:40]))
	require.NoError(t, err)
	_, err = m.Write([]byte(event[40:]))
	require.NoError(t, err)

	model, input, _ := m.Usage()
	assert.Equal(t, "claude-haiku-4-5", model)
	assert.Equal(t, int64(7), input)
}

func TestStreamMeterIgnoresMalformedEvents(t *testing.T) {
	m := NewStreamMeter()

	_, err := m.Write([]byte("data: {broken json\n"))
	require.NoError(t, err)
	_, err = m.Write([]byte(": keep-alive comment\n"))
	require.NoError(t, err)

	model, input, output := m.Usage()
	assert.Empty(t, model)
	assert.Zero(t, input)
	assert.Zero(t, output)
}

func TestPricingTableCost(t *testing.T) {
	table := NewPricingTable(map[string]ModelRate{
		"claude-sonnet-4-5": {InputPer1k: big.NewInt(300), OutputPer1k: big.NewInt(1500)},
	}, nil)

	// 2000 input and 1000 output tokens: 600 + 1500.
	cost, err := table.Cost("claude-sonnet-4-5", 2000, 1000)
	require.NoError(t, err)
	assert.Equal(t, "2100", cost.String())

	// Fractional blocks round up: 1 input token costs 1 unit, not 0.
	cost, err = table.Cost("claude-sonnet-4-5", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "3", cost.String())

	// Zero usage costs nothing.
	cost, err = table.Cost("claude-sonnet-4-5", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "0", cost.String())

	_, err = table.Cost("unknown-model", 10, 10)
	assert.Error(t, err)
}

func TestPricingTableDefaultRate(t *testing.T) {
	table := NewPricingTable(nil, &ModelRate{
		InputPer1k:  big.NewInt(100),
		OutputPer1k: big.NewInt(100),
	})

	cost, err := table.Cost("any-model", 1000, 1000)
	require.NoError(t, err)
	assert.Equal(t, "200", cost.String())
}

func TestMeterRecord(t *testing.T) {
	table := NewPricingTable(map[string]ModelRate{
		"claude-sonnet-4-5": {InputPer1k: big.NewInt(300), OutputPer1k: big.NewInt(1500)},
	}, nil)
	m := NewMeter(table, zap.NewNop())

	record := m.Record("req-1", "claude-sonnet-4-5", 2000, 1000, big.NewInt(5000))
	assert.Equal(t, "req-1", record.RequestID)
	assert.Equal(t, int64(2000), record.InputTokens)
	assert.Equal(t, int64(1000), record.OutputTokens)
	require.NotNil(t, record.Cost)
	assert.Equal(t, "2100", record.Cost.String())
}

func TestMeterRecordShortfall(t *testing.T) {
	table := NewPricingTable(map[string]ModelRate{
		"claude-sonnet-4-5": {InputPer1k: big.NewInt(300), OutputPer1k: big.NewInt(1500)},
	}, nil)
	m := NewMeter(table, zap.NewNop())

	// Cost exceeds the settled amount; the record still carries the cost.
	record := m.Record("req-2", "claude-sonnet-4-5", 2000, 1000, big.NewInt(100))
	require.NotNil(t, record.Cost)
	assert.Equal(t, "2100", record.Cost.String())
}

func TestMeterRecordUnknownModel(t *testing.T) {
	m := NewMeter(NewPricingTable(nil, nil), zap.NewNop())

	record := m.Record("req-3", "mystery", 10, 10, big.NewInt(100))
	assert.Nil(t, record.Cost)
	assert.Equal(t, int64(10), record.InputTokens)
}

func TestCeilDiv(t *testing.T) {
	assert.Equal(t, "0", ceilDiv(big.NewInt(0)).String())
	assert.Equal(t, "1", ceilDiv(big.NewInt(1)).String())
	assert.Equal(t, "1", ceilDiv(big.NewInt(1000)).String())
	assert.Equal(t, "2", ceilDiv(big.NewInt(1001)).String())
}
