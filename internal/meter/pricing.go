// Package meter computes the actual cost of a proxied request from the
// token usage reported in the upstream response and reconciles it against
// the amount that was pre-authorized. Metering is post-hoc and
// informational: settlement has already happened, so a shortfall is flagged
// for offline follow-up, never blocks delivery.
package meter

import (
	"fmt"
	"math/big"
)

// ModelRate prices a model in the asset's smallest unit.
type ModelRate struct {
	// InputPer1k and OutputPer1k are the per-1000-token rates.
	InputPer1k  *big.Int
	OutputPer1k *big.Int
}

// PricingTable maps model names to rates.
type PricingTable struct {
	rates       map[string]ModelRate
	defaultRate *ModelRate
}

// NewPricingTable builds a table from per-model rates. The optional default
// rate covers models absent from the table.
func NewPricingTable(rates map[string]ModelRate, defaultRate *ModelRate) *PricingTable {
	return &PricingTable{rates: rates, defaultRate: defaultRate}
}

// Rate returns the rate for a model.
func (t *PricingTable) Rate(model string) (ModelRate, error) {
	if rate, ok := t.rates[model]; ok {
		return rate, nil
	}
	if t.defaultRate != nil {
		return *t.defaultRate, nil
	}
	return ModelRate{}, fmt.Errorf("no pricing configured for model %q", model)
}

// Cost computes the cost of a request under the model's rates. Token counts
// are not rounded to 1k blocks; cost is rate*(tokens/1000) in exact integer
// arithmetic, rounded up.
func (t *PricingTable) Cost(model string, inputTokens, outputTokens int64) (*big.Int, error) {
	rate, err := t.Rate(model)
	if err != nil {
		return nil, err
	}

	cost := new(big.Int)
	cost.Add(cost, ceilDiv(new(big.Int).Mul(rate.InputPer1k, big.NewInt(inputTokens))))
	cost.Add(cost, ceilDiv(new(big.Int).Mul(rate.OutputPer1k, big.NewInt(outputTokens))))
	return cost, nil
}

// ceilDiv divides by 1000 rounding up.
func ceilDiv(n *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(n, big.NewInt(1000), new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
