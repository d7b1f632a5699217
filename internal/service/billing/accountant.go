// Package billing converts token counts into a running monetary cost.
package billing

import (
	"math"

	"github.com/officeai/privacy-gateway/internal/service/session"
)

// Pricing is the USD price per 1K tokens for one model.
type Pricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

// PriceTable maps model names to their token pricing. Unknown models price
// at zero.
type PriceTable map[string]Pricing

// DefaultPriceTable carries the gateway's built-in prices.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		"gemini-2.5-flash": {InputPer1K: 0.000018, OutputPer1K: 0.000036},
		"gemini-1.5-flash": {InputPer1K: 0.000018, OutputPer1K: 0.000036},
	}
}

// Charge is the outcome of one accrual: the turn's cost delta and the
// session's new cumulative totals, cost rounded for reporting.
type Charge struct {
	CostDeltaUSD      float64
	TotalInputTokens  int64
	TotalOutputTokens int64
	TotalCostUSD      float64
}

// Accountant prices turns for a fixed model against a price table.
type Accountant struct {
	table PriceTable
	model string
}

// New creates an accountant for the given model.
func New(table PriceTable, model string) *Accountant {
	if table == nil {
		table = DefaultPriceTable()
	}
	return &Accountant{table: table, model: model}
}

// Accrue prices one turn and folds it into the session accumulator. The
// accumulator keeps the unrounded cost; the returned totals are rounded to
// six decimal places.
func (a *Accountant) Accrue(sess *session.Session, inputTokens, outputTokens int64) Charge {
	pricing := a.table[a.model]
	delta := float64(inputTokens)/1000*pricing.InputPer1K +
		float64(outputTokens)/1000*pricing.OutputPer1K

	total := sess.AddUsage(inputTokens, outputTokens, delta)
	return Charge{
		CostDeltaUSD:      RoundUSD(delta),
		TotalInputTokens:  total.InputTokens,
		TotalOutputTokens: total.OutputTokens,
		TotalCostUSD:      RoundUSD(total.CostUSD),
	}
}

// RoundUSD rounds a cost to six decimal places for reporting.
func RoundUSD(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
