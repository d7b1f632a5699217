package billing_test

import (
	"math"
	"testing"

	"github.com/officeai/privacy-gateway/internal/service/billing"
	"github.com/officeai/privacy-gateway/internal/service/session"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

func TestAccrueSingleTurn(t *testing.T) {
	table := billing.PriceTable{"test-model": {InputPer1K: 0.001, OutputPer1K: 0.002}}
	acct := billing.New(table, "test-model")
	sess := session.NewStore().GetOrCreate("42")

	charge := acct.Accrue(sess, 1000, 500)

	if !almostEqual(charge.CostDeltaUSD, 0.002) {
		t.Fatalf("unexpected delta: %v", charge.CostDeltaUSD)
	}
	if charge.TotalInputTokens != 1000 || charge.TotalOutputTokens != 500 {
		t.Fatalf("unexpected totals: %+v", charge)
	}
}

func TestAccrueAccumulatesAcrossTurns(t *testing.T) {
	table := billing.PriceTable{"test-model": {InputPer1K: 0.001, OutputPer1K: 0.002}}
	acct := billing.New(table, "test-model")
	sess := session.NewStore().GetOrCreate("42")

	turns := [][2]int64{{100, 50}, {200, 75}, {300, 125}}
	var wantIn, wantOut int64
	var wantCost float64
	var last billing.Charge
	for _, turn := range turns {
		last = acct.Accrue(sess, turn[0], turn[1])
		wantIn += turn[0]
		wantOut += turn[1]
		wantCost += float64(turn[0])/1000*0.001 + float64(turn[1])/1000*0.002
	}

	if last.TotalInputTokens != wantIn || last.TotalOutputTokens != wantOut {
		t.Fatalf("token totals: got %+v want (%d,%d)", last, wantIn, wantOut)
	}
	if !almostEqual(last.TotalCostUSD, billing.RoundUSD(wantCost)) {
		t.Fatalf("cost total: got %v want %v", last.TotalCostUSD, billing.RoundUSD(wantCost))
	}
}

func TestAccrueUnknownModelIsFree(t *testing.T) {
	acct := billing.New(billing.PriceTable{}, "mystery-model")
	sess := session.NewStore().GetOrCreate("42")

	charge := acct.Accrue(sess, 1000, 1000)
	if charge.CostDeltaUSD != 0 || charge.TotalCostUSD != 0 {
		t.Fatalf("unknown model should cost nothing: %+v", charge)
	}
	if charge.TotalInputTokens != 1000 {
		t.Fatalf("tokens must still accumulate: %+v", charge)
	}
}

func TestRoundUSD(t *testing.T) {
	if got := billing.RoundUSD(0.0000014999); got != 0.000001 {
		t.Fatalf("RoundUSD down: %v", got)
	}
	if got := billing.RoundUSD(0.0000015001); got != 0.000002 {
		t.Fatalf("RoundUSD up: %v", got)
	}
}

func TestDefaultPriceTableMatchesGeminiFlash(t *testing.T) {
	acct := billing.New(nil, "gemini-2.5-flash")
	sess := session.NewStore().GetOrCreate("42")

	charge := acct.Accrue(sess, 1000, 1000)
	if !almostEqual(charge.CostDeltaUSD, billing.RoundUSD(0.000018+0.000036)) {
		t.Fatalf("unexpected default pricing: %v", charge.CostDeltaUSD)
	}
}
