package unstuck

import (
	"testing"

	"forager/internal/market"
)

func baseMarket() market.Market {
	return market.Market{PriceTick: 0.01, QtyStep: 0.001, MinQty: 0.001, MinNotional: 5, Mult: 1}
}

func TestSelectPicksSmallestPriceGapScenarioS5(t *testing.T) {
	m := baseMarket()
	a := Candidate{
		Symbol: "AAAUSDT", Side: "long", PSize: 12, PPrice: 100, Last: 102,
		BestAsk: 102, EMAHigh: 101, WELimit: 1, Market: m, Balance: 1000,
		UnstuckThreshold: 1.0, UnstuckClosePct: 0.1, UnstuckEMADist: 0.01,
	}
	b := Candidate{
		Symbol: "BBBUSDT", Side: "long", PSize: 14, PPrice: 100, Last: 101,
		BestAsk: 101, EMAHigh: 101, WELimit: 1, Market: m, Balance: 1000,
		UnstuckThreshold: 1.0, UnstuckClosePct: 0.1, UnstuckEMADist: 0.01,
	}

	if !a.IsStuck() {
		t.Fatal("expected candidate A (we/W=1.2) to be stuck")
	}
	if !b.IsStuck() {
		t.Fatal("expected candidate B (we/W=1.4) to be stuck")
	}

	sel, ok := Select([]Candidate{a, b}, LossAllowance{PeakBalance: 1000, LossAllowancePct: 1.0})
	if !ok {
		t.Fatal("expected a selection")
	}
	if sel.Symbol != "BBBUSDT" {
		t.Errorf("expected B to be picked (smaller price gap), got %s", sel.Symbol)
	}
}

func TestSelectNoneStuck(t *testing.T) {
	m := baseMarket()
	a := Candidate{
		Side: "long", PSize: 0.1, PPrice: 100, Last: 100, WELimit: 1,
		Market: m, Balance: 1000, UnstuckThreshold: 1.0,
	}
	_, ok := Select([]Candidate{a}, LossAllowance{PeakBalance: 1000, LossAllowancePct: 1.0})
	if ok {
		t.Error("expected no selection when nothing is stuck")
	}
}

func TestLossAllowanceBlocks(t *testing.T) {
	la := LossAllowance{RealizedPnlInWindow: -90, PeakBalance: 100, LossAllowancePct: 0.1}
	if la.Allows(5) {
		t.Error("expected allowance to block a loss that would breach the floor")
	}
	if !la.Allows(0) {
		t.Error("expected a zero-loss close to always be allowed")
	}
}

func TestAtMostOneSelectedPerTick(t *testing.T) {
	m := baseMarket()
	a := Candidate{Symbol: "A", Side: "long", PSize: 11, PPrice: 100, Last: 100, BestAsk: 100, WELimit: 1, Market: m, Balance: 1000, UnstuckThreshold: 1.0, UnstuckClosePct: 0.1}
	b := Candidate{Symbol: "B", Side: "long", PSize: 11, PPrice: 100, Last: 100, BestAsk: 100, WELimit: 1, Market: m, Balance: 1000, UnstuckThreshold: 1.0, UnstuckClosePct: 0.1}
	sel, ok := Select([]Candidate{a, b}, LossAllowance{PeakBalance: 1000, LossAllowancePct: 1.0})
	if !ok {
		t.Fatal("expected selection")
	}
	if sel.Symbol == "" {
		t.Error("expected exactly one symbol selected")
	}
}
