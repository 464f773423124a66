package grid

import (
	"math"
	"testing"

	"forager/internal/market"
)

func s1Market() market.Market {
	return market.Market{
		Symbol:      "BTCUSDT",
		PriceTick:   0.01,
		QtyStep:     0.001,
		MinQty:      0.001,
		MinNotional: 5,
		Mult:        1,
	}
}

func TestInitialLongEntryScenarioS1(t *testing.T) {
	m := s1Market()
	p := Params{
		EntryInitialEMADist: 0.01,
		EntryInitialQtyPct:  0.05,
		WalletExposureLimit: 1.0,
	}

	o, ok := InitialEntry("long", 100, 100.01, 99.5, 0, 1000, m, p)
	if !ok {
		t.Fatal("expected initial entry to be emitted")
	}
	if math.Abs(o.Price-98.50) > 1e-9 {
		t.Errorf("expected price 98.50, got %v", o.Price)
	}
	if math.Abs(o.Qty-0.507) > 1e-9 {
		t.Errorf("expected qty 0.507, got %v", o.Qty)
	}
}

func TestCloseGridScenarioS3(t *testing.T) {
	m := s1Market()
	p := Params{
		CloseGridMinMarkup:   0.002,
		CloseGridMarkupRange: 0.004,
		CloseGridNOrders:     5,
		CloseGridQtyPct:      0.2,
	}

	orders := CloseGrid("long", 1.0, 100, 99.99, 100.01, m, p)
	if len(orders) != 5 {
		t.Fatalf("expected 5 close orders, got %d: %+v", len(orders), orders)
	}
	wantPrices := []float64{100.2, 100.3, 100.4, 100.5, 100.6}
	for i, o := range orders {
		if math.Abs(o.Price-wantPrices[i]) > 1e-9 {
			t.Errorf("level %d: expected price %v, got %v", i, wantPrices[i], o.Price)
		}
		if !o.ReduceOnly {
			t.Errorf("level %d: expected reduce_only", i)
		}
		if o.Qty >= 0 {
			t.Errorf("level %d: expected a sell (negative qty) for long close, got %v", i, o.Qty)
		}
	}
}

func TestReentryGridWEMonotoneConvergence(t *testing.T) {
	m := s1Market()
	p := Params{
		EntryGridSpacingPct:     0.04,
		EntryGridSpacingWeight:  1,
		EntryGridDoubleDownFctr: 1,
		WalletExposureLimit:     1.0,
	}

	levels := ReentryGrid("long", 0.5, 98.50, 1000, m, p)
	if len(levels) == 0 {
		t.Fatal("expected at least one reentry level")
	}

	cumSize, cumPrice := 0.5, 98.50
	for _, lv := range levels {
		cumPrice = weightedAvgPrice(cumSize, cumPrice, math.Abs(lv.Qty), lv.Price)
		cumSize += math.Abs(lv.Qty)
	}
	we := cumSize * cumPrice / 1000
	if we > p.WalletExposureLimit+1e-6 {
		t.Errorf("expected final we <= WE_limit + eps, got %v", we)
	}
}

func TestReentryGridOrderingStrictlyDecreasing(t *testing.T) {
	m := s1Market()
	p := Params{
		EntryGridSpacingPct:     0.04,
		EntryGridSpacingWeight:  1,
		EntryGridDoubleDownFctr: 1,
		WalletExposureLimit:     1.0,
	}
	levels := ReentryGrid("long", 0.5, 98.50, 1000, m, p)
	for i := 1; i < len(levels); i++ {
		if levels[i].Price >= levels[i-1].Price {
			t.Errorf("expected strictly decreasing long entry prices, level %d: %v >= %v", i, levels[i].Price, levels[i-1].Price)
		}
	}
}

func TestReentryGridShortOrderingStrictlyIncreasing(t *testing.T) {
	m := s1Market()
	p := Params{
		EntryGridSpacingPct:     0.04,
		EntryGridSpacingWeight:  1,
		EntryGridDoubleDownFctr: 1,
		WalletExposureLimit:     1.0,
	}
	levels := ReentryGrid("short", -0.5, 98.50, 1000, m, p)
	for i := 1; i < len(levels); i++ {
		if levels[i].Price <= levels[i-1].Price {
			t.Errorf("expected strictly increasing short entry prices, level %d: %v <= %v", i, levels[i].Price, levels[i-1].Price)
		}
	}
}

func TestExtremesResetSentinels(t *testing.T) {
	e := ResetExtremes()
	if e.MaxSinceOpen != 0 || e.MaxSinceMin != 0 {
		t.Error("expected max fields to reset to 0")
	}
	if !math.IsInf(e.MinSinceMax, 1) || !math.IsInf(e.MinSinceOpen, 1) {
		t.Error("expected min fields to reset to +inf")
	}
}

func TestCloseGridMergesAboveThreeQuarters(t *testing.T) {
	m := s1Market()
	p := Params{
		CloseGridMinMarkup:   0.002,
		CloseGridMarkupRange: 0.004,
		CloseGridNOrders:     2,
		CloseGridQtyPct:      0.9,
	}
	orders := CloseGrid("long", 1.0, 100, 99.99, 100.01, m, p)
	if len(orders) != 1 {
		t.Fatalf("expected merge into single close, got %d orders", len(orders))
	}
	if math.Abs(orders[0].Qty+1.0) > 1e-9 {
		t.Errorf("expected merged close to cover full position, got qty %v", orders[0].Qty)
	}
}
