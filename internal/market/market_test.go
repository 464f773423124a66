package market

import "testing"

func TestEffectiveMinCost(t *testing.T) {
	m := Market{MinQty: 0.001, MinNotional: 5, Mult: 1}
	if got := m.EffectiveMinCost(100); got != 5 {
		t.Errorf("expected min_notional floor 5, got %v", got)
	}
	if got := m.EffectiveMinCost(10000); got != 10 {
		t.Errorf("expected min_qty*last floor 10, got %v", got)
	}
}

func TestTableReplaceAndGet(t *testing.T) {
	tbl := NewTable()
	tbl.Replace(map[string]Market{
		"BTCUSDT": {Symbol: "BTCUSDT", Active: true},
		"ETHUSDT": {Symbol: "ETHUSDT", Active: false},
	})

	if _, ok := tbl.Get("SOLUSDT"); ok {
		t.Error("unexpected symbol present")
	}
	m, ok := tbl.Get("BTCUSDT")
	if !ok || m.Symbol != "BTCUSDT" {
		t.Errorf("expected BTCUSDT, got %+v ok=%v", m, ok)
	}

	active := tbl.Active()
	if len(active) != 1 {
		t.Errorf("expected 1 active market, got %d", len(active))
	}
	if len(tbl.Symbols()) != 2 {
		t.Errorf("expected 2 symbols, got %d", len(tbl.Symbols()))
	}
}

func TestTableMustGetUnknown(t *testing.T) {
	tbl := NewTable()
	if _, err := tbl.MustGet("XYZ"); err == nil {
		t.Error("expected error for unknown symbol")
	}
}
