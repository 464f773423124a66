// Package market holds the per-symbol trading-rules table: tick/lot/
// min-cost/contract-multiplier metadata refreshed hourly from the exchange
// adapter's load_markets call.
package market

import (
	"fmt"
	"sync"
)

// Market describes the tradeable metadata for one symbol. Immutable within a
// session; the table is replaced wholesale on each hourly refresh.
type Market struct {
	Symbol      string
	PriceTick   float64
	QtyStep     float64
	MinQty      float64
	MinNotional float64
	Mult        float64
	Inverse     bool
	Active      bool
}

// EffectiveMinCost returns max(min_notional, min_qty*last*mult), the
// ticker-dependent floor used by forager eligibility filtering.
func (m Market) EffectiveMinCost(last float64) float64 {
	c := m.MinQty * last * m.Mult
	if m.MinNotional > c {
		return m.MinNotional
	}
	return c
}

// Table is the thread-safe per-symbol market table (C5's "markets" facet).
type Table struct {
	mu      sync.RWMutex
	markets map[string]Market
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{markets: make(map[string]Market)}
}

// Replace swaps in a freshly loaded market set, wholesale.
func (t *Table) Replace(markets map[string]Market) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.markets = markets
}

// Get returns the market for symbol and whether it is known.
func (t *Table) Get(symbol string) (Market, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.markets[symbol]
	return m, ok
}

// MustGet returns the market for symbol or an error if unknown.
func (t *Table) MustGet(symbol string) (Market, error) {
	m, ok := t.Get(symbol)
	if !ok {
		return Market{}, fmt.Errorf("market: unknown symbol %q", symbol)
	}
	return m, nil
}

// Symbols returns a snapshot of all known symbol ids.
func (t *Table) Symbols() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.markets))
	for s := range t.markets {
		out = append(out, s)
	}
	return out
}

// Active returns a snapshot of markets with Active == true.
func (t *Table) Active() map[string]Market {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Market, len(t.markets))
	for s, m := range t.markets {
		if m.Active {
			out[s] = m
		}
	}
	return out
}
