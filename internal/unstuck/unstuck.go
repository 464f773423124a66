// Package unstuck implements stuck-position detection and the bleed-close
// selection described by passivbot_forager.py's calc_unstucking_close: among
// all stuck positions, the one with the smallest price gap to last price is
// chosen, bounded by a global realized-PnL loss allowance.
package unstuck

import (
	"math"

	"forager/internal/common"
	"forager/internal/grid"
	"forager/internal/market"
	"forager/internal/numeric"
)

// Candidate is one symbol/side position considered for unstuck selection.
type Candidate struct {
	Symbol   string
	Side     string
	PSize    float64
	PPrice   float64
	Last     float64
	BestBid  float64
	BestAsk  float64
	EMAHigh  float64
	EMALow   float64
	WELimit  float64
	Market   market.Market
	Balance  float64

	UnstuckThreshold float64
	UnstuckClosePct  float64
	UnstuckEMADist   float64
}

// IsStuck reports whether the candidate's wallet exposure exceeds
// unstuck_threshold * W (invariant 6, glossary "stuck position").
func (c Candidate) IsStuck() bool {
	we := numeric.WalletExposure(c.PSize, c.PPrice, c.Market.Mult, c.Market.Inverse, c.Balance)
	return we/c.WELimit > c.UnstuckThreshold
}

func (c Candidate) priceGap() float64 {
	if c.Last == 0 {
		return math.Inf(1)
	}
	return math.Abs(c.PPrice-c.Last) / c.Last
}

// Selection is the chosen symbol/side and its computed bleed close.
type Selection struct {
	Symbol string
	Side   string
	Close  grid.Order
}

// LossAllowance bounds the realized loss the bleed close is permitted to
// take: refuse if projected cumulative realized PnL would fall below
// -loss_allowance_pct * peak_balance within the lookback window.
type LossAllowance struct {
	RealizedPnlInWindow float64
	PeakBalance         float64
	LossAllowancePct    float64
}

// Allows reports whether taking a loss of projectedLoss (positive = loss)
// stays within the allowance. A close with no projected loss is always
// allowed.
func (la LossAllowance) Allows(projectedLoss float64) bool {
	if projectedLoss <= 0 {
		return true
	}
	floor := -la.LossAllowancePct * la.PeakBalance
	return la.RealizedPnlInWindow-projectedLoss >= floor
}

// Select picks the stuck candidate with the smallest price gap, computes its
// bleed close, and applies the loss allowance. Returns ok=false if no
// candidate is stuck or the allowance blocks every stuck candidate.
func Select(candidates []Candidate, la LossAllowance) (Selection, bool) {
	var best *Candidate
	for i := range candidates {
		c := candidates[i]
		if !c.IsStuck() {
			continue
		}
		if best == nil || c.priceGap() < best.priceGap() {
			best = &candidates[i]
		}
	}
	if best == nil {
		return Selection{}, false
	}

	closeOrder, projectedLoss := bleedClose(*best)
	if projectedLoss > 0 && !la.Allows(projectedLoss) {
		return Selection{}, false
	}

	return Selection{Symbol: best.Symbol, Side: best.Side, Close: closeOrder}, true
}

func bleedClose(c Candidate) (grid.Order, float64) {
	long := c.Side != common.SideShort
	m := c.Market

	var price float64
	if long {
		band := c.EMAHigh * (1 + c.UnstuckEMADist)
		price = math.Max(c.BestAsk, band)
		price = numeric.RoundUpTo(m.PriceTick, price)
	} else {
		band := c.EMALow * (1 - c.UnstuckEMADist)
		price = math.Min(c.BestBid, band)
		price = numeric.RoundDownTo(m.PriceTick, price)
	}

	minQty := numeric.MinEntryQty(price, m.Mult, m.QtyStep, m.MinQty, m.MinNotional)
	wanted := numeric.CostToQty(c.Balance*c.WELimit*c.UnstuckClosePct, price, m.Mult, m.Inverse)
	qty := math.Min(math.Abs(c.PSize), math.Max(minQty, wanted))
	qty = numeric.RoundDownTo(m.QtyStep, qty)

	signed := qty
	if long {
		signed = -qty
	}

	loss := numeric.Pnl(c.Side, c.PPrice, price, qty, m.Inverse, m.Mult)
	projectedLoss := 0.0
	if loss < 0 {
		projectedLoss = -loss
	}

	return grid.Order{Qty: signed, Price: price, Tag: "unstuck_close", ReduceOnly: true}, projectedLoss
}
