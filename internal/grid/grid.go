// Package grid implements the recursive martingale entry grid, the laddered
// close grid, and their trailing variants. Formulas are grounded on
// passivbot's jitted.py (calc_next_long_entry, iter_entries,
// iter_long_closes/iter_shrt_closes) generalized from numba kernels to plain
// Go over a long/short-symmetric Side parameter.
package grid

import (
	"math"

	"forager/internal/common"
	"forager/internal/market"
	"forager/internal/numeric"
)

// Order is a single signed order proposal: positive Qty = buy, negative =
// sell. Tag identifies its origin for logging and dedup.
type Order struct {
	Qty        float64
	Price      float64
	Tag        string
	ReduceOnly bool
}

// Extremes tracks the four trailing reference points for one symbol/side,
// reset whenever the position crosses |psize| = 0.
type Extremes struct {
	MaxSinceOpen float64
	MinSinceMax  float64
	MinSinceOpen float64
	MaxSinceMin  float64
}

// ResetExtremes returns the sentinel values used immediately after a
// position opens or flattens (invariant 9: trailing reset).
func ResetExtremes() Extremes {
	return Extremes{
		MaxSinceOpen: 0,
		MinSinceMax:  math.Inf(1),
		MinSinceOpen: math.Inf(1),
		MaxSinceMin:  0,
	}
}

// Update folds one HLC bar into the trailing extremes.
func (e Extremes) Update(high, low float64) Extremes {
	if high > e.MaxSinceOpen {
		e.MaxSinceOpen = high
		e.MinSinceMax = low
	} else if low < e.MinSinceMax {
		e.MinSinceMax = low
	}
	if low < e.MinSinceOpen {
		e.MinSinceOpen = low
		e.MaxSinceMin = high
	} else if high > e.MaxSinceMin {
		e.MaxSinceMin = high
	}
	return e
}

// Params bundles the LiveConfig fields grid math needs, independent of
// cfg's document-level representation.
type Params struct {
	EntryInitialEMADist      float64
	EntryInitialQtyPct       float64
	EntryGridSpacingPct      float64
	EntryGridSpacingWeight   float64
	EntryGridDoubleDownFctr  float64
	EntryTrailingThreshold   float64
	EntryTrailingRetracement float64
	EntryTrailingGridRatio   float64
	CloseGridMinMarkup       float64
	CloseGridMarkupRange     float64
	CloseGridNOrders         int
	CloseGridQtyPct          float64
	CloseTrailingThreshold   float64
	CloseTrailingRetracement float64
	CloseTrailingGridRatio   float64
	WalletExposureLimit      float64
}

func isLong(side string) bool { return side != common.SideShort }

// InitialEntry computes the single entry order placed when a symbol/side has
// no open position. Returns ok=false if the resulting qty is below the
// minimum entry qty (S1).
func InitialEntry(side string, bestBid, bestAsk, emaLow, emaHigh, balance float64, m market.Market, p Params) (Order, bool) {
	long := isLong(side)
	var price float64
	if long {
		band := emaLow * (1 - p.EntryInitialEMADist)
		price = math.Min(bestBid, band)
		price = numeric.RoundDownTo(m.PriceTick, price)
	} else {
		band := emaHigh * (1 + p.EntryInitialEMADist)
		price = math.Max(bestAsk, band)
		price = numeric.RoundUpTo(m.PriceTick, price)
	}
	if price <= 0 {
		return Order{}, false
	}

	minQty := numeric.MinEntryQty(price, m.Mult, m.QtyStep, m.MinQty, m.MinNotional)
	wanted := p.EntryInitialQtyPct * balance * p.WalletExposureLimit / price
	qty := numeric.RoundDownTo(m.QtyStep, math.Max(minQty, wanted))
	if qty < minQty {
		return Order{}, false
	}

	signed := qty
	if !long {
		signed = -qty
	}
	return Order{Qty: signed, Price: price, Tag: "entry_initial"}, true
}

// reentryLevel is one recursive grid step, returned alongside the
// hypothetical resulting position so the caller can recurse.
type reentryLevel struct {
	order  Order
	psize  float64
	pprice float64
}

// ReentryGrid recursively derives the martingale reentry ladder from the
// current position until the next level's qty would fall below the minimum
// entry qty or wallet exposure would reach the limit (invariant 4, 5).
func ReentryGrid(side string, psize, pprice, balance float64, m market.Market, p Params) []Order {
	long := isLong(side)
	absSize := math.Abs(psize)
	if absSize == 0 || pprice == 0 {
		return nil
	}

	var out []Order
	curSize, curPrice := absSize, pprice
	const maxLevels = 50 // matches passivbot's de-facto recursion bound

	for i := 0; i < maxLevels; i++ {
		we := numeric.WalletExposure(curSize, curPrice, m.Mult, m.Inverse, balance)
		if we >= p.WalletExposureLimit {
			break
		}

		spacing := p.EntryGridSpacingPct * (1 + p.EntryGridSpacingWeight*we/p.WalletExposureLimit)

		var nextPrice float64
		if long {
			nextPrice = numeric.RoundDownTo(m.PriceTick, curPrice*(1-spacing))
		} else {
			nextPrice = numeric.RoundUpTo(m.PriceTick, curPrice*(1+spacing))
		}
		if nextPrice <= 0 {
			break
		}

		minQty := numeric.MinEntryQty(nextPrice, m.Mult, m.QtyStep, m.MinQty, m.MinNotional)
		wantedQty := numeric.RoundDownTo(m.QtyStep, curSize*p.EntryGridDoubleDownFctr)
		qty := math.Max(minQty, wantedQty)

		newSize := curSize + qty
		curCost := numeric.QtyToCost(curSize, curPrice, m.Mult, m.Inverse)
		newWE := (curCost + numeric.QtyToCost(qty, nextPrice, m.Mult, m.Inverse)) / balance
		if newWE > p.WalletExposureLimit {
			capCost := p.WalletExposureLimit*balance - curCost
			capQty := numeric.RoundDownTo(m.QtyStep, numeric.CostToQty(capCost, nextPrice, m.Mult, m.Inverse))
			if capQty < minQty {
				break
			}
			qty = capQty
			newSize = curSize + qty
		}
		if qty < minQty {
			break
		}

		newPrice := weightedAvgPrice(curSize, curPrice, qty, nextPrice)

		signedQty := qty
		if !long {
			signedQty = -qty
		}
		out = append(out, Order{Qty: signedQty, Price: nextPrice, Tag: "entry_grid"})

		curSize, curPrice = newSize, newPrice
	}

	return out
}

func weightedAvgPrice(size1, price1, size2, price2 float64) float64 {
	total := size1 + size2
	if total == 0 {
		return 0
	}
	return (size1*price1 + size2*price2) / total
}

// TrailingEntry derives the reentry price/qty driven by trailing extremes
// rather than a fixed grid offset. ratio interpolates between pure grid (0)
// and pure trailing (|ratio|=1); this returns the trailing-rule candidate
// only, for the caller to blend against the grid candidate.
func TrailingEntry(side string, psize, pprice float64, ext Extremes, m market.Market, p Params) (Order, bool) {
	if p.EntryTrailingGridRatio == 0 {
		return Order{}, false
	}
	long := isLong(side)
	absSize := math.Abs(psize)
	if absSize == 0 {
		return Order{}, false
	}

	var extreme float64
	var moved float64
	if long {
		extreme = ext.MinSinceOpen
		if math.IsInf(extreme, 1) {
			return Order{}, false
		}
		moved = (pprice - extreme) / pprice
	} else {
		extreme = ext.MaxSinceOpen
		moved = (extreme - pprice) / pprice
	}
	if moved < p.EntryTrailingThreshold {
		return Order{}, false
	}

	var price float64
	if long {
		price = numeric.RoundDownTo(m.PriceTick, extreme*(1+p.EntryTrailingRetracement))
	} else {
		price = numeric.RoundUpTo(m.PriceTick, extreme*(1-p.EntryTrailingRetracement))
	}

	minQty := numeric.MinEntryQty(price, m.Mult, m.QtyStep, m.MinQty, m.MinNotional)
	qty := math.Max(minQty, numeric.RoundDownTo(m.QtyStep, absSize*0.1))
	signed := qty
	if !long {
		signed = -qty
	}
	return Order{Qty: signed, Price: price, Tag: "entry_trailing"}, true
}

// BlendTrailingRatio picks between the grid candidate and the trailing
// candidate per entry_trailing_grid_ratio: |ratio|=1 pure trailing, 0 pure
// grid, intermediate values are treated as a linear interpolation over the
// fraction of grid levels replaced.
func BlendTrailingRatio(ratio float64, gridLevels []Order, trailing Order, trailingOK bool) []Order {
	if ratio == 0 || !trailingOK {
		return gridLevels
	}
	abs := math.Abs(ratio)
	if abs >= 1 {
		return []Order{trailing}
	}
	replace := int(math.Round(abs * float64(len(gridLevels))))
	if replace <= 0 {
		return gridLevels
	}
	if replace >= len(gridLevels) {
		return []Order{trailing}
	}
	out := make([]Order, 0, len(gridLevels)-replace+1)
	out = append(out, trailing)
	out = append(out, gridLevels[replace:]...)
	return out
}

// CloseGrid lays out n_orders reduce-only closes linearly spaced between
// pprice*(1+min_markup) and pprice*(1+min_markup+markup_range), inverted for
// short, dropping any price worse than the current touch (S3).
func CloseGrid(side string, psize, pprice, bestBid, bestAsk float64, m market.Market, p Params) []Order {
	long := isLong(side)
	absSize := math.Abs(psize)
	if absSize == 0 || pprice == 0 || p.CloseGridNOrders <= 0 {
		return nil
	}

	lo := p.CloseGridMinMarkup
	hi := p.CloseGridMinMarkup + p.CloseGridMarkupRange

	type level struct{ price float64 }
	levels := make([]level, 0, p.CloseGridNOrders)
	n := p.CloseGridNOrders
	for i := 0; i < n; i++ {
		frac := lo
		if n > 1 {
			frac = lo + (hi-lo)*float64(i)/float64(n-1)
		}
		var price float64
		if long {
			price = numeric.RoundUpTo(m.PriceTick, pprice*(1+frac))
			if price < bestAsk {
				continue
			}
		} else {
			price = numeric.RoundDownTo(m.PriceTick, pprice*(1-frac))
			if price > bestBid {
				continue
			}
		}
		levels = append(levels, level{price: price})
	}
	if len(levels) == 0 {
		return nil
	}

	minQty := numeric.MinEntryQty(pprice, m.Mult, m.QtyStep, m.MinQty, m.MinNotional)
	perLevelQty := math.Max(minQty, numeric.RoundUpTo(m.QtyStep, absSize*p.CloseGridQtyPct))

	out := make([]Order, 0, len(levels))
	remaining := absSize
	for i, lv := range levels {
		qty := perLevelQty
		if i == len(levels)-1 || qty > remaining {
			qty = remaining
		}
		if qty <= 0 {
			break
		}
		qty = numeric.RoundDownTo(m.QtyStep, qty)
		if qty < m.QtyStep {
			qty = remaining
		}

		// merge into a single close if this level alone would close >75% of
		// the position.
		if qty/absSize > 0.75 {
			signed := absSize
			if long {
				signed = -signed
			}
			return []Order{{Qty: signed, Price: lv.price, Tag: "close_grid", ReduceOnly: true}}
		}

		signed := qty
		if long {
			signed = -signed
		}
		out = append(out, Order{Qty: signed, Price: lv.price, Tag: "close_grid", ReduceOnly: true})
		remaining -= qty
		if remaining <= 0 {
			break
		}
	}
	return out
}

// TrailingClose is symmetric to TrailingEntry on the opposite extreme
// (min_since_max for long, max_since_min for short).
func TrailingClose(side string, psize, pprice float64, ext Extremes, m market.Market, p Params) (Order, bool) {
	if p.CloseTrailingGridRatio == 0 {
		return Order{}, false
	}
	long := isLong(side)
	absSize := math.Abs(psize)
	if absSize == 0 {
		return Order{}, false
	}

	var extreme, moved float64
	if long {
		extreme = ext.MinSinceMax
		if math.IsInf(extreme, 1) {
			return Order{}, false
		}
		moved = (ext.MaxSinceOpen - extreme) / ext.MaxSinceOpen
	} else {
		extreme = ext.MaxSinceMin
		if ext.MinSinceOpen == 0 {
			return Order{}, false
		}
		moved = (extreme - ext.MinSinceOpen) / ext.MinSinceOpen
	}
	if moved < p.CloseTrailingThreshold {
		return Order{}, false
	}

	var price float64
	if long {
		price = numeric.RoundUpTo(m.PriceTick, extreme*(1-p.CloseTrailingRetracement))
	} else {
		price = numeric.RoundDownTo(m.PriceTick, extreme*(1+p.CloseTrailingRetracement))
	}

	signed := absSize
	if long {
		signed = -signed
	}
	return Order{Qty: signed, Price: price, Tag: "close_trailing", ReduceOnly: true}, true
}
