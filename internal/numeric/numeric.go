// Package numeric provides the rounding, PnL, and wallet-exposure primitives
// shared by the grid, unstuck, and mode-selector packages.
//
// These mirror passivbot's jitted.py helpers (round_up/round_dn/round_/
// calc_cost/calc_long_pnl/calc_ema) but are expressed as plain Go functions
// instead of numba-jitted numpy kernels.
package numeric

import "math"

// RoundMode selects how a value snaps to a step multiple.
type RoundMode int

const (
	RoundNearest RoundMode = iota
	RoundUp
	RoundDown
)

// RoundTo snaps x to the nearest multiple of step using mode. step must be > 0.
func RoundTo(step, x float64, mode RoundMode) float64 {
	if step <= 0 {
		return x
	}
	switch mode {
	case RoundUp:
		return math.Ceil(x/step) * step
	case RoundDown:
		return math.Floor(x/step) * step
	default:
		return math.Round(x/step) * step
	}
}

// RoundUpTo rounds x up to the nearest multiple of step.
func RoundUpTo(step, x float64) float64 { return RoundTo(step, x, RoundUp) }

// RoundDownTo rounds x down to the nearest multiple of step.
func RoundDownTo(step, x float64) float64 { return RoundTo(step, x, RoundDown) }

// QtyToCost converts a signed or unsigned qty to notional cost at price.
// Linear contracts: |qty| * mult * price. Inverse contracts: |qty| * mult / price.
func QtyToCost(qty, price, mult float64, inverse bool) float64 {
	if price == 0 {
		return 0
	}
	if inverse {
		return math.Abs(qty) * mult / price
	}
	return math.Abs(qty) * mult * price
}

// CostToQty is the inverse of QtyToCost at a given price.
func CostToQty(cost, price, mult float64, inverse bool) float64 {
	if mult == 0 {
		return 0
	}
	if inverse {
		return cost * price / mult
	}
	if price == 0 {
		return 0
	}
	return cost / (mult * price)
}

// MinEntryQty returns the smallest qty (already a multiple of qtyStep) whose
// notional at price meets both minQty and minNotional.
func MinEntryQty(price, mult, qtyStep, minQty, minNotional float64) float64 {
	if price <= 0 || mult == 0 {
		return minQty
	}
	fromNotional := RoundUpTo(qtyStep, minNotional/(price*mult))
	return math.Max(minQty, fromNotional)
}

// Pnl computes realized/unrealized PnL for a position leg.
// side is common.SideLong or common.SideShort; size is unsigned.
func Pnl(side string, entry, mark, size float64, inverse bool, mult float64) float64 {
	long := side != "short"
	if inverse {
		if entry == 0 || mark == 0 {
			return 0
		}
		if long {
			return mult * (1/entry - 1/mark) * math.Abs(size)
		}
		return mult * (1/mark - 1/entry) * math.Abs(size)
	}
	if long {
		return math.Abs(size) * mult * (mark - entry)
	}
	return math.Abs(size) * mult * (entry - mark)
}

// WalletExposure returns notional(size, price) / balance, or 0 if balance <= 0.
func WalletExposure(size, price, mult float64, inverse bool, balance float64) float64 {
	if balance <= 0 {
		return 0
	}
	return QtyToCost(size, price, mult, inverse) / balance
}

// EMAAlpha converts a span (in samples) to the standard EMA smoothing factor.
func EMAAlpha(span float64) float64 {
	if span <= 0 {
		return 1
	}
	return 2 / (span + 1)
}

// EMANext advances an EMA by one sample.
func EMANext(prev, x, span float64) float64 {
	a := EMAAlpha(span)
	return a*x + (1-a)*prev
}

// GeometricSpan returns sqrt(s0*s1), the span passivbot uses for the middle
// EMA of an EMA triple.
func GeometricSpan(s0, s1 float64) float64 {
	return math.Sqrt(s0 * s1)
}
