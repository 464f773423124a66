package numeric

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundToLaw(t *testing.T) {
	steps := []float64{0.01, 0.001, 0.5, 1, 10}
	xs := []float64{0, 1, 1.004, 99.999, -5.5, 123.456}

	for _, step := range steps {
		for _, x := range xs {
			r := RoundTo(step, x, RoundNearest)
			k := r / step
			require.InDelta(t, math.Round(k), k, 1e-6, "round(%v, step=%v) not a multiple of step", x, step)
			require.LessOrEqual(t, math.Abs(r-x), step+1e-9)

			down := RoundDownTo(step, x)
			up := RoundUpTo(step, x)
			require.LessOrEqual(t, down, x+1e-9)
			require.GreaterOrEqual(t, up, x-1e-9)
		}
	}
}

func TestMinEntryQtyFeasibility(t *testing.T) {
	price, mult, qtyStep, minQty, minNotional := 100.0, 1.0, 0.001, 0.001, 5.0
	q := MinEntryQty(price, mult, qtyStep, minQty, minNotional)

	require.GreaterOrEqual(t, q, minQty)
	require.GreaterOrEqual(t, q*price*mult, minNotional-1e-9)
	require.InDelta(t, 0, math.Mod(q, qtyStep), 1e-9)
}

func TestQtyCostRoundTrip(t *testing.T) {
	for _, inverse := range []bool{false, true} {
		cost := QtyToCost(2.5, 100, 1, inverse)
		qty := CostToQty(cost, 100, 1, inverse)
		require.InDelta(t, 2.5, qty, 1e-9)
	}
}

func TestPnlLongShortSymmetry(t *testing.T) {
	longPnl := Pnl("long", 100, 110, 1, false, 1)
	shortPnl := Pnl("short", 100, 110, 1, false, 1)
	require.InDelta(t, 10, longPnl, 1e-9)
	require.InDelta(t, -10, shortPnl, 1e-9)
}

func TestPnlInverse(t *testing.T) {
	longPnl := Pnl("long", 100, 110, 1, true, 1)
	expected := 1 * (1.0/100 - 1.0/110)
	require.InDelta(t, expected, longPnl, 1e-9)
}

func TestEMABoundaryConvergesToConstant(t *testing.T) {
	prev := 0.0
	for i := 0; i < 1000; i++ {
		prev = EMANext(prev, 42.0, 10)
	}
	require.InDelta(t, 42.0, prev, 1e-6)
}

func TestEMASpanOneEqualsLastInput(t *testing.T) {
	got := EMANext(7.0, 99.0, 1)
	require.InDelta(t, 99.0, got, 1e-9)
}

func TestWalletExposureZeroBalance(t *testing.T) {
	require.Equal(t, 0.0, WalletExposure(1, 100, 1, false, 0))
}
