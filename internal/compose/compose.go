// Package compose builds the per-symbol ideal order set by switching
// on mode and concatenating C3 grid/trailing output with the C4 unstuck
// override, grounded on passivbot_forager.py's calc_ideal_orders.
package compose

import (
	"math"

	"forager/internal/common"
	"forager/internal/grid"
	"forager/internal/market"
)

// Input bundles everything the composer needs for one symbol × side.
type Input struct {
	Symbol  string
	Side    string
	Mode    string
	PSize   float64
	PPrice  float64
	Balance float64
	Last    float64
	BestBid float64
	BestAsk float64
	EMALow  float64
	EMAHigh float64

	EntryExtremes grid.Extremes
	CloseExtremes grid.Extremes

	Market market.Market
	Params grid.Params

	PriceDistanceThreshold float64
}

// Compose derives the per-symbol ideal order set for one mode, before any
// cross-symbol unstuck override is applied.
func Compose(in Input) []grid.Order {
	switch in.Mode {
	case common.ModePanic:
		return panicClose(in)
	case common.ModeManual:
		return nil
	case common.ModeGracefulStop:
		if in.PSize == 0 {
			return nil
		}
		return filterDistance(closeOrders(in), in)
	case common.ModeTPOnly:
		return filterDistance(closeOrders(in), in)
	default: // normal
		var out []grid.Order
		if in.PSize != 0 || allowsEntry(in.Mode) {
			out = append(out, entryOrders(in)...)
		}
		out = append(out, closeOrders(in)...)
		return dedup(filterDistance(out, in))
	}
}

func allowsEntry(mode string) bool {
	return mode == common.ModeNormal || mode == ""
}

func panicClose(in Input) []grid.Order {
	if in.PSize == 0 {
		return nil
	}
	long := in.Side != common.SideShort
	price := in.BestAsk
	if !long {
		price = in.BestBid
	}
	qty := math.Abs(in.PSize)
	signed := qty
	if long {
		signed = -qty
	}
	return []grid.Order{{Qty: signed, Price: price, Tag: "panic", ReduceOnly: true}}
}

func entryOrders(in Input) []grid.Order {
	var out []grid.Order
	if in.PSize == 0 {
		if o, ok := grid.InitialEntry(in.Side, in.BestBid, in.BestAsk, in.EMALow, in.EMAHigh, in.Balance, in.Market, in.Params); ok {
			out = append(out, o)
		}
		return out
	}

	gridLevels := grid.ReentryGrid(in.Side, in.PSize, in.PPrice, in.Balance, in.Market, in.Params)
	trailing, trailingOK := grid.TrailingEntry(in.Side, in.PSize, in.PPrice, in.EntryExtremes, in.Market, in.Params)
	out = append(out, grid.BlendTrailingRatio(in.Params.EntryTrailingGridRatio, gridLevels, trailing, trailingOK)...)
	return out
}

func closeOrders(in Input) []grid.Order {
	if in.PSize == 0 {
		return nil
	}
	gridLevels := grid.CloseGrid(in.Side, in.PSize, in.PPrice, in.BestBid, in.BestAsk, in.Market, in.Params)
	trailing, trailingOK := grid.TrailingClose(in.Side, in.PSize, in.PPrice, in.CloseExtremes, in.Market, in.Params)
	return grid.BlendTrailingRatio(in.Params.CloseTrailingGridRatio, gridLevels, trailing, trailingOK)
}

// filterDistance drops initial/unstuck-tagged orders whose price has
// drifted too far from last.
func filterDistance(orders []grid.Order, in Input) []grid.Order {
	if in.Last == 0 {
		return orders
	}
	out := orders[:0:0]
	for _, o := range orders {
		if (o.Tag == "entry_initial" || o.Tag == "unstuck_close") && in.PriceDistanceThreshold > 0 {
			dist := math.Abs(o.Price-in.Last) / in.Last
			if dist > in.PriceDistanceThreshold {
				continue
			}
		}
		out = append(out, o)
	}
	return out
}

func dedup(orders []grid.Order) []grid.Order {
	seen := make(map[[2]float64]bool, len(orders))
	out := orders[:0:0]
	for _, o := range orders {
		key := [2]float64{o.Qty, o.Price}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, o)
	}
	return out
}

// ApplyUnstuck replaces a symbol × side's close output with the single
// bleed close chosen by the unstuck module, if selected.
func ApplyUnstuck(orders []grid.Order, bleedClose grid.Order, selected bool) []grid.Order {
	if !selected {
		return orders
	}
	out := orders[:0:0]
	for _, o := range orders {
		if o.ReduceOnly {
			continue
		}
		out = append(out, o)
	}
	out = append(out, bleedClose)
	return out
}
