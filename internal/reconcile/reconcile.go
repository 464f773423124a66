// Package reconcile diffs the ideal order set against actual open orders,
// applies mode filters and batch caps, and dispatches cancels before
// creates.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"sort"

	"forager/internal/common"
	"forager/internal/state"
)

// Key identifies an order for diffing: (symbol, side,
// position_side, qty, price).
type Key struct {
	Symbol       string
	Side         string
	PositionSide string
	Qty          float64
	Price        float64
}

func keyOf(o state.Order, qtyStep, priceTick float64) Key {
	return Key{
		Symbol:       o.Symbol,
		Side:         o.Side,
		PositionSide: o.PositionSide,
		Qty:          roundKey(o.Qty, qtyStep),
		Price:        roundKey(o.Price, priceTick),
	}
}

func roundKey(x, step float64) float64 {
	if step <= 0 {
		return x
	}
	return math.Round(x/step) * step
}

// Caps bounds a single tick's cancel/create batch sizes.
type Caps struct {
	MaxCancelsPerBatch int
	MaxCreatesPerBatch int
	MaxOpenOrders      int
}

// Diff computes to_cancel = actual - ideal and to_create = ideal - actual,
// keyed per Key. qtyStep/priceTick round away float noise before keying.
func Diff(ideal, actual []state.Order, qtyStep, priceTick float64) (toCancel, toCreate []state.Order) {
	idealSet := make(map[Key]bool, len(ideal))
	for _, o := range ideal {
		idealSet[keyOf(o, qtyStep, priceTick)] = true
	}
	actualSet := make(map[Key]bool, len(actual))
	for _, o := range actual {
		actualSet[keyOf(o, qtyStep, priceTick)] = true
	}

	for _, o := range actual {
		if !idealSet[keyOf(o, qtyStep, priceTick)] {
			toCancel = append(toCancel, o)
		}
	}
	for _, o := range ideal {
		if !actualSet[keyOf(o, qtyStep, priceTick)] {
			toCreate = append(toCreate, o)
		}
	}
	return toCancel, toCreate
}

// ApplyModeFilters enforces the per-mode order filter: manual touches nothing; tp_only
// touches only reduce_only orders.
func ApplyModeFilters(mode string, toCancel, toCreate []state.Order) ([]state.Order, []state.Order) {
	switch mode {
	case common.ModeManual:
		return nil, nil
	case common.ModeTPOnly:
		return onlyReduceOnly(toCancel), onlyReduceOnly(toCreate)
	default:
		return toCancel, toCreate
	}
}

func onlyReduceOnly(orders []state.Order) []state.Order {
	out := orders[:0:0]
	for _, o := range orders {
		if o.ReduceOnly {
			out = append(out, o)
		}
	}
	return out
}

// SortByPriceDistance orders by |price-last|/last ascending (closest first).
func SortByPriceDistance(orders []state.Order, last float64) {
	sort.SliceStable(orders, func(i, j int) bool {
		return priceDist(orders[i], last) < priceDist(orders[j], last)
	})
}

func priceDist(o state.Order, last float64) float64 {
	if last == 0 {
		return math.Inf(1)
	}
	return math.Abs(o.Price-last) / last
}

// Trim caps cancels/creates to their batch limits. When cancels exceed the
// cap, reduce_only cancels are prioritized (kept) over non-reduce-only ones.
func Trim(toCancel, toCreate []state.Order, caps Caps) ([]state.Order, []state.Order) {
	cancel := toCancel
	if caps.MaxCancelsPerBatch > 0 && len(cancel) > caps.MaxCancelsPerBatch {
		cancel = prioritizeReduceOnly(cancel, caps.MaxCancelsPerBatch)
	}
	create := toCreate
	if caps.MaxCreatesPerBatch > 0 && len(create) > caps.MaxCreatesPerBatch {
		create = create[:caps.MaxCreatesPerBatch]
	}
	return cancel, create
}

func prioritizeReduceOnly(orders []state.Order, cap int) []state.Order {
	reduceOnly := make([]state.Order, 0, len(orders))
	rest := make([]state.Order, 0, len(orders))
	for _, o := range orders {
		if o.ReduceOnly {
			reduceOnly = append(reduceOnly, o)
		} else {
			rest = append(rest, o)
		}
	}
	out := append(reduceOnly, rest...)
	if len(out) > cap {
		out = out[:cap]
	}
	return out
}

// Exchanger is the subset of the exchange adapter the reconciler dispatches
// against.
type Exchanger interface {
	CancelOrders(ctx context.Context, orders []state.Order) ([]state.Order, error)
	PlaceOrders(ctx context.Context, orders []state.Order) ([]state.Order, error)
}

// Result records what was actually dispatched, for logging and for the
// state store update.
type Result struct {
	Cancelled []state.Order
	Created   []state.Order
	Errors    []error
}

// Dispatch sends cancels, then creates, best-effort: a failure on one batch
// is logged and left for the next tick to re-evaluate rather than aborting
// the other batch.
func Dispatch(ctx context.Context, ex Exchanger, toCancel, toCreate []state.Order) Result {
	var res Result

	if len(toCancel) > 0 {
		cancelled, err := ex.CancelOrders(ctx, toCancel)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("cancel batch: %w", err))
		}
		res.Cancelled = cancelled
	}

	if len(toCreate) > 0 {
		created, err := ex.PlaceOrders(ctx, toCreate)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("create batch: %w", err))
		}
		res.Created = created
	}

	return res
}

// TruncateToOpenOrderCap enforces the exchange-wide open-order ceiling
// (rate limiting): orders beyond maxOpenOrders, ranked by price
// distance, are dropped from creation this tick.
func TruncateToOpenOrderCap(toCreate []state.Order, existingOpenOrders int, maxOpenOrders int, last float64) []state.Order {
	if maxOpenOrders <= 0 {
		return toCreate
	}
	room := maxOpenOrders - existingOpenOrders
	if room < 0 {
		room = 0
	}
	if len(toCreate) <= room {
		return toCreate
	}
	SortByPriceDistance(toCreate, last)
	return toCreate[:room]
}
