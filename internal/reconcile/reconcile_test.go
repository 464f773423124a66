package reconcile

import (
	"context"
	"errors"
	"testing"

	"forager/internal/state"
)

func TestDiffIdempotenceWhenIdealEqualsActual(t *testing.T) {
	orders := []state.Order{
		{Symbol: "BTCUSDT", Side: "sell", PositionSide: "long", Qty: 0.2, Price: 100.3, ReduceOnly: true},
	}
	cancel, create := Diff(orders, orders, 0.001, 0.01)
	if len(cancel) != 0 || len(create) != 0 {
		t.Errorf("expected empty diff when ideal == actual, got cancel=%v create=%v", cancel, create)
	}
}

func TestDiffScenarioS6(t *testing.T) {
	actual := []state.Order{
		{Symbol: "BTCUSDT", Side: "sell", PositionSide: "long", Qty: 0.2, Price: 100.3, ReduceOnly: true},
	}
	ideal := []state.Order{
		{Symbol: "BTCUSDT", Side: "sell", PositionSide: "long", Qty: 0.3, Price: 100.3, ReduceOnly: true},
	}
	cancel, create := Diff(ideal, actual, 0.001, 0.01)
	if len(cancel) != 1 || len(create) != 1 {
		t.Fatalf("expected one cancel and one create, got cancel=%d create=%d", len(cancel), len(create))
	}
	if cancel[0].Qty != 0.2 {
		t.Errorf("expected cancel of stale 0.2 order, got %v", cancel[0].Qty)
	}
	if create[0].Qty != 0.3 {
		t.Errorf("expected create of new 0.3 order, got %v", create[0].Qty)
	}
}

func TestApplyModeFiltersManualSuppressesBoth(t *testing.T) {
	cancel, create := ApplyModeFilters("manual", []state.Order{{Symbol: "A"}}, []state.Order{{Symbol: "B"}})
	if cancel != nil || create != nil {
		t.Error("expected manual mode to suppress both queues")
	}
}

func TestApplyModeFiltersTPOnlyKeepsOnlyReduceOnly(t *testing.T) {
	toCancel := []state.Order{
		{Symbol: "A", ReduceOnly: true},
		{Symbol: "B", ReduceOnly: false},
	}
	cancel, _ := ApplyModeFilters("tp_only", toCancel, nil)
	if len(cancel) != 1 || !cancel[0].ReduceOnly {
		t.Errorf("expected only reduce_only cancels to survive tp_only filter, got %+v", cancel)
	}
}

func TestTrimPrioritizesReduceOnlyCancels(t *testing.T) {
	cancels := []state.Order{
		{Symbol: "A", ReduceOnly: false},
		{Symbol: "B", ReduceOnly: true},
		{Symbol: "C", ReduceOnly: false},
	}
	trimmed, _ := Trim(cancels, nil, Caps{MaxCancelsPerBatch: 1})
	if len(trimmed) != 1 || !trimmed[0].ReduceOnly {
		t.Errorf("expected reduce_only cancel to survive trim, got %+v", trimmed)
	}
}

type fakeExchange struct {
	cancelErr error
	placeErr  error
}

func (f *fakeExchange) CancelOrders(ctx context.Context, orders []state.Order) ([]state.Order, error) {
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	return orders, nil
}

func (f *fakeExchange) PlaceOrders(ctx context.Context, orders []state.Order) ([]state.Order, error) {
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	return orders, nil
}

func TestDispatchCancelFailureDoesNotBlockCreate(t *testing.T) {
	ex := &fakeExchange{cancelErr: errors.New("timeout")}
	res := Dispatch(context.Background(), ex, []state.Order{{Symbol: "A"}}, []state.Order{{Symbol: "B"}})
	if len(res.Errors) != 1 {
		t.Fatalf("expected one error recorded, got %d", len(res.Errors))
	}
	if len(res.Created) != 1 {
		t.Errorf("expected create batch to still dispatch despite cancel failure, got %+v", res.Created)
	}
}

func TestTruncateToOpenOrderCap(t *testing.T) {
	toCreate := []state.Order{
		{Symbol: "A", Price: 110},
		{Symbol: "B", Price: 101},
		{Symbol: "C", Price: 105},
	}
	out := TruncateToOpenOrderCap(toCreate, 98, 100, 100)
	if len(out) != 2 {
		t.Fatalf("expected room for 2 orders, got %d", len(out))
	}
	if out[0].Symbol != "B" {
		t.Errorf("expected closest-to-last order first, got %v", out[0].Symbol)
	}
}
