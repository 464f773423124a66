package bitunix

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestSetLeverageSendsSymbolAndValue(t *testing.T) {
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(Response{Code: 0})
	})
	t.Cleanup(c.Close)

	if err := c.SetLeverage(t.Context(), "BTCUSDT", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotBody["symbol"] != "BTCUSDT" {
		t.Errorf("expected symbol BTCUSDT, got %v", gotBody["symbol"])
	}
}

func TestSetMarginModeSurfacesError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Response{Code: 2, Msg: "unsupported mode"})
	})
	t.Cleanup(c.Close)

	if err := c.SetMarginMode(t.Context(), "BTCUSDT", "CROSS"); err == nil {
		t.Error("expected error for rejected margin mode change")
	}
}
