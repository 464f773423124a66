package bitunix

import "testing"

func TestHandleMessageUpdatesSnapshot(t *testing.T) {
	w := NewWS("wss://example.invalid")
	w.handleMessage([]byte(`{"ch":"ticker","symbol":"BTCUSDT","data":{"bidPrice":"99.5","askPrice":"100.5","lastPrice":"100","ts":1000}}`))

	tick, ok := w.Snapshot("BTCUSDT")
	if !ok {
		t.Fatal("expected snapshot to be recorded")
	}
	if tick.Bid != 99.5 || tick.Ask != 100.5 || tick.Last != 100 {
		t.Errorf("unexpected ticker snapshot: %+v", tick)
	}
}

func TestHandleMessageIgnoresNonTickerChannel(t *testing.T) {
	w := NewWS("wss://example.invalid")
	w.handleMessage([]byte(`{"ch":"trade","symbol":"BTCUSDT","data":{}}`))

	if _, ok := w.Snapshot("BTCUSDT"); ok {
		t.Error("expected non-ticker message to be ignored")
	}
}

func TestAliveFalseBeforeConnect(t *testing.T) {
	w := NewWS("wss://example.invalid")
	if w.Alive() {
		t.Error("expected new streamer to report not alive before connecting")
	}
}
