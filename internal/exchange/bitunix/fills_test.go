package bitunix

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

func TestFillWatcherFiresWhenOrderLeavesOpenSet(t *testing.T) {
	open := true
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if open {
			data, _ := json.Marshal([]openOrderResp{{OrderID: "o1", Symbol: "BTCUSDT"}})
			json.NewEncoder(w).Encode(Response{Code: 0, Data: data})
			return
		}
		json.NewEncoder(w).Encode(Response{Code: 0, Data: json.RawMessage("[]")})
	})
	t.Cleanup(c.Close)

	watcher := NewFillWatcher(c, 10*time.Millisecond)
	defer watcher.Stop()

	fired := make(chan string, 1)
	watcher.OnFill(func(symbol string) { fired <- symbol })
	watcher.Track("BTCUSDT", "o1")

	open = false
	select {
	case symbol := <-fired:
		if symbol != "BTCUSDT" {
			t.Errorf("expected fill for BTCUSDT, got %s", symbol)
		}
	case <-time.After(time.Second):
		t.Fatal("expected fill callback within timeout")
	}
}
