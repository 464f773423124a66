package jsoncache

import (
	"testing"
	"time"

	"forager/internal/pnl"
	"forager/internal/state"
)

func TestMergePnlsDedupsByID(t *testing.T) {
	t.Parallel()
	c, err := Open(t.TempDir(), "bitunix")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := c.MergePnls("alice", []pnl.Fill{{ID: "f1", Symbol: "BTCUSDT", RealizedPnl: 1}}); err != nil {
		t.Fatalf("MergePnls: %v", err)
	}
	if err := c.MergePnls("alice", []pnl.Fill{{ID: "f1", Symbol: "BTCUSDT", RealizedPnl: 1}, {ID: "f2", Symbol: "BTCUSDT", RealizedPnl: 2}}); err != nil {
		t.Fatalf("MergePnls: %v", err)
	}

	got, err := c.LoadPnls("alice")
	if err != nil {
		t.Fatalf("LoadPnls: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 deduplicated fills, got %d", len(got))
	}
}

func TestLoadPnlsMissingFileReturnsEmpty(t *testing.T) {
	t.Parallel()
	c, err := Open(t.TempDir(), "bitunix")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	got, err := c.LoadPnls("nobody")
	if err != nil {
		t.Fatalf("LoadPnls: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty slice for missing cache, got %+v", got)
	}
}

func TestMergeOHLCVUpsertsByMinute(t *testing.T) {
	t.Parallel()
	c, err := Open(t.TempDir(), "bitunix")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := c.MergeOHLCV("BTCUSDT", []state.HLC{{Ts: 60_000, Close: 100}}); err != nil {
		t.Fatalf("MergeOHLCV: %v", err)
	}
	if err := c.MergeOHLCV("BTCUSDT", []state.HLC{{Ts: 60_000, Close: 101}, {Ts: 120_000, Close: 102}}); err != nil {
		t.Fatalf("MergeOHLCV: %v", err)
	}

	got, err := c.LoadOHLCV("BTCUSDT")
	if err != nil {
		t.Fatalf("LoadOHLCV: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 bars after upsert, got %d", len(got))
	}
	if got[0].Ts != 60_000 || got[0].Close != 101 {
		t.Errorf("expected the later write to win for ts=60000, got %+v", got[0])
	}
}

func TestSaveFirstListingTimestampsKeepsEarliest(t *testing.T) {
	t.Parallel()
	c, err := Open(t.TempDir(), "bitunix")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := c.SaveFirstListingTimestamps(map[string]int64{"BTCUSDT": 1000}); err != nil {
		t.Fatalf("SaveFirstListingTimestamps: %v", err)
	}
	if err := c.SaveFirstListingTimestamps(map[string]int64{"BTCUSDT": 2000}); err != nil {
		t.Fatalf("SaveFirstListingTimestamps: %v", err)
	}

	got, err := c.LoadFirstListingTimestamps()
	if err != nil {
		t.Fatalf("LoadFirstListingTimestamps: %v", err)
	}
	if got["BTCUSDT"] != 1000 {
		t.Errorf("expected earliest timestamp to be kept, got %v", got["BTCUSDT"])
	}
}

func TestEligibleSymbolsExpiresAfter24h(t *testing.T) {
	t.Parallel()
	c, err := Open(t.TempDir(), "bitunix")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := c.SaveEligibleSymbols([]string{"BTCUSDT", "ETHUSDT"}, now); err != nil {
		t.Fatalf("SaveEligibleSymbols: %v", err)
	}

	symbols, ok, err := c.LoadEligibleSymbols(now.Add(time.Hour))
	if err != nil {
		t.Fatalf("LoadEligibleSymbols: %v", err)
	}
	if !ok || len(symbols) != 2 {
		t.Fatalf("expected a fresh cache hit, got ok=%v symbols=%v", ok, symbols)
	}

	_, ok, err = c.LoadEligibleSymbols(now.Add(25 * time.Hour))
	if err != nil {
		t.Fatalf("LoadEligibleSymbols: %v", err)
	}
	if ok {
		t.Error("expected the cache to be considered stale after 24h")
	}
}
