package storage

import (
	"os"
	"path/filepath"
	"testing"

	"forager/internal/pnl"
	"forager/internal/state"
)

func TestNew(t *testing.T) {
	tempDir := t.TempDir()

	store, err := New(tempDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if store.db == nil {
		t.Error("Store database is nil")
	}

	dbPath := filepath.Join(tempDir, "forager-cache.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestNew_InvalidPath(t *testing.T) {
	invalidPath := "/root/nonexistent/path"

	_, err := New(invalidPath)
	if err == nil {
		t.Error("Expected error for invalid path, got nil")
	}
}

func TestStore_Close(t *testing.T) {
	tempDir := t.TempDir()

	store, err := New(tempDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Errorf("Error closing store: %v", err)
	}

	// Closing an already-closed store must not panic or error.
	if err := store.Close(); err != nil {
		t.Errorf("Error closing already closed store: %v", err)
	}
}

func TestStoreAndRangeHLC(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	bars := []state.HLC{
		{Ts: 60_000, High: 101, Low: 99, Close: 100, Volume: 10},
		{Ts: 120_000, High: 103, Low: 100, Close: 102, Volume: 12},
		{Ts: 180_000, High: 105, Low: 101, Close: 104, Volume: 8},
	}
	for _, bar := range bars {
		if err := store.StoreHLC("BTCUSDT", bar); err != nil {
			t.Fatalf("StoreHLC failed: %v", err)
		}
	}

	got, err := store.HLCRange("BTCUSDT", 60_000, 120_000)
	if err != nil {
		t.Fatalf("HLCRange failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 bars in range, got %d", len(got))
	}
	if got[0].Ts != 60_000 || got[1].Ts != 120_000 {
		t.Errorf("expected bars ordered by ts, got %+v", got)
	}
}

func TestHLCRangeIsolatesSymbols(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	store.StoreHLC("BTCUSDT", state.HLC{Ts: 60_000, High: 1, Low: 1, Close: 1})
	store.StoreHLC("ETHUSDT", state.HLC{Ts: 60_000, High: 2, Low: 2, Close: 2})

	got, err := store.HLCRange("BTCUSDT", 0, 1<<62)
	if err != nil {
		t.Fatalf("HLCRange failed: %v", err)
	}
	if len(got) != 1 || got[0].Close != 1 {
		t.Fatalf("expected only BTCUSDT's bar, got %+v", got)
	}
}

func TestStoreAndRangePnlFills(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	fills := []pnl.Fill{
		{ID: "f1", Symbol: "BTCUSDT", Ts: 1000, RealizedPnl: 1.5},
		{ID: "f2", Symbol: "BTCUSDT", Ts: 2000, RealizedPnl: -0.5},
	}
	for _, f := range fills {
		if err := store.StorePnlFill(f); err != nil {
			t.Fatalf("StorePnlFill failed: %v", err)
		}
	}

	got, err := store.PnlFillsSince("BTCUSDT", 1500)
	if err != nil {
		t.Fatalf("PnlFillsSince failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "f2" {
		t.Fatalf("expected only the later fill, got %+v", got)
	}
}
