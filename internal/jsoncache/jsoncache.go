// Package jsoncache persists the engine's append-merge JSON caches under
// caches/<exchange>/...: the per-user PnL ledger, per-symbol OHLCV
// candle lists, first-listing timestamps, and the 24h eligible-symbols
// list. Writes use atomic file replacement (write to .tmp, then rename) so
// a crash mid-save never corrupts the cache, the same pattern the
// market-making store package uses for position files.
package jsoncache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"forager/internal/pnl"
	"forager/internal/state"
)

// Cache roots one exchange's cache tree at caches/<exchange>.
type Cache struct {
	root string
	mu   sync.Mutex
}

// Open creates the cache directory tree for the given exchange if absent.
func Open(baseDir, exchange string) (*Cache, error) {
	root := filepath.Join(baseDir, "caches", exchange)
	if err := os.MkdirAll(filepath.Join(root, "ohlcvs"), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{root: root}, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

// pnlsPath returns caches/<exchange>/<user>_pnls.json.
func (c *Cache) pnlsPath(user string) string {
	return filepath.Join(c.root, user+"_pnls.json")
}

// LoadPnls reads the user's cached PnL fills, returning an empty slice if
// the cache file does not exist yet.
func (c *Cache) LoadPnls(user string) ([]pnl.Fill, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return readFills(c.pnlsPath(user))
}

func readFills(path string) ([]pnl.Fill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var fills []pnl.Fill
	if err := json.Unmarshal(data, &fills); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return fills, nil
}

// MergePnls appends fresh fills to the user's cache, deduplicating by ID,
// and writes the merged result atomically.
func (c *Cache) MergePnls(user string, fresh []pnl.Fill) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.pnlsPath(user)
	existing, err := readFills(path)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(existing))
	merged := make([]pnl.Fill, 0, len(existing)+len(fresh))
	for _, f := range existing {
		if !seen[f.ID] {
			seen[f.ID] = true
			merged = append(merged, f)
		}
	}
	for _, f := range fresh {
		if !seen[f.ID] {
			seen[f.ID] = true
			merged = append(merged, f)
		}
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal pnls: %w", err)
	}
	return writeAtomic(path, data)
}

// ohlcvPath returns caches/<exchange>/ohlcvs/<SYMBOL>.json.
func (c *Cache) ohlcvPath(symbol string) string {
	return filepath.Join(c.root, "ohlcvs", symbol+".json")
}

// LoadOHLCV reads the cached 1-minute candle list for symbol.
func (c *Cache) LoadOHLCV(symbol string) ([]state.HLC, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.ohlcvPath(symbol))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ohlcv cache: %w", err)
	}
	var bars []state.HLC
	if err := json.Unmarshal(data, &bars); err != nil {
		return nil, fmt.Errorf("unmarshal ohlcv cache: %w", err)
	}
	return bars, nil
}

// MergeOHLCV appends fresh bars to symbol's cache, upserting by minute
// timestamp, and writes the merged result atomically.
func (c *Cache) MergeOHLCV(symbol string, fresh []state.HLC) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.ohlcvPath(symbol)
	data, err := os.ReadFile(path)
	var existing []state.HLC
	if err == nil {
		if uerr := json.Unmarshal(data, &existing); uerr != nil {
			return fmt.Errorf("unmarshal ohlcv cache: %w", uerr)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read ohlcv cache: %w", err)
	}

	byTs := make(map[int64]state.HLC, len(existing)+len(fresh))
	for _, bar := range existing {
		byTs[bar.Ts] = bar
	}
	for _, bar := range fresh {
		byTs[bar.Ts] = bar
	}

	merged := make([]state.HLC, 0, len(byTs))
	for _, bar := range byTs {
		merged = append(merged, bar)
	}
	sortHLC(merged)

	out, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal ohlcv cache: %w", err)
	}
	return writeAtomic(path, out)
}

func sortHLC(bars []state.HLC) {
	for i := 1; i < len(bars); i++ {
		for j := i; j > 0 && bars[j].Ts < bars[j-1].Ts; j-- {
			bars[j], bars[j-1] = bars[j-1], bars[j]
		}
	}
}

// firstListingPath returns caches/<exchange>/first_ohlcv_timestamps.json.
func (c *Cache) firstListingPath() string {
	return filepath.Join(c.root, "first_ohlcv_timestamps.json")
}

// LoadFirstListingTimestamps reads the cached symbol -> first-candle-ts map.
func (c *Cache) LoadFirstListingTimestamps() (map[string]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.firstListingPath())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]int64{}, nil
		}
		return nil, fmt.Errorf("read first-listing cache: %w", err)
	}
	out := map[string]int64{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal first-listing cache: %w", err)
	}
	return out, nil
}

// SaveFirstListingTimestamps overwrites the cached symbol -> first-candle-ts
// map, keeping the earliest timestamp already on file for any symbol.
func (c *Cache) SaveFirstListingTimestamps(fresh map[string]int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.firstListingPath()
	existing := map[string]int64{}
	if data, err := os.ReadFile(path); err == nil {
		json.Unmarshal(data, &existing)
	}

	for sym, ts := range fresh {
		if cur, ok := existing[sym]; !ok || ts < cur {
			existing[sym] = ts
		}
	}

	data, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("marshal first-listing cache: %w", err)
	}
	return writeAtomic(path, data)
}

// eligibleSymbolsPath returns caches/<exchange>/eligible_symbols.json.
func (c *Cache) eligibleSymbolsPath() string {
	return filepath.Join(c.root, "eligible_symbols.json")
}

type eligibleSymbolsEntry struct {
	Symbols   []string  `json:"symbols"`
	CachedAt  time.Time `json:"cached_at"`
}

// LoadEligibleSymbols returns the cached eligible-symbols list if it is
// younger than 24h, and ok=false otherwise (forcing the caller to rebuild
// it from a fresh market/volume scan).
func (c *Cache) LoadEligibleSymbols(now time.Time) (symbols []string, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, rerr := os.ReadFile(c.eligibleSymbolsPath())
	if rerr != nil {
		if os.IsNotExist(rerr) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read eligible-symbols cache: %w", rerr)
	}
	var entry eligibleSymbolsEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("unmarshal eligible-symbols cache: %w", err)
	}
	if now.Sub(entry.CachedAt) > 24*time.Hour {
		return nil, false, nil
	}
	return entry.Symbols, true, nil
}

// SaveEligibleSymbols stamps and persists the eligible-symbols list.
func (c *Cache) SaveEligibleSymbols(symbols []string, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(eligibleSymbolsEntry{Symbols: symbols, CachedAt: now})
	if err != nil {
		return fmt.Errorf("marshal eligible-symbols cache: %w", err)
	}
	return writeAtomic(c.eligibleSymbolsPath(), data)
}
