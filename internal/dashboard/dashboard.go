// Package dashboard renders the structured position-change table required
// whenever positions change, a log-table renderer matching
// passivbot_forager.py's log_position_changes.
package dashboard

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"forager/internal/state"
)

// Board tracks the last-rendered snapshot per symbol so RenderIfChanged can
// diff against it and print only on an actual change.
type Board struct {
	mu   sync.Mutex
	last map[string]map[string]state.Position
}

// New returns an empty board.
func New() *Board {
	return &Board{last: make(map[string]map[string]state.Position)}
}

// RenderIfChanged compares the last-rendered per-side position snapshot for
// symbol (or before, on the symbol's first render) with after and, if
// anything differs, logs a structured row per changed side.
func (b *Board) RenderIfChanged(symbol string, before, after map[string]state.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if prevSnap, ok := b.last[symbol]; ok {
		before = prevSnap
	}

	for side, next := range after {
		prev := before[side]
		if prev.Size == next.Size && prev.EntryPrice == next.EntryPrice {
			continue
		}
		logRow(symbol, side, prev, next)
	}
	for side, prev := range before {
		if _, stillPresent := after[side]; stillPresent {
			continue
		}
		logRow(symbol, side, prev, state.Position{Symbol: symbol, Side: side})
	}

	snapshot := make(map[string]state.Position, len(after))
	for side, p := range after {
		snapshot[side] = p
	}
	b.last[symbol] = snapshot
}

func logRow(symbol, side string, before, after state.Position) {
	delta := after.Size - before.Size
	log.Info().
		Str("symbol", symbol).
		Str("side", side).
		Float64("old_size", before.Size).
		Float64("new_size", after.Size).
		Float64("delta", delta).
		Float64("old_price", before.EntryPrice).
		Float64("new_price", after.EntryPrice).
		Msg("position changed")
}

// Table renders a one-shot plain-text table, independent of logging sinks.
func Table(positions map[string]map[string]state.Position) string {
	out := "SYMBOL       SIDE   SIZE         ENTRY\n"
	for symbol, sides := range positions {
		for side, p := range sides {
			if p.Size == 0 {
				continue
			}
			out += fmt.Sprintf("%-12s %-6s %-12.6f %-10.4f\n", symbol, side, p.Size, p.EntryPrice)
		}
	}
	return out
}
