// Package mode implements forager symbol selection and the per-side
// operating-mode assignment, grounded on passivbot_forager.py's
// is_forager_mode/symbol_is_eligible/update_PB_modes/calc_noisiness/
// calc_volumes and the effective_min_cost/is_old_enough filters named in
// the supplemented-features section.
package mode

import (
	"sort"

	"forager/internal/common"
)

// SymbolInfo is everything the forager filter and ranking need about one
// candidate symbol for a single side.
type SymbolInfo struct {
	Symbol           string
	Active           bool
	Linear           bool
	Quote            string
	ListedDays       float64
	EffectiveMinCost float64
	RelativeVolume   float64
	Noisiness        float64
	HasPosition      bool
	HasOpenOrder     bool
}

// EligibilityParams bundles the config fields the eligibility filter and
// ranking need.
type EligibilityParams struct {
	ApprovedCoins               map[string]bool
	IgnoredCoins                map[string]bool
	Quote                       string
	MinimumCoinAgeDays          float64
	Balance                     float64
	WELimit                     float64
	EntryInitialQtyPct          float64
	RelativeVolumeFilterClipPct float64
}

// Eligible filters candidates down to the forager-eligible set: approved,
// not ignored, active, linear, correct quote, old enough, and passing the
// effective_min_cost floor.
func Eligible(candidates []SymbolInfo, p EligibilityParams) []SymbolInfo {
	out := make([]SymbolInfo, 0, len(candidates))
	for _, c := range candidates {
		if len(p.ApprovedCoins) > 0 && !p.ApprovedCoins[c.Symbol] {
			continue
		}
		if p.IgnoredCoins[c.Symbol] {
			continue
		}
		if !c.Active || !c.Linear {
			continue
		}
		if p.Quote != "" && c.Quote != p.Quote {
			continue
		}
		if c.ListedDays < p.MinimumCoinAgeDays {
			continue
		}
		if p.Balance*p.WELimit*p.EntryInitialQtyPct < c.EffectiveMinCost {
			continue
		}
		out = append(out, c)
	}
	return out
}

// ClipByRelativeVolume drops the bottom relativeVolumeFilterClipPct fraction
// of candidates ranked by RelativeVolume, when the clip is enabled.
func ClipByRelativeVolume(candidates []SymbolInfo, clipPct float64) []SymbolInfo {
	if clipPct <= 0 || len(candidates) == 0 {
		return candidates
	}
	sorted := append([]SymbolInfo(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RelativeVolume > sorted[j].RelativeVolume })

	keep := len(sorted) - int(float64(len(sorted))*clipPct)
	if keep < 0 {
		keep = 0
	}
	return sorted[:keep]
}

// RankByNoisiness orders candidates most-noisy first (glossary: mean of
// (high-low)/close over a trailing OHLC window).
func RankByNoisiness(candidates []SymbolInfo) []SymbolInfo {
	sorted := append([]SymbolInfo(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Noisiness > sorted[j].Noisiness })
	return sorted
}

// SelectActive reserves slots for symbols already carrying a position or
// open order, then fills the remaining slots up to nPositions from the
// noisiness-ranked remainder.
func SelectActive(eligible []SymbolInfo, nPositions int) []string {
	reserved := make([]string, 0, nPositions)
	seen := make(map[string]bool)
	for _, c := range eligible {
		if c.HasPosition || c.HasOpenOrder {
			reserved = append(reserved, c.Symbol)
			seen[c.Symbol] = true
		}
	}

	ranked := RankByNoisiness(eligible)
	for _, c := range ranked {
		if len(reserved) >= nPositions {
			break
		}
		if seen[c.Symbol] {
			continue
		}
		reserved = append(reserved, c.Symbol)
		seen[c.Symbol] = true
	}
	return reserved
}

// AssignParams bundles the forced-mode / auto_gs inputs for mode assignment.
type AssignParams struct {
	ForcedMode  string // "" if unset
	ActiveSet   map[string]bool
	HasPosition bool
	MarketActive bool
	AutoGS      bool
}

// AssignMode returns the operating mode for one symbol x side, per the
// assignment order: forced mode wins, then active-set membership; a symbol
// still carrying a position gets tp_only if its market is inactive, else
// graceful_stop (auto_gs) or manual.
func AssignMode(symbol string, p AssignParams) string {
	if p.ForcedMode != "" {
		return p.ForcedMode
	}
	if p.ActiveSet[symbol] {
		return common.ModeNormal
	}
	if p.HasPosition {
		if !p.MarketActive {
			return common.ModeTPOnly
		}
		if p.AutoGS {
			return common.ModeGracefulStop
		}
		return common.ModeManual
	}
	return common.ModeManual
}

// WEPerSymbol divides the side's total wallet-exposure limit equally among
// its currently active symbols.
func WEPerSymbol(totalWELimit float64, nActive int) float64 {
	if nActive <= 0 {
		return totalWELimit
	}
	return totalWELimit / float64(nActive)
}
