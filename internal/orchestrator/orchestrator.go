// Package orchestrator wires the maintainers, the execution-tick loop, and
// the restart policy, following a context+waitgroup+signal-driven main
// loop style.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"forager/internal/common"
	"forager/internal/compose"
	"forager/internal/dashboard"
	"forager/internal/grid"
	"forager/internal/jsoncache"
	"forager/internal/market"
	"forager/internal/metrics"
	"forager/internal/mode"
	"forager/internal/pnl"
	"forager/internal/reconcile"
	"forager/internal/state"
	"forager/internal/unstuck"
)

// Exchange is the subset of the full adapter contract the orchestrator
// drives directly; reconcile.Exchanger covers order dispatch.
type Exchange interface {
	reconcile.Exchanger
	LoadMarkets(ctx context.Context) (map[string]market.Market, error)
	FetchTickers(ctx context.Context) (map[string]state.Ticker, error)
	FetchPositions(ctx context.Context) ([]state.Position, float64, error)
	FetchOpenOrders(ctx context.Context) ([]state.Order, error)
	FetchOHLCV1m(ctx context.Context, symbol string, sinceMs int64) ([]state.HLC, error)
	FetchPnlFills(ctx context.Context, startMs int64) ([]pnl.Fill, error)
}

// SideConfig bundles one symbol × side's LiveConfig-derived parameters.
type SideConfig struct {
	Enabled            bool
	ForcedMode         string
	AutoGS             bool
	WalletExposureLimit float64
	Params             grid.Params
	UnstuckThreshold   float64
	UnstuckClosePct    float64
	UnstuckEMADist     float64
	UnstuckLossAllowancePct float64
	EMASpan0, EMASpan1 float64
}

// Config bundles the tick loop's tunables (live/common sections).
type Config struct {
	ApprovedCoins               map[string]bool
	IgnoredCoins                map[string]bool
	Quote                       string
	MinimumCoinAgeDays          float64
	RelativeVolumeFilterClipPct float64
	NoisinessWindowMinutes      int
	NPositionsLong              int
	NPositionsShort             int
	PriceDistanceThreshold      float64
	ExecutionDelay              time.Duration
	ForceUpdateAge              time.Duration
	MaxCancelsPerBatch          int
	MaxCreatesPerBatch          int
	MaxOpenOrders               int
	PnlsMaxLookback             time.Duration
	MaxErrorsPerHour            int
	User                        string // live.user, keys the jsoncache pnl file
	Long, Short                 map[string]SideConfig // per symbol
}

// Orchestrator owns one exchange adapter, the shared state store, the PnL
// ledger, and drives maintainers + the execution tick loop.
type Orchestrator struct {
	ex      Exchange
	store   *state.Store
	markets *market.Table
	ledger  *pnl.Ledger
	cfg     Config
	board   *dashboard.Board
	metrics *metrics.MetricsWrapper
	cache   *jsoncache.Cache

	mu           sync.Mutex
	lastTick     time.Time
	errorWindow  []time.Time
	lastFillSeen bool
}

// New builds an orchestrator from its collaborators. mw and cache may be
// nil, in which case metrics are not recorded and the local JSON caches
// are neither warmed from nor written to disk.
func New(ex Exchange, cfg Config, mw *metrics.MetricsWrapper, cache *jsoncache.Cache) *Orchestrator {
	return &Orchestrator{
		ex:      ex,
		store:   state.New(),
		markets: market.NewTable(),
		ledger:  pnl.NewLedger(cfg.PnlsMaxLookback),
		cfg:     cfg,
		board:   dashboard.New(),
		metrics: mw,
		cache:   cache,
	}
}

// Warm seeds the state store and pnl ledger from the on-disk jsoncache
// before the maintainers take over, so a restart doesn't start blind: a
// symbol's ListedDays, its retained HLC bars and the PnL fills survive
// process restarts even though the in-memory state store itself does not.
// EMAs and trailing extremes are not rebuilt from the warmed bars.
func (o *Orchestrator) Warm(symbols []string) {
	if o.cache == nil {
		return
	}
	if firstSeen, err := o.cache.LoadFirstListingTimestamps(); err != nil {
		log.Warn().Err(err).Msg("first-listing cache load failed")
	} else {
		for symbol, ts := range firstSeen {
			o.store.SeedFirstSeen(symbol, ts)
		}
	}
	for _, symbol := range symbols {
		bars, err := o.cache.LoadOHLCV(symbol)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("ohlcv cache load failed")
			continue
		}
		for _, bar := range bars {
			o.store.AppendHLC(symbol, bar)
		}
	}
	if o.cfg.User != "" {
		if fills, err := o.cache.LoadPnls(o.cfg.User); err != nil {
			log.Warn().Err(err).Msg("pnl cache load failed")
		} else {
			o.ledger.Merge(fills, time.Now())
		}
	}
}

// configuredSymbols returns the union of symbols configured on either side,
// used to prime the jsoncache warm-up before any market data has arrived.
func (o *Orchestrator) configuredSymbols() []string {
	seen := make(map[string]bool, len(o.cfg.Long)+len(o.cfg.Short))
	var out []string
	for symbol := range o.cfg.Long {
		if !seen[symbol] {
			seen[symbol] = true
			out = append(out, symbol)
		}
	}
	for symbol := range o.cfg.Short {
		if !seen[symbol] {
			seen[symbol] = true
			out = append(out, symbol)
		}
	}
	return out
}

// FeedTicker lets a supplementary low-latency push source (the WS ticker
// stream) update the shared ticker snapshot between REST maintainer cycles.
func (o *Orchestrator) FeedTicker(symbol string, t state.Ticker) {
	o.store.SetTicker(symbol, t)
}

// NotifyFill marks that the exchange client's fill watcher saw a tracked
// order leave the open-order set, forcing the next
// tick to re-fetch positions/orders/pnl.
func (o *Orchestrator) NotifyFill(symbol string) {
	o.store.InvalidateTimestamps(symbol)
	o.mu.Lock()
	o.lastFillSeen = true
	o.mu.Unlock()
}

// Run starts maintainers and the execution tick loop, returning when ctx is
// cancelled or the restart policy trips an aggregate error-rate breach.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.Warm(o.configuredSymbols())

	var wg sync.WaitGroup

	maintainers := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context) error
	}{
		{"markets", time.Hour, o.refreshMarkets},
		{"tickers", 5 * time.Second, o.refreshTickers},
		{"positions_orders_pnl", 30 * time.Second, o.refreshPositionsOrdersPnl},
		{"hlc_1m", time.Minute, o.refreshHLC},
	}

	for _, m := range maintainers {
		wg.Add(1)
		go func(name string, interval time.Duration, fn func(context.Context) error) {
			defer wg.Done()
			o.runMaintainer(ctx, name, interval, fn)
		}(m.name, m.interval, m.fn)
	}

	tickErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		tickErr <- o.runTickLoop(ctx)
	}()

	select {
	case <-ctx.Done():
		wg.Wait()
		return ctx.Err()
	case err := <-tickErr:
		wg.Wait()
		return err
	}
}

func (o *Orchestrator) runMaintainer(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				log.Warn().Err(err).Str("maintainer", name).Msg("maintainer cycle failed, retrying next interval")
			}
		}
	}
}

func (o *Orchestrator) runTickLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			start := time.Now()
			err := o.tick(ctx)
			if o.metrics != nil {
				o.metrics.TicksTotal().Inc()
				o.metrics.TickDuration().Observe(time.Since(start).Seconds())
			}
			if err != nil {
				if o.metrics != nil {
					o.metrics.ErrorsTotal().Inc()
				}
				if o.recordError() {
					return fmt.Errorf("aggregate error-rate breach: %w", err)
				}
				log.Error().Err(err).Msg("execution tick failed, isolating and continuing")
			}
		}
	}
}

// recordError appends an error timestamp and reports whether the hourly
// breach threshold has been exceeded.
func (o *Orchestrator) recordError() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := time.Now()
	o.errorWindow = append(o.errorWindow, now)

	cutoff := now.Add(-time.Hour)
	kept := o.errorWindow[:0]
	for _, t := range o.errorWindow {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	o.errorWindow = kept

	return len(o.errorWindow) > o.cfg.MaxErrorsPerHour
}

func (o *Orchestrator) tick(ctx context.Context) error {
	o.mu.Lock()
	if time.Since(o.lastTick) < o.cfg.ExecutionDelay {
		o.mu.Unlock()
		return nil
	}
	o.lastTick = time.Now()
	fillSeen := o.lastFillSeen
	o.lastFillSeen = false
	o.mu.Unlock()

	if fillSeen {
		for _, sym := range o.store.Symbols() {
			o.store.InvalidateTimestamps(sym)
		}
	}

	if err := o.forceRefreshStale(ctx); err != nil {
		return fmt.Errorf("force refresh: %w", err)
	}

	var active []string
	for _, side := range []string{common.SideLong, common.SideShort} {
		sideActive, err := o.tickSide(ctx, side)
		if err != nil {
			log.Error().Err(err).Str("side", side).Msg("side tick failed, isolating and continuing")
			continue
		}
		active = append(active, sideActive...)
	}
	if o.cache != nil && len(active) > 0 {
		if err := o.cache.SaveEligibleSymbols(active, time.Now()); err != nil {
			log.Warn().Err(err).Msg("eligible-symbols cache save failed")
		}
	}
	return nil
}

func (o *Orchestrator) forceRefreshStale(ctx context.Context) error {
	for _, sym := range o.store.Symbols() {
		age := o.store.Age(sym, time.Now())
		if age.Positions > o.cfg.ForceUpdateAge || age.Orders > o.cfg.ForceUpdateAge {
			if err := o.refreshPositionsOrdersPnl(ctx); err != nil {
				return err
			}
			break
		}
	}
	return nil
}

func (o *Orchestrator) tickSide(ctx context.Context, side string) ([]string, error) {
	sideConfigs := o.cfg.Long
	nPositions := o.cfg.NPositionsLong
	if side == common.SideShort {
		sideConfigs = o.cfg.Short
		nPositions = o.cfg.NPositionsShort
	}

	candidates := o.buildCandidates(side, sideConfigs)
	eligible := mode.Eligible(candidates, mode.EligibilityParams{
		ApprovedCoins:      o.cfg.ApprovedCoins,
		IgnoredCoins:       o.cfg.IgnoredCoins,
		Quote:              o.cfg.Quote,
		MinimumCoinAgeDays: o.cfg.MinimumCoinAgeDays,
		Balance:            o.currentBalance(),
		WELimit:            1.0,
		EntryInitialQtyPct: 0.05,
	})
	eligible = mode.ClipByRelativeVolume(eligible, o.cfg.RelativeVolumeFilterClipPct)
	activeList := mode.SelectActive(eligible, nPositions)
	activeSet := make(map[string]bool, len(activeList))
	for _, s := range activeList {
		activeSet[s] = true
	}

	wePerSymbol := mode.WEPerSymbol(totalWE(sideConfigs), len(activeList))

	var unstuckCandidates []unstuck.Candidate
	ideals := make(map[string][]grid.Order)

	for symbol, sc := range sideConfigs {
		if !sc.Enabled {
			continue
		}
		m, ok := o.markets.Get(symbol)
		if !ok {
			continue
		}
		assigned := mode.AssignMode(symbol, mode.AssignParams{
			ForcedMode:   sc.ForcedMode,
			ActiveSet:    activeSet,
			HasPosition:  o.hasPosition(symbol, side),
			MarketActive: m.Active,
			AutoGS:       sc.AutoGS,
		})

		in := o.buildComposeInput(symbol, side, assigned, m, sc, wePerSymbol)
		ideals[symbol] = compose.Compose(in)

		if pos, ok := o.store.Position(symbol, side); ok && pos.Size != 0 {
			unstuckCandidates = append(unstuckCandidates, o.buildUnstuckCandidate(symbol, side, pos, m, sc, wePerSymbol))
		}
	}

	sel, selected := unstuck.Select(unstuckCandidates, o.ledger.LossAllowance(sideConfigForLossAllowance(sideConfigs)))
	if selected {
		ideals[sel.Symbol] = compose.ApplyUnstuck(ideals[sel.Symbol], sel.Close, true)
		log.Info().Str("symbol", sel.Symbol).Str("side", side).Float64("price", sel.Close.Price).Float64("qty", sel.Close.Qty).Str("source", "unstuck").Msg("unstuck close scheduled")
		if o.metrics != nil {
			o.metrics.UnstuckTriggers().Inc()
		}
	}

	if o.metrics != nil {
		for _, orders := range ideals {
			o.metrics.IdealOrdersComposed().Add(float64(len(orders)))
		}
	}

	for symbol, idealOrders := range ideals {
		if err := o.reconcileSymbol(ctx, symbol, side, idealOrders); err != nil {
			log.Error().Err(err).Str("symbol", symbol).Str("side", side).Msg("reconcile failed, isolating symbol")
		}
	}
	return activeList, nil
}

func sideConfigForLossAllowance(sideConfigs map[string]SideConfig) float64 {
	for _, sc := range sideConfigs {
		return sc.UnstuckLossAllowancePct
	}
	return 0
}

func totalWE(sideConfigs map[string]SideConfig) float64 {
	total := 0.0
	for _, sc := range sideConfigs {
		if total < sc.WalletExposureLimit {
			total = sc.WalletExposureLimit
		}
	}
	return total
}

func (o *Orchestrator) hasPosition(symbol, side string) bool {
	p, ok := o.store.Position(symbol, side)
	return ok && p.Size != 0
}

func (o *Orchestrator) currentBalance() float64 {
	return o.ledger.PeakBalance()
}

func (o *Orchestrator) buildCandidates(side string, sideConfigs map[string]SideConfig) []mode.SymbolInfo {
	var out []mode.SymbolInfo
	for symbol := range sideConfigs {
		m, ok := o.markets.Get(symbol)
		if !ok {
			continue
		}
		last := o.store.Ticker(symbol).Last
		out = append(out, mode.SymbolInfo{
			Symbol:           symbol,
			Active:           m.Active,
			Linear:           !m.Inverse,
			Quote:            o.cfg.Quote,
			ListedDays:       o.store.ListedDays(symbol, time.Now()),
			EffectiveMinCost: m.EffectiveMinCost(last),
			RelativeVolume:   o.store.RelativeVolume(symbol, o.cfg.NoisinessWindowMinutes),
			Noisiness:        o.store.Noisiness(symbol, o.cfg.NoisinessWindowMinutes),
			HasPosition:      o.hasPosition(symbol, side),
			HasOpenOrder:     len(o.store.OpenOrders(symbol)) > 0,
		})
	}
	return out
}

func (o *Orchestrator) buildComposeInput(symbol, side, assignedMode string, m market.Market, sc SideConfig, welimit float64) compose.Input {
	ticker := o.store.Ticker(symbol)
	ema := o.store.EMA(symbol, side)
	pos, _ := o.store.Position(symbol, side)

	p := sc.Params
	p.WalletExposureLimit = welimit

	return compose.Input{
		Symbol:                 symbol,
		Side:                   side,
		Mode:                   assignedMode,
		PSize:                  pos.Size,
		PPrice:                 pos.EntryPrice,
		Balance:                o.currentBalance(),
		Last:                   ticker.Last,
		BestBid:                ticker.Bid,
		BestAsk:                ticker.Ask,
		EMALow:                 ema.E0,
		EMAHigh:                ema.E2,
		EntryExtremes:          o.store.Extremes(symbol, side),
		CloseExtremes:          o.store.Extremes(symbol, side),
		Market:                 m,
		Params:                 p,
		PriceDistanceThreshold: o.cfg.PriceDistanceThreshold,
	}
}

func (o *Orchestrator) buildUnstuckCandidate(symbol, side string, pos state.Position, m market.Market, sc SideConfig, welimit float64) unstuck.Candidate {
	ticker := o.store.Ticker(symbol)
	ema := o.store.EMA(symbol, side)
	return unstuck.Candidate{
		Symbol:           symbol,
		Side:             side,
		PSize:            pos.Size,
		PPrice:           pos.EntryPrice,
		Last:             ticker.Last,
		BestBid:          ticker.Bid,
		BestAsk:          ticker.Ask,
		EMAHigh:          ema.E2,
		EMALow:           ema.E0,
		WELimit:          welimit,
		Market:           m,
		Balance:          o.currentBalance(),
		UnstuckThreshold: sc.UnstuckThreshold,
		UnstuckClosePct:  sc.UnstuckClosePct,
		UnstuckEMADist:   sc.UnstuckEMADist,
	}
}

func (o *Orchestrator) reconcileSymbol(ctx context.Context, symbol, side string, idealGridOrders []grid.Order) error {
	m, err := o.markets.MustGet(symbol)
	if err != nil {
		return err
	}
	ticker := o.store.Ticker(symbol)

	ideal := toStateOrders(symbol, side, idealGridOrders)
	actual := filterBySide(o.store.OpenOrders(symbol), side)

	oldPositions := snapshotPositions(o.store, symbol)

	toCancel, toCreate := Diff(ideal, actual, m.QtyStep, m.PriceTick)
	reconcile.SortByPriceDistance(toCancel, ticker.Last)
	reconcile.SortByPriceDistance(toCreate, ticker.Last)
	toCreate = reconcile.TruncateToOpenOrderCap(toCreate, len(actual), o.cfg.MaxOpenOrders, ticker.Last)
	toCancel, toCreate = reconcile.Trim(toCancel, toCreate, reconcile.Caps{
		MaxCancelsPerBatch: o.cfg.MaxCancelsPerBatch,
		MaxCreatesPerBatch: o.cfg.MaxCreatesPerBatch,
		MaxOpenOrders:      o.cfg.MaxOpenOrders,
	})

	res := reconcile.Dispatch(ctx, o.ex, toCancel, toCreate)
	for _, err := range res.Errors {
		log.Warn().Err(err).Str("symbol", symbol).Msg("reconcile dispatch error, will re-evaluate next tick")
	}

	for _, o2 := range res.Created {
		log.Info().Str("symbol", symbol).Str("side", side).Float64("price", o2.Price).Float64("qty", o2.Qty).Str("source", "POST").Msg("order created")
	}

	if o.metrics != nil {
		o.metrics.CancelsDispatched().Add(float64(len(toCancel)))
		o.metrics.CreatesDispatched().Add(float64(len(res.Created)))
		o.metrics.OrdersTotal().Add(float64(len(res.Created)))
		o.metrics.ReconcileBatchSize().Observe(float64(len(toCancel) + len(toCreate)))
	}

	o.board.RenderIfChanged(symbol, oldPositions, snapshotPositions(o.store, symbol))
	return nil
}

func toStateOrders(symbol, side string, orders []grid.Order) []state.Order {
	out := make([]state.Order, 0, len(orders))
	for _, o := range orders {
		orderSide := common.OrderSideBuy
		if o.Qty < 0 {
			orderSide = common.OrderSideSell
		}
		out = append(out, state.Order{
			Symbol:       symbol,
			Side:         orderSide,
			PositionSide: side,
			Qty:          absf(o.Qty),
			Price:        o.Price,
			ReduceOnly:   o.ReduceOnly,
		})
	}
	return out
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func filterBySide(orders []state.Order, side string) []state.Order {
	out := orders[:0:0]
	for _, o := range orders {
		if o.PositionSide == side {
			out = append(out, o)
		}
	}
	return out
}

func snapshotPositions(s *state.Store, symbol string) map[string]state.Position {
	out := make(map[string]state.Position, 2)
	for _, side := range []string{common.SideLong, common.SideShort} {
		if p, ok := s.Position(symbol, side); ok {
			out[side] = p
		}
	}
	return out
}

// Diff re-exports reconcile.Diff at the orchestrator's call site for
// readability; kept as a thin indirection rather than importing twice.
func Diff(ideal, actual []state.Order, qtyStep, priceTick float64) ([]state.Order, []state.Order) {
	return reconcile.Diff(ideal, actual, qtyStep, priceTick)
}

func (o *Orchestrator) refreshMarkets(ctx context.Context) error {
	markets, err := o.ex.LoadMarkets(ctx)
	if err != nil {
		return err
	}
	o.markets.Replace(markets)
	return nil
}

func (o *Orchestrator) refreshTickers(ctx context.Context) error {
	tickers, err := o.ex.FetchTickers(ctx)
	if err != nil {
		return err
	}
	for symbol, t := range tickers {
		o.store.SetTicker(symbol, t)
	}
	return nil
}

func (o *Orchestrator) refreshPositionsOrdersPnl(ctx context.Context) error {
	positions, balance, err := o.ex.FetchPositions(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for _, p := range positions {
		o.store.SetPosition(p.Symbol, p, now)
	}
	o.ledger.UpdatePeakBalance(balance)

	orders, err := o.ex.FetchOpenOrders(ctx)
	if err != nil {
		return err
	}
	bySymbol := make(map[string][]state.Order)
	for _, ord := range orders {
		bySymbol[ord.Symbol] = append(bySymbol[ord.Symbol], ord)
	}
	for symbol, ords := range bySymbol {
		o.store.SetOpenOrders(symbol, ords, now)
	}

	fills, err := o.ex.FetchPnlFills(ctx, time.Now().Add(-o.cfg.PnlsMaxLookback).UnixMilli())
	if err != nil {
		return err
	}
	o.ledger.Merge(fills, time.Now())
	for symbol := range bySymbol {
		o.store.MarkPnlRefreshed(symbol, time.Now())
	}

	if o.cache != nil && o.cfg.User != "" && len(fills) > 0 {
		if err := o.cache.MergePnls(o.cfg.User, fills); err != nil {
			log.Warn().Err(err).Msg("pnl cache merge failed")
		}
	}

	if o.metrics != nil {
		o.metrics.PnLTotal().Set(o.ledger.RealizedInWindow())
		bySide := make(map[string]float64, len(positions))
		for _, p := range positions {
			bySide[p.Symbol+":"+p.Side] = p.Size
		}
		o.metrics.UpdatePositions(bySide)
	}
	return nil
}

func (o *Orchestrator) refreshHLC(ctx context.Context) error {
	for _, symbol := range o.store.Symbols() {
		since := o.store.LastPositionChangeTs(symbol)
		bars, err := o.ex.FetchOHLCV1m(ctx, symbol, since)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("hlc refresh failed, retrying next interval")
			continue
		}
		for _, bar := range bars {
			o.store.AppendHLC(symbol, bar)
			o.store.UpdateExtremes(symbol, common.SideLong, bar.High, bar.Low)
			o.store.UpdateExtremes(symbol, common.SideShort, bar.High, bar.Low)
		}
		if o.cache != nil && len(bars) > 0 {
			if err := o.cache.MergeOHLCV(symbol, bars); err != nil {
				log.Warn().Err(err).Str("symbol", symbol).Msg("ohlcv cache merge failed")
			}
			if err := o.cache.SaveFirstListingTimestamps(map[string]int64{symbol: o.store.FirstSeen(symbol)}); err != nil {
				log.Warn().Err(err).Str("symbol", symbol).Msg("first-listing cache save failed")
			}
		}
	}
	return nil
}
