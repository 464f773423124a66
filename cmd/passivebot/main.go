// Command passivebot is the forager engine's entrypoint: it loads the
// nested live/common/bot configuration, wires the Bitunix exchange adapter
// into the orchestrator, and runs the execution tick loop inside a restart
// loop capped at max_n_restarts_per_day, using a context+waitgroup+
// signal-driven shutdown pattern.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"forager/internal/cfg"
	"forager/internal/common"
	"forager/internal/exchange/bitunix"
	"forager/internal/grid"
	"forager/internal/jsoncache"
	"forager/internal/metrics"
	"forager/internal/orchestrator"
	"forager/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the live/common/bot configuration document")
	user := flag.String("user", "", "override live.user")
	flag.Parse()
	if flag.NArg() > 0 {
		*configPath = flag.Arg(0)
	}

	settings, err := cfg.Load(*configPath, cfg.Overrides{User: *user})
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	mw := metrics.NewWrapper(m)

	store, err := storage.New(settings.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("storage initialization failed, continuing without a local cache")
	} else {
		defer store.Close()
	}

	cache, err := jsoncache.Open(settings.DataPath, "bitunix")
	if err != nil {
		log.Warn().Err(err).Msg("jsoncache initialization failed, continuing without the disk-backed OHLCV/pnl cache")
		cache = nil
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{
			Addr:    fmt.Sprintf(":%d", settings.MetricsPort),
			Handler: mux,
		}
		go func() {
			<-ctx.Done()
			server.Shutdown(context.Background())
		}()
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	client := bitunix.NewClient(settings.Credentials.Key, settings.Credentials.Secret, settings.BaseURL, settings.RESTTimeout)
	defer client.Close()

	orchCfg := buildOrchestratorConfig(settings)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	symbols := make([]string, 0, len(orchCfg.Long)+len(orchCfg.Short))
	seen := make(map[string]bool)
	for symbol := range orchCfg.Long {
		if !seen[symbol] {
			seen[symbol] = true
			symbols = append(symbols, symbol)
		}
	}
	for symbol := range orchCfg.Short {
		if !seen[symbol] {
			seen[symbol] = true
			symbols = append(symbols, symbol)
		}
	}

	restarts := 0
	restartWindowStart := time.Now()
	const maxRestartsPerDay = common.DefaultMaxRestartsPerDay

	for {
		orch := orchestrator.New(client, orchCfg, mw, cache)
		client.NotifyFills(orch.NotifyFill)

		ws := bitunix.NewWS(settings.WsURL)
		go feedTickers(ctx, ws, symbols, orch, m)

		runErr := make(chan error, 1)
		go func() { runErr <- orch.Run(ctx) }()

		select {
		case <-sigChan:
			log.Info().Msg("shutdown signal received")
			cancel()
			<-runErr
			return
		case <-ctx.Done():
			<-runErr
			return
		case err := <-runErr:
			if err == nil || err == context.Canceled {
				return
			}

			if time.Since(restartWindowStart) > 24*time.Hour {
				restarts = 0
				restartWindowStart = time.Now()
			}
			restarts++
			m.RestartsTotal.Inc()
			if restarts > maxRestartsPerDay {
				log.Fatal().Err(err).Int("restarts", restarts).Msg("max restarts per day exceeded, giving up")
			}
			log.Error().Err(err).Int("restarts", restarts).Msg("engine run ended, restarting")
			time.Sleep(time.Second)
		}
	}
}

// feedTickers streams the low-latency ticker push path and relays each
// update into the orchestrator's shared state, supplementing (not
// replacing) its periodic REST ticker refresh.
func feedTickers(ctx context.Context, ws *bitunix.WS, symbols []string, orch *orchestrator.Orchestrator, m *metrics.Metrics) {
	go func() {
		if err := ws.Stream(ctx, symbols, 15*time.Second); err != nil && err != context.Canceled {
			log.Warn().Err(err).Msg("ticker stream ended")
			m.WSReconnects.Inc()
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, symbol := range symbols {
				if t, ok := ws.Snapshot(symbol); ok {
					orch.FeedTicker(symbol, t)
				}
			}
		}
	}
}

// buildOrchestratorConfig flattens the loaded configuration document into
// the orchestrator's tick-loop tunables and per-symbol side configs.
func buildOrchestratorConfig(s cfg.Settings) orchestrator.Config {
	doc := s.Doc

	toSet := func(coins []string) map[string]bool {
		out := make(map[string]bool, len(coins))
		for _, c := range coins {
			out[c] = true
		}
		return out
	}

	toSideConfigs := func(m map[string]cfg.LiveConfig, forcedMode string) map[string]orchestrator.SideConfig {
		out := make(map[string]orchestrator.SideConfig, len(m))
		for symbol, lc := range m {
			forced := lc.Mode
			if forced == "" {
				forced = forcedMode
			}
			if flags, ok := doc.Live.CoinFlags[symbol]; ok {
				if flags.Mode != "" {
					forced = flags.Mode
				}
				if flags.WalletExposureLimit != 0 {
					lc.WalletExposureLimit = flags.WalletExposureLimit
				}
			}
			out[symbol] = orchestrator.SideConfig{
				Enabled:                 lc.Enabled,
				ForcedMode:              forced,
				AutoGS:                  doc.Live.AutoGS,
				WalletExposureLimit:     lc.WalletExposureLimit,
				UnstuckThreshold:        lc.UnstuckThreshold,
				UnstuckClosePct:         lc.UnstuckClosePct,
				UnstuckEMADist:          lc.UnstuckEMADist,
				UnstuckLossAllowancePct: lc.UnstuckLossAllowancePct,
				EMASpan0:                lc.EMASpan0,
				EMASpan1:                lc.EMASpan1,
				Params: grid.Params{
					EntryInitialEMADist:      lc.EntryInitialEMADist,
					EntryInitialQtyPct:       lc.EntryInitialQtyPct,
					EntryGridSpacingPct:      lc.EntryGridSpacingPct,
					EntryGridSpacingWeight:   lc.EntryGridSpacingWeight,
					EntryGridDoubleDownFctr:  lc.EntryGridDoubleDownFactor,
					EntryTrailingThreshold:   lc.EntryTrailingThresholdPct,
					EntryTrailingRetracement: lc.EntryTrailingRetracementPct,
					EntryTrailingGridRatio:   lc.EntryTrailingGridRatio,
					CloseGridMinMarkup:       lc.CloseGridMinMarkup,
					CloseGridMarkupRange:     lc.CloseGridMarkupRange,
					CloseGridNOrders:         lc.CloseGridNOrders,
					CloseGridQtyPct:          lc.CloseGridQtyPct,
					CloseTrailingThreshold:   lc.CloseTrailingThresholdPct,
					CloseTrailingRetracement: lc.CloseTrailingRetracementPct,
					CloseTrailingGridRatio:   lc.CloseTrailingGridRatio,
					WalletExposureLimit:      lc.WalletExposureLimit,
				},
			}
		}
		return out
	}

	return orchestrator.Config{
		ApprovedCoins:               toSet(doc.Live.ApprovedCoins),
		IgnoredCoins:                toSet(doc.Live.IgnoredCoins),
		Quote:                       doc.Common.Quote,
		MinimumCoinAgeDays:          doc.Common.MinimumCoinAgeDays,
		RelativeVolumeFilterClipPct: doc.Common.RelativeVolumeFilterClipPct,
		NoisinessWindowMinutes:      doc.Common.NoisinessRollingMeanWindowSize,
		NPositionsLong:              doc.Live.NPositionsLong,
		NPositionsShort:             doc.Live.NPositionsShort,
		PriceDistanceThreshold:      doc.Live.PriceDistanceThreshold,
		ExecutionDelay:              time.Duration(doc.Live.ExecutionDelaySeconds * float64(time.Second)),
		ForceUpdateAge:              common.DefaultForceUpdateAgeMillis * time.Millisecond,
		MaxCancelsPerBatch:          doc.Live.MaxNCancellationsPerBatch,
		MaxCreatesPerBatch:          doc.Live.MaxNCreationsPerBatch,
		MaxOpenOrders:               common.DefaultMaxOpenOrdersPerExch,
		PnlsMaxLookback:             time.Duration(doc.Live.PnlsMaxLookbackDays * float64(24*time.Hour)),
		MaxErrorsPerHour:            common.DefaultErrorRateBreachPerHour,
		User:                        doc.Live.User,
		Long:                        toSideConfigs(doc.Bot.Long, doc.Live.ForcedModeLong),
		Short:                       toSideConfigs(doc.Bot.Short, doc.Live.ForcedModeShort),
	}
}
