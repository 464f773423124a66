// Package cfg loads and validates the nested live/common/bot.long/bot.short
// configuration document, following a YAML+env+validateX decomposition
// pattern: one validate function per concern, environment variables for the
// process settings the YAML document does not carry (metrics port, REST
// timeout, endpoints, data path, credentials file), godotenv for local .env
// loading.
package cfg

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"forager/internal/common"
)

// LiveConfig holds every strategy parameter for one symbol × side
// (the live-trading settings block).
type LiveConfig struct {
	Enabled bool `yaml:"enabled"`

	EntryGridDoubleDownFactor float64 `yaml:"entry_grid_double_down_factor"`
	EntryGridSpacingPct       float64 `yaml:"entry_grid_spacing_pct"`
	EntryGridSpacingWeight    float64 `yaml:"entry_grid_spacing_weight"`
	EntryInitialEMADist       float64 `yaml:"entry_initial_ema_dist"`
	EntryInitialQtyPct        float64 `yaml:"entry_initial_qty_pct"`

	EntryTrailingRetracementPct float64 `yaml:"entry_trailing_retracement_pct"`
	EntryTrailingThresholdPct   float64 `yaml:"entry_trailing_threshold_pct"`
	EntryTrailingGridRatio      float64 `yaml:"entry_trailing_grid_ratio"`

	CloseGridMinMarkup   float64 `yaml:"close_grid_min_markup"`
	CloseGridMarkupRange float64 `yaml:"close_grid_markup_range"`
	CloseGridQtyPct      float64 `yaml:"close_grid_qty_pct"`
	CloseGridNOrders     int     `yaml:"n_close_orders"`

	CloseTrailingRetracementPct float64 `yaml:"close_trailing_retracement_pct"`
	CloseTrailingThresholdPct   float64 `yaml:"close_trailing_threshold_pct"`
	CloseTrailingGridRatio      float64 `yaml:"close_trailing_grid_ratio"`

	WalletExposureLimit float64 `yaml:"wallet_exposure_limit"`

	UnstuckThreshold        float64 `yaml:"unstuck_threshold"`
	UnstuckClosePct         float64 `yaml:"unstuck_close_pct"`
	UnstuckEMADist          float64 `yaml:"unstuck_ema_dist"`
	UnstuckLossAllowancePct float64 `yaml:"unstuck_loss_allowance_pct"`

	EMASpan0 float64 `yaml:"ema_span_0"`
	EMASpan1 float64 `yaml:"ema_span_1"`

	Leverage int    `yaml:"leverage"`
	Mode     string `yaml:"mode"`
}

// CoinFlags overrides WE limit, leverage, and mode for one symbol.
type CoinFlags struct {
	WalletExposureLimit float64 `yaml:"wallet_exposure_limit"`
	Leverage            int     `yaml:"leverage"`
	Mode                string  `yaml:"mode"`
}

// LiveSection is the `live` top-level document section.
type LiveSection struct {
	User                       string               `yaml:"user"`
	ApprovedCoins              []string             `yaml:"approved_coins"`
	IgnoredCoins               []string             `yaml:"ignored_coins"`
	CoinFlags                  map[string]CoinFlags `yaml:"coin_flags"`
	Leverage                   int                  `yaml:"leverage"`
	AutoGS                     bool                 `yaml:"auto_gs"`
	ForcedModeLong             string               `yaml:"forced_mode_long"`
	ForcedModeShort            string               `yaml:"forced_mode_short"`
	ExecutionDelaySeconds      float64              `yaml:"execution_delay_seconds"`
	MaxNCancellationsPerBatch  int                  `yaml:"max_n_cancellations_per_batch"`
	MaxNCreationsPerBatch      int                  `yaml:"max_n_creations_per_batch"`
	PnlsMaxLookbackDays        float64              `yaml:"pnls_max_lookback_days"`
	PriceDistanceThreshold     float64              `yaml:"price_distance_threshold"`
	FilterByMinEffectiveCost   bool                 `yaml:"filter_by_min_effective_cost"`
	TimeInForce                string               `yaml:"time_in_force"`
	NPositionsLong             int                  `yaml:"n_positions_long"`
	NPositionsShort            int                  `yaml:"n_positions_short"`
}

// CommonSection is the `common` top-level document section.
type CommonSection struct {
	OHLCVInterval                  string  `yaml:"ohlcv_interval"`
	NoisinessRollingMeanWindowSize int     `yaml:"noisiness_rolling_mean_window_size"`
	MinimumCoinAgeDays             float64 `yaml:"minimum_coin_age_days"`
	RelativeVolumeFilterClipPct    float64 `yaml:"relative_volume_filter_clip_pct"`
	Quote                          string  `yaml:"quote"`
}

// Document is the full nested configuration file.
type Document struct {
	Live   LiveSection           `yaml:"live"`
	Common CommonSection         `yaml:"common"`
	Bot    struct {
		Long  map[string]LiveConfig `yaml:"long"`
		Short map[string]LiveConfig `yaml:"short"`
	} `yaml:"bot"`

	// Extra carries unrecognized keys rather than erroring, per the
	// "dynamically named parameters" design note.
	Extra map[string]any `yaml:",inline"`
}

// Credential is one user's exchange credential, loaded from api-keys.json.
type Credential struct {
	Exchange      string `json:"exchange"`
	Key           string `json:"key"`
	Secret        string `json:"secret"`
	Passphrase    string `json:"passphrase,omitempty"`
	WalletAddress string `json:"wallet_address,omitempty"`
	PrivateKey    string `json:"private_key,omitempty"`
}

// Settings is the fully loaded, validated, and flag-overridden
// configuration ready for the orchestrator.
type Settings struct {
	Doc         Document
	Credentials Credential
	MetricsPort int
	RESTTimeout time.Duration
	BaseURL     string
	WsURL       string
	DataPath    string
}

// Overrides models the CLI's optional flag overrides.
type Overrides struct {
	User                      string
	ApprovedCoins             []string
	IgnoredCoins              []string
	TWELong                   *float64
	TWEShort                  *float64
	LongEnabled               *bool
	ShortEnabled              *bool
	LossAllowancePct          *float64
	UnstuckClosePct           *float64
	StuckThreshold            *float64
	ExecutionDelaySeconds     *float64
	MaxNCancellationsPerBatch *int
	MaxNCreationsPerBatch     *int
	AutoGS                    *bool
	PriceThreshold            *float64
}

// Load reads the config document at path, loads credentials, applies CLI
// overrides, and validates the result.
func Load(path string, overrides Overrides) (Settings, error) {
	if path == "" {
		return Settings{}, fmt.Errorf(common.ErrMsgConfigPathMissing)
	}
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Settings{}, fmt.Errorf("parse config file: %w", err)
	}

	applyOverrides(&doc, overrides)
	applyDefaults(&doc)

	cred, err := loadCredential(doc.Live.User)
	if err != nil {
		return Settings{}, err
	}

	settings := Settings{
		Doc:         doc,
		Credentials: cred,
		MetricsPort: getIntEnvOrDefault(common.EnvMetricsPort, common.DefaultMetricsPort),
		RESTTimeout: getDurationEnvOrDefault(common.EnvRESTTimeout, common.DefaultRESTTimeout*time.Second),
		BaseURL:     getEnvOrDefault(common.EnvBaseURL, common.DefaultBaseURL),
		WsURL:       getEnvOrDefault(common.EnvWsURL, common.DefaultWsURL),
		DataPath:    getEnvOrDefault(common.EnvDataPath, common.DefaultDataPath),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func applyOverrides(doc *Document, o Overrides) {
	if o.User != "" {
		doc.Live.User = o.User
	}
	if len(o.ApprovedCoins) > 0 {
		doc.Live.ApprovedCoins = o.ApprovedCoins
	}
	if len(o.IgnoredCoins) > 0 {
		doc.Live.IgnoredCoins = o.IgnoredCoins
	}
	if o.TWELong != nil {
		setAllWE(doc.Bot.Long, *o.TWELong)
	}
	if o.TWEShort != nil {
		setAllWE(doc.Bot.Short, *o.TWEShort)
	}
	if o.LongEnabled != nil {
		setAllEnabled(doc.Bot.Long, *o.LongEnabled)
	}
	if o.ShortEnabled != nil {
		setAllEnabled(doc.Bot.Short, *o.ShortEnabled)
	}
	if o.LossAllowancePct != nil {
		setAllLossAllowance(doc.Bot.Long, *o.LossAllowancePct)
		setAllLossAllowance(doc.Bot.Short, *o.LossAllowancePct)
	}
	if o.UnstuckClosePct != nil {
		setAllUnstuckClosePct(doc.Bot.Long, *o.UnstuckClosePct)
		setAllUnstuckClosePct(doc.Bot.Short, *o.UnstuckClosePct)
	}
	if o.StuckThreshold != nil {
		setAllStuckThreshold(doc.Bot.Long, *o.StuckThreshold)
		setAllStuckThreshold(doc.Bot.Short, *o.StuckThreshold)
	}
	if o.ExecutionDelaySeconds != nil {
		doc.Live.ExecutionDelaySeconds = *o.ExecutionDelaySeconds
	}
	if o.MaxNCancellationsPerBatch != nil {
		doc.Live.MaxNCancellationsPerBatch = *o.MaxNCancellationsPerBatch
	}
	if o.MaxNCreationsPerBatch != nil {
		doc.Live.MaxNCreationsPerBatch = *o.MaxNCreationsPerBatch
	}
	if o.AutoGS != nil {
		doc.Live.AutoGS = *o.AutoGS
	}
	if o.PriceThreshold != nil {
		doc.Live.PriceDistanceThreshold = *o.PriceThreshold
	}
}

func setAllWE(m map[string]LiveConfig, we float64) {
	for k, v := range m {
		v.WalletExposureLimit = we
		m[k] = v
	}
}

func setAllEnabled(m map[string]LiveConfig, enabled bool) {
	for k, v := range m {
		v.Enabled = enabled
		m[k] = v
	}
}

func setAllLossAllowance(m map[string]LiveConfig, pct float64) {
	for k, v := range m {
		v.UnstuckLossAllowancePct = pct
		m[k] = v
	}
}

func setAllUnstuckClosePct(m map[string]LiveConfig, pct float64) {
	for k, v := range m {
		v.UnstuckClosePct = pct
		m[k] = v
	}
}

func setAllStuckThreshold(m map[string]LiveConfig, threshold float64) {
	for k, v := range m {
		v.UnstuckThreshold = threshold
		m[k] = v
	}
}

func applyDefaults(doc *Document) {
	if doc.Live.ExecutionDelaySeconds == 0 {
		doc.Live.ExecutionDelaySeconds = common.DefaultExecutionDelaySeconds
	}
	if doc.Live.MaxNCancellationsPerBatch == 0 {
		doc.Live.MaxNCancellationsPerBatch = common.DefaultMaxCancelsPerBatch
	}
	if doc.Live.MaxNCreationsPerBatch == 0 {
		doc.Live.MaxNCreationsPerBatch = common.DefaultMaxCreatesPerBatch
	}
	if doc.Live.PnlsMaxLookbackDays == 0 {
		doc.Live.PnlsMaxLookbackDays = common.DefaultPnlsMaxLookbackDays
	}
	if doc.Live.PriceDistanceThreshold == 0 {
		doc.Live.PriceDistanceThreshold = common.DefaultPriceDistanceThreshold
	}
	if doc.Common.Quote == "" {
		doc.Common.Quote = common.DefaultQuote
	}
	if doc.Common.NoisinessRollingMeanWindowSize == 0 {
		doc.Common.NoisinessRollingMeanWindowSize = common.DefaultNoisinessWindowSize
	}
}

// loadCredential reads api-keys.json and returns the credential for user.
func loadCredential(user string) (Credential, error) {
	path := getEnvOrDefault("PB_API_KEYS_FILE", "api-keys.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return Credential{}, fmt.Errorf("read credentials file %s: %w", path, err)
	}

	var all map[string]Credential
	if err := json.Unmarshal(data, &all); err != nil {
		return Credential{}, fmt.Errorf("parse credentials file: %w", err)
	}

	cred, ok := all[user]
	if !ok {
		return Credential{}, fmt.Errorf("no credentials found for user %q", user)
	}
	return cred, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnvOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

// validateSettings runs each concern's validator in turn, mirroring the
// teacher's validateX decomposition.
func validateSettings(s *Settings) error {
	if err := validateCredentials(s); err != nil {
		return err
	}
	if err := validateLiveSection(s); err != nil {
		return err
	}
	if err := validateCommonSection(s); err != nil {
		return err
	}
	if err := validateBotSections(s); err != nil {
		return err
	}
	if err := validateSystemParameters(s); err != nil {
		return err
	}
	return nil
}

func validateCredentials(s *Settings) error {
	if s.Credentials.Key == "" || s.Credentials.Secret == "" {
		return fmt.Errorf(common.ErrMsgAPIKeyRequired)
	}
	return nil
}

func validateLiveSection(s *Settings) error {
	live := s.Doc.Live
	if len(live.ApprovedCoins) == 0 {
		return fmt.Errorf(common.ErrMsgSymbolsRequired)
	}
	if live.ExecutionDelaySeconds < 0 {
		return fmt.Errorf("execution_delay_seconds must be >= 0")
	}
	if live.MaxNCancellationsPerBatch <= 0 {
		return fmt.Errorf("max_n_cancellations_per_batch must be > 0")
	}
	if live.MaxNCreationsPerBatch <= 0 {
		return fmt.Errorf("max_n_creations_per_batch must be > 0")
	}
	if live.PriceDistanceThreshold <= 0 {
		return fmt.Errorf("price_distance_threshold must be > 0")
	}
	return nil
}

func validateCommonSection(s *Settings) error {
	c := s.Doc.Common
	if c.MinimumCoinAgeDays < 0 {
		return fmt.Errorf("minimum_coin_age_days must be >= 0")
	}
	if c.RelativeVolumeFilterClipPct < 0 || c.RelativeVolumeFilterClipPct >= 1 {
		return fmt.Errorf("relative_volume_filter_clip_pct must be in [0, 1)")
	}
	return nil
}

func validateBotSections(s *Settings) error {
	for _, side := range []map[string]LiveConfig{s.Doc.Bot.Long, s.Doc.Bot.Short} {
		for symbol, lc := range side {
			if lc.WalletExposureLimit < common.MinWalletExposureLimit || lc.WalletExposureLimit > common.MaxWalletExposureLimit {
				return fmt.Errorf("symbol %s: wallet_exposure_limit must be between %g and %g", symbol, common.MinWalletExposureLimit, common.MaxWalletExposureLimit)
			}
			if lc.Enabled && lc.EntryGridDoubleDownFactor <= 0 {
				return fmt.Errorf("symbol %s: entry_grid_double_down_factor must be > 0", symbol)
			}
			if lc.UnstuckThreshold < 0 {
				return fmt.Errorf("symbol %s: unstuck_threshold must be >= 0", symbol)
			}
		}
	}
	return nil
}

func validateSystemParameters(s *Settings) error {
	if s.MetricsPort < common.MinMetricsPort || s.MetricsPort > common.MaxMetricsPort {
		return fmt.Errorf("metrics port must be between %d and %d", common.MinMetricsPort, common.MaxMetricsPort)
	}
	if s.RESTTimeout < time.Second || s.RESTTimeout > time.Minute {
		return fmt.Errorf("rest timeout must be between 1s and 1m")
	}
	if s.BaseURL == "" {
		return fmt.Errorf(common.ErrMsgBaseURLRequired)
	}
	if s.WsURL == "" {
		return fmt.Errorf(common.ErrMsgWsURLRequired)
	}
	return nil
}
