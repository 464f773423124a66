package common

// Position sides.
const (
	SideLong  = "long"
	SideShort = "short"
)

// Order sides (exchange-facing).
const (
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"
)

// Per-side operating modes.
const (
	ModeNormal       = "normal"
	ModeGracefulStop = "graceful_stop"
	ModeTPOnly       = "tp_only"
	ModePanic        = "panic"
	ModeManual       = "manual"
)

// Environment variable keys.
const (
	EnvAPIUser            = "PB_API_USER"
	EnvForceLiveTrading   = "FORCE_LIVE_TRADING"
	EnvApprovedCoins      = "PB_APPROVED_COINS"
	EnvIgnoredCoins       = "PB_IGNORED_COINS"
	EnvMetricsPort        = "PB_METRICS_PORT"
	EnvExecutionDelaySec  = "PB_EXECUTION_DELAY_SECONDS"
	EnvMaxCancelsPerBatch = "PB_MAX_N_CANCELLATIONS_PER_BATCH"
	EnvMaxCreatesPerBatch = "PB_MAX_N_CREATIONS_PER_BATCH"
	EnvRESTTimeout        = "PB_REST_TIMEOUT"
	EnvBaseURL            = "PB_BASE_URL"
	EnvWsURL              = "PB_WS_URL"
	EnvDataPath           = "PB_DATA_PATH"
)

// Configuration defaults.
const (
	DefaultMetricsPort            = 9090
	DefaultRESTTimeout            = 5 // seconds
	DefaultExecutionDelaySeconds  = 3
	DefaultMaxCancelsPerBatch     = 5
	DefaultMaxCreatesPerBatch     = 5
	DefaultForceUpdateAgeMillis   = 60_000
	DefaultPnlsMaxLookbackDays    = 30
	DefaultPriceDistanceThreshold = 0.5
	DefaultMinimumCoinAgeDays     = 0.0
	DefaultNoisinessWindowSize    = 60
	DefaultMaxOpenOrdersPerExch   = 100
	DefaultMaxRestartsPerDay      = 5
	DefaultErrorRateWindowMinutes = 60
	DefaultErrorRateBreachPerHour = 10
)

// Quote currency used for forager eligibility filtering.
const DefaultQuote = "USDT"

// Default exchange endpoints, overridable via EnvBaseURL/EnvWsURL.
const (
	DefaultBaseURL  = "https://fapi.bitunix.com"
	DefaultWsURL    = "wss://fapi.bitunix.com/public"
	DefaultDataPath = "./data"
)

// Common error messages.
const (
	ErrMsgAPIKeyRequired    = "api key and secret are required"
	ErrMsgBaseURLRequired   = "baseURL is required"
	ErrMsgWsURLRequired     = "wsURL is required"
	ErrMsgSymbolsRequired   = "at least one approved coin is required"
	ErrMsgConfigPathMissing = "config path argument is required"
)

// Validation bounds.
const (
	MinWalletExposureLimit = 0.0
	MaxWalletExposureLimit = 100.0
	MinMetricsPort         = 1024
	MaxMetricsPort         = 65535
)
