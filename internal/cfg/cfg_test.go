package cfg

import (
	"os"
	"path/filepath"
	"testing"
)

const validYAML = `
live:
  user: main
  approved_coins: ["BTCUSDT", "ETHUSDT"]
  execution_delay_seconds: 2
  max_n_cancellations_per_batch: 5
  max_n_creations_per_batch: 5
  price_distance_threshold: 0.5

common:
  quote: USDT
  minimum_coin_age_days: 30
  relative_volume_filter_clip_pct: 0.1

bot:
  long:
    BTCUSDT:
      enabled: true
      entry_grid_double_down_factor: 1.5
      wallet_exposure_limit: 1.0
      unstuck_threshold: 0.3
  short:
    BTCUSDT:
      enabled: false
      wallet_exposure_limit: 1.0
`

const validCredentials = `{"main": {"exchange": "bitunix", "key": "k1", "secret": "s1"}}`

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file %s: %v", name, err)
	}
	return path
}

func TestLoadValidDocument(t *testing.T) {
	dir := t.TempDir()
	configPath := writeTempFile(t, dir, "config.yaml", validYAML)
	credPath := writeTempFile(t, dir, "api-keys.json", validCredentials)
	t.Setenv("PB_API_KEYS_FILE", credPath)

	settings, err := Load(configPath, Overrides{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.Credentials.Key != "k1" {
		t.Errorf("expected credential key k1, got %s", settings.Credentials.Key)
	}
	if !settings.Doc.Bot.Long["BTCUSDT"].Enabled {
		t.Error("expected BTCUSDT long enabled")
	}
	if settings.Doc.Bot.Short["BTCUSDT"].Enabled {
		t.Error("expected BTCUSDT short disabled")
	}
}

func TestLoadMissingPath(t *testing.T) {
	if _, err := Load("", Overrides{}); err == nil {
		t.Error("expected error for empty config path")
	}
}

func TestLoadMissingCredentials(t *testing.T) {
	dir := t.TempDir()
	configPath := writeTempFile(t, dir, "config.yaml", validYAML)
	t.Setenv("PB_API_KEYS_FILE", filepath.Join(dir, "missing.json"))

	if _, err := Load(configPath, Overrides{}); err == nil {
		t.Error("expected error when credentials file is missing")
	}
}

func TestLoadRejectsEmptyApprovedCoins(t *testing.T) {
	dir := t.TempDir()
	yaml := `
live:
  user: main
common:
  quote: USDT
bot:
  long: {}
  short: {}
`
	configPath := writeTempFile(t, dir, "config.yaml", yaml)
	credPath := writeTempFile(t, dir, "api-keys.json", validCredentials)
	t.Setenv("PB_API_KEYS_FILE", credPath)

	if _, err := Load(configPath, Overrides{}); err == nil {
		t.Error("expected error when approved_coins is empty")
	}
}

func TestLoadRejectsOutOfRangeWalletExposure(t *testing.T) {
	dir := t.TempDir()
	yaml := `
live:
  user: main
  approved_coins: ["BTCUSDT"]
common:
  quote: USDT
bot:
  long:
    BTCUSDT:
      enabled: true
      wallet_exposure_limit: -1
  short: {}
`
	configPath := writeTempFile(t, dir, "config.yaml", yaml)
	credPath := writeTempFile(t, dir, "api-keys.json", validCredentials)
	t.Setenv("PB_API_KEYS_FILE", credPath)

	if _, err := Load(configPath, Overrides{}); err == nil {
		t.Error("expected error for out-of-range wallet_exposure_limit")
	}
}

func TestOverridesApplyToAllSymbols(t *testing.T) {
	dir := t.TempDir()
	configPath := writeTempFile(t, dir, "config.yaml", validYAML)
	credPath := writeTempFile(t, dir, "api-keys.json", validCredentials)
	t.Setenv("PB_API_KEYS_FILE", credPath)

	we := 2.5
	settings, err := Load(configPath, Overrides{TWELong: &we})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.Doc.Bot.Long["BTCUSDT"].WalletExposureLimit != 2.5 {
		t.Errorf("expected override wallet_exposure_limit 2.5, got %f", settings.Doc.Bot.Long["BTCUSDT"].WalletExposureLimit)
	}
}

func TestOverrideUserReplacesLiveUser(t *testing.T) {
	dir := t.TempDir()
	configPath := writeTempFile(t, dir, "config.yaml", validYAML)
	credPath := writeTempFile(t, dir, "api-keys.json", `{"alt": {"exchange": "bitunix", "key": "k2", "secret": "s2"}}`)
	t.Setenv("PB_API_KEYS_FILE", credPath)

	settings, err := Load(configPath, Overrides{User: "alt"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.Credentials.Key != "k2" {
		t.Errorf("expected overridden user's credential key k2, got %s", settings.Credentials.Key)
	}
}

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	doc := &Document{}
	applyDefaults(doc)
	if doc.Live.MaxNCancellationsPerBatch == 0 {
		t.Error("expected default max_n_cancellations_per_batch to be filled")
	}
	if doc.Common.Quote == "" {
		t.Error("expected default quote to be filled")
	}
}
