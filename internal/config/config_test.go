package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "trade", cfg.Mode)
	assert.Equal(t, 60*time.Second, cfg.OpenInterest.RefreshPeriod.Duration)
	assert.Equal(t, 100_000_000.0, cfg.Levels.ClusterThreshold)
	assert.NotEmpty(t, cfg.Feed.WsURL)
	assert.Equal(t, []string{"cascade.warning", "failed"}, cfg.Notify.Events)
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "backtest"
	cfg.Feed.WsURL = "  "
	cfg.Levels.ProximityPct = 2.0
	cfg.Execution.StopLossPct = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mode")
	assert.Contains(t, err.Error(), "feed.ws_url")
	assert.Contains(t, err.Error(), "proximity_pct")
	assert.Contains(t, err.Error(), "stop_loss_pct")
}

func TestValidateSkipsExecutionWhenDisabled(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	cfg.Execution.Enabled = false
	cfg.Execution.StopLossPct = 0

	assert.NoError(t, cfg.Validate())
}

func TestStopLossOverride(t *testing.T) {
	cfg := Defaults().Execution
	cfg.StopLossPct = 0.02
	cfg.StopLossOverrides = map[string]float64{"SOL": 0.04}

	assert.Equal(t, 0.04, cfg.StopLoss("SOL"))
	assert.Equal(t, 0.02, cfg.StopLoss("BTC"))
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "monitor"
log_level = "debug"

[watch]
assets = ["BTC"]

[levels]
recompute_period = "15s"
cluster_threshold = 50_000_000.0

[execution]
enabled = false

[execution.stop_loss_overrides]
SOL = 0.04
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, []string{"BTC"}, cfg.Watch.Assets)
	assert.Equal(t, 15*time.Second, cfg.Levels.RecomputePeriod.Duration)
	assert.Equal(t, 50_000_000.0, cfg.Levels.ClusterThreshold)
	assert.Equal(t, 0.04, cfg.Execution.StopLoss("SOL"))

	// Defaults survive where the file is silent.
	assert.Equal(t, []string{"binance", "bybit", "okx"}, cfg.Watch.Exchanges)
	assert.Equal(t, 0.02, cfg.Levels.ProximityPct)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`mode = "monitor"`), 0o600))

	t.Setenv("CASCADE_MODE", "trade")
	t.Setenv("CASCADE_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("CASCADE_EXECUTION_MAX_ACTIVE", "9")
	t.Setenv("CASCADE_WATCH_ASSETS", "BTC, ETH")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "trade", cfg.Mode)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 9, cfg.Execution.MaxActive)
	assert.Equal(t, []string{"BTC", "ETH"}, cfg.Watch.Assets)
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Redis.Password = "hunter2"
	cfg.Postgres.Password = "hunter2"
	cfg.S3.SecretKey = "hunter2"
	cfg.Notify.TelegramToken = "123:abc"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Notify.TelegramToken)
}
