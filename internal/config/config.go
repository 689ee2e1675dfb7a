// Package config defines the top-level configuration for cascadewatch and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CASCADE_* environment variables.
type Config struct {
	Watch        WatchConfig        `toml:"watch"`
	OpenInterest OpenInterestConfig `toml:"openinterest"`
	Levels       LevelsConfig       `toml:"levels"`
	Execution    ExecutionConfig    `toml:"execution"`
	Feed         FeedConfig         `toml:"feed"`
	Redis        RedisConfig        `toml:"redis"`
	Postgres     PostgresConfig     `toml:"postgres"`
	S3           S3Config           `toml:"s3"`
	Notify       NotifyConfig       `toml:"notify"`
	Mode         string             `toml:"mode"`
	LogLevel     string             `toml:"log_level"`
}

// WatchConfig defines the fixed watch-list of assets and the exchanges whose
// open interest and prices are tracked for them.
type WatchConfig struct {
	Assets    []string `toml:"assets"`
	Exchanges []string `toml:"exchanges"`
}

// OpenInterestConfig controls the periodic open-interest refresh.
type OpenInterestConfig struct {
	RefreshPeriod  duration `toml:"refresh_period"`
	RequestTimeout duration `toml:"request_timeout"`
	BaseURL        string   `toml:"base_url"`
	// RatePerExchange caps outbound fetches per exchange, requests per second.
	RatePerExchange float64 `toml:"rate_per_exchange"`
	RateBurst       int     `toml:"rate_burst"`
}

// LevelsConfig controls liquidation-level recomputation and cluster detection.
type LevelsConfig struct {
	// RecomputePeriod defaults to half the open-interest refresh period so
	// levels stay responsive to price even when open interest is stale.
	RecomputePeriod duration `toml:"recompute_period"`
	ClusterBandPct  float64  `toml:"cluster_band_pct"`
	// ClusterThreshold is the notional USD above which clustered volume on
	// one side raises a cascade warning.
	ClusterThreshold float64 `toml:"cluster_threshold"`
	ProximityPct     float64 `toml:"proximity_pct"`
}

// ExecutionConfig controls the cascade execution engine.
type ExecutionConfig struct {
	Enabled        bool    `toml:"enabled"`
	MinConfidence  float64 `toml:"min_confidence"`
	AccountBalance float64 `toml:"account_balance"`
	// AccountRiskPct is the fraction of balance risked per trade before
	// confidence/magnitude scaling.
	AccountRiskPct     float64 `toml:"account_risk_pct"`
	MaxRiskPerTradePct float64 `toml:"max_risk_per_trade_pct"`
	MinNotional        float64 `toml:"min_notional"`
	MaxActive          int     `toml:"max_active"`
	Leverage           float64 `toml:"leverage"`

	// StopLossPct is applied on the adverse side of the trigger price. The
	// flat default is deliberately conservative; per-asset overrides are
	// available for assets whose volatility makes 2% too tight or too loose.
	StopLossPct       float64            `toml:"stop_loss_pct"`
	StopLossOverrides map[string]float64 `toml:"stop_loss_overrides"`

	// EntryGrace extends the prediction's estimated start time before a
	// pending execution is expired; ExitGrace does the same for the end time.
	EntryGrace  duration `toml:"entry_grace"`
	ExitGrace   duration `toml:"exit_grace"`
	SweepPeriod duration `toml:"sweep_period"`

	// Fee and slippage are modeled as fixed percentages of notional, applied
	// symmetrically on both legs.
	FeePct      float64 `toml:"fee_pct"`
	SlippagePct float64 `toml:"slippage_pct"`
}

// FeedConfig holds exchange websocket feed parameters.
type FeedConfig struct {
	WsURL string `toml:"ws_url"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// PostgresConfig holds PostgreSQL connection parameters for the execution
// archive.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters for execution
// archives. Archiving is skipped when Bucket is empty.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "60s", "5m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "60s" or "5m".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Watch: WatchConfig{
			Assets:    []string{"BTC", "ETH", "SOL"},
			Exchanges: []string{"binance", "bybit", "okx"},
		},
		Feed: FeedConfig{
			WsURL: "wss://ws.futures-stats.example.com/v1/trades",
		},
		OpenInterest: OpenInterestConfig{
			RefreshPeriod:   duration{60 * time.Second},
			RequestTimeout:  duration{10 * time.Second},
			RatePerExchange: 5,
			RateBurst:       10,
		},
		Levels: LevelsConfig{
			RecomputePeriod:  duration{30 * time.Second},
			ClusterBandPct:   0.02,
			ClusterThreshold: 100_000_000,
			ProximityPct:     0.02,
		},
		Execution: ExecutionConfig{
			Enabled:            true,
			MinConfidence:      0.65,
			AccountBalance:     100_000,
			AccountRiskPct:     0.02,
			MaxRiskPerTradePct: 0.10,
			MinNotional:        100,
			MaxActive:          5,
			Leverage:           3,
			StopLossPct:        0.02,
			StopLossOverrides:  map[string]float64{},
			EntryGrace:         duration{2 * time.Minute},
			ExitGrace:          duration{5 * time.Minute},
			SweepPeriod:        duration{60 * time.Second},
			FeePct:             0.0005,
			SlippagePct:        0.0010,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			TLSEnabled:   false,
			StreamMaxLen: 10000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "cascadewatch",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Region:         "us-east-1",
			UseSSL:         true,
			ForcePathStyle: false,
		},
		Notify: NotifyConfig{
			Events: []string{"cascade.warning", "failed"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor": true,
	"trade":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var problems []string

	if !validModes[strings.ToLower(c.Mode)] {
		problems = append(problems, fmt.Sprintf("mode %q is not one of monitor|trade", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		problems = append(problems, fmt.Sprintf("log_level %q is not one of debug|info|warn|error", c.LogLevel))
	}
	if len(c.Watch.Assets) == 0 {
		problems = append(problems, "watch.assets must list at least one asset")
	}
	if len(c.Watch.Exchanges) == 0 {
		problems = append(problems, "watch.exchanges must list at least one exchange")
	}
	if strings.TrimSpace(c.Feed.WsURL) == "" {
		problems = append(problems, "feed.ws_url must be set")
	}
	if c.OpenInterest.RefreshPeriod.Duration <= 0 {
		problems = append(problems, "openinterest.refresh_period must be positive")
	}
	if c.Levels.ClusterBandPct <= 0 || c.Levels.ClusterBandPct >= 1 {
		problems = append(problems, "levels.cluster_band_pct must be in (0, 1)")
	}
	if c.Levels.ClusterThreshold <= 0 {
		problems = append(problems, "levels.cluster_threshold must be positive")
	}
	if c.Levels.ProximityPct <= 0 || c.Levels.ProximityPct >= 1 {
		problems = append(problems, "levels.proximity_pct must be in (0, 1)")
	}
	if c.Execution.Enabled {
		if c.Execution.MinConfidence < 0 || c.Execution.MinConfidence > 1 {
			problems = append(problems, "execution.min_confidence must be in [0, 1]")
		}
		if c.Execution.AccountBalance <= 0 {
			problems = append(problems, "execution.account_balance must be positive")
		}
		if c.Execution.AccountRiskPct <= 0 || c.Execution.AccountRiskPct > 1 {
			problems = append(problems, "execution.account_risk_pct must be in (0, 1]")
		}
		if c.Execution.MaxRiskPerTradePct <= 0 || c.Execution.MaxRiskPerTradePct > 1 {
			problems = append(problems, "execution.max_risk_per_trade_pct must be in (0, 1]")
		}
		if c.Execution.StopLossPct <= 0 {
			problems = append(problems, "execution.stop_loss_pct must be positive")
		}
		for asset, pct := range c.Execution.StopLossOverrides {
			if pct <= 0 {
				problems = append(problems, fmt.Sprintf("execution.stop_loss_overrides[%s] must be positive", asset))
			}
		}
		if c.Execution.MaxActive <= 0 {
			problems = append(problems, "execution.max_active must be positive")
		}
		if c.Execution.Leverage < 1 {
			problems = append(problems, "execution.leverage must be >= 1")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// StopLoss returns the stop-loss distance for an asset, honoring the
// per-asset override when one is configured.
func (c *ExecutionConfig) StopLoss(asset string) float64 {
	if pct, ok := c.StopLossOverrides[asset]; ok {
		return pct
	}
	return c.StopLossPct
}
