package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CASCADE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CASCADE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "CASCADE_MODE")
	setStr(&cfg.LogLevel, "CASCADE_LOG_LEVEL")

	setStringSlice(&cfg.Watch.Assets, "CASCADE_WATCH_ASSETS")
	setStringSlice(&cfg.Watch.Exchanges, "CASCADE_WATCH_EXCHANGES")

	setStr(&cfg.OpenInterest.BaseURL, "CASCADE_OPENINTEREST_BASE_URL")
	setDuration(&cfg.OpenInterest.RefreshPeriod, "CASCADE_OPENINTEREST_REFRESH_PERIOD")

	setDuration(&cfg.Levels.RecomputePeriod, "CASCADE_LEVELS_RECOMPUTE_PERIOD")
	setFloat64(&cfg.Levels.ClusterThreshold, "CASCADE_LEVELS_CLUSTER_THRESHOLD")

	setBool(&cfg.Execution.Enabled, "CASCADE_EXECUTION_ENABLED")
	setFloat64(&cfg.Execution.MinConfidence, "CASCADE_EXECUTION_MIN_CONFIDENCE")
	setFloat64(&cfg.Execution.AccountBalance, "CASCADE_EXECUTION_ACCOUNT_BALANCE")
	setInt(&cfg.Execution.MaxActive, "CASCADE_EXECUTION_MAX_ACTIVE")
	setFloat64(&cfg.Execution.StopLossPct, "CASCADE_EXECUTION_STOP_LOSS_PCT")

	setStr(&cfg.Feed.WsURL, "CASCADE_FEED_WS_URL")

	setStr(&cfg.Redis.Addr, "CASCADE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CASCADE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CASCADE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CASCADE_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "CASCADE_REDIS_TLS_ENABLED")

	setStr(&cfg.Postgres.DSN, "CASCADE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CASCADE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CASCADE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CASCADE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CASCADE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CASCADE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CASCADE_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "CASCADE_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.S3.Endpoint, "CASCADE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CASCADE_S3_REGION")
	setStr(&cfg.S3.Bucket, "CASCADE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CASCADE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CASCADE_S3_SECRET_KEY")

	setStr(&cfg.Notify.TelegramToken, "CASCADE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CASCADE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CASCADE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CASCADE_NOTIFY_EVENTS")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
