package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "cascadewatch/internal/blob/s3"
	"cascadewatch/internal/cache/redis"
	"cascadewatch/internal/config"
	"cascadewatch/internal/domain"
	"cascadewatch/internal/events"
	"cascadewatch/internal/notify"
	"cascadewatch/internal/store/postgres"
)

// Dependencies bundles the shared infrastructure the application modes need.
// Constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Bus        domain.EventBus
	PriceCache domain.PriceCache
	Publisher  *events.Publisher

	// ExecutionStore and Archiver are nil in monitor mode.
	ExecutionStore domain.ExecutionStore
	Archiver       domain.Archiver

	Notifier *notify.Notifier
}

// needsPostgres reports whether the mode persists executions.
func needsPostgres(mode string) bool {
	return mode == "trade"
}

// Wire constructs the concrete infrastructure from the configuration and
// returns it with a cleanup function to call on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Redis: event bus and price cache ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	streamMaxLen := int64(10000)
	if cfg.Redis.StreamMaxLen > 0 {
		streamMaxLen = int64(cfg.Redis.StreamMaxLen)
	}
	deps.Bus = redis.NewEventBusWithMaxLen(redisClient, streamMaxLen)
	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.Publisher = events.NewPublisher(deps.Bus, logger)

	// --- Postgres: execution archive ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.ExecutionStore = postgres.NewExecutionStore(pgClient.Pool())
	}

	// --- S3: execution blob archive, optional ---
	if needsPostgres(cfg.Mode) && cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		deps.Archiver = s3blob.NewExecutionArchiver(s3blob.NewWriter(s3Client))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
