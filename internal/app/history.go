package app

import (
	"context"
	"fmt"
	"io"

	"cascadewatch/internal/cache/redis"
	"cascadewatch/internal/config"
	"cascadewatch/internal/domain"
)

// DumpExecutionHistory reads up to limit retained execution events from the
// durable stream and writes them to w, one JSON payload per line prefixed
// with the stream entry id. It connects to Redis on its own so operators can
// inspect past executions without a running daemon.
func DumpExecutionHistory(ctx context.Context, cfg *config.Config, w io.Writer, limit int) error {
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fmt.Errorf("app: history: %w", err)
	}
	defer func() { _ = redisClient.Close() }()

	bus := redis.NewEventBus(redisClient)
	msgs, err := bus.StreamRead(ctx, domain.ChannelExecutionEvents, "0", limit)
	if err != nil {
		return fmt.Errorf("app: history: %w", err)
	}
	for _, m := range msgs {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", m.ID, m.Payload); err != nil {
			return fmt.Errorf("app: history: write: %w", err)
		}
	}
	return nil
}
