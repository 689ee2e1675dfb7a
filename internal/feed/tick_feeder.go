package feed

import (
	"context"
	"encoding/json"
	"log/slog"

	"cascadewatch/internal/domain"
)

// TickHandler receives every decoded price tick.
type TickHandler func(ctx context.Context, tick domain.PriceTick)

// TickFeeder subscribes to the ticks channel, keeps the price cache current,
// and fans each tick out to the registered handlers.
type TickFeeder struct {
	bus      domain.EventBus
	prices   domain.PriceCache
	handlers []TickHandler
	logger   *slog.Logger
}

// NewTickFeeder creates a TickFeeder. prices may be nil when no cache is
// configured.
func NewTickFeeder(bus domain.EventBus, prices domain.PriceCache, logger *slog.Logger, handlers ...TickHandler) *TickFeeder {
	return &TickFeeder{
		bus:      bus,
		prices:   prices,
		handlers: handlers,
		logger:   logger.With(slog.String("component", "tick_feeder")),
	}
}

// Run subscribes to ticks and dispatches until ctx is cancelled.
func (f *TickFeeder) Run(ctx context.Context) error {
	ch, err := f.bus.Subscribe(ctx, domain.ChannelTicks)
	if err != nil {
		return err
	}
	f.logger.InfoContext(ctx, "tick feeder started")
	defer f.logger.Info("tick feeder stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			f.handleMessage(ctx, data)
		}
	}
}

func (f *TickFeeder) handleMessage(ctx context.Context, data []byte) {
	var tick domain.PriceTick
	if err := json.Unmarshal(data, &tick); err != nil {
		f.logger.DebugContext(ctx, "tick feeder unparseable message",
			slog.Int("payload_len", len(data)))
		return
	}
	if tick.Asset == "" || tick.Price <= 0 {
		return
	}

	if f.prices != nil {
		if err := f.prices.SetPrice(ctx, tick.Exchange, tick.Asset, tick.Price, tick.Timestamp); err != nil {
			f.logger.DebugContext(ctx, "price cache update failed",
				slog.String("asset", tick.Asset),
				slog.String("error", err.Error()),
			)
		}
	}
	for _, h := range f.handlers {
		h(ctx, tick)
	}
}
