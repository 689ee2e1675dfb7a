// Package events publishes outbound domain events onto the bus. Every
// warning, signal, and execution state transition goes through the Publisher,
// so there is no silent transition path anywhere in the system.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"cascadewatch/internal/domain"
)

// Publisher JSON-encodes outbound events, publishes them on their pub/sub
// channel, and mirrors execution events onto a durable stream of the same
// name. Publish failures are logged, never propagated: a broken bus must not
// stall the engines.
type Publisher struct {
	bus    domain.EventBus
	logger *slog.Logger
}

// NewPublisher creates a Publisher on the given bus.
func NewPublisher(bus domain.EventBus, logger *slog.Logger) *Publisher {
	return &Publisher{
		bus:    bus,
		logger: logger.With(slog.String("component", "publisher")),
	}
}

// Tick publishes a live price tick. Ticks are ephemeral and are not mirrored
// to a stream.
func (p *Publisher) Tick(ctx context.Context, tick domain.PriceTick) {
	p.publish(ctx, domain.ChannelTicks, tick, false)
}

// CascadeWarning publishes a cluster warning for the prediction collaborator.
func (p *Publisher) CascadeWarning(ctx context.Context, w domain.CascadeWarning) {
	p.publish(ctx, domain.ChannelCascadeWarning, w, true)
}

// ApproachingLiquidation publishes a proximity signal for the prediction
// collaborator.
func (p *Publisher) ApproachingLiquidation(ctx context.Context, a domain.ApproachingLiquidation) {
	p.publish(ctx, domain.ChannelApproachingLiq, a, true)
}

// ExecutionEvent publishes one execution lifecycle event.
func (p *Publisher) ExecutionEvent(ctx context.Context, typ domain.ExecutionEventType, exec domain.CascadeExecution, reason string) {
	ev := domain.ExecutionEvent{
		Type:      typ,
		Execution: exec,
		Reason:    reason,
		At:        time.Now().UTC(),
	}
	p.publish(ctx, domain.ChannelExecutionEvents, ev, true)
}

func (p *Publisher) publish(ctx context.Context, channel string, payload any, durable bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.ErrorContext(ctx, "event marshal failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := p.bus.Publish(ctx, channel, data); err != nil {
		p.logger.WarnContext(ctx, "event publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
	if durable {
		if err := p.bus.StreamAppend(ctx, channel, data); err != nil {
			p.logger.WarnContext(ctx, "event stream append failed",
				slog.String("channel", channel),
				slog.String("error", err.Error()),
			)
		}
	}
}
