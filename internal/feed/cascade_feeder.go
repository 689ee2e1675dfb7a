package feed

import (
	"context"
	"encoding/json"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"cascadewatch/internal/domain"
)

// CascadeHandler receives decoded cascade lifecycle events from the
// prediction collaborator.
type CascadeHandler interface {
	OnCascadePredicted(ctx context.Context, pred domain.CascadePrediction) error
	OnCascadeStarted(ctx context.Context, ev domain.CascadeStarted) error
	OnCascadeReversal(ctx context.Context, ev domain.CascadeReversal) error
}

// CascadeFeeder subscribes to the cascade channels and dispatches each
// message to the handler. Handler errors are logged, not propagated: a bad
// prediction must not take the feeder down.
type CascadeFeeder struct {
	bus     domain.EventBus
	handler CascadeHandler
	logger  *slog.Logger
}

// NewCascadeFeeder creates a CascadeFeeder.
func NewCascadeFeeder(bus domain.EventBus, handler CascadeHandler, logger *slog.Logger) *CascadeFeeder {
	return &CascadeFeeder{
		bus:     bus,
		handler: handler,
		logger:  logger.With(slog.String("component", "cascade_feeder")),
	}
}

// Run subscribes to the three cascade channels and pumps them concurrently
// until ctx is cancelled.
func (f *CascadeFeeder) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return f.pump(ctx, domain.ChannelCascadePredicted, f.handlePredicted)
	})
	g.Go(func() error {
		return f.pump(ctx, domain.ChannelCascadeStarted, f.handleStarted)
	})
	g.Go(func() error {
		return f.pump(ctx, domain.ChannelCascadeReversal, f.handleReversal)
	})

	f.logger.InfoContext(ctx, "cascade feeder started")
	defer f.logger.Info("cascade feeder stopped")
	return g.Wait()
}

func (f *CascadeFeeder) pump(ctx context.Context, channel string, handle func(context.Context, []byte) error) error {
	ch, err := f.bus.Subscribe(ctx, channel)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			if err := handle(ctx, data); err != nil {
				f.logger.WarnContext(ctx, "cascade message handling failed",
					slog.String("channel", channel),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (f *CascadeFeeder) handlePredicted(ctx context.Context, data []byte) error {
	var pred domain.CascadePrediction
	if err := json.Unmarshal(data, &pred); err != nil {
		return err
	}
	if pred.ID == "" {
		return nil
	}
	return f.handler.OnCascadePredicted(ctx, pred)
}

func (f *CascadeFeeder) handleStarted(ctx context.Context, data []byte) error {
	var ev domain.CascadeStarted
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	if ev.ID == "" {
		return nil
	}
	return f.handler.OnCascadeStarted(ctx, ev)
}

func (f *CascadeFeeder) handleReversal(ctx context.Context, data []byte) error {
	var ev domain.CascadeReversal
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	if ev.ID == "" {
		return nil
	}
	return f.handler.OnCascadeReversal(ctx, ev)
}
