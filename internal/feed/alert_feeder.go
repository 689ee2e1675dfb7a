package feed

import (
	"context"
	"encoding/json"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"cascadewatch/internal/domain"
	"cascadewatch/internal/notify"
)

// AlertFeeder bridges published warnings and execution events to the
// operator notifier. It listens on the same channels external consumers do,
// so alerts reflect exactly what was published.
type AlertFeeder struct {
	bus      domain.EventBus
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewAlertFeeder creates an AlertFeeder.
func NewAlertFeeder(bus domain.EventBus, notifier *notify.Notifier, logger *slog.Logger) *AlertFeeder {
	return &AlertFeeder{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "alert_feeder")),
	}
}

// Run pumps warnings and execution events to the notifier until ctx is
// cancelled.
func (f *AlertFeeder) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ch, err := f.bus.Subscribe(ctx, domain.ChannelCascadeWarning)
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
				var w domain.CascadeWarning
				if err := json.Unmarshal(data, &w); err != nil {
					f.logger.DebugContext(ctx, "unparseable warning", slog.Int("payload_len", len(data)))
					continue
				}
				f.notifier.CascadeWarning(ctx, w)
			}
		}
	})

	g.Go(func() error {
		ch, err := f.bus.Subscribe(ctx, domain.ChannelExecutionEvents)
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
				var ev domain.ExecutionEvent
				if err := json.Unmarshal(data, &ev); err != nil {
					f.logger.DebugContext(ctx, "unparseable execution event", slog.Int("payload_len", len(data)))
					continue
				}
				f.notifier.ExecutionEvent(ctx, ev)
			}
		}
	})

	f.logger.InfoContext(ctx, "alert feeder started")
	return g.Wait()
}
