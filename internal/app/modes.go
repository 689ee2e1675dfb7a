package app

import (
	"context"

	"golang.org/x/sync/errgroup"

	"cascadewatch/internal/broker"
	"cascadewatch/internal/execution"
	"cascadewatch/internal/feed"
	"cascadewatch/internal/levels"
	"cascadewatch/internal/openinterest"
	"cascadewatch/internal/platform/futures"
)

// MonitorMode runs the passive pipeline: open-interest ingestion, level
// recomputation, cluster detection, and proximity signals. No orders are
// placed.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	ingestor, engine := a.buildWatchers(deps)
	g.Go(func() error { return ingestor.Run(ctx) })
	g.Go(func() error { return engine.Run(ctx) })

	wsFeed := feed.NewExchangeWSFeed(a.cfg.Feed.WsURL, a.cfg.Watch.Assets, deps.Publisher, a.logger)
	g.Go(func() error { return wsFeed.Run(ctx) })

	tickFeeder := feed.NewTickFeeder(deps.Bus, deps.PriceCache, a.logger, engine.OnPriceTick)
	g.Go(func() error { return tickFeeder.Run(ctx) })

	alertFeeder := feed.NewAlertFeeder(deps.Bus, deps.Notifier, a.logger)
	g.Go(func() error { return alertFeeder.Run(ctx) })

	return g.Wait()
}

// TradeMode runs the full pipeline: everything monitor mode does, plus the
// cascade execution engine fed by the prediction channels.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	g, ctx := errgroup.WithContext(ctx)

	ingestor, engine := a.buildWatchers(deps)
	g.Go(func() error { return ingestor.Run(ctx) })
	g.Go(func() error { return engine.Run(ctx) })

	placer := broker.NewPaper(a.cfg.Execution.FeePct, a.cfg.Execution.SlippagePct, a.logger)
	execEngine := execution.NewEngine(
		a.cfg.Execution, placer, deps.ExecutionStore, deps.Archiver, deps.Publisher, a.logger,
	)
	g.Go(func() error { return execEngine.Run(ctx) })

	wsFeed := feed.NewExchangeWSFeed(a.cfg.Feed.WsURL, a.cfg.Watch.Assets, deps.Publisher, a.logger)
	g.Go(func() error { return wsFeed.Run(ctx) })

	tickFeeder := feed.NewTickFeeder(deps.Bus, deps.PriceCache, a.logger,
		engine.OnPriceTick,
		execEngine.Monitor,
	)
	g.Go(func() error { return tickFeeder.Run(ctx) })

	cascadeFeeder := feed.NewCascadeFeeder(deps.Bus, execEngine, a.logger)
	g.Go(func() error { return cascadeFeeder.Run(ctx) })

	alertFeeder := feed.NewAlertFeeder(deps.Bus, deps.Notifier, a.logger)
	g.Go(func() error { return alertFeeder.Run(ctx) })

	return g.Wait()
}

// buildWatchers constructs the open-interest ingestor and the level engine
// shared by both modes.
func (a *App) buildWatchers(deps *Dependencies) (*openinterest.Ingestor, *levels.Engine) {
	source := futures.NewClient(
		a.cfg.OpenInterest.BaseURL,
		a.cfg.OpenInterest.RequestTimeout.Duration,
		a.cfg.OpenInterest.RatePerExchange,
		a.cfg.OpenInterest.RateBurst,
	)
	ingestor := openinterest.NewIngestor(
		source,
		a.cfg.Watch.Exchanges,
		a.cfg.Watch.Assets,
		a.cfg.OpenInterest.RefreshPeriod.Duration,
		a.logger,
	)
	engine := levels.NewEngine(
		levels.Config{
			RecomputePeriod:        a.cfg.Levels.RecomputePeriod.Duration,
			ClusterBandFraction:    a.cfg.Levels.ClusterBandPct,
			ClusterVolumeThreshold: a.cfg.Levels.ClusterThreshold,
			ProximityFraction:      a.cfg.Levels.ProximityPct,
		},
		ingestor,
		deps.PriceCache,
		deps.Publisher,
		a.cfg.Watch.Assets,
		a.logger,
	)
	return ingestor, engine
}
