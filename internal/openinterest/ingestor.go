// Package openinterest owns the per-exchange open-interest snapshot state.
// The ingestor refreshes every (exchange, asset) pair on a fixed period and
// keeps only the latest-known snapshot per key; there is no historical
// retention. All mutation happens inside the ingestor, readers get copies.
package openinterest

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"cascadewatch/internal/domain"
)

// Ingestor periodically refreshes open-interest snapshots for the configured
// watch-list. A fetch failure for one exchange leaves that key's snapshot
// stale until the next cycle and never blocks the other exchanges.
type Ingestor struct {
	source    domain.SnapshotSource
	exchanges []string
	assets    []string
	period    time.Duration
	logger    *slog.Logger

	mu        sync.RWMutex
	snapshots map[domain.SnapshotKey]domain.OpenInterestSnapshot

	// refreshing guards against overlapping refresh runs: a slow cycle is
	// skipped over, not queued, so one stuck exchange cannot pile up
	// concurrent fetches.
	refreshing atomic.Bool
}

// NewIngestor creates an Ingestor for the given watch-list.
func NewIngestor(source domain.SnapshotSource, exchanges, assets []string, period time.Duration, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		source:    source,
		exchanges: exchanges,
		assets:    assets,
		period:    period,
		logger:    logger.With(slog.String("component", "oi_ingestor")),
		snapshots: make(map[domain.SnapshotKey]domain.OpenInterestSnapshot),
	}
}

// Run performs one immediate refresh and then refreshes on the configured
// period until the context is cancelled. Cycles that would overlap a still
// running refresh are skipped.
func (i *Ingestor) Run(ctx context.Context) error {
	i.logger.Info("open interest ingestor started",
		slog.Int("exchanges", len(i.exchanges)),
		slog.Int("assets", len(i.assets)),
		slog.Duration("period", i.period),
	)
	defer i.logger.Info("open interest ingestor stopped")

	i.refreshNonBlocking(ctx)

	ticker := time.NewTicker(i.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			i.refreshNonBlocking(ctx)
		}
	}
}

// refreshNonBlocking launches RefreshAll in a goroutine unless a refresh is
// already in flight.
func (i *Ingestor) refreshNonBlocking(ctx context.Context) {
	if !i.refreshing.CompareAndSwap(false, true) {
		i.logger.Warn("previous refresh still running, skipping cycle")
		return
	}
	go func() {
		defer i.refreshing.Store(false)
		i.RefreshAll(ctx)
	}()
}

// RefreshAll refreshes every asset on the watch-list.
func (i *Ingestor) RefreshAll(ctx context.Context) {
	for _, asset := range i.assets {
		if ctx.Err() != nil {
			return
		}
		i.RefreshAsset(ctx, asset)
	}
}

// RefreshAsset fetches a fresh snapshot from every configured exchange for
// one asset and overwrites the stored state per (exchange, asset) key. It
// returns the number of keys successfully refreshed.
func (i *Ingestor) RefreshAsset(ctx context.Context, asset string) int {
	refreshed := 0
	for _, exchange := range i.exchanges {
		snap, err := i.source.FetchOpenInterest(ctx, exchange, asset)
		if err != nil {
			// Transient: the key keeps its previous snapshot until the next
			// cycle succeeds.
			i.logger.Warn("open interest fetch failed",
				slog.String("exchange", exchange),
				slog.String("asset", asset),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := snap.Validate(); err != nil {
			i.logger.Warn("discarding invalid snapshot",
				slog.String("exchange", exchange),
				slog.String("asset", asset),
				slog.String("error", err.Error()),
			)
			continue
		}

		i.mu.Lock()
		i.snapshots[domain.SnapshotKey{Exchange: exchange, Asset: asset}] = snap
		i.mu.Unlock()
		refreshed++
	}

	i.logger.Debug("open interest refreshed",
		slog.String("asset", asset),
		slog.Int("refreshed", refreshed),
		slog.Int("exchanges", len(i.exchanges)),
	)
	return refreshed
}

// Snapshots returns copies of all currently known snapshots for one asset.
// An asset with no snapshots yields an empty slice.
func (i *Ingestor) Snapshots(asset string) []domain.OpenInterestSnapshot {
	i.mu.RLock()
	defer i.mu.RUnlock()

	out := make([]domain.OpenInterestSnapshot, 0, len(i.exchanges))
	for key, snap := range i.snapshots {
		if key.Asset == asset {
			out = append(out, snap)
		}
	}
	return out
}

// Snapshot returns the latest snapshot for one (exchange, asset) key.
func (i *Ingestor) Snapshot(exchange, asset string) (domain.OpenInterestSnapshot, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	snap, ok := i.snapshots[domain.SnapshotKey{Exchange: exchange, Asset: asset}]
	return snap, ok
}
