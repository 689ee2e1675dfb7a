// Package levels derives liquidation levels from open-interest snapshots,
// detects dangerous level clusters, and watches live prices for proximity to
// known levels.
package levels

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"cascadewatch/internal/domain"
	"cascadewatch/internal/events"
)

// SnapshotProvider exposes the latest open-interest state per asset.
type SnapshotProvider interface {
	Snapshots(asset string) []domain.OpenInterestSnapshot
}

// Config tunes the level engine.
type Config struct {
	// RecomputePeriod is the interval between full level rebuilds.
	RecomputePeriod time.Duration
	// ClusterBandFraction is the price band, as a fraction of the anchor
	// level price, within which same-side levels are merged into a cluster.
	ClusterBandFraction float64
	// ClusterVolumeThreshold is the notional USD volume at which a merged
	// cluster produces a cascade warning.
	ClusterVolumeThreshold float64
	// ProximityFraction is the price distance, as a fraction of the current
	// price, under which a level counts as approaching.
	ProximityFraction float64
	// SignalCooldown suppresses repeat proximity signals for the same level.
	SignalCooldown time.Duration
}

// Engine is the liquidation level engine. It periodically recomputes levels
// from snapshots, merges them into clusters, and reacts to live ticks with
// proximity signals.
type Engine struct {
	cfg       Config
	snapshots SnapshotProvider
	prices    domain.PriceCache
	publisher *events.Publisher
	assets    []string
	logger    *slog.Logger

	recomputing atomic.Bool

	mu       sync.RWMutex
	byAsset  map[string][]domain.LiquidationLevel
	lastSent map[levelKey]time.Time
}

type levelKey struct {
	exchange string
	asset    string
	side     domain.Side
	price    float64
}

// NewEngine creates a level engine over the given snapshot provider and
// price cache.
func NewEngine(cfg Config, snapshots SnapshotProvider, prices domain.PriceCache, publisher *events.Publisher, assets []string, logger *slog.Logger) *Engine {
	if cfg.SignalCooldown <= 0 {
		cfg.SignalCooldown = 30 * time.Second
	}
	return &Engine{
		cfg:       cfg,
		snapshots: snapshots,
		prices:    prices,
		publisher: publisher,
		assets:    assets,
		logger:    logger.With(slog.String("component", "levels")),
		byAsset:   make(map[string][]domain.LiquidationLevel),
		lastSent:  make(map[levelKey]time.Time),
	}
}

// Run recomputes levels on a fixed period until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "level engine starting",
		slog.Duration("period", e.cfg.RecomputePeriod),
		slog.Float64("cluster_threshold_usd", e.cfg.ClusterVolumeThreshold),
	)

	e.recomputeNonBlocking(ctx)

	ticker := time.NewTicker(e.cfg.RecomputePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.InfoContext(ctx, "level engine stopping")
			return ctx.Err()
		case <-ticker.C:
			e.recomputeNonBlocking(ctx)
		}
	}
}

// recomputeNonBlocking kicks a recompute in the background unless the
// previous one is still running.
func (e *Engine) recomputeNonBlocking(ctx context.Context) {
	if !e.recomputing.CompareAndSwap(false, true) {
		e.logger.WarnContext(ctx, "previous recompute still running, skipping cycle")
		return
	}
	go func() {
		defer e.recomputing.Store(false)
		e.RecomputeAll(ctx)
	}()
}

// RecomputeAll rebuilds levels for every tracked asset and publishes any
// cluster warnings the rebuild produced.
func (e *Engine) RecomputeAll(ctx context.Context) {
	for _, asset := range e.assets {
		mid, ok := e.midPrice(ctx, asset)
		if !ok {
			e.logger.DebugContext(ctx, "no price for asset, skipping levels",
				slog.String("asset", asset))
			continue
		}

		levels := e.Recompute(asset, mid)

		e.mu.Lock()
		e.byAsset[asset] = levels
		e.mu.Unlock()

		warnings := CheckClusters(asset, levels, e.cfg.ClusterBandFraction, e.cfg.ClusterVolumeThreshold, maxImpactPct)
		for _, w := range warnings {
			e.logger.WarnContext(ctx, "cascade cluster detected",
				slog.String("asset", w.Asset),
				slog.String("side", string(w.Side)),
				slog.Float64("volume_usd", w.ClusterVolume),
				slog.Float64("risk_score", w.CascadeRiskScore),
			)
			e.publisher.CascadeWarning(ctx, w)
		}
	}
}

// Recompute derives liquidation levels for one asset from the latest
// snapshots, given the current mid price. Levels with a negative distance
// are already crossed and sort as the most imminent; they are never dropped.
func (e *Engine) Recompute(asset string, midPrice float64) []domain.LiquidationLevel {
	snaps := e.snapshots.Snapshots(asset)
	now := time.Now().UTC()

	levels := make([]domain.LiquidationLevel, 0, len(snaps)*2)
	for _, s := range snaps {
		if s.LongOpenInterest > 0 && s.LongTriggerPrice > 0 {
			levels = append(levels, buildLevel(s.Exchange, asset, domain.SideLong,
				s.LongTriggerPrice, s.LongOpenInterest, midPrice, snapshotConfidence(now, s.ObservedAt)))
		}
		if s.ShortOpenInterest > 0 && s.ShortTriggerPrice > 0 {
			levels = append(levels, buildLevel(s.Exchange, asset, domain.SideShort,
				s.ShortTriggerPrice, s.ShortOpenInterest, midPrice, snapshotConfidence(now, s.ObservedAt)))
		}
	}

	sort.Slice(levels, func(i, j int) bool {
		return math.Abs(levels[i].DistanceFraction) < math.Abs(levels[j].DistanceFraction)
	})
	return levels
}

func buildLevel(exchange, asset string, side domain.Side, price, volume, mid, confidence float64) domain.LiquidationLevel {
	return domain.LiquidationLevel{
		Exchange:           exchange,
		Asset:              asset,
		Price:              price,
		Volume:             volume,
		Side:               side,
		DistanceFraction:   DistanceFraction(side, price, mid),
		EstimatedImpactPct: EstimateImpactPct(asset, side, volume),
		Confidence:         confidence,
	}
}

// DistanceFraction is the signed fraction of the mid price separating it
// from the level price, oriented so that a positive value means the level is
// still ahead of the price and a negative value means it has been crossed.
func DistanceFraction(side domain.Side, levelPrice, midPrice float64) float64 {
	if midPrice <= 0 {
		return 0
	}
	if side == domain.SideLong {
		return (midPrice - levelPrice) / midPrice
	}
	return (levelPrice - midPrice) / midPrice
}

// EstimateImpactPct scales a level's notional volume against the asset's
// assumed market cap, weighted per side and capped.
func EstimateImpactPct(asset string, side domain.Side, volume float64) float64 {
	marketCap, ok := assumedMarketCap[asset]
	if !ok {
		marketCap = defaultMarketCap
	}
	mult := shortImpactMultiplier
	if side == domain.SideLong {
		mult = longImpactMultiplier
	}
	pct := volume / marketCap * mult * 100
	return math.Min(pct, maxImpactPct)
}

// snapshotConfidence decays with the age of the snapshot. A level from a
// ten-minute-old snapshot is worth much less than a fresh one.
func snapshotConfidence(now, observed time.Time) float64 {
	age := now.Sub(observed)
	if age < 0 {
		age = 0
	}
	c := 0.9 - 0.4*(age.Minutes()/10)
	return clamp(c, 0.3, 0.9)
}

// CheckClusters merges same-side levels within the price band into clusters,
// in level-price order, and returns a warning for every cluster whose total
// volume reaches the threshold.
func CheckClusters(asset string, levels []domain.LiquidationLevel, bandFraction, volumeThreshold, impactCeiling float64) []domain.CascadeWarning {
	var warnings []domain.CascadeWarning
	now := time.Now().UTC()

	for _, side := range []domain.Side{domain.SideLong, domain.SideShort} {
		sided := make([]domain.LiquidationLevel, 0, len(levels))
		for _, lv := range levels {
			if lv.Side == side {
				sided = append(sided, lv)
			}
		}
		if len(sided) == 0 {
			continue
		}
		sort.Slice(sided, func(i, j int) bool { return sided[i].Price < sided[j].Price })

		var cluster []domain.LiquidationLevel
		flush := func() {
			if w, ok := clusterWarning(asset, side, cluster, volumeThreshold, impactCeiling, now); ok {
				warnings = append(warnings, w)
			}
			cluster = nil
		}

		for _, lv := range sided {
			if len(cluster) > 0 && lv.Price > cluster[0].Price*(1+bandFraction) {
				flush()
			}
			cluster = append(cluster, lv)
		}
		flush()
	}
	return warnings
}

func clusterWarning(asset string, side domain.Side, cluster []domain.LiquidationLevel, volumeThreshold, impactCeiling float64, now time.Time) (domain.CascadeWarning, bool) {
	if len(cluster) == 0 {
		return domain.CascadeWarning{}, false
	}
	var volume, impact float64
	for _, lv := range cluster {
		volume += lv.Volume
		impact += lv.EstimatedImpactPct
	}
	if volume < volumeThreshold {
		return domain.CascadeWarning{}, false
	}

	volumeRatio := volume / volumeThreshold
	impactRatio := impact / impactCeiling
	risk := math.Min(0.95, (volumeRatio+impactRatio)/2)

	members := make([]domain.LiquidationLevel, len(cluster))
	copy(members, cluster)

	return domain.CascadeWarning{
		Asset:            asset,
		Side:             side,
		ClusterVolume:    volume,
		MemberLevels:     members,
		CascadeRiskScore: risk,
		DetectedAt:       now,
	}, true
}

// OnPriceTick checks the tick against the current levels for the asset and
// publishes a proximity signal for every level within range. Repeat signals
// for the same level are suppressed for the cooldown window.
func (e *Engine) OnPriceTick(ctx context.Context, tick domain.PriceTick) {
	if tick.Price <= 0 {
		return
	}

	e.mu.RLock()
	levels := e.byAsset[tick.Asset]
	e.mu.RUnlock()

	now := time.Now().UTC()
	for _, lv := range levels {
		dist := DistanceFraction(lv.Side, lv.Price, tick.Price)
		if math.Abs(dist) > e.cfg.ProximityFraction {
			continue
		}

		key := levelKey{exchange: lv.Exchange, asset: lv.Asset, side: lv.Side, price: lv.Price}
		e.mu.Lock()
		if last, ok := e.lastSent[key]; ok && now.Sub(last) < e.cfg.SignalCooldown {
			e.mu.Unlock()
			continue
		}
		e.lastSent[key] = now
		e.mu.Unlock()

		sig := domain.ApproachingLiquidation{
			Level:                        lv,
			CurrentPrice:                 tick.Price,
			DistanceFraction:             dist,
			EstimatedTimeToLiquidationMs: EstimateTimeToLiquidationMs(tick.Asset, dist),
			ReversalProbability:          ReversalProbability(lv, e.cfg.ClusterVolumeThreshold),
			ObservedAt:                   now,
		}
		e.logger.InfoContext(ctx, "liquidation level approaching",
			slog.String("asset", lv.Asset),
			slog.String("side", string(lv.Side)),
			slog.Float64("level_price", lv.Price),
			slog.Float64("current_price", tick.Price),
			slog.Float64("distance", dist),
		)
		e.publisher.ApproachingLiquidation(ctx, sig)
	}
}

// EstimateTimeToLiquidationMs converts a price distance into a rough time
// horizon using the asset's typical daily volatility. Crossed levels report
// the one-second floor.
func EstimateTimeToLiquidationMs(asset string, distanceFraction float64) int64 {
	vol, ok := dailyVolatility[asset]
	if !ok {
		vol = defaultDailyVolatility
	}
	const dayMs = 24 * 60 * 60 * 1000
	ms := int64(math.Abs(distanceFraction) / vol * dayMs)
	if ms < 1000 {
		ms = 1000
	}
	return ms
}

// ReversalProbability estimates how likely a bounce off the level is, from
// its volume and impact. Bounded to [0, 0.95]: nothing is certain.
func ReversalProbability(lv domain.LiquidationLevel, volumeThreshold float64) float64 {
	p := 0.45
	p += 0.30 * clamp(lv.EstimatedImpactPct/maxImpactPct, 0, 1)
	if volumeThreshold > 0 {
		p += 0.15 * clamp(lv.Volume/volumeThreshold, 0, 1)
	}
	if lv.Side == domain.SideShort {
		p += 0.05
	}
	return clamp(p, 0, 0.95)
}

// Levels returns a copy of the current levels for the asset, most imminent
// first.
func (e *Engine) Levels(asset string) []domain.LiquidationLevel {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.LiquidationLevel, len(e.byAsset[asset]))
	copy(out, e.byAsset[asset])
	return out
}

// midPrice averages the cached per-exchange prices for the asset.
func (e *Engine) midPrice(ctx context.Context, asset string) (float64, bool) {
	prices, err := e.prices.AssetPrices(ctx, asset)
	if err != nil || len(prices) == 0 {
		return 0, false
	}
	var sum float64
	for _, p := range prices {
		sum += p
	}
	return sum / float64(len(prices)), true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
