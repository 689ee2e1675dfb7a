package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"cascadewatch/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each asset has
// one hash at key "price:{asset}" whose fields are per-exchange entries
// "{exchange}" and "{exchange}:ts" (Unix nanosecond timestamp), so all feeds
// for an asset can be assembled with a single HGETALL when computing the
// cross-exchange mid price.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(asset string) string {
	return "price:" + asset
}

// SetPrice stores the latest price and timestamp for one exchange feed.
func (pc *PriceCache) SetPrice(ctx context.Context, exchange, asset string, price float64, ts time.Time) error {
	fields := map[string]interface{}{
		exchange:         strconv.FormatFloat(price, 'f', -1, 64),
		exchange + ":ts": strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(asset), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s/%s: %w", exchange, asset, err)
	}
	return nil
}

// GetPrice retrieves the latest price and timestamp for one exchange feed.
// It returns domain.ErrNotFound when no price has been reported.
func (pc *PriceCache) GetPrice(ctx context.Context, exchange, asset string) (float64, time.Time, error) {
	vals, err := pc.rdb.HMGet(ctx, priceKey(asset), exchange, exchange+":ts").Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s/%s: %w", exchange, asset, err)
	}
	priceStr, ok := vals[0].(string)
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s/%s: %w", exchange, asset, err)
	}

	ts := time.Time{}
	if tsStr, ok := vals[1].(string); ok {
		if tsNano, err := strconv.ParseInt(tsStr, 10, 64); err == nil {
			ts = time.Unix(0, tsNano)
		}
	}
	return price, ts, nil
}

// AssetPrices returns the latest price per exchange for one asset. Exchanges
// that have never reported the asset are omitted; an asset with no feeds at
// all yields an empty map, not an error.
func (pc *PriceCache) AssetPrices(ctx context.Context, asset string) (map[string]float64, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(asset)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: asset prices %s: %w", asset, err)
	}

	prices := make(map[string]float64, len(vals))
	for field, raw := range vals {
		if strings.HasSuffix(field, ":ts") {
			continue
		}
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		prices[field] = price
	}
	return prices, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
