// Package futures is the REST client for the futures stats aggregator that
// serves per-exchange open-interest and funding data.
package futures

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cascadewatch/internal/domain"
)

// Client fetches open-interest stats over HTTP. Requests are rate limited
// per exchange so a refresh burst across many assets cannot trip the
// aggregator's per-venue quota.
type Client struct {
	baseURL    string
	httpClient *http.Client

	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

var _ domain.SnapshotSource = (*Client)(nil)

// NewClient creates a futures stats client.
//
// baseURL is the API root, e.g. "https://api.futures-stats.example.com".
// ratePerExchange is the sustained request rate per exchange; burst is the
// short-term allowance.
func NewClient(baseURL string, requestTimeout time.Duration, ratePerExchange float64, burst int) *Client {
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	if ratePerExchange <= 0 {
		ratePerExchange = 5
	}
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		limit:    rate.Limit(ratePerExchange),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// FetchOpenInterest returns the current open-interest snapshot for one
// (exchange, asset) pair, blocking on the exchange's rate limiter first.
func (c *Client) FetchOpenInterest(ctx context.Context, exchange, asset string) (domain.OpenInterestSnapshot, error) {
	if err := c.limiter(exchange).Wait(ctx); err != nil {
		return domain.OpenInterestSnapshot{}, fmt.Errorf("futures: rate wait %s: %w", exchange, err)
	}

	params := url.Values{}
	params.Set("exchange", exchange)
	params.Set("symbol", asset)

	endpoint := c.baseURL + "/v1/open-interest?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.OpenInterestSnapshot{}, fmt.Errorf("futures: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.OpenInterestSnapshot{}, fmt.Errorf("futures: fetch %s/%s: %w", exchange, asset, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.OpenInterestSnapshot{}, fmt.Errorf("futures: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return domain.OpenInterestSnapshot{}, fmt.Errorf("futures: %s/%s: status %d: %s", exchange, asset, resp.StatusCode, apiErr.Message)
		}
		return domain.OpenInterestSnapshot{}, fmt.Errorf("futures: %s/%s: status %d", exchange, asset, resp.StatusCode)
	}

	var out openInterestResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return domain.OpenInterestSnapshot{}, fmt.Errorf("futures: decode response: %w", err)
	}

	observed := time.UnixMilli(out.Timestamp).UTC()
	if out.Timestamp == 0 {
		observed = time.Now().UTC()
	}

	return domain.OpenInterestSnapshot{
		Exchange:          exchange,
		Asset:             asset,
		LongOpenInterest:  out.LongOpenInterest,
		ShortOpenInterest: out.ShortOpenInterest,
		LongTriggerPrice:  out.LongLiqPrice,
		ShortTriggerPrice: out.ShortLiqPrice,
		FundingRate:       out.FundingRate,
		ObservedAt:        observed,
	}, nil
}

func (c *Client) limiter(exchange string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.limiters[exchange]
	if !ok {
		lim = rate.NewLimiter(c.limit, c.burst)
		c.limiters[exchange] = lim
	}
	return lim
}
