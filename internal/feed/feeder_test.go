package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cascadewatch/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTickFeederDispatchesAndCaches(t *testing.T) {
	bus := newChanBus()
	prices := &memPrices{}

	var mu sync.Mutex
	var seen []domain.PriceTick
	feeder := NewTickFeeder(bus, prices, testLogger(), func(ctx context.Context, tick domain.PriceTick) {
		mu.Lock()
		seen = append(seen, tick)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- feeder.Run(ctx) }()

	tick := domain.PriceTick{Exchange: "binance", Asset: "BTC", Price: 100_000, Timestamp: time.Now().UTC()}
	payload, err := json.Marshal(tick)
	require.NoError(t, err)
	bus.push(domain.ChannelTicks, payload)

	// Garbage and empty ticks are dropped without killing the feeder.
	bus.push(domain.ChannelTicks, []byte("{not json"))
	bus.push(domain.ChannelTicks, mustJSON(t, domain.PriceTick{Asset: "", Price: 5}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "BTC", seen[0].Asset)
	mu.Unlock()

	price, ok := prices.get("binance", "BTC")
	require.True(t, ok)
	assert.Equal(t, 100_000.0, price)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestCascadeFeederDispatchesAllChannels(t *testing.T) {
	bus := newChanBus()
	handler := &recordingHandler{}
	feeder := NewCascadeFeeder(bus, handler, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- feeder.Run(ctx) }()

	// Give all three subscriptions time to register.
	require.Eventually(t, func() bool { return bus.subscribed() == 3 }, time.Second, 5*time.Millisecond)

	bus.push(domain.ChannelCascadePredicted, mustJSON(t, domain.CascadePrediction{ID: "p1", Asset: "BTC"}))
	bus.push(domain.ChannelCascadeStarted, mustJSON(t, domain.CascadeStarted{ID: "p1", CurrentPrice: 100}))
	bus.push(domain.ChannelCascadeReversal, mustJSON(t, domain.CascadeReversal{ID: "p1", CurrentPrice: 95}))

	// Events without an id are dropped.
	bus.push(domain.ChannelCascadeStarted, mustJSON(t, domain.CascadeStarted{}))

	require.Eventually(t, func() bool {
		return handler.counts() == [3]int{1, 1, 1}
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

// chanBus is an in-memory bus whose subscriptions are real channels.
type chanBus struct {
	mu    sync.Mutex
	chans map[string]chan []byte
	subs  int
}

func newChanBus() *chanBus {
	return &chanBus{chans: make(map[string]chan []byte)}
}

func (b *chanBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.push(channel, payload)
	return nil
}

func (b *chanBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.chans[channel]
	if !ok {
		ch = make(chan []byte, 16)
		b.chans[channel] = ch
	}
	b.subs++
	return ch, nil
}

func (b *chanBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	return nil
}

func (b *chanBus) push(channel string, payload []byte) {
	b.mu.Lock()
	ch, ok := b.chans[channel]
	if !ok {
		ch = make(chan []byte, 16)
		b.chans[channel] = ch
	}
	b.mu.Unlock()
	ch <- payload
}

func (b *chanBus) subscribed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs
}

// memPrices is an in-memory domain.PriceCache.
type memPrices struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (p *memPrices) SetPrice(ctx context.Context, exchange, asset string, price float64, ts time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.prices == nil {
		p.prices = make(map[string]float64)
	}
	p.prices[exchange+"/"+asset] = price
	return nil
}

func (p *memPrices) GetPrice(ctx context.Context, exchange, asset string) (float64, time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.prices[exchange+"/"+asset]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return v, time.Time{}, nil
}

func (p *memPrices) AssetPrices(ctx context.Context, asset string) (map[string]float64, error) {
	return nil, nil
}

func (p *memPrices) get(exchange, asset string) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.prices[exchange+"/"+asset]
	return v, ok
}

// recordingHandler counts dispatched cascade events.
type recordingHandler struct {
	mu                            sync.Mutex
	predicted, started, reversals int
}

func (h *recordingHandler) OnCascadePredicted(ctx context.Context, pred domain.CascadePrediction) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.predicted++
	return nil
}

func (h *recordingHandler) OnCascadeStarted(ctx context.Context, ev domain.CascadeStarted) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started++
	return nil
}

func (h *recordingHandler) OnCascadeReversal(ctx context.Context, ev domain.CascadeReversal) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reversals++
	return nil
}

func (h *recordingHandler) counts() [3]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return [3]int{h.predicted, h.started, h.reversals}
}
