package execution

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cascadewatch/internal/config"
	"cascadewatch/internal/domain"
	"cascadewatch/internal/events"
)

func testConfig() config.ExecutionConfig {
	cfg := config.Defaults().Execution
	cfg.Enabled = true
	cfg.MinConfidence = 0.65
	cfg.AccountBalance = 100_000
	cfg.MaxActive = 5
	cfg.FeePct = 0
	cfg.SlippagePct = 0
	return cfg
}

func testPrediction(id string) domain.CascadePrediction {
	now := time.Now().UTC()
	return domain.CascadePrediction{
		ID:                id,
		Asset:             "BTC",
		Side:              domain.SideLong,
		TriggerPrice:      100,
		ReversalPrice:     95,
		ExpectedMagnitude: 0.05,
		Confidence:        0.8,
		EstimatedStartAt:  now.Add(time.Minute),
		EstimatedEndAt:    now.Add(10 * time.Minute),
	}
}

func newTestEngine(t *testing.T, cfg config.ExecutionConfig, placer domain.OrderPlacer) (*Engine, *memBus) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := &memBus{}
	pub := events.NewPublisher(bus, logger)
	store := &memStore{}
	return NewEngine(cfg, placer, store, nil, pub, logger), bus
}

func TestPreparedExecution(t *testing.T) {
	eng, bus := newTestEngine(t, testConfig(), &stubPlacer{})
	ctx := context.Background()

	pred := testPrediction("p1")
	require.NoError(t, eng.OnCascadePredicted(ctx, pred))

	exec, ok := eng.Execution(context.Background(), "p1")
	require.True(t, ok)
	assert.Equal(t, domain.ExecutionPending, exec.Status)

	// A long cascade pushes price down: the momentum entry sells.
	require.NotNil(t, exec.EntrySignal)
	assert.Equal(t, domain.OrderSideSell, exec.EntrySignal.Side)

	// Stop sits on the adverse side of the trigger for a short position.
	assert.Greater(t, exec.StopPrice, pred.TriggerPrice)

	assert.Equal(t, 1, len(bus.byChannel(domain.ChannelExecutionEvents)))
}

func TestShortCascadePreparesBuyEntry(t *testing.T) {
	eng, _ := newTestEngine(t, testConfig(), &stubPlacer{})

	pred := testPrediction("p1")
	pred.Side = domain.SideShort
	require.NoError(t, eng.OnCascadePredicted(context.Background(), pred))

	exec, ok := eng.Execution(context.Background(), "p1")
	require.True(t, ok)
	assert.Equal(t, domain.OrderSideBuy, exec.EntrySignal.Side)
	assert.Less(t, exec.StopPrice, pred.TriggerPrice)
}

func TestLowConfidenceSkipped(t *testing.T) {
	eng, _ := newTestEngine(t, testConfig(), &stubPlacer{})

	pred := testPrediction("p1")
	pred.Confidence = 0.5
	require.NoError(t, eng.OnCascadePredicted(context.Background(), pred))

	_, ok := eng.Execution(context.Background(), "p1")
	assert.False(t, ok)
}

func TestDuplicatePredictionIgnored(t *testing.T) {
	eng, bus := newTestEngine(t, testConfig(), &stubPlacer{})
	ctx := context.Background()

	pred := testPrediction("p1")
	require.NoError(t, eng.OnCascadePredicted(ctx, pred))
	require.NoError(t, eng.OnCascadePredicted(ctx, pred))

	assert.Equal(t, 1, eng.ActiveCount())
	assert.Equal(t, 1, len(bus.byChannel(domain.ChannelExecutionEvents)))
}

func TestCompletedExecutionFreesSlot(t *testing.T) {
	placer := &stubPlacer{}
	eng, _ := newTestEngine(t, testConfig(), placer)
	ctx := context.Background()

	require.NoError(t, eng.OnCascadePredicted(ctx, testPrediction("p1")))
	require.NoError(t, eng.OnCascadeStarted(ctx, domain.CascadeStarted{ID: "p1", CurrentPrice: 100}))
	require.NoError(t, eng.OnCascadeReversal(ctx, domain.CascadeReversal{ID: "p1", CurrentPrice: 95}))
	assert.Equal(t, 0, eng.ActiveCount())

	// The completed record survives in the archive.
	exec, ok := eng.Execution(ctx, "p1")
	require.True(t, ok)
	assert.Equal(t, domain.ExecutionExited, exec.Status)

	// The id is free again: a later prediction under the same id starts a
	// fresh execution instead of being swallowed as a duplicate.
	require.NoError(t, eng.OnCascadePredicted(ctx, testPrediction("p1")))
	assert.Equal(t, 1, eng.ActiveCount())
	exec, ok = eng.Execution(ctx, "p1")
	require.True(t, ok)
	assert.Equal(t, domain.ExecutionPending, exec.Status)
}

func TestMaxActiveRejected(t *testing.T) {
	cfg := testConfig()
	cfg.MaxActive = 1
	eng, _ := newTestEngine(t, cfg, &stubPlacer{})
	ctx := context.Background()

	require.NoError(t, eng.OnCascadePredicted(ctx, testPrediction("p1")))
	err := eng.OnCascadePredicted(ctx, testPrediction("p2"))
	require.ErrorIs(t, err, domain.ErrTooManyActive)
}

func TestEntryExecutedOnce(t *testing.T) {
	placer := &stubPlacer{}
	eng, _ := newTestEngine(t, testConfig(), placer)
	ctx := context.Background()

	require.NoError(t, eng.OnCascadePredicted(ctx, testPrediction("p1")))

	started := domain.CascadeStarted{ID: "p1", Asset: "BTC", CurrentPrice: 100, At: time.Now().UTC()}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = eng.OnCascadeStarted(ctx, started)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, placer.calls())
	exec, _ := eng.Execution(context.Background(), "p1")
	assert.Equal(t, domain.ExecutionEntered, exec.Status)
	require.NotNil(t, exec.EntryResult)
}

func TestEntryPlacementFailure(t *testing.T) {
	placer := &stubPlacer{err: errors.New("exchange down")}
	eng, _ := newTestEngine(t, testConfig(), placer)
	ctx := context.Background()

	require.NoError(t, eng.OnCascadePredicted(ctx, testPrediction("p1")))
	err := eng.OnCascadeStarted(ctx, domain.CascadeStarted{ID: "p1", CurrentPrice: 100})
	require.Error(t, err)

	exec, _ := eng.Execution(context.Background(), "p1")
	assert.Equal(t, domain.ExecutionFailed, exec.Status)
	assert.Contains(t, exec.FailureReason, "entry placement")
	require.NotNil(t, exec.CompletedAt)
}

func TestReversalWhilePendingIgnored(t *testing.T) {
	placer := &stubPlacer{}
	eng, _ := newTestEngine(t, testConfig(), placer)
	ctx := context.Background()

	require.NoError(t, eng.OnCascadePredicted(ctx, testPrediction("p1")))
	require.NoError(t, eng.OnCascadeReversal(ctx, domain.CascadeReversal{ID: "p1", CurrentPrice: 95}))

	assert.Equal(t, 0, placer.calls())
	exec, _ := eng.Execution(context.Background(), "p1")
	assert.Equal(t, domain.ExecutionPending, exec.Status)
}

func TestUnknownIDsAreNoOps(t *testing.T) {
	placer := &stubPlacer{}
	eng, _ := newTestEngine(t, testConfig(), placer)
	ctx := context.Background()

	require.NoError(t, eng.OnCascadeStarted(ctx, domain.CascadeStarted{ID: "ghost"}))
	require.NoError(t, eng.OnCascadeReversal(ctx, domain.CascadeReversal{ID: "ghost"}))
	assert.Equal(t, 0, placer.calls())
}

func TestReversalExitShortProfit(t *testing.T) {
	placer := &stubPlacer{}
	eng, _ := newTestEngine(t, testConfig(), placer)
	ctx := context.Background()

	require.NoError(t, eng.OnCascadePredicted(ctx, testPrediction("p1")))
	require.NoError(t, eng.OnCascadeStarted(ctx, domain.CascadeStarted{ID: "p1", CurrentPrice: 100}))
	require.NoError(t, eng.OnCascadeReversal(ctx, domain.CascadeReversal{ID: "p1", CurrentPrice: 95}))

	exec, _ := eng.Execution(context.Background(), "p1")
	require.Equal(t, domain.ExecutionExited, exec.Status)
	assert.Equal(t, domain.ExitReasonReversal, exec.ExitReason)

	// Short entry at 100, buy back at 95, zero fees: 5 per unit.
	qty := exec.EntryResult.FilledQuantity
	assert.InDelta(t, 5*qty, exec.ActualProfit, 1e-6)
	assert.InDelta(t, 5.0, exec.ProfitPercentage, 1e-6)

	// Exit quantity equals the filled entry quantity.
	require.NotNil(t, exec.ExitSignal)
	assert.Equal(t, qty, exec.ExitSignal.Quantity)
	assert.Equal(t, domain.OrderSideBuy, exec.ExitSignal.Side)
}

func TestReversalExitLongProfit(t *testing.T) {
	placer := &stubPlacer{}
	eng, _ := newTestEngine(t, testConfig(), placer)
	ctx := context.Background()

	pred := testPrediction("p1")
	pred.Side = domain.SideShort // short squeeze: buy entry
	require.NoError(t, eng.OnCascadePredicted(ctx, pred))
	require.NoError(t, eng.OnCascadeStarted(ctx, domain.CascadeStarted{ID: "p1", CurrentPrice: 100}))
	require.NoError(t, eng.OnCascadeReversal(ctx, domain.CascadeReversal{ID: "p1", CurrentPrice: 105}))

	exec, _ := eng.Execution(context.Background(), "p1")
	require.Equal(t, domain.ExecutionExited, exec.Status)

	qty := exec.EntryResult.FilledQuantity
	assert.InDelta(t, 5*qty, exec.ActualProfit, 1e-6)
	assert.InDelta(t, 5.0, exec.ProfitPercentage, 1e-6)
}

func TestExitExactlyOnceUnderRace(t *testing.T) {
	placer := &stubPlacer{delay: 5 * time.Millisecond}
	eng, _ := newTestEngine(t, testConfig(), placer)
	ctx := context.Background()

	require.NoError(t, eng.OnCascadePredicted(ctx, testPrediction("p1")))
	require.NoError(t, eng.OnCascadeStarted(ctx, domain.CascadeStarted{ID: "p1", CurrentPrice: 100}))
	entryCalls := placer.calls()

	// Reversal, stop loss, and forced exits all race for the same position.
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		_ = eng.OnCascadeReversal(ctx, domain.CascadeReversal{ID: "p1", CurrentPrice: 95})
	}()
	go func() {
		defer wg.Done()
		eng.Monitor(ctx, domain.PriceTick{Asset: "BTC", Price: 103, Timestamp: time.Now().UTC()})
	}()
	go func() {
		defer wg.Done()
		eng.SweepExpired(ctx, time.Now().UTC().Add(time.Hour))
	}()
	wg.Wait()

	assert.Equal(t, entryCalls+1, placer.calls())
	exec, _ := eng.Execution(context.Background(), "p1")
	assert.Equal(t, domain.ExecutionExited, exec.Status)
}

func TestStopLossTriggersOnAdverseTick(t *testing.T) {
	placer := &stubPlacer{}
	eng, _ := newTestEngine(t, testConfig(), placer)
	ctx := context.Background()

	require.NoError(t, eng.OnCascadePredicted(ctx, testPrediction("p1")))
	require.NoError(t, eng.OnCascadeStarted(ctx, domain.CascadeStarted{ID: "p1", CurrentPrice: 100}))

	exec, _ := eng.Execution(context.Background(), "p1")
	stop := exec.StopPrice

	// Favorable move: no exit.
	eng.Monitor(ctx, domain.PriceTick{Asset: "BTC", Price: 98, Timestamp: time.Now().UTC()})
	exec, _ = eng.Execution(context.Background(), "p1")
	assert.Equal(t, domain.ExecutionEntered, exec.Status)

	// Adverse move through the stop: short position exits.
	eng.Monitor(ctx, domain.PriceTick{Asset: "BTC", Price: stop + 0.01, Timestamp: time.Now().UTC()})
	exec, _ = eng.Execution(context.Background(), "p1")
	require.Equal(t, domain.ExecutionExited, exec.Status)
	assert.Equal(t, domain.ExitReasonStopLoss, exec.ExitReason)
	assert.Less(t, exec.ActualProfit, 0.0)
}

func TestSweepExpiresPending(t *testing.T) {
	placer := &stubPlacer{}
	eng, _ := newTestEngine(t, testConfig(), placer)
	ctx := context.Background()

	require.NoError(t, eng.OnCascadePredicted(ctx, testPrediction("p1")))

	exec, _ := eng.Execution(context.Background(), "p1")
	eng.SweepExpired(ctx, exec.EntryDeadline.Add(time.Second))

	exec, _ = eng.Execution(context.Background(), "p1")
	assert.Equal(t, domain.ExecutionFailed, exec.Status)
	assert.Contains(t, exec.FailureReason, "entry deadline")
	assert.Equal(t, 0, placer.calls())

	// A late start event finds nothing to enter.
	require.NoError(t, eng.OnCascadeStarted(ctx, domain.CascadeStarted{ID: "p1", CurrentPrice: 100}))
	assert.Equal(t, 0, placer.calls())
}

func TestSweepForceExitsAtPrevailingPrice(t *testing.T) {
	placer := &stubPlacer{}
	eng, _ := newTestEngine(t, testConfig(), placer)
	ctx := context.Background()

	require.NoError(t, eng.OnCascadePredicted(ctx, testPrediction("p1")))
	require.NoError(t, eng.OnCascadeStarted(ctx, domain.CascadeStarted{ID: "p1", CurrentPrice: 100}))

	// Last observed tick becomes the forced exit price.
	eng.Monitor(ctx, domain.PriceTick{Asset: "BTC", Price: 97, Timestamp: time.Now().UTC()})

	exec, _ := eng.Execution(context.Background(), "p1")
	eng.SweepExpired(ctx, exec.ExitDeadline.Add(time.Second))

	exec, _ = eng.Execution(context.Background(), "p1")
	require.Equal(t, domain.ExecutionExited, exec.Status)
	assert.Equal(t, domain.ExitReasonDeadline, exec.ExitReason)
	require.NotNil(t, exec.ExitResult)
	assert.InDelta(t, 97, exec.ExitResult.FilledPrice, 1e-9)
}

func TestShutdownDrains(t *testing.T) {
	placer := &stubPlacer{}
	eng, _ := newTestEngine(t, testConfig(), placer)
	ctx := context.Background()

	require.NoError(t, eng.OnCascadePredicted(ctx, testPrediction("open")))
	require.NoError(t, eng.OnCascadeStarted(ctx, domain.CascadeStarted{ID: "open", CurrentPrice: 100}))
	require.NoError(t, eng.OnCascadePredicted(ctx, testPrediction("waiting")))

	eng.Shutdown(ctx)

	open, _ := eng.Execution(context.Background(), "open")
	assert.Equal(t, domain.ExecutionExited, open.Status)
	assert.Equal(t, domain.ExitReasonShutdown, open.ExitReason)

	waiting, _ := eng.Execution(context.Background(), "waiting")
	assert.Equal(t, domain.ExecutionFailed, waiting.Status)
	assert.Equal(t, 0, eng.ActiveCount())
}

func TestCompletedExecutionsArchived(t *testing.T) {
	placer := &stubPlacer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := &memBus{}
	store := &memStore{}
	eng := NewEngine(testConfig(), placer, store, nil, events.NewPublisher(bus, logger), logger)
	ctx := context.Background()

	require.NoError(t, eng.OnCascadePredicted(ctx, testPrediction("p1")))
	require.NoError(t, eng.OnCascadeStarted(ctx, domain.CascadeStarted{ID: "p1", CurrentPrice: 100}))
	require.NoError(t, eng.OnCascadeReversal(ctx, domain.CascadeReversal{ID: "p1", CurrentPrice: 95}))

	require.Len(t, store.appended(), 1)
	assert.Equal(t, domain.ExecutionExited, store.appended()[0].Status)
}

// stubPlacer fills every order at the requested price.
type stubPlacer struct {
	mu    sync.Mutex
	n     int
	err   error
	delay time.Duration
}

func (p *stubPlacer) PlaceOrder(ctx context.Context, sig domain.TradeSignal) (domain.ExecutionResult, error) {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	p.n++
	p.mu.Unlock()
	if p.err != nil {
		return domain.ExecutionResult{}, p.err
	}
	return domain.ExecutionResult{
		OrderID:           sig.ID,
		Asset:             sig.Asset,
		Side:              sig.Side,
		RequestedQuantity: sig.Quantity,
		FilledQuantity:    sig.Quantity,
		RequestedPrice:    sig.Price,
		FilledPrice:       sig.Price,
		ExecutedAt:        time.Now().UTC(),
	}, nil
}

func (p *stubPlacer) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

// memStore records appended executions.
type memStore struct {
	mu    sync.Mutex
	execs []domain.CascadeExecution
}

func (s *memStore) Append(ctx context.Context, exec domain.CascadeExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs = append(s.execs, exec)
	return nil
}

func (s *memStore) ListRecent(ctx context.Context, limit int) ([]domain.CascadeExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CascadeExecution, len(s.execs))
	copy(out, s.execs)
	return out, nil
}

func (s *memStore) appended() []domain.CascadeExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CascadeExecution, len(s.execs))
	copy(out, s.execs)
	return out
}

// memBus is an in-memory domain.EventBus for tests.
type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func (b *memBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.published == nil {
		b.published = make(map[string][][]byte)
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *memBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	return nil
}

func (b *memBus) byChannel(channel string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published[channel]
}
