// Package execution owns the cascade execution state machine. One execution
// exists per prediction id and moves pending → entered → exited, or to
// failed. Order placement is the only suspension point; all other transitions
// happen under the engine lock, so each terminal transition fires exactly
// once no matter how many triggers race for it.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"cascadewatch/internal/config"
	"cascadewatch/internal/domain"
	"cascadewatch/internal/events"
)

// archiveLookback bounds how far back Execution searches the archive for a
// completed record.
const archiveLookback = 200

// execState wraps an execution with its in-flight order guard. While inFlight
// is set, no other trigger may claim the execution.
type execState struct {
	exec     domain.CascadeExecution
	inFlight bool
}

// Engine drives cascade executions from predictions through entry and exit.
type Engine struct {
	cfg       config.ExecutionConfig
	broker    domain.OrderPlacer
	store     domain.ExecutionStore
	archiver  domain.Archiver
	publisher *events.Publisher
	logger    *slog.Logger

	mu         sync.Mutex
	executions map[string]*execState
	lastPrice  map[string]float64
}

// NewEngine creates an execution engine. store and archiver may be nil, in
// which case completed executions are only published on the bus.
func NewEngine(cfg config.ExecutionConfig, broker domain.OrderPlacer, store domain.ExecutionStore, archiver domain.Archiver, publisher *events.Publisher, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		broker:     broker,
		store:      store,
		archiver:   archiver,
		publisher:  publisher,
		logger:     logger.With(slog.String("component", "execution")),
		executions: make(map[string]*execState),
		lastPrice:  make(map[string]float64),
	}
}

// Run sweeps expired executions on a fixed period and force-exits open
// positions when the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	period := e.cfg.SweepPeriod.Duration
	if period <= 0 {
		period = time.Minute
	}
	e.logger.InfoContext(ctx, "execution engine starting",
		slog.Duration("sweep_period", period),
		slog.Int("max_active", e.cfg.MaxActive),
	)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.InfoContext(ctx, "execution engine stopping")
			e.Shutdown(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-ticker.C:
			e.SweepExpired(ctx, time.Now().UTC())
		}
	}
}

// OnCascadePredicted prepares a pending execution for the prediction: sizes
// the position, precomputes the stop price on the adverse side of the
// trigger, and sets entry and exit deadlines. Low-confidence predictions are
// skipped; duplicates are no-ops.
func (e *Engine) OnCascadePredicted(ctx context.Context, pred domain.CascadePrediction) error {
	if !e.cfg.Enabled {
		return nil
	}
	if pred.Confidence < e.cfg.MinConfidence {
		e.logger.DebugContext(ctx, "prediction below confidence floor, skipping",
			slog.String("id", pred.ID),
			slog.Float64("confidence", pred.Confidence),
		)
		return nil
	}
	if pred.TriggerPrice <= 0 {
		return fmt.Errorf("execution: prediction %s: invalid trigger price %f", pred.ID, pred.TriggerPrice)
	}

	e.mu.Lock()
	if _, ok := e.executions[pred.ID]; ok {
		e.mu.Unlock()
		return nil
	}
	if e.activeLocked() >= e.cfg.MaxActive {
		e.mu.Unlock()
		e.logger.WarnContext(ctx, "active execution limit reached, rejecting prediction",
			slog.String("id", pred.ID),
			slog.Int("max_active", e.cfg.MaxActive),
		)
		return fmt.Errorf("execution: prediction %s: %w", pred.ID, domain.ErrTooManyActive)
	}

	now := time.Now().UTC()

	// A long cascade forces longs out and pushes price down, so the momentum
	// entry sells; a short cascade is the mirror.
	entrySide := domain.OrderSideSell
	if pred.Side == domain.SideShort {
		entrySide = domain.OrderSideBuy
	}

	notional := positionNotional(e.cfg, pred.Confidence, pred.ExpectedMagnitude)
	qty := quantityFor(notional, pred.TriggerPrice, e.cfg.Leverage)

	stopPct := e.cfg.StopLoss(pred.Asset)
	stopPrice := pred.TriggerPrice * (1 + stopPct)
	if entrySide == domain.OrderSideBuy {
		stopPrice = pred.TriggerPrice * (1 - stopPct)
	}

	entry := &domain.TradeSignal{
		ID:          uuid.NewString(),
		ExecutionID: pred.ID,
		Asset:       pred.Asset,
		Side:        entrySide,
		Price:       pred.TriggerPrice,
		Quantity:    qty,
		Leverage:    e.cfg.Leverage,
		Reason:      "cascade momentum entry",
		CreatedAt:   now,
	}

	exec := domain.CascadeExecution{
		ID:            pred.ID,
		Prediction:    pred,
		EntrySignal:   entry,
		StopPrice:     stopPrice,
		EntryDeadline: pred.EstimatedStartAt.Add(e.cfg.EntryGrace.Duration),
		ExitDeadline:  pred.EstimatedEndAt.Add(e.cfg.ExitGrace.Duration),
		Status:        domain.ExecutionPending,
		StartedAt:     now,
	}
	e.executions[pred.ID] = &execState{exec: exec}
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "execution prepared",
		slog.String("id", pred.ID),
		slog.String("asset", pred.Asset),
		slog.String("entry_side", string(entrySide)),
		slog.Float64("quantity", qty),
		slog.Float64("stop_price", stopPrice),
	)
	e.publisher.ExecutionEvent(ctx, domain.ExecutionEventPrepared, exec.Clone(), "")
	return nil
}

// OnCascadeStarted places the entry order for a pending execution. The entry
// fires at most once: concurrent or repeated start events for the same id
// are no-ops once the entry has been claimed.
func (e *Engine) OnCascadeStarted(ctx context.Context, ev domain.CascadeStarted) error {
	e.mu.Lock()
	st, ok := e.executions[ev.ID]
	if !ok || st.exec.Status != domain.ExecutionPending || st.inFlight {
		e.mu.Unlock()
		return nil
	}
	st.inFlight = true
	sig := *st.exec.EntrySignal
	if ev.CurrentPrice > 0 {
		sig.Price = ev.CurrentPrice
	}
	e.mu.Unlock()

	result, err := e.broker.PlaceOrder(ctx, sig)

	e.mu.Lock()
	st.inFlight = false
	if err != nil {
		st.exec.Status = domain.ExecutionFailed
		st.exec.FailureReason = fmt.Sprintf("entry placement: %v", err)
		now := time.Now().UTC()
		st.exec.CompletedAt = &now
		snapshot := st.exec.Clone()
		e.mu.Unlock()

		e.logger.ErrorContext(ctx, "entry placement failed",
			slog.String("id", ev.ID),
			slog.String("error", err.Error()),
		)
		e.finalize(ctx, domain.ExecutionEventFailed, snapshot, snapshot.FailureReason)
		return fmt.Errorf("execution: entry %s: %w", ev.ID, err)
	}

	now := time.Now().UTC()
	st.exec.EntrySignal = &sig
	st.exec.EntryResult = &result
	st.exec.Status = domain.ExecutionEntered
	st.exec.EnteredAt = &now
	snapshot := st.exec.Clone()
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "entry executed",
		slog.String("id", ev.ID),
		slog.String("asset", result.Asset),
		slog.Float64("filled_price", result.FilledPrice),
		slog.Float64("filled_quantity", result.FilledQuantity),
	)
	e.publisher.ExecutionEvent(ctx, domain.ExecutionEventEntryExecuted, snapshot, "")
	return nil
}

// OnCascadeReversal exits an entered execution at the reversal price. A
// reversal for an execution that has not entered yet is ignored: there is no
// position to close.
func (e *Engine) OnCascadeReversal(ctx context.Context, ev domain.CascadeReversal) error {
	e.mu.Lock()
	st, ok := e.executions[ev.ID]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	if st.exec.Status == domain.ExecutionPending {
		e.mu.Unlock()
		e.logger.DebugContext(ctx, "reversal before entry, ignoring",
			slog.String("id", ev.ID))
		return nil
	}
	e.mu.Unlock()

	return e.exit(ctx, ev.ID, ev.CurrentPrice, domain.ExitReasonReversal)
}

// Monitor checks a live tick against the stop prices of entered executions
// for the same asset and triggers stop-loss exits on breach. It also records
// the tick as the prevailing price for forced exits.
func (e *Engine) Monitor(ctx context.Context, tick domain.PriceTick) {
	if tick.Price <= 0 {
		return
	}

	e.mu.Lock()
	e.lastPrice[tick.Asset] = tick.Price
	var breached []string
	for id, st := range e.executions {
		if st.exec.Status != domain.ExecutionEntered || st.inFlight {
			continue
		}
		if st.exec.Prediction.Asset != tick.Asset {
			continue
		}
		if stopBreached(st.exec, tick.Price) {
			breached = append(breached, id)
		}
	}
	e.mu.Unlock()

	for _, id := range breached {
		e.logger.WarnContext(ctx, "stop loss breached",
			slog.String("id", id),
			slog.Float64("price", tick.Price),
		)
		if err := e.exit(ctx, id, tick.Price, domain.ExitReasonStopLoss); err != nil {
			e.logger.ErrorContext(ctx, "stop loss exit failed",
				slog.String("id", id),
				slog.String("error", err.Error()),
			)
		}
	}
}

// stopBreached reports whether the tick price has crossed the execution's
// stop on the adverse side of its position.
func stopBreached(exec domain.CascadeExecution, price float64) bool {
	if exec.EntrySignal == nil || exec.StopPrice <= 0 {
		return false
	}
	if exec.EntrySignal.Side == domain.OrderSideSell {
		return price >= exec.StopPrice
	}
	return price <= exec.StopPrice
}

// SweepExpired fails pending executions past their entry deadline and
// force-exits entered executions past their exit deadline at the prevailing
// price.
func (e *Engine) SweepExpired(ctx context.Context, now time.Time) {
	e.mu.Lock()
	var expired, overdue []string
	for id, st := range e.executions {
		if st.inFlight {
			continue
		}
		switch st.exec.Status {
		case domain.ExecutionPending:
			if now.After(st.exec.EntryDeadline) {
				expired = append(expired, id)
			}
		case domain.ExecutionEntered:
			if now.After(st.exec.ExitDeadline) {
				overdue = append(overdue, id)
			}
		}
	}
	e.mu.Unlock()

	for _, id := range expired {
		e.expirePending(ctx, id, "entry deadline elapsed")
	}
	for _, id := range overdue {
		e.logger.WarnContext(ctx, "exit deadline elapsed, forcing exit",
			slog.String("id", id))
		if err := e.exit(ctx, id, e.prevailingPrice(id), domain.ExitReasonDeadline); err != nil {
			e.logger.ErrorContext(ctx, "forced exit failed",
				slog.String("id", id),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Shutdown force-exits every entered execution and discards pending ones.
// Called with a context that survives cancellation so closing orders can
// still reach the broker.
func (e *Engine) Shutdown(ctx context.Context) {
	e.mu.Lock()
	var pending, entered []string
	for id, st := range e.executions {
		switch st.exec.Status {
		case domain.ExecutionPending:
			pending = append(pending, id)
		case domain.ExecutionEntered:
			entered = append(entered, id)
		}
	}
	e.mu.Unlock()

	for _, id := range pending {
		e.expirePending(ctx, id, "shutdown before entry")
	}
	for _, id := range entered {
		if err := e.exit(ctx, id, e.prevailingPrice(id), domain.ExitReasonShutdown); err != nil {
			e.logger.ErrorContext(ctx, "shutdown exit failed",
				slog.String("id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	e.logger.InfoContext(ctx, "execution engine drained",
		slog.Int("discarded_pending", len(pending)),
		slog.Int("force_exited", len(entered)),
	)
}

// expirePending moves a pending execution to failed. Racing triggers are
// resolved under the lock: only the first caller performs the transition.
func (e *Engine) expirePending(ctx context.Context, id, reason string) {
	e.mu.Lock()
	st, ok := e.executions[id]
	if !ok || st.exec.Status != domain.ExecutionPending || st.inFlight {
		e.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	st.exec.Status = domain.ExecutionFailed
	st.exec.FailureReason = reason
	st.exec.CompletedAt = &now
	snapshot := st.exec.Clone()
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "pending execution expired",
		slog.String("id", id),
		slog.String("reason", reason),
	)
	e.finalize(ctx, domain.ExecutionEventExpired, snapshot, reason)
}

// exit closes an entered execution at the given price for the given reason.
// The claim under the lock guarantees exactly one exit order per execution
// even when reversal, stop loss, deadline, and shutdown race.
func (e *Engine) exit(ctx context.Context, id string, price float64, reason domain.ExitReason) error {
	e.mu.Lock()
	st, ok := e.executions[id]
	if !ok || st.exec.Status != domain.ExecutionEntered || st.inFlight {
		e.mu.Unlock()
		return nil
	}
	entryResult := *st.exec.EntryResult
	if price <= 0 {
		price = entryResult.FilledPrice
	}
	st.inFlight = true
	sig := domain.TradeSignal{
		ID:          uuid.NewString(),
		ExecutionID: id,
		Asset:       entryResult.Asset,
		Side:        oppositeOrderSide(entryResult.Side),
		Price:       price,
		Quantity:    entryResult.FilledQuantity,
		Leverage:    e.cfg.Leverage,
		Reason:      "cascade exit: " + string(reason),
		CreatedAt:   time.Now().UTC(),
	}
	e.mu.Unlock()

	result, err := e.broker.PlaceOrder(ctx, sig)

	e.mu.Lock()
	st.inFlight = false
	now := time.Now().UTC()
	if err != nil {
		st.exec.Status = domain.ExecutionFailed
		st.exec.ExitSignal = &sig
		st.exec.FailureReason = fmt.Sprintf("exit placement: %v", err)
		st.exec.CompletedAt = &now
		snapshot := st.exec.Clone()
		e.mu.Unlock()

		e.logger.ErrorContext(ctx, "exit placement failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		e.finalize(ctx, domain.ExecutionEventFailed, snapshot, snapshot.FailureReason)
		return fmt.Errorf("execution: exit %s: %w", id, err)
	}

	profit := realizedProfit(entryResult, result)
	result.PnL = &profit

	st.exec.ExitSignal = &sig
	st.exec.ExitResult = &result
	st.exec.ExitReason = reason
	st.exec.ActualProfit = profit
	if entryNotional := entryResult.FilledPrice * entryResult.FilledQuantity; entryNotional > 0 {
		st.exec.ProfitPercentage = profit / entryNotional * 100
	}
	st.exec.Status = domain.ExecutionExited
	st.exec.CompletedAt = &now
	snapshot := st.exec.Clone()
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "exit executed",
		slog.String("id", id),
		slog.String("reason", string(reason)),
		slog.Float64("profit", profit),
		slog.Float64("profit_pct", snapshot.ProfitPercentage),
	)
	e.finalize(ctx, exitEventType(reason), snapshot, string(reason))
	return nil
}

// realizedProfit computes fee-inclusive PnL across both legs.
func realizedProfit(entry, exit domain.ExecutionResult) float64 {
	qty := entry.FilledQuantity
	var gross float64
	if entry.Side == domain.OrderSideSell {
		gross = (entry.FilledPrice - exit.FilledPrice) * qty
	} else {
		gross = (exit.FilledPrice - entry.FilledPrice) * qty
	}
	return gross - entry.Fee - exit.Fee
}

func exitEventType(reason domain.ExitReason) domain.ExecutionEventType {
	switch reason {
	case domain.ExitReasonStopLoss:
		return domain.ExecutionEventStopLossExecuted
	case domain.ExitReasonDeadline, domain.ExitReasonShutdown:
		return domain.ExecutionEventForceExit
	default:
		return domain.ExecutionEventExitExecuted
	}
}

func oppositeOrderSide(s domain.OrderSide) domain.OrderSide {
	if s == domain.OrderSideBuy {
		return domain.OrderSideSell
	}
	return domain.OrderSideBuy
}

// finalize archives a terminal execution, publishes its lifecycle event and
// drops it from the in-memory set so the prediction id can be reused.
// Archive failures are logged and swallowed: the record is still on the bus.
func (e *Engine) finalize(ctx context.Context, typ domain.ExecutionEventType, exec domain.CascadeExecution, reason string) {
	if e.store != nil {
		if err := e.store.Append(ctx, exec); err != nil {
			e.logger.ErrorContext(ctx, "execution archive failed",
				slog.String("id", exec.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if e.archiver != nil {
		if err := e.archiver.ArchiveExecution(ctx, exec); err != nil {
			e.logger.WarnContext(ctx, "execution blob archive failed",
				slog.String("id", exec.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	e.publisher.ExecutionEvent(ctx, typ, exec, reason)

	e.mu.Lock()
	delete(e.executions, exec.ID)
	e.mu.Unlock()
}

// prevailingPrice returns the last observed price for the execution's asset,
// falling back to the entry fill when no tick has been seen.
func (e *Engine) prevailingPrice(id string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.executions[id]
	if !ok {
		return 0
	}
	if p, ok := e.lastPrice[st.exec.Prediction.Asset]; ok && p > 0 {
		return p
	}
	if st.exec.EntryResult != nil {
		return st.exec.EntryResult.FilledPrice
	}
	return 0
}

func (e *Engine) activeLocked() int {
	n := 0
	for _, st := range e.executions {
		if st.exec.Status == domain.ExecutionPending || st.exec.Status == domain.ExecutionEntered {
			n++
		}
	}
	return n
}

// Execution returns a copy of the execution for the prediction id. Completed
// executions are no longer held in memory and are looked up in the archive.
func (e *Engine) Execution(ctx context.Context, id string) (domain.CascadeExecution, bool) {
	e.mu.Lock()
	st, ok := e.executions[id]
	if ok {
		exec := st.exec.Clone()
		e.mu.Unlock()
		return exec, true
	}
	e.mu.Unlock()

	if e.store == nil {
		return domain.CascadeExecution{}, false
	}
	recent, err := e.store.ListRecent(ctx, archiveLookback)
	if err != nil {
		e.logger.WarnContext(ctx, "archive lookup failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return domain.CascadeExecution{}, false
	}
	for _, exec := range recent {
		if exec.ID == id {
			return exec, true
		}
	}
	return domain.CascadeExecution{}, false
}

// ActiveCount reports how many executions are pending or entered.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeLocked()
}
