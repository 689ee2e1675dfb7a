// Package broker provides order placement backends for the execution engine.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"cascadewatch/internal/domain"
)

// Paper is a simulated order placer. Orders always fill in full at the
// requested price shifted adversely by a fixed slippage percentage, with a
// fixed percentage fee on the filled notional. Buys fill above the requested
// price, sells below.
type Paper struct {
	feePct      float64
	slippagePct float64
	logger      *slog.Logger
}

var _ domain.OrderPlacer = (*Paper)(nil)

// NewPaper creates a paper broker with the given fee and slippage, both
// expressed as fractions of notional (0.0005 = 5 bps).
func NewPaper(feePct, slippagePct float64, logger *slog.Logger) *Paper {
	return &Paper{
		feePct:      feePct,
		slippagePct: slippagePct,
		logger:      logger.With(slog.String("component", "paper_broker")),
	}
}

// PlaceOrder fills the signal immediately. Signals with a non-positive price
// or quantity are rejected, matching what a real venue would do.
func (p *Paper) PlaceOrder(ctx context.Context, sig domain.TradeSignal) (domain.ExecutionResult, error) {
	if sig.Price <= 0 || sig.Quantity <= 0 {
		return domain.ExecutionResult{}, fmt.Errorf(
			"broker: signal %s: price %f quantity %f: %w",
			sig.ID, sig.Price, sig.Quantity, domain.ErrOrderRejected,
		)
	}

	filled := sig.Price * (1 - p.slippagePct)
	if sig.Side == domain.OrderSideBuy {
		filled = sig.Price * (1 + p.slippagePct)
	}

	result := domain.ExecutionResult{
		OrderID:           uuid.NewString(),
		Asset:             sig.Asset,
		Side:              sig.Side,
		RequestedQuantity: sig.Quantity,
		FilledQuantity:    sig.Quantity,
		RequestedPrice:    sig.Price,
		FilledPrice:       filled,
		Fee:               filled * sig.Quantity * p.feePct,
		SlippagePct:       p.slippagePct,
		ExecutedAt:        time.Now().UTC(),
	}

	p.logger.DebugContext(ctx, "paper order filled",
		slog.String("order_id", result.OrderID),
		slog.String("asset", sig.Asset),
		slog.String("side", string(sig.Side)),
		slog.Float64("filled_price", filled),
		slog.Float64("quantity", sig.Quantity),
	)
	return result, nil
}
