package broker

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cascadewatch/internal/domain"
)

func TestPaperFillsAdverseSlippage(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewPaper(0.0005, 0.001, logger)
	ctx := context.Background()

	buy, err := p.PlaceOrder(ctx, domain.TradeSignal{
		ID: "s1", Asset: "BTC", Side: domain.OrderSideBuy, Price: 100_000, Quantity: 0.5,
	})
	require.NoError(t, err)
	assert.InDelta(t, 100_100, buy.FilledPrice, 1e-6)
	assert.Equal(t, 0.5, buy.FilledQuantity)
	assert.InDelta(t, 100_100*0.5*0.0005, buy.Fee, 1e-6)

	sell, err := p.PlaceOrder(ctx, domain.TradeSignal{
		ID: "s2", Asset: "BTC", Side: domain.OrderSideSell, Price: 100_000, Quantity: 0.5,
	})
	require.NoError(t, err)
	assert.InDelta(t, 99_900, sell.FilledPrice, 1e-6)
	assert.NotEqual(t, buy.OrderID, sell.OrderID)
}

func TestPaperRejectsInvalidSignals(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewPaper(0.0005, 0.001, logger)
	ctx := context.Background()

	_, err := p.PlaceOrder(ctx, domain.TradeSignal{
		ID: "s1", Asset: "BTC", Side: domain.OrderSideBuy, Price: 0, Quantity: 0.5,
	})
	require.ErrorIs(t, err, domain.ErrOrderRejected)

	_, err = p.PlaceOrder(ctx, domain.TradeSignal{
		ID: "s2", Asset: "BTC", Side: domain.OrderSideSell, Price: 100_000, Quantity: -1,
	})
	require.ErrorIs(t, err, domain.ErrOrderRejected)
}

func TestPaperZeroFrictions(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewPaper(0, 0, logger)

	res, err := p.PlaceOrder(context.Background(), domain.TradeSignal{
		ID: "s1", Asset: "ETH", Side: domain.OrderSideSell, Price: 3_000, Quantity: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3_000.0, res.FilledPrice)
	assert.Equal(t, 0.0, res.Fee)
}
