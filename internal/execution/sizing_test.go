package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cascadewatch/internal/config"
)

func TestPositionNotionalScaling(t *testing.T) {
	cfg := config.Defaults().Execution
	cfg.AccountBalance = 100_000
	cfg.AccountRiskPct = 0.02
	cfg.MaxRiskPerTradePct = 0.10
	cfg.MinNotional = 100

	// Higher confidence sizes larger.
	low := positionNotional(cfg, 0.65, 0.03)
	high := positionNotional(cfg, 0.95, 0.03)
	assert.Greater(t, high, low)

	// Bigger expected move sizes larger, up to the 10% saturation point.
	small := positionNotional(cfg, 0.8, 0.01)
	big := positionNotional(cfg, 0.8, 0.08)
	saturated := positionNotional(cfg, 0.8, 0.50)
	assert.Greater(t, big, small)
	assert.Equal(t, positionNotional(cfg, 0.8, 0.10), saturated)
}

func TestPositionNotionalBounds(t *testing.T) {
	cfg := config.Defaults().Execution
	cfg.AccountBalance = 100_000
	cfg.AccountRiskPct = 0.02
	cfg.MaxRiskPerTradePct = 0.10
	cfg.MinNotional = 100

	// Ceiling: never more than the per-trade risk cap.
	assert.LessOrEqual(t, positionNotional(cfg, 1.0, 0.10), 10_000.0)

	// Floor: tiny confidence still meets the exchange minimum.
	cfg.AccountBalance = 1_000
	assert.GreaterOrEqual(t, positionNotional(cfg, 0.01, 0), 100.0)
}

func TestQuantityFor(t *testing.T) {
	assert.InDelta(t, 0.3, quantityFor(10_000, 100_000, 3), 1e-9)
	assert.Equal(t, 0.0, quantityFor(10_000, 0, 3))

	// Zero leverage is treated as 1x.
	assert.InDelta(t, 0.1, quantityFor(10_000, 100_000, 0), 1e-9)
}
