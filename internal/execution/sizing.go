package execution

import "cascadewatch/internal/config"

// positionNotional sizes a trade from the configured account risk, scaled by
// prediction confidence and expected cascade magnitude, bounded below by the
// exchange minimum and above by the per-trade risk ceiling.
func positionNotional(cfg config.ExecutionConfig, confidence, expectedMagnitude float64) float64 {
	base := cfg.AccountBalance * cfg.AccountRiskPct

	// A 10% expected move doubles the base size; anything beyond is treated
	// as 10%.
	magnitude := expectedMagnitude
	if magnitude < 0 {
		magnitude = 0
	}
	if magnitude > 0.10 {
		magnitude = 0.10
	}
	notional := base * confidence * (1 + magnitude*10)

	ceiling := cfg.AccountBalance * cfg.MaxRiskPerTradePct
	if notional > ceiling {
		notional = ceiling
	}
	if notional < cfg.MinNotional {
		notional = cfg.MinNotional
	}
	return notional
}

// quantityFor converts a notional into a base-asset quantity at the given
// price, with leverage applied.
func quantityFor(notional, price, leverage float64) float64 {
	if price <= 0 {
		return 0
	}
	if leverage <= 0 {
		leverage = 1
	}
	return notional * leverage / price
}
