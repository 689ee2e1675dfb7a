package domain

import "time"

// Side identifies which side of the book a liquidation trigger belongs to.
// A long-side level sits below the current price (longs are liquidated as
// price falls); a short-side level sits above it.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// LiquidationLevel is a derived price level at which a known volume of
// leveraged positions would be forcibly closed. Levels are recomputed
// wholesale on each recalculation cycle; there is no incremental update.
type LiquidationLevel struct {
	Exchange string  `json:"exchange"`
	Asset    string  `json:"asset"`
	Price    float64 `json:"price"`
	Volume   float64 `json:"volume"` // notional USD at risk at this level
	Side     Side    `json:"side"`

	// DistanceFraction is the signed fractional distance from the current
	// mid-price to the level, positive while the level has not been reached.
	// A negative value means the level has already been crossed and must be
	// treated as imminent/triggered, never silently filtered out.
	DistanceFraction float64 `json:"distance_fraction"`

	// EstimatedImpactPct is the expected market impact of the level firing,
	// as a percentage of price, clamped to a per-asset ceiling.
	EstimatedImpactPct float64 `json:"estimated_impact_pct"`

	Confidence float64 `json:"confidence"`
}

// CascadeWarning is emitted when clustered liquidation volume on one side
// crosses the configured cascade threshold.
type CascadeWarning struct {
	Asset            string             `json:"asset"`
	Side             Side               `json:"side"`
	ClusterVolume    float64            `json:"cluster_volume"`
	MemberLevels     []LiquidationLevel `json:"member_levels"`
	CascadeRiskScore float64            `json:"cascade_risk_score"`
	DetectedAt       time.Time          `json:"detected_at"`
}

// ApproachingLiquidation is emitted when the live price moves within the
// proximity band of a known liquidation level.
type ApproachingLiquidation struct {
	Level            LiquidationLevel `json:"level"`
	CurrentPrice     float64          `json:"current_price"`
	DistanceFraction float64          `json:"distance_fraction"`

	// EstimatedTimeToLiquidationMs is inversely proportional to proximity,
	// adjusted by the asset's assumed volatility.
	EstimatedTimeToLiquidationMs int64 `json:"estimated_time_to_liquidation_ms"`

	// ReversalProbability estimates how likely price is to snap back after
	// the level fires. Bounded to [0, 0.95].
	ReversalProbability float64 `json:"reversal_probability"`

	ObservedAt time.Time `json:"observed_at"`
}
