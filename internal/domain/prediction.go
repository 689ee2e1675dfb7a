package domain

import "time"

// CascadePrediction is produced by the external prediction collaborator. This
// system treats it as immutable input; only the fields below are read.
type CascadePrediction struct {
	ID    string `json:"id"`
	Asset string `json:"asset"`

	// Side is the side being liquidated. A long cascade pushes price down; a
	// short cascade pushes it up.
	Side Side `json:"side"`

	TriggerPrice  float64 `json:"trigger_price"`
	ReversalPrice float64 `json:"reversal_price"`

	// ExpectedMagnitude is the predicted fractional price move of the cascade.
	ExpectedMagnitude float64 `json:"expected_magnitude"`

	Confidence         float64 `json:"confidence"`
	ReversalConfidence float64 `json:"reversal_confidence"`

	EstimatedStartAt time.Time `json:"estimated_start_at"`
	EstimatedEndAt   time.Time `json:"estimated_end_at"`
}

// CascadeStarted signals that a predicted cascade has begun.
type CascadeStarted struct {
	ID           string    `json:"id"`
	Asset        string    `json:"asset"`
	CurrentPrice float64   `json:"current_price"`
	At           time.Time `json:"at"`
}

// CascadeReversal signals that cascade-driven price movement has stopped and
// price has begun returning toward pre-cascade levels.
type CascadeReversal struct {
	ID           string    `json:"id"`
	Asset        string    `json:"asset"`
	CurrentPrice float64   `json:"current_price"`
	At           time.Time `json:"at"`
}
