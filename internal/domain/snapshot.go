package domain

import (
	"fmt"
	"time"
)

// OpenInterestSnapshot is the latest-known open-interest state for one
// (exchange, asset) pair. Snapshots are overwritten wholesale on each refresh
// cycle and are never merged across exchanges.
type OpenInterestSnapshot struct {
	Exchange string
	Asset    string

	// Notional USD value of outstanding leveraged positions per side.
	LongOpenInterest  float64
	ShortOpenInterest float64

	// Estimated price at which the bulk of each side's positions would be
	// forcibly closed. Long triggers sit below spot, short triggers above.
	LongTriggerPrice  float64
	ShortTriggerPrice float64

	FundingRate float64
	ObservedAt  time.Time
}

// Validate checks the snapshot invariants: open interest on both sides must
// be non-negative.
func (s OpenInterestSnapshot) Validate() error {
	if s.LongOpenInterest < 0 {
		return fmt.Errorf("snapshot %s/%s: negative long open interest %.2f", s.Exchange, s.Asset, s.LongOpenInterest)
	}
	if s.ShortOpenInterest < 0 {
		return fmt.Errorf("snapshot %s/%s: negative short open interest %.2f", s.Exchange, s.Asset, s.ShortOpenInterest)
	}
	return nil
}

// SnapshotKey identifies one snapshot slot in the ingestor's keyed state.
type SnapshotKey struct {
	Exchange string
	Asset    string
}

// PriceTick is a single live price observation from one exchange feed.
type PriceTick struct {
	Exchange  string    `json:"exchange"`
	Asset     string    `json:"asset"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}
