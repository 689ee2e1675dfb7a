package domain

import (
	"context"
	"time"
)

// ExecutionStore is the write-behind archive for completed and failed
// executions. Append is the only write path; the engine never reads archived
// state back during operation.
type ExecutionStore interface {
	Append(ctx context.Context, exec CascadeExecution) error
	ListRecent(ctx context.Context, limit int) ([]CascadeExecution, error)
}

// PriceCache stores the latest observed price per (exchange, asset) pair.
type PriceCache interface {
	SetPrice(ctx context.Context, exchange, asset string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, exchange, asset string) (float64, time.Time, error)
	// AssetPrices returns the latest price per exchange for one asset; feeds
	// that have never reported the asset are omitted.
	AssetPrices(ctx context.Context, asset string) (map[string]float64, error)
}

// OrderPlacer submits orders to the exchange connectivity layer. Placement is
// the only suspension point in the execution engine.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, sig TradeSignal) (ExecutionResult, error)
}

// SnapshotSource fetches the current open-interest state for one
// (exchange, asset) pair from the exchange boundary.
type SnapshotSource interface {
	FetchOpenInterest(ctx context.Context, exchange, asset string) (OpenInterestSnapshot, error)
}

// Archiver mirrors completed executions to long-term blob storage.
type Archiver interface {
	ArchiveExecution(ctx context.Context, exec CascadeExecution) error
}
