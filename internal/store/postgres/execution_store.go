package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"cascadewatch/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL. The most
// frequently queried columns are denormalized; the full execution record is
// kept as JSONB alongside them.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore backed by the given pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Append archives one completed or failed execution. Re-appending the same
// execution id overwrites the previous row, which makes the write-behind
// archive idempotent under retries.
func (s *ExecutionStore) Append(ctx context.Context, exec domain.CascadeExecution) error {
	payload, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("postgres: marshal execution %s: %w", exec.ID, err)
	}

	var entryPrice, exitPrice, quantity *float64
	if exec.EntryResult != nil {
		entryPrice = &exec.EntryResult.FilledPrice
		quantity = &exec.EntryResult.FilledQuantity
	}
	if exec.ExitResult != nil {
		exitPrice = &exec.ExitResult.FilledPrice
	}

	const query = `
		INSERT INTO cascade_executions (
			id, prediction_id, asset, side, status, exit_reason,
			entry_price, exit_price, quantity,
			actual_profit, profit_percentage, failure_reason,
			payload, started_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9,
			$10, $11, $12,
			$13, $14, $15
		) ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			exit_reason = EXCLUDED.exit_reason,
			entry_price = EXCLUDED.entry_price,
			exit_price = EXCLUDED.exit_price,
			quantity = EXCLUDED.quantity,
			actual_profit = EXCLUDED.actual_profit,
			profit_percentage = EXCLUDED.profit_percentage,
			failure_reason = EXCLUDED.failure_reason,
			payload = EXCLUDED.payload,
			completed_at = EXCLUDED.completed_at`

	exitReason := string(exec.ExitReason)
	_, err = s.pool.Exec(ctx, query,
		exec.ID, exec.Prediction.ID, exec.Prediction.Asset, string(exec.Prediction.Side),
		string(exec.Status), nilIfEmpty(exitReason),
		entryPrice, exitPrice, quantity,
		exec.ActualProfit, exec.ProfitPercentage, nilIfEmpty(exec.FailureReason),
		payload, exec.StartedAt, exec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append execution %s: %w", exec.ID, err)
	}
	return nil
}

// ListRecent returns up to limit archived executions, newest first.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.CascadeExecution, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		"SELECT payload FROM cascade_executions ORDER BY started_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent executions: %w", err)
	}
	defer rows.Close()

	var execs []domain.CascadeExecution
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("postgres: scan execution payload: %w", err)
		}
		var exec domain.CascadeExecution
		if err := json.Unmarshal(payload, &exec); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal execution payload: %w", err)
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// Stats returns archived execution counts grouped by status.
func (s *ExecutionStore) Stats(ctx context.Context) (map[domain.ExecutionStatus]int64, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT status, COUNT(*) FROM cascade_executions GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("postgres: execution stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[domain.ExecutionStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("postgres: scan execution stats: %w", err)
		}
		stats[domain.ExecutionStatus(status)] = count
	}
	return stats, rows.Err()
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Compile-time interface check.
var _ domain.ExecutionStore = (*ExecutionStore)(nil)
