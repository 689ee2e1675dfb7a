package domain

import "time"

// OrderSide indicates whether an order buys or sells.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// ExecutionStatus tracks the cascade execution lifecycle.
//
//	pending → entered → exited
//
// failed is reachable from pending (entry placement error or entry deadline
// miss) and from entered (exit placement error).
type ExecutionStatus string

const (
	ExecutionPending ExecutionStatus = "pending"
	ExecutionEntered ExecutionStatus = "entered"
	ExecutionExited  ExecutionStatus = "exited"
	ExecutionFailed  ExecutionStatus = "failed"
)

// ExitReason records which path closed an entered execution.
type ExitReason string

const (
	ExitReasonReversal ExitReason = "reversal"
	ExitReasonStopLoss ExitReason = "stop_loss"
	ExitReasonDeadline ExitReason = "deadline"
	ExitReasonShutdown ExitReason = "shutdown"
)

// TradeSignal is an immutable record of order intent. It is produced once and
// never mutated after creation.
type TradeSignal struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	Asset       string    `json:"asset"`
	Side        OrderSide `json:"side"`
	Price       float64   `json:"price"`
	Quantity    float64   `json:"quantity"`
	Leverage    float64   `json:"leverage"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}

// Notional returns the USD notional of the signal.
func (s TradeSignal) Notional() float64 {
	return s.Price * s.Quantity
}

// ExecutionResult records what actually happened when a signal was placed:
// requested vs filled quantity and price, fees and slippage. PnL is filled in
// exactly once, when realized PnL is known at exit; all other fields are
// immutable after creation.
type ExecutionResult struct {
	OrderID           string    `json:"order_id"`
	Asset             string    `json:"asset"`
	Side              OrderSide `json:"side"`
	RequestedQuantity float64   `json:"requested_quantity"`
	FilledQuantity    float64   `json:"filled_quantity"`
	RequestedPrice    float64   `json:"requested_price"`
	FilledPrice       float64   `json:"filled_price"`
	Fee               float64   `json:"fee"`
	SlippagePct       float64   `json:"slippage_pct"`
	PnL               *float64  `json:"pnl,omitempty"`
	ExecutedAt        time.Time `json:"executed_at"`
}

// CascadeExecution is the central owned entity of the execution engine: one
// per prediction id, carrying the full entry/exit record. All mutation goes
// through the engine; readers receive copies via Clone.
type CascadeExecution struct {
	ID         string            `json:"id"`
	Prediction CascadePrediction `json:"prediction"`

	EntrySignal *TradeSignal     `json:"entry_signal,omitempty"`
	ExitSignal  *TradeSignal     `json:"exit_signal,omitempty"`
	EntryResult *ExecutionResult `json:"entry_result,omitempty"`
	ExitResult  *ExecutionResult `json:"exit_result,omitempty"`

	// StopPrice is precomputed at preparation time on the adverse side of the
	// trigger price.
	StopPrice float64 `json:"stop_price"`

	EntryDeadline time.Time `json:"entry_deadline"`
	ExitDeadline  time.Time `json:"exit_deadline"`

	ExitReason       ExitReason `json:"exit_reason,omitempty"`
	ActualProfit     float64    `json:"actual_profit"`
	ProfitPercentage float64    `json:"profit_percentage"`

	Status      ExecutionStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	EnteredAt   *time.Time      `json:"entered_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`

	FailureReason string `json:"failure_reason,omitempty"`
}

// Clone returns a deep copy safe to hand to readers while the engine keeps
// mutating the original.
func (e CascadeExecution) Clone() CascadeExecution {
	out := e
	out.EntrySignal = cloneSignal(e.EntrySignal)
	out.ExitSignal = cloneSignal(e.ExitSignal)
	out.EntryResult = cloneResult(e.EntryResult)
	out.ExitResult = cloneResult(e.ExitResult)
	out.EnteredAt = cloneTime(e.EnteredAt)
	out.CompletedAt = cloneTime(e.CompletedAt)
	return out
}

func cloneSignal(s *TradeSignal) *TradeSignal {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func cloneResult(r *ExecutionResult) *ExecutionResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.PnL != nil {
		pnl := *r.PnL
		c.PnL = &pnl
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
