// Package notify delivers operator alerts for cascade warnings and execution
// lifecycle events over Telegram and Discord. Delivery is best effort: a dead
// webhook never blocks the engines.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cascadewatch/internal/domain"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans alerts out to every configured sender, filtered by event
// type. An empty filter allows everything.
type Notifier struct {
	senders []Sender
	allowed map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. events
// lists the allowed event types; empty means all.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// CascadeWarning alerts operators that clustered liquidation volume crossed
// the cascade threshold.
func (n *Notifier) CascadeWarning(ctx context.Context, w domain.CascadeWarning) {
	title := fmt.Sprintf("Cascade risk: %s %s", w.Asset, w.Side)
	msg := fmt.Sprintf(
		"Clustered %s liquidations on %s: $%.0fM across %d levels, risk score %.2f",
		w.Side, w.Asset, w.ClusterVolume/1e6, len(w.MemberLevels), w.CascadeRiskScore,
	)
	n.notify(ctx, domain.ChannelCascadeWarning, title, msg)
}

// ExecutionEvent alerts operators about an execution state transition.
func (n *Notifier) ExecutionEvent(ctx context.Context, ev domain.ExecutionEvent) {
	exec := ev.Execution
	title := fmt.Sprintf("Execution %s: %s %s", ev.Type, exec.Prediction.Asset, exec.ID)

	var b strings.Builder
	fmt.Fprintf(&b, "Status: %s", exec.Status)
	if exec.EntryResult != nil {
		fmt.Fprintf(&b, "\nEntry: %s %.4f @ %.2f",
			exec.EntryResult.Side, exec.EntryResult.FilledQuantity, exec.EntryResult.FilledPrice)
	}
	if exec.ExitResult != nil {
		fmt.Fprintf(&b, "\nExit: %s @ %.2f (%s)",
			exec.ExitResult.Side, exec.ExitResult.FilledPrice, exec.ExitReason)
		fmt.Fprintf(&b, "\nPnL: %.2f (%.2f%%)", exec.ActualProfit, exec.ProfitPercentage)
	}
	if ev.Reason != "" {
		fmt.Fprintf(&b, "\nReason: %s", ev.Reason)
	}
	n.notify(ctx, string(ev.Type), title, b.String())
}

func (n *Notifier) notify(ctx context.Context, event, title, message string) {
	if len(n.senders) == 0 {
		return
	}
	if len(n.allowed) > 0 && !n.allowed[event] {
		n.logger.DebugContext(ctx, "alert filtered out", slog.String("event", event))
		return
	}

	// Cap delivery time so a slow webhook cannot stall the caller.
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.WarnContext(ctx, "alert delivery failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}
