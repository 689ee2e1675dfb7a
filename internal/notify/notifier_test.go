package notify

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cascadewatch/internal/config"
	"cascadewatch/internal/domain"
)

type recordingSender struct {
	mu     sync.Mutex
	titles []string
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	return nil
}

func (s *recordingSender) Name() string { return "recording" }

func (s *recordingSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.titles...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// The stock event filter must pass cascade warnings and execution failures;
// a filter vocabulary drift here silently mutes every alert.
func TestDefaultEventFilterDeliversAlerts(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier([]Sender{sender}, config.Defaults().Notify.Events, testLogger())

	n.CascadeWarning(context.Background(), domain.CascadeWarning{
		Asset:            "BTC",
		Side:             domain.SideLong,
		ClusterVolume:    150e6,
		CascadeRiskScore: 0.71,
	})
	n.ExecutionEvent(context.Background(), domain.ExecutionEvent{
		Type: domain.ExecutionEventFailed,
		Execution: domain.CascadeExecution{
			ID:         "pred-1",
			Prediction: domain.CascadePrediction{ID: "pred-1", Asset: "BTC"},
			Status:     domain.ExecutionFailed,
		},
		Reason: "entry order rejected",
	})

	titles := sender.sent()
	require.Len(t, titles, 2)
	assert.Contains(t, titles[0], "Cascade risk")
	assert.Contains(t, titles[1], "failed")
}

func TestEventFilterBlocksUnlistedTypes(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier([]Sender{sender}, []string{"cascade.warning"}, testLogger())

	n.ExecutionEvent(context.Background(), domain.ExecutionEvent{
		Type:      domain.ExecutionEventPrepared,
		Execution: domain.CascadeExecution{ID: "pred-2"},
	})

	assert.Empty(t, sender.sent())
}

func TestEmptyFilterAllowsEverything(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier([]Sender{sender}, nil, testLogger())

	n.ExecutionEvent(context.Background(), domain.ExecutionEvent{
		Type:      domain.ExecutionEventEntryExecuted,
		Execution: domain.CascadeExecution{ID: "pred-3"},
	})

	require.Len(t, sender.sent(), 1)
}
