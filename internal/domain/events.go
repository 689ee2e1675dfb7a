package domain

import (
	"context"
	"time"
)

// Bus channel names. Inbound channels are produced by the exchange feeds and
// the external prediction collaborator; outbound channels are published by
// this system.
const (
	ChannelTicks            = "ticks"
	ChannelCascadePredicted = "cascade.predicted"
	ChannelCascadeStarted   = "cascade.started"
	ChannelCascadeReversal  = "cascade.reversal"

	ChannelCascadeWarning  = "cascade.warning"
	ChannelApproachingLiq  = "liquidation.approaching"
	ChannelExecutionEvents = "executions"
)

// ExecutionEventType tags the lifecycle events published on the executions
// channel.
type ExecutionEventType string

const (
	ExecutionEventPrepared         ExecutionEventType = "prepared"
	ExecutionEventEntryExecuted    ExecutionEventType = "entry_executed"
	ExecutionEventExitExecuted     ExecutionEventType = "exit_executed"
	ExecutionEventStopLossExecuted ExecutionEventType = "stop_loss_executed"
	ExecutionEventForceExit        ExecutionEventType = "force_exit_executed"
	ExecutionEventFailed           ExecutionEventType = "failed"
	ExecutionEventExpired          ExecutionEventType = "expired"
)

// ExecutionEvent is the payload published for every execution state
// transition. There is no silent transition: an execution that changes state
// without an event is a bug.
type ExecutionEvent struct {
	Type      ExecutionEventType `json:"type"`
	Execution CascadeExecution   `json:"execution"`
	Reason    string             `json:"reason,omitempty"`
	At        time.Time          `json:"at"`
}

// StreamMessage is one durable message read back from an event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus is the publish/subscribe transport connecting this system to the
// exchange feeds and the prediction collaborator. Subscribe returns a channel
// that is closed when ctx is cancelled. StreamAppend mirrors a payload onto a
// durable, trimmed stream for consumers that cannot tolerate pub/sub loss.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
