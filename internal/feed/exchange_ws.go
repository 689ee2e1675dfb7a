// Package feed connects the event bus to the engines: the websocket feed
// brings exchange ticks onto the bus, and the feeders dispatch bus messages
// into the level and execution engines.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"cascadewatch/internal/domain"
	"cascadewatch/internal/events"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// tickMessage is the wire shape of one trade tick from the exchange firehose.
type tickMessage struct {
	Exchange  string  `json:"exchange"`
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"` // unix milliseconds
}

// subscribeCommand asks the firehose for trade ticks on the given symbols.
type subscribeCommand struct {
	Op      string   `json:"op"`
	Channel string   `json:"channel"`
	Symbols []string `json:"symbols"`
}

// ExchangeWSFeed connects to the aggregated exchange tick firehose,
// subscribes to the watch-list assets, and republishes every tick onto the
// bus. It reconnects with exponential backoff on disconnect.
type ExchangeWSFeed struct {
	wsURL     string
	assets    []string
	publisher *events.Publisher
	logger    *slog.Logger
}

// NewExchangeWSFeed creates a feed for the given assets.
func NewExchangeWSFeed(wsURL string, assets []string, publisher *events.Publisher, logger *slog.Logger) *ExchangeWSFeed {
	return &ExchangeWSFeed{
		wsURL:     wsURL,
		assets:    assets,
		publisher: publisher,
		logger:    logger.With(slog.String("component", "exchange_ws_feed")),
	}
}

// Run connects and pumps ticks until ctx is cancelled.
func (f *ExchangeWSFeed) Run(ctx context.Context) error {
	if len(f.assets) == 0 {
		f.logger.InfoContext(ctx, "no assets to subscribe, exiting")
		return nil
	}

	delay := reconnectDelay
	for {
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.WarnContext(ctx, "exchange ws disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (f *ExchangeWSFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	cmd := subscribeCommand{Op: "subscribe", Channel: "trades", Symbols: f.assets}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.InfoContext(ctx, "exchange ws subscribed", slog.Int("assets", len(f.assets)))

	go f.pingLoop(ctx, conn)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", domain.ErrFeedDisconnect)
		}
		f.handleMessage(ctx, data)
	}
}

func (f *ExchangeWSFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (f *ExchangeWSFeed) handleMessage(ctx context.Context, data []byte) {
	var msg tickMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.DebugContext(ctx, "unparseable tick message",
			slog.Int("payload_len", len(data)))
		return
	}
	asset := strings.ToUpper(strings.TrimSpace(msg.Symbol))
	if asset == "" || msg.Price <= 0 {
		return
	}

	ts := time.UnixMilli(msg.Timestamp).UTC()
	if msg.Timestamp == 0 {
		ts = time.Now().UTC()
	}
	f.publisher.Tick(ctx, domain.PriceTick{
		Exchange:  msg.Exchange,
		Asset:     asset,
		Price:     msg.Price,
		Timestamp: ts,
	})
}
