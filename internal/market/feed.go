package market

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zeromicro/go-zero/core/logx"

	"fxcore/internal/model"
)

const (
	feedReadTimeout   = 90 * time.Second
	feedWriteTimeout  = 10 * time.Second
	feedPingInterval  = 50 * time.Second
	feedBackoffCap    = 30 * time.Second
	feedTickBufferLen = 1024
)

// FeedEventKind marks transport state transitions.
type FeedEventKind string

const (
	FeedConnected    FeedEventKind = "connected"
	FeedDisconnected FeedEventKind = "disconnected"
)

// FeedEvent is delivered on every transport state change; the consumer runs
// warmup on reconnect and emergency populate when the outage outlives the
// grace period.
type FeedEvent struct {
	Kind FeedEventKind
	At   time.Time
}

// Feed is the websocket tick transport. It dials, subscribes the configured
// symbols, decodes {symbol,bid?,ask?,ts} frames and reconnects with capped
// exponential backoff. Decoded ticks and state transitions are delivered on
// channels; the feed itself never touches the store.
type Feed struct {
	url     string
	symbols []string

	ticks  chan model.TickUpdate
	events chan FeedEvent

	connMu sync.Mutex
	conn   *websocket.Conn
}

// NewFeed builds a feed client for url subscribing symbols.
func NewFeed(url string, symbols []string) *Feed {
	return &Feed{
		url:     url,
		symbols: symbols,
		ticks:   make(chan model.TickUpdate, feedTickBufferLen),
		events:  make(chan FeedEvent, 16),
	}
}

// Ticks returns the decoded tick stream.
func (f *Feed) Ticks() <-chan model.TickUpdate { return f.ticks }

// Events returns the transport state transitions.
func (f *Feed) Events() <-chan FeedEvent { return f.events }

// Run dials and maintains the connection until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		start := time.Now()
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.emit(FeedEvent{Kind: FeedDisconnected, At: time.Now()})
		logx.Errorf("market feed disconnected: %v (reconnecting in %s)", err, backoff)

		// A connection that held for a while earns a fresh backoff.
		if time.Since(start) > time.Minute {
			backoff = time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > feedBackoffCap {
			backoff = feedBackoffCap
		}
	}
}

type feedSubscribeMsg struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.url, err)
	}
	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if len(f.symbols) > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
		if err := conn.WriteJSON(feedSubscribeMsg{Op: "subscribe", Symbols: f.symbols}); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	logx.Infof("market feed connected: %s (%d symbols)", f.url, len(f.symbols))
	f.emit(FeedEvent{Kind: FeedConnected, At: time.Now()})

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go f.pingLoop(pingCtx, conn)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_ = conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var tick model.TickUpdate
		if err := json.Unmarshal(payload, &tick); err != nil || tick.Symbol == "" {
			logx.Errorf("market feed: dropping undecodable frame: %v", err)
			continue
		}
		select {
		case f.ticks <- tick:
		default:
			// Tick buffer full: drop the oldest, the newest price wins.
			select {
			case <-f.ticks:
			default:
			}
			f.ticks <- tick
		}
	}
}

func (f *Feed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(feedPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (f *Feed) emit(ev FeedEvent) {
	select {
	case f.events <- ev:
	default:
	}
}

// Close tears down the live connection, unblocking the read loop.
func (f *Feed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}
