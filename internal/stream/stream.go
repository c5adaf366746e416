package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"spot-cycle-trader/internal/logger"
)

const BaseURL = "wss://stream.binance.com:9443/ws"

// ListenKeyProvider manages the user-data stream key on the REST side.
type ListenKeyProvider interface {
	StartUserStream(ctx context.Context) (string, error)
	KeepAliveUserStream(ctx context.Context, listenKey string) error
	CloseUserStream(ctx context.Context, listenKey string) error
}

// OrderUpdate is the subset of an executionReport event the bot uses. encoding/json folds
// key case, so every upper-case twin of a lower-case key needs its own field.
type OrderUpdate struct {
	Event         string `json:"e"`
	EventTime     int64  `json:"E"`
	Symbol        string `json:"s"`
	ClientOrderID string `json:"c"`
	Side          string `json:"S"`
	Price         string `json:"p"`
	Quantity      string `json:"q"`
	ExecutionType string `json:"x"`
	Status        string `json:"X"`
	RejectReason  string `json:"r"`
	OrderID       int64  `json:"i"`
	CumExecQty    string `json:"z"`
	CumQuoteQty   string `json:"Z"`

	OriginalID    string `json:"C"`
	StopPrice     string `json:"P"`
	QuoteOrderQty string `json:"Q"`
	Ignore        int64  `json:"I"`
}

type Handler func(OrderUpdate)

// UserStream follows the account's order events and reconnects with backoff until its
// context ends.
type UserStream struct {
	BaseURL   string
	KeepAlive time.Duration
	Backoff   *backoff.Backoff

	keys    ListenKeyProvider
	handler Handler
	dialer  *websocket.Dialer

	mu        sync.RWMutex
	connected bool
}

func New(keys ListenKeyProvider, handler Handler) *UserStream {
	return &UserStream{
		BaseURL:   BaseURL,
		KeepAlive: 30 * time.Minute,
		Backoff: &backoff.Backoff{
			Min:    time.Second,
			Max:    2 * time.Minute,
			Factor: 2,
			Jitter: true,
		},
		keys:    keys,
		handler: handler,
		dialer:  websocket.DefaultDialer,
	}
}

func (s *UserStream) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Run returns nil once ctx is done.
func (s *UserStream) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		err := s.session(ctx)
		if ctx.Err() != nil {
			break
		}
		wait := s.Backoff.Duration()
		logger.Warn("🔌 User stream disconnected, reconnecting", "error", err, "in", wait)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
	}
	logger.Info("🛑 User stream stopped")
	return nil
}

func (s *UserStream) session(ctx context.Context) error {
	key, err := s.keys.StartUserStream(ctx)
	if err != nil {
		return fmt.Errorf("failed to get listen key: %w", err)
	}
	defer func() {
		if err := s.keys.CloseUserStream(context.WithoutCancel(ctx), key); err != nil {
			logger.Debug("Close listen key failed", "error", err)
		}
	}()

	url := strings.TrimRight(s.BaseURL, "/") + "/" + key
	conn, _, err := s.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to websocket: %w", err)
	}
	s.setConnected(true)
	s.Backoff.Reset()
	logger.Info("📡 WebSocket connected to user stream")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go s.keepAlive(ctx, key, done)

	defer func() {
		conn.Close()
		s.setConnected(false)
	}()
	return s.readLoop(conn)
}

func (s *UserStream) keepAlive(ctx context.Context, key string, done <-chan struct{}) {
	ticker := time.NewTicker(s.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := s.keys.KeepAliveUserStream(ctx, key); err != nil {
				logger.Error("❌ Failed to keep alive listen key", "error", err)
			} else {
				logger.Debug("💓 ListenKey KeepAlive sent")
			}
		}
	}
}

func (s *UserStream) readLoop(conn *websocket.Conn) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		// Other event types decode too; only the event name matters for them.
		var event OrderUpdate
		if err := json.Unmarshal(message, &event); err != nil {
			logger.Warn("Failed to parse stream message", "error", err, "msg", string(message))
			continue
		}
		if event.Event != "executionReport" {
			continue
		}
		logger.Debug("Order update", "symbol", event.Symbol, "order", event.OrderID, "status", event.Status)
		if s.handler != nil {
			s.handler(event)
		}
	}
}

func (s *UserStream) setConnected(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = v
}
