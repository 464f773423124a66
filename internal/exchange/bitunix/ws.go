package bitunix

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"forager/internal/state"
)

const pongTimeout = 5 * time.Second

// WS streams best-bid/ask/last ticker updates, supplementing (not
// replacing) the orchestrator's periodic REST ticker refresh with a
// lower-latency push path. Reconnects with exponential backoff and tracks
// connection health the same way the original trade/depth streamer did.
type WS struct {
	url string

	mu      sync.RWMutex
	tickers map[string]state.Ticker

	isConnected    int32
	reconnectCount int32
	lastPongTime   int64
	lastPingTime   int64
}

// NewWS returns a ticker streamer for the given public WebSocket URL.
func NewWS(u string) *WS {
	return &WS{url: u, tickers: make(map[string]state.Ticker)}
}

// Alive reports whether the connection appears healthy.
func (w *WS) Alive() bool {
	if atomic.LoadInt32(&w.isConnected) == 0 {
		return false
	}
	lastPong := atomic.LoadInt64(&w.lastPongTime)
	lastPing := atomic.LoadInt64(&w.lastPingTime)
	if lastPong == 0 {
		return true
	}
	if lastPing > 0 && time.Since(time.Unix(0, lastPong)) > pongTimeout {
		return false
	}
	return true
}

// Snapshot returns the latest ticker observed for symbol, if any.
func (w *WS) Snapshot(symbol string) (state.Ticker, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	t, ok := w.tickers[symbol]
	return t, ok
}

// Stream connects and reconnects indefinitely until ctx is cancelled,
// updating the internal ticker cache on every message.
func (w *WS) Stream(ctx context.Context, symbols []string, ping time.Duration) error {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			atomic.StoreInt32(&w.isConnected, 0)
			return ctx.Err()
		default:
			if err := w.streamOnce(ctx, symbols, ping); err != nil {
				atomic.StoreInt32(&w.isConnected, 0)
				log.Warn().Err(err).Dur("backoff", backoff).Msg("ticker stream failed, reconnecting")

				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					atomic.StoreInt32(&w.isConnected, 0)
					return ctx.Err()
				}
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				atomic.AddInt32(&w.reconnectCount, 1)
				continue
			}
			backoff = time.Second
		}
	}
}

func (w *WS) streamOnce(ctx context.Context, symbols []string, ping time.Duration) error {
	url := strings.TrimRight(w.url, "/")
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer func() {
		atomic.StoreInt32(&w.isConnected, 0)
		conn.Close()
	}()

	conn.SetReadLimit(256 * 1024)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))

	conn.SetPongHandler(func(string) error {
		atomic.StoreInt64(&w.lastPongTime, time.Now().UnixNano())
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	var args []map[string]string
	for _, s := range symbols {
		args = append(args, map[string]string{"symbol": s, "ch": "ticker"})
	}
	if err := conn.WriteJSON(map[string]any{"op": "subscribe", "args": args}); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}

	pingTicker := time.NewTicker(ping)
	defer pingTicker.Stop()
	atomic.StoreInt32(&w.isConnected, 1)

	readErrCh := make(chan error, 1)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				readErrCh <- err
				return
			}
			w.handleMessage(msg)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErrCh:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return err
			}
			return fmt.Errorf("read message failed: %w", err)
		case <-pingTicker.C:
			atomic.StoreInt64(&w.lastPingTime, time.Now().UnixNano())
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return fmt.Errorf("ping failed: %w", err)
			}
		}
	}
}

type tickerMsg struct {
	Ch     string `json:"ch"`
	Symbol string `json:"symbol"`
	Data   struct {
		Bid  string `json:"bidPrice"`
		Ask  string `json:"askPrice"`
		Last string `json:"lastPrice"`
		Ts   int64  `json:"ts"`
	} `json:"data"`
}

func (w *WS) handleMessage(msg []byte) {
	var m tickerMsg
	if err := json.Unmarshal(msg, &m); err != nil {
		return
	}
	if m.Ch != "ticker" || m.Symbol == "" {
		return
	}

	ts := m.Data.Ts
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	t := state.Ticker{
		Bid:  parseFloatOr(m.Data.Bid, 0),
		Ask:  parseFloatOr(m.Data.Ask, 0),
		Last: parseFloatOr(m.Data.Last, 0),
		Ts:   ts,
	}
	if t.Bid == 0 && t.Ask == 0 && t.Last == 0 {
		return
	}

	w.mu.Lock()
	w.tickers[m.Symbol] = t
	w.mu.Unlock()
}
