package bitunix

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// trackedOrder is one order placed this session, watched for a fill so the
// orchestrator can be nudged to reconcile sooner than its next tick.
type trackedOrder struct {
	symbol      string
	orderID     string
	submittedAt time.Time
}

// FillWatcher polls recently placed orders for fills and invokes registered
// callbacks, adapted from the order-timeout tracker's monitor-loop shape:
// periodic status sweep over an in-memory set; an entry is dropped once its
// order leaves the open-order set.
type FillWatcher struct {
	mu       sync.Mutex
	pending  map[string]trackedOrder // orderID -> order
	interval time.Duration
	client   *Client
	onFill   []func(symbol string)
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewFillWatcher starts a watcher polling open orders at interval.
func NewFillWatcher(client *Client, interval time.Duration) *FillWatcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	w := &FillWatcher{
		pending:  make(map[string]trackedOrder),
		interval: interval,
		client:   client,
		stopCh:   make(chan struct{}),
	}
	go w.run()
	return w
}

// OnFill registers a callback invoked with the symbol of every order this
// watcher determines has left the exchange's open-order set.
func (w *FillWatcher) OnFill(cb func(symbol string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onFill = append(w.onFill, cb)
}

// Track begins watching orderID for symbol.
func (w *FillWatcher) Track(symbol, orderID string) {
	if orderID == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[orderID] = trackedOrder{symbol: symbol, orderID: orderID, submittedAt: time.Now()}
}

// Stop halts the background poll loop.
func (w *FillWatcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *FillWatcher) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

// sweep fetches the current open-order set and treats any tracked order
// missing from it as filled or cancelled, firing callbacks and dropping it.
func (w *FillWatcher) sweep() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	open, err := w.client.FetchOpenOrders(context.Background())
	if err != nil {
		log.Debug().Err(err).Msg("fill watcher: fetch open orders failed")
		return
	}
	stillOpen := make(map[string]bool, len(open))
	for _, o := range open {
		stillOpen[o.ExchangeID] = true
	}

	w.mu.Lock()
	var resolved []trackedOrder
	for id, t := range w.pending {
		if !stillOpen[id] {
			resolved = append(resolved, t)
			delete(w.pending, id)
		}
	}
	callbacks := append([]func(symbol string){}, w.onFill...)
	w.mu.Unlock()

	for _, t := range resolved {
		for _, cb := range callbacks {
			cb(t.symbol)
		}
	}
}
