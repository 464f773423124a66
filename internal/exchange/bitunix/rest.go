// Package bitunix adapts the Bitunix perpetual-futures REST and WebSocket
// APIs to the orchestrator's Exchange contract: market metadata, ticker/
// position/order/OHLCV/pnl reads, and batch order placement/cancellation.
package bitunix

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"forager/internal/common"
	"forager/internal/market"
	"forager/internal/pnl"
	"forager/internal/state"
)

// Client provides REST access to the Bitunix exchange, implementing the
// orchestrator.Exchange contract.
type Client struct {
	key, secret, base string
	rest              *resty.Client
	fillWatcher       *FillWatcher
}

// NewClient creates a REST client with pooled HTTP transport and retry
// behavior, and starts a FillWatcher for asynchronous fill notification.
func NewClient(key, secret, base string, timeout time.Duration) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	r := resty.New()
	r.SetTransport(transport)
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(common.DefaultRESTTimeout * time.Second)
	}
	r.SetRetryCount(3)
	r.SetRetryWaitTime(time.Second)
	r.SetRetryMaxWaitTime(5 * time.Second)

	c := &Client{key: key, secret: secret, base: base, rest: r}
	c.fillWatcher = NewFillWatcher(c, 5*time.Second)
	return c
}

// NotifyFills registers a callback invoked whenever an order tracked by the
// fill watcher leaves the open-order set (filled or cancelled),
// wired by the orchestrator as orchestrator.Orchestrator.NotifyFill.
func (c *Client) NotifyFills(cb func(symbol string)) {
	c.fillWatcher.OnFill(cb)
}

// Close stops background watchers.
func (c *Client) Close() {
	c.fillWatcher.Stop()
}

// Response is the common Bitunix REST envelope.
type Response struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, query map[string]string) (*Response, error) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	sign := Sign(c.secret, ts, c.key, ts)

	req := c.rest.R().
		SetContext(ctx).
		SetHeader("api-key", c.key).
		SetHeader("nonce", ts).
		SetHeader("timestamp", ts).
		SetHeader("sign", sign)

	if query != nil {
		req = req.SetQueryParams(query)
	}
	if body != nil {
		req = req.SetBody(body)
	}

	resp := &Response{}
	req = req.SetResult(resp)

	var httpResp *resty.Response
	var err error
	switch method {
	case http.MethodGet:
		httpResp, err = req.Get(c.base + path)
	case http.MethodPost:
		httpResp, err = req.Post(c.base + path)
	case http.MethodDelete:
		httpResp, err = req.Delete(c.base + path)
	default:
		return nil, fmt.Errorf("unsupported method %s", method)
	}
	if err != nil {
		return nil, fmt.Errorf("bitunix request failed: %w", err)
	}
	if httpResp.StatusCode() >= 400 {
		return nil, fmt.Errorf("bitunix: http %d: %s", httpResp.StatusCode(), httpResp.String())
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("bitunix: %d %s", resp.Code, resp.Msg)
	}
	return resp, nil
}

type marketSpecResp struct {
	Symbol      string `json:"symbol"`
	PriceTick   string `json:"priceTick"`
	QtyStep     string `json:"qtyStep"`
	MinQty      string `json:"minQty"`
	MinNotional string `json:"minNotional"`
	Multiplier  string `json:"multiplier"`
	Inverse     bool   `json:"inverse"`
	Status      string `json:"status"`
}

// LoadMarkets fetches the full tradeable-symbol metadata table.
func (c *Client) LoadMarkets(ctx context.Context) (map[string]market.Market, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1/futures/market/trading_pairs", nil, nil)
	if err != nil {
		return nil, err
	}
	var specs []marketSpecResp
	if err := json.Unmarshal(resp.Data, &specs); err != nil {
		return nil, fmt.Errorf("parse trading_pairs: %w", err)
	}

	out := make(map[string]market.Market, len(specs))
	for _, s := range specs {
		out[s.Symbol] = market.Market{
			Symbol:      s.Symbol,
			PriceTick:   parseFloatOr(s.PriceTick, 0),
			QtyStep:     parseFloatOr(s.QtyStep, 0),
			MinQty:      parseFloatOr(s.MinQty, 0),
			MinNotional: parseFloatOr(s.MinNotional, 0),
			Mult:        parseFloatOr(s.Multiplier, 1),
			Inverse:     s.Inverse,
			Active:      s.Status == "TRADING",
		}
	}
	return out, nil
}

type tickerResp struct {
	Symbol string `json:"symbol"`
	Bid    string `json:"bidPrice"`
	Ask    string `json:"askPrice"`
	Last   string `json:"lastPrice"`
	Ts     int64  `json:"ts"`
}

// FetchTickers fetches the current top-of-book snapshot for every symbol.
func (c *Client) FetchTickers(ctx context.Context) (map[string]state.Ticker, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1/futures/market/tickers", nil, nil)
	if err != nil {
		return nil, err
	}
	var tickers []tickerResp
	if err := json.Unmarshal(resp.Data, &tickers); err != nil {
		return nil, fmt.Errorf("parse tickers: %w", err)
	}

	out := make(map[string]state.Ticker, len(tickers))
	for _, t := range tickers {
		ts := t.Ts
		if ts == 0 {
			ts = time.Now().UnixMilli()
		}
		out[t.Symbol] = state.Ticker{
			Bid:  parseFloatOr(t.Bid, 0),
			Ask:  parseFloatOr(t.Ask, 0),
			Last: parseFloatOr(t.Last, 0),
			Ts:   ts,
		}
	}
	return out, nil
}

type positionResp struct {
	Symbol      string `json:"symbol"`
	Side        string `json:"side"` // LONG/SHORT
	Qty         string `json:"qty"`
	EntryPrice  string `json:"entryPrice"`
}

type accountResp struct {
	Positions      []positionResp `json:"positions"`
	MarginBalance  string          `json:"marginBalance"`
}

// FetchPositions fetches every open position and the account's margin
// balance.
func (c *Client) FetchPositions(ctx context.Context) ([]state.Position, float64, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1/futures/account/positions", nil, nil)
	if err != nil {
		return nil, 0, err
	}
	var acct accountResp
	if err := json.Unmarshal(resp.Data, &acct); err != nil {
		return nil, 0, fmt.Errorf("parse positions: %w", err)
	}

	out := make([]state.Position, 0, len(acct.Positions))
	for _, p := range acct.Positions {
		size := parseFloatOr(p.Qty, 0)
		side := common.SideLong
		if p.Side == "SHORT" {
			side = common.SideShort
			size = -size
		}
		out = append(out, state.Position{
			Symbol:     p.Symbol,
			Side:       side,
			Size:       size,
			EntryPrice: parseFloatOr(p.EntryPrice, 0),
		})
	}
	return out, parseFloatOr(acct.MarginBalance, 0), nil
}

type openOrderResp struct {
	OrderID      string `json:"orderId"`
	ClientID     string `json:"clientId"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	PositionSide string `json:"positionSide"`
	Qty          string `json:"qty"`
	Price        string `json:"price"`
	ReduceOnly   bool   `json:"reduceOnly"`
}

// FetchOpenOrders fetches all resting orders across symbols.
func (c *Client) FetchOpenOrders(ctx context.Context) ([]state.Order, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1/futures/trade/pending_orders", nil, nil)
	if err != nil {
		return nil, err
	}
	var orders []openOrderResp
	if err := json.Unmarshal(resp.Data, &orders); err != nil {
		return nil, fmt.Errorf("parse pending_orders: %w", err)
	}

	out := make([]state.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, state.Order{
			Symbol:       o.Symbol,
			Side:         lowerSide(o.Side),
			PositionSide: lowerSide(o.PositionSide),
			Qty:          parseFloatOr(o.Qty, 0),
			Price:        parseFloatOr(o.Price, 0),
			ReduceOnly:   o.ReduceOnly,
			ExchangeID:   o.OrderID,
			ClientID:     o.ClientID,
		})
	}
	return out, nil
}

type klineResp struct {
	OpenTime int64  `json:"openTime"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   string `json:"baseVol"`
}

// FetchOHLCV1m fetches 1-minute candles since sinceMs.
func (c *Client) FetchOHLCV1m(ctx context.Context, symbol string, sinceMs int64) ([]state.HLC, error) {
	query := map[string]string{
		"symbol":   symbol,
		"interval": "1m",
		"limit":    "1000",
	}
	if sinceMs > 0 {
		query["startTime"] = strconv.FormatInt(sinceMs, 10)
	}

	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1/futures/market/klines", nil, query)
	if err != nil {
		return nil, err
	}
	var klines []klineResp
	if err := json.Unmarshal(resp.Data, &klines); err != nil {
		return nil, fmt.Errorf("parse klines: %w", err)
	}

	out := make([]state.HLC, 0, len(klines))
	for _, k := range klines {
		out = append(out, state.HLC{
			Ts:     k.OpenTime,
			High:   parseFloatOr(k.High, 0),
			Low:    parseFloatOr(k.Low, 0),
			Close:  parseFloatOr(k.Close, 0),
			Volume: parseFloatOr(k.Volume, 0),
		})
	}
	return out, nil
}

type fillResp struct {
	ID           string `json:"id"`
	Symbol       string `json:"symbol"`
	PositionSide string `json:"positionSide"`
	Qty          string `json:"qty"`
	Price        string `json:"price"`
	RealizedPnl  string `json:"realizedPnl"`
	Ts           int64  `json:"ts"`
}

// FetchPnlFills fetches realized-PnL fill history since startMs.
func (c *Client) FetchPnlFills(ctx context.Context, startMs int64) ([]pnl.Fill, error) {
	query := map[string]string{"limit": "1000"}
	if startMs > 0 {
		query["startTime"] = strconv.FormatInt(startMs, 10)
	}

	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1/futures/trade/history_trades", nil, query)
	if err != nil {
		return nil, err
	}
	var fills []fillResp
	if err := json.Unmarshal(resp.Data, &fills); err != nil {
		return nil, fmt.Errorf("parse history_trades: %w", err)
	}

	out := make([]pnl.Fill, 0, len(fills))
	for _, f := range fills {
		out = append(out, pnl.Fill{
			ID:           f.ID,
			Symbol:       f.Symbol,
			PositionSide: lowerSide(f.PositionSide),
			Qty:          parseFloatOr(f.Qty, 0),
			Price:        parseFloatOr(f.Price, 0),
			RealizedPnl:  parseFloatOr(f.RealizedPnl, 0),
			Ts:           f.Ts,
		})
	}
	return out, nil
}

// PlaceOrders places a batch of ideal orders and returns the ones the
// exchange accepted. A per-order failure is skipped rather than aborting
// the batch, and the first such error is returned alongside the accepted
// orders, matching the reconciler's best-effort dispatch.
func (c *Client) PlaceOrders(ctx context.Context, orders []state.Order) ([]state.Order, error) {
	placed := make([]state.Order, 0, len(orders))
	var firstErr error
	for _, o := range orders {
		if o.ClientID == "" {
			o.ClientID = uuid.New().String()
		}
		id, err := c.placeOne(ctx, o)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		o.ExchangeID = id
		placed = append(placed, o)
		c.fillWatcher.Track(o.Symbol, id)
	}
	return placed, firstErr
}

type placeOrderReq struct {
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	PositionSide string `json:"positionSide"`
	TradeSide    string `json:"tradeSide"`
	Qty          string `json:"qty"`
	Price        string `json:"price"`
	OrderType    string `json:"orderType"`
	ReduceOnly   bool   `json:"reduceOnly"`
	ClientID     string `json:"clientId"`
}

type placeOrderData struct {
	OrderID string `json:"orderId"`
}

func (c *Client) placeOne(ctx context.Context, o state.Order) (string, error) {
	tradeSide := "OPEN"
	if o.ReduceOnly {
		tradeSide = "CLOSE"
	}
	req := placeOrderReq{
		Symbol:       o.Symbol,
		Side:         upperSide(o.Side),
		PositionSide: upperSide(o.PositionSide),
		TradeSide:    tradeSide,
		Qty:          strconv.FormatFloat(o.Qty, 'f', -1, 64),
		Price:        strconv.FormatFloat(o.Price, 'f', -1, 64),
		OrderType:    "LIMIT",
		ReduceOnly:   o.ReduceOnly,
		ClientID:     o.ClientID,
	}
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/v1/futures/trade/place_order", req, nil)
	if err != nil {
		return "", err
	}
	var data placeOrderData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return "", fmt.Errorf("parse place_order response: %w", err)
	}
	return data.OrderID, nil
}

// CancelOrders cancels a batch of resting orders, best-effort.
func (c *Client) CancelOrders(ctx context.Context, orders []state.Order) ([]state.Order, error) {
	cancelled := make([]state.Order, 0, len(orders))
	var firstErr error
	for _, o := range orders {
		req := map[string]string{"symbol": o.Symbol, "orderId": o.ExchangeID}
		if _, err := c.doRequest(ctx, http.MethodPost, "/api/v1/futures/trade/cancel_order", req, nil); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		cancelled = append(cancelled, o)
	}
	return cancelled, firstErr
}

// SetHedgeMode switches the account between one-way and hedge position
// mode.
func (c *Client) SetHedgeMode(ctx context.Context, hedge bool) error {
	mode := "ONE_WAY"
	if hedge {
		mode = "HEDGE"
	}
	_, err := c.doRequest(ctx, http.MethodPost, "/api/v1/futures/account/change_position_mode", map[string]string{"positionMode": mode}, nil)
	return err
}

func parseFloatOr(s string, def float64) float64 {
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}

func lowerSide(s string) string {
	switch s {
	case "BUY":
		return common.OrderSideBuy
	case "SELL":
		return common.OrderSideSell
	case "LONG":
		return common.SideLong
	case "SHORT":
		return common.SideShort
	default:
		return s
	}
}

func upperSide(s string) string {
	switch s {
	case common.OrderSideBuy:
		return "BUY"
	case common.OrderSideSell:
		return "SELL"
	case common.SideLong:
		return "LONG"
	case common.SideShort:
		return "SHORT"
	default:
		return s
	}
}
