// Package bridge talks to an exchange sidecar over HTTP. The sidecar fronts
// the venue's SDK and exposes candles, tickers and limit orders with
// ccxt-shaped JSON. Client implements domain.HistoryProvider,
// domain.TickerProvider and domain.Broker.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/vgbot/internal/domain"
)

const (
	defaultBaseURL = "http://127.0.0.1:8787"
	defaultTimeout = 15 * time.Second
	userAgent      = "vgbot/bridge"
)

// Client is the sidecar REST client. It never retries; failed calls
// surface to the engine which owns retry policy.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Client. An empty baseURL selects the local sidecar
// default and a non-positive timeout selects 15s.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Bars fetches OHLCV rows ([ms, open, high, low, close, volume]) and
// returns them oldest first.
func (c *Client) Bars(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Bar, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("timeframe", timeframe)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.do(ctx, http.MethodGet, "/ohlcv?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: bars %s: %w", symbol, err)
	}

	var rows [][]decimal.Decimal
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("bridge: decode bars %s: %w", symbol, err)
	}

	bars := make([]domain.Bar, 0, len(rows))
	for i, r := range rows {
		if len(r) < 6 {
			return nil, fmt.Errorf("bridge: bars %s: row %d has %d fields", symbol, i, len(r))
		}
		bars = append(bars, domain.Bar{
			Timestamp: time.UnixMilli(r[0].IntPart()).UTC(),
			Open:      r[1].InexactFloat64(),
			High:      r[2].InexactFloat64(),
			Low:       r[3].InexactFloat64(),
			Close:     r[4].InexactFloat64(),
			Volume:    r[5].InexactFloat64(),
		})
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

type tickerResponse struct {
	Symbol    string          `json:"symbol"`
	Last      decimal.Decimal `json:"last"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Timestamp int64           `json:"timestamp"`
}

// Ticker returns the current top of book.
func (c *Client) Ticker(ctx context.Context, symbol string) (domain.Ticker, error) {
	body, err := c.do(ctx, http.MethodGet, "/ticker?symbol="+url.QueryEscape(symbol), nil)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("bridge: ticker %s: %w", symbol, err)
	}
	var tr tickerResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return domain.Ticker{}, fmt.Errorf("bridge: decode ticker %s: %w", symbol, err)
	}
	if !tr.Last.IsPositive() {
		return domain.Ticker{}, fmt.Errorf("bridge: ticker %s: no last price", symbol)
	}
	t := domain.Ticker{Symbol: symbol, Last: tr.Last, Bid: tr.Bid, Ask: tr.Ask, At: time.Now().UTC()}
	if tr.Timestamp > 0 {
		t.At = time.UnixMilli(tr.Timestamp).UTC()
	}
	return t, nil
}

type placeOrderRequest struct {
	Symbol        string `json:"symbol"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	Amount        string `json:"amount"`
	Price         string `json:"price"`
	ClientOrderID string `json:"client_order_id"`
}

type orderResponse struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Filled    decimal.Decimal `json:"filled"`
	Average   decimal.Decimal `json:"average"`
	Timestamp int64           `json:"timestamp"`
}

// PlaceLimitOrder rests a limit order. A client order ID is attached so the
// sidecar can dedupe a request the venue already accepted.
func (c *Client) PlaceLimitOrder(ctx context.Context, order domain.LimitOrder) (string, error) {
	req := placeOrderRequest{
		Symbol:        order.Symbol,
		Type:          "limit",
		Side:          strings.ToLower(string(order.Side)),
		Amount:        order.Qty.String(),
		Price:         order.Price.String(),
		ClientOrderID: uuid.NewString(),
	}
	body, err := c.do(ctx, http.MethodPost, "/orders", req)
	if err != nil {
		return "", fmt.Errorf("bridge: place order %s: %w", order.Symbol, err)
	}
	var or orderResponse
	if err := json.Unmarshal(body, &or); err != nil {
		return "", fmt.Errorf("bridge: decode order %s: %w", order.Symbol, err)
	}
	if strings.TrimSpace(or.ID) == "" {
		return "", fmt.Errorf("bridge: place order %s: empty order id", order.Symbol)
	}
	return or.ID, nil
}

// OrderStatus polls a single order.
func (c *Client) OrderStatus(ctx context.Context, symbol, orderID string) (domain.OrderState, error) {
	body, err := c.do(ctx, http.MethodGet, orderPath(symbol, orderID), nil)
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("bridge: order status %s: %w", orderID, err)
	}
	var or orderResponse
	if err := json.Unmarshal(body, &or); err != nil {
		return domain.OrderState{}, fmt.Errorf("bridge: decode order status %s: %w", orderID, err)
	}
	st := domain.OrderState{
		OrderID:   orderID,
		Status:    mapStatus(or),
		FilledQty: or.Filled,
		AvgPrice:  or.Average,
		UpdatedAt: time.Now().UTC(),
	}
	if or.Timestamp > 0 {
		st.UpdatedAt = time.UnixMilli(or.Timestamp).UTC()
	}
	return st, nil
}

// CancelOrder cancels a resting order. An order the venue no longer knows
// is treated as cancelled.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if _, err := c.do(ctx, http.MethodDelete, orderPath(symbol, orderID), nil); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("bridge: cancel order %s: %w", orderID, err)
	}
	return nil
}

// Health calls the sidecar's /health endpoint.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.do(ctx, http.MethodGet, "/health", nil); err != nil {
		return fmt.Errorf("bridge: health: %w", err)
	}
	return nil
}

func orderPath(symbol, orderID string) string {
	return "/orders/" + url.PathEscape(orderID) + "?symbol=" + url.QueryEscape(symbol)
}

// mapStatus folds ccxt's open/closed/canceled vocabulary onto OrderStatus.
// "closed" with a short fill is reported as partial.
func mapStatus(or orderResponse) domain.OrderStatus {
	switch strings.ToLower(strings.TrimSpace(or.Status)) {
	case "open":
		if or.Filled.IsPositive() {
			return domain.OrderStatusPartiallyFilled
		}
		return domain.OrderStatusNew
	case "closed":
		if or.Amount.IsPositive() && or.Filled.LessThan(or.Amount) {
			return domain.OrderStatusPartiallyFilled
		}
		return domain.OrderStatusFilled
	default:
		return domain.ParseOrderStatus(or.Status)
	}
}

// do sends a request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(body))
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, msg)
	}
}

var (
	_ domain.HistoryProvider = (*Client)(nil)
	_ domain.TickerProvider  = (*Client)(nil)
	_ domain.Broker          = (*Client)(nil)
)
