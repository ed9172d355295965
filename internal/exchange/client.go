package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/coinwheel/internal/market"
)

const recvWindow = "5000"

// Client is a Binance spot REST client. Signed endpoints use HMAC-SHA256
// request signing with the configured API credentials.
type Client struct {
	baseURL string
	apiKey  string
	secret  string
	client  *http.Client
	now     func() time.Time
	log     zerolog.Logger
}

// NewClient creates a client for the given top-level domain ("com" or "us").
func NewClient(apiKey, secret, tld string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: fmt.Sprintf("https://api.binance.%s", tld),
		apiKey:  apiKey,
		secret:  secret,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
		log: log.With().Str("client", "binance").Logger(),
	}
}

func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// do issues one request. Signed requests get timestamp, recvWindow and
// signature appended, and always carry the API key header.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, signed bool, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	if signed {
		params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		params.Set("recvWindow", recvWindow)
	}
	query := params.Encode()
	if signed {
		query += "&signature=" + c.sign(query)
	}

	// All parameters travel in the query string, POSTs included.
	reqURL := c.baseURL + path
	if query != "" {
		reqURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(body, apiErr); err != nil {
			apiErr.Message = string(body)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// Ping checks connectivity and, implicitly, credential formatting.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/v3/ping", nil, false, nil)
}

// Account fetches the signed account snapshot with balances and commission
// rates.
func (c *Client) Account(ctx context.Context) (*AccountInfo, error) {
	var info AccountInfo
	if err := c.do(ctx, http.MethodGet, "/api/v3/account", nil, true, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

type depthResponse struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]Amount `json:"bids"`
	Asks         [][2]Amount `json:"asks"`
}

// OrderBookSnapshot fetches a full order book for one symbol. Satisfies
// market.SnapshotFetcher.
func (c *Client) OrderBookSnapshot(ctx context.Context, symbol string, limit int) (market.DepthSnapshot, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))
	var resp depthResponse
	if err := c.do(ctx, http.MethodGet, "/api/v3/depth", params, false, &resp); err != nil {
		return market.DepthSnapshot{}, err
	}
	return market.DepthSnapshot{
		LastUpdateID: resp.LastUpdateID,
		Bids:         toLevels(resp.Bids),
		Asks:         toLevels(resp.Asks),
	}, nil
}

func toLevels(raw [][2]Amount) []market.Level {
	levels := make([]market.Level, len(raw))
	for i, pair := range raw {
		levels[i] = market.Level{Price: float64(pair[0]), Qty: float64(pair[1])}
	}
	return levels
}

type exchangeInfoResponse struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// SymbolInfo fetches the exchange metadata for one symbol.
func (c *Client) SymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	var resp exchangeInfoResponse
	if err := c.do(ctx, http.MethodGet, "/api/v3/exchangeInfo", params, false, &resp); err != nil {
		return nil, err
	}
	if len(resp.Symbols) == 0 {
		return nil, fmt.Errorf("symbol %s not found on exchange", symbol)
	}
	return &resp.Symbols[0], nil
}

type tickerEntry struct {
	Symbol string `json:"symbol"`
	Price  Amount `json:"price"`
}

// AllTickerPrices fetches the last price for every traded symbol.
func (c *Client) AllTickerPrices(ctx context.Context) (map[string]float64, error) {
	var entries []tickerEntry
	if err := c.do(ctx, http.MethodGet, "/api/v3/ticker/price", nil, false, &entries); err != nil {
		return nil, err
	}
	prices := make(map[string]float64, len(entries))
	for _, e := range entries {
		prices[e.Symbol] = float64(e.Price)
	}
	return prices, nil
}

// TickerPrice fetches the last price for one symbol.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	var entry tickerEntry
	if err := c.do(ctx, http.MethodGet, "/api/v3/ticker/price", params, false, &entry); err != nil {
		return 0, err
	}
	return float64(entry.Price), nil
}

// Klines fetches minute candles for a symbol in [startTime, endTime),
// limited to limit bars.
func (c *Client) Klines(ctx context.Context, symbol, interval string, startTime, endTime time.Time, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("startTime", strconv.FormatInt(startTime.UnixMilli(), 10))
	params.Set("endTime", strconv.FormatInt(endTime.UnixMilli(), 10))
	params.Set("limit", strconv.Itoa(limit))
	var klines []Kline
	if err := c.do(ctx, http.MethodGet, "/api/v3/klines", params, false, &klines); err != nil {
		return nil, err
	}
	return klines, nil
}

// OrderRequest describes one market order. Exactly one of Quantity and
// QuoteOrderQty should be set.
type OrderRequest struct {
	Symbol        string
	Side          string
	Quantity      float64
	QuoteOrderQty float64
}

// CreateOrder submits a MARKET order and returns the full fill report.
func (c *Client) CreateOrder(ctx context.Context, order OrderRequest) (*OrderReport, error) {
	params := url.Values{}
	params.Set("symbol", order.Symbol)
	params.Set("side", order.Side)
	params.Set("type", "MARKET")
	params.Set("newOrderRespType", "FULL")
	if order.QuoteOrderQty > 0 {
		params.Set("quoteOrderQty", formatQty(order.QuoteOrderQty))
	} else {
		params.Set("quantity", formatQty(order.Quantity))
	}
	var report OrderReport
	if err := c.do(ctx, http.MethodPost, "/api/v3/order", params, true, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// AllTradeFees fetches the commission rates for every symbol.
func (c *Client) AllTradeFees(ctx context.Context) ([]TradeFee, error) {
	var fees []TradeFee
	if err := c.do(ctx, http.MethodGet, "/sapi/v1/asset/tradeFee", nil, true, &fees); err != nil {
		return nil, err
	}
	return fees, nil
}

type bnbBurnResponse struct {
	SpotBNBBurn bool `json:"spotBNBBurn"`
}

// SpotBNBBurn reports whether the account pays spot fees in BNB.
func (c *Client) SpotBNBBurn(ctx context.Context) (bool, error) {
	var resp bnbBurnResponse
	if err := c.do(ctx, http.MethodGet, "/sapi/v1/bnbBurn", nil, true, &resp); err != nil {
		return false, err
	}
	return resp.SpotBNBBurn, nil
}

type listenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

// CreateListenKey opens a user-data stream and returns its listen key.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	var resp listenKeyResponse
	if err := c.do(ctx, http.MethodPost, "/api/v3/userDataStream", nil, false, &resp); err != nil {
		return "", err
	}
	return resp.ListenKey, nil
}

// KeepAliveListenKey extends a user-data stream's validity.
func (c *Client) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	params := url.Values{}
	params.Set("listenKey", listenKey)
	return c.do(ctx, http.MethodPut, "/api/v3/userDataStream", params, false, nil)
}

// CloseListenKey closes a user-data stream.
func (c *Client) CloseListenKey(ctx context.Context, listenKey string) error {
	params := url.Values{}
	params.Set("listenKey", listenKey)
	return c.do(ctx, http.MethodDelete, "/api/v3/userDataStream", params, false, nil)
}
