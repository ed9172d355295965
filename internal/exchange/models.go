// Package exchange talks to the Binance spot REST API: signed account and
// order endpoints, public market-data endpoints, and user-data listen keys.
package exchange

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Amount is a float64 that unmarshals from the quoted decimal strings the
// exchange uses on the wire.
type Amount float64

// UnmarshalJSON accepts both "123.45" and 123.45.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*a = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("failed to parse amount %q: %w", s, err)
	}
	*a = Amount(v)
	return nil
}

// APIError is a non-2xx response from the exchange.
type APIError struct {
	Status  int
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange API error: status=%d code=%d msg=%s", e.Status, e.Code, e.Message)
}

// AssetBalance is one asset line of the account snapshot.
type AssetBalance struct {
	Asset  string `json:"asset"`
	Free   Amount `json:"free"`
	Locked Amount `json:"locked"`
}

// AccountInfo is the signed /api/v3/account response.
type AccountInfo struct {
	MakerCommission int64          `json:"makerCommission"`
	TakerCommission int64          `json:"takerCommission"`
	CanTrade        bool           `json:"canTrade"`
	Balances        []AssetBalance `json:"balances"`
}

// OrderReport is the exchange's acknowledgement of a placed order.
type OrderReport struct {
	Symbol             string `json:"symbol"`
	OrderID            int64  `json:"orderId"`
	ClientOrderID      string `json:"clientOrderId"`
	TransactTime       int64  `json:"transactTime"`
	Price              Amount `json:"price"`
	OrigQty            Amount `json:"origQty"`
	ExecutedQty        Amount `json:"executedQty"`
	CumulativeQuoteQty Amount `json:"cummulativeQuoteQty"`
	Status             string `json:"status"`
	Side               string `json:"side"`
	Type               string `json:"type"`
}

// Order sides and statuses used by the trader.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	StatusFilled = "FILLED"
)

// SymbolFilter is one entry of a symbol's filter list.
type SymbolFilter struct {
	FilterType  string `json:"filterType"`
	StepSize    string `json:"stepSize"`
	MinNotional Amount `json:"minNotional"`
}

// SymbolInfo is one symbol block of the exchangeInfo response.
type SymbolInfo struct {
	Symbol  string         `json:"symbol"`
	Status  string         `json:"status"`
	Filters []SymbolFilter `json:"filters"`
}

// Filter returns the filter with the given type, if present.
func (s *SymbolInfo) Filter(filterType string) (SymbolFilter, bool) {
	for _, f := range s.Filters {
		if f.FilterType == filterType {
			return f, true
		}
	}
	return SymbolFilter{}, false
}

// TradeFee is one symbol's commission rates from the SAPI tradeFee endpoint.
type TradeFee struct {
	Symbol          string `json:"symbol"`
	MakerCommission Amount `json:"makerCommission"`
	TakerCommission Amount `json:"takerCommission"`
}

// Kline is one candlestick. The exchange encodes klines as positional
// arrays; see UnmarshalJSON.
type Kline struct {
	OpenTime  int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime int64
}

// UnmarshalJSON decodes the positional kline array
// [openTime, open, high, low, close, volume, closeTime, ...].
func (k *Kline) UnmarshalJSON(data []byte) error {
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 7 {
		return fmt.Errorf("kline array too short: %d fields", len(raw))
	}
	var err error
	if k.OpenTime, err = klineInt(raw[0]); err != nil {
		return err
	}
	if k.Open, err = klineFloat(raw[1]); err != nil {
		return err
	}
	if k.High, err = klineFloat(raw[2]); err != nil {
		return err
	}
	if k.Low, err = klineFloat(raw[3]); err != nil {
		return err
	}
	if k.Close, err = klineFloat(raw[4]); err != nil {
		return err
	}
	if k.Volume, err = klineFloat(raw[5]); err != nil {
		return err
	}
	if k.CloseTime, err = klineInt(raw[6]); err != nil {
		return err
	}
	return nil
}

func klineInt(v interface{}) (int64, error) {
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("expected numeric kline field, got %T", v)
	}
	return int64(f), nil
}

func klineFloat(v interface{}) (float64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("expected string kline field, got %T", v)
	}
	return strconv.ParseFloat(s, 64)
}
