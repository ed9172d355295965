// Package domain holds the core data model shared across the engine.
package domain

import "time"

// Coin is a watchlist entry. Identity is the symbol; coins are disabled,
// never deleted, when removed from the watchlist.
type Coin struct {
	Symbol  string
	Enabled bool
}

// Pair is an ordered (from, to) coin tuple with a persistent id and the last
// recorded price ratio. Ratio is NaN until first observed.
type Pair struct {
	ID       int64
	FromCoin string
	ToCoin   string
	Ratio    float64
	Enabled  bool
}

// TradeState models the forward-only lifecycle of a trade record.
type TradeState string

const (
	TradeStarted  TradeState = "STARTED"
	TradeOrdered  TradeState = "ORDERED"
	TradeComplete TradeState = "COMPLETE"
)

// Trade is one order's lifecycle record.
type Trade struct {
	ID                    int64
	FromCoin              string
	ToCoin                string
	Selling               bool
	State                 TradeState
	AltStartingBalance    float64
	CryptoStartingBalance float64
	AltTradeAmount        float64
	CryptoTradeAmount     float64
	Datetime              time.Time
}

// Interval is the resolution of a CoinValue snapshot row.
type Interval string

const (
	IntervalMinutely Interval = "MINUTELY"
	IntervalHourly   Interval = "HOURLY"
	IntervalDaily    Interval = "DAILY"
	IntervalWeekly   Interval = "WEEKLY"
)

// CoinValue is an append-only portfolio snapshot for one coin.
type CoinValue struct {
	Coin     string
	Balance  float64
	USDPrice float64
	BTCPrice float64
	Interval Interval
	Datetime time.Time
}

// ScoutRecord is one scout observation for a pair, appended in batches and
// pruned by age.
type ScoutRecord struct {
	PairID           int64
	RatioDiff        float64
	TargetRatio      float64
	CurrentCoinPrice float64
	OtherCoinPrice   float64
	Datetime         time.Time
}

// PairRatio is one bulk ratio update keyed by pair id.
type PairRatio struct {
	PairID int64
	Ratio  float64
}

// CurrentCoin is one row of the append-only current-coin log; the latest row
// by datetime wins.
type CurrentCoin struct {
	Symbol   string
	Datetime time.Time
}
