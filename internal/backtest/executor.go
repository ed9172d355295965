package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/coinwheel/internal/exchange"
)

// Simulated fills use a flat taker rate; the BNB discount does not exist in
// a backtest.
const backtestFee = 0.001

// Executor is the simulated exchange for backtests: balances in memory,
// fills at the cached bar price of the simulated minute. It serves the
// execution manager as market API, order balancer and pricer at once.
// Backtests are single-threaded, the executor is not goroutine-safe.
type Executor struct {
	bars      *Bars
	bridge    string
	watchlist []string
	clock     time.Time
	balances  map[string]float64
	orderID   int64
	log       zerolog.Logger
}

// NewExecutor creates a simulated exchange holding the initial balances.
func NewExecutor(bars *Bars, bridge string, watchlist []string, initial map[string]float64, log zerolog.Logger) *Executor {
	balances := make(map[string]float64, len(initial))
	for asset, amount := range initial {
		balances[asset] = amount
	}
	return &Executor{
		bars:      bars,
		bridge:    bridge,
		watchlist: watchlist,
		balances:  balances,
		log:       log.With().Str("component", "backtest").Logger(),
	}
}

// SetTime advances the simulated clock.
func (e *Executor) SetTime(t time.Time) {
	e.clock = t.Truncate(time.Minute)
}

// Time returns the simulated clock.
func (e *Executor) Time() time.Time {
	return e.clock
}

func (e *Executor) price(symbol string) (float64, bool) {
	price, ok, err := e.bars.Price(context.Background(), symbol, e.clock)
	if err != nil {
		e.log.Error().Err(err).Str("symbol", symbol).Msg("Bar lookup failed")
		return 0, false
	}
	return price, ok
}

// CurrencyBalance implements the order balancer; the force flag has no
// meaning for simulated balances.
func (e *Executor) CurrencyBalance(_ context.Context, asset string, _ bool) (float64, error) {
	return e.balances[asset], nil
}

// MakeOrder fills instantly at the current minute's bar price with the flat
// backtest fee.
func (e *Executor) MakeOrder(_ context.Context, side, symbol string, qty, quoteQty float64) (*exchange.OrderReport, error) {
	base := symbol[:len(symbol)-len(e.bridge)]
	price, ok := e.price(symbol)
	if !ok {
		return nil, fmt.Errorf("no bar for %s at %s", symbol, e.clock)
	}

	if side == exchange.SideSell {
		e.balances[base] -= qty
		e.balances[e.bridge] += qty * price * (1 - backtestFee)
		quoteQty = qty * price
	} else {
		e.balances[e.bridge] -= quoteQty
		e.balances[base] += qty * (1 - backtestFee)
	}
	e.orderID++

	return &exchange.OrderReport{
		Symbol:             symbol,
		OrderID:            e.orderID,
		ExecutedQty:        exchange.Amount(qty),
		CumulativeQuoteQty: exchange.Amount(quoteQty),
		Status:             exchange.StatusFilled,
		Side:               side,
		Type:               "MARKET",
	}, nil
}

// AllTickerPrices returns the current minute's bridge price for every
// watched coin. Minutes without a bar report 0, which downstream consumers
// treat as unpriceable.
func (e *Executor) AllTickerPrices(context.Context) (map[string]float64, error) {
	prices := make(map[string]float64, len(e.watchlist))
	for _, coin := range e.watchlist {
		symbol := coin + e.bridge
		price, _ := e.price(symbol)
		prices[symbol] = price
	}
	return prices, nil
}

// Simulated fills ignore the exchange's real lot sizes, but the minimum
// order value must stay positive so dust holdings never pass the scout gate.
const backtestMinNotional = 10

func (e *Executor) SymbolInfo(_ context.Context, symbol string) (*exchange.SymbolInfo, error) {
	return &exchange.SymbolInfo{
		Symbol: symbol,
		Status: "TRADING",
		Filters: []exchange.SymbolFilter{
			{FilterType: "LOT_SIZE", StepSize: "0.00000001"},
			{FilterType: "NOTIONAL", MinNotional: backtestMinNotional},
		},
	}, nil
}

// AllTradeFees reports the flat backtest rate for every watched pair.
func (e *Executor) AllTradeFees(context.Context) ([]exchange.TradeFee, error) {
	fees := make([]exchange.TradeFee, 0, len(e.watchlist))
	for _, coin := range e.watchlist {
		fees = append(fees, exchange.TradeFee{
			Symbol:          coin + e.bridge,
			TakerCommission: exchange.Amount(backtestFee),
		})
	}
	return fees, nil
}

// SpotBNBBurn is always off in a backtest.
func (e *Executor) SpotBNBBurn(context.Context) (bool, error) {
	return false, nil
}

// MarketSellPrice prices a sell at the bar price with unlimited depth.
func (e *Executor) MarketSellPrice(symbol string, amount float64) (float64, float64, bool) {
	if amount == 0 {
		return 0, 0, true
	}
	price, ok := e.price(symbol)
	if !ok {
		return 0, 0, false
	}
	return price, price * amount, true
}

// MarketBuyPrice prices a buy at the bar price with unlimited depth.
func (e *Executor) MarketBuyPrice(symbol string, quoteAmount float64) (float64, float64, bool) {
	if quoteAmount == 0 {
		return 0, 0, true
	}
	price, ok := e.price(symbol)
	if !ok {
		return 0, 0, false
	}
	return price, quoteAmount / price, true
}

// MarketSellFillQuote prices the base amount needed to fill a quote amount.
func (e *Executor) MarketSellFillQuote(symbol string, quote float64) (float64, float64, bool) {
	if quote == 0 {
		return 0, 0, true
	}
	price, ok := e.price(symbol)
	if !ok {
		return 0, 0, false
	}
	return price, quote / price, true
}

// CollateCoins expresses the whole portfolio in the target symbol. Assets
// without a price against the target are skipped.
func (e *Executor) CollateCoins(target string) float64 {
	total := 0.0
	for asset, balance := range e.balances {
		if balance == 0 {
			continue
		}
		if asset == target {
			total += balance
			continue
		}
		price, ok := e.price(asset + target)
		if !ok {
			e.log.Debug().Str("asset", asset).Msg("No collation price, skipping")
			continue
		}
		total += balance * price
	}
	return total
}

// Balances returns a copy of the simulated wallet.
func (e *Executor) Balances() map[string]float64 {
	out := make(map[string]float64, len(e.balances))
	for asset, amount := range e.balances {
		out[asset] = amount
	}
	return out
}
