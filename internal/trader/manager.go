package trader

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/coinwheel/internal/exchange"
	"github.com/aristath/coinwheel/internal/market"
	"github.com/aristath/coinwheel/internal/postpone"
)

const (
	orderRetryAttempts = 20
	orderRetryDelay    = time.Second
	sellWaitTimeout    = time.Second

	symbolMetaTTL = 12 * time.Hour
	bnbBurnTTL    = time.Minute

	bnbFeeDiscount = 0.75
)

// marketAPI is the slice of the exchange client the manager needs beyond
// order placement.
type marketAPI interface {
	AllTickerPrices(ctx context.Context) (map[string]float64, error)
	SymbolInfo(ctx context.Context, symbol string) (*exchange.SymbolInfo, error)
	AllTradeFees(ctx context.Context) ([]exchange.TradeFee, error)
	SpotBNBBurn(ctx context.Context) (bool, error)
}

// Pricer prices orders against the live depth books.
type Pricer interface {
	MarketSellPrice(symbol string, amount float64) (avgPrice, quote float64, ok bool)
	MarketBuyPrice(symbol string, quoteAmount float64) (avgPrice, base float64, ok bool)
	MarketSellFillQuote(symbol string, quote float64) (avgPrice, base float64, ok bool)
}

// TradeLogger records the STARTED/ORDERED/COMPLETE lifecycle of each trade.
type TradeLogger interface {
	TradeCreate(fromCoin, toCoin string, selling bool) (int64, error)
	TradeSetOrdered(id int64, altStart, cryptoStart, altTrade float64) error
	TradeSetComplete(id int64, cryptoTrade float64) error
}

// Manager is the order execution pipeline: balance reads, quantity rounding
// per exchange filters, fee estimation with the BNB discount, and the
// retried buy/sell flows with trade logging.
type Manager struct {
	api      marketAPI
	orders   OrderBalancer
	tickers  *market.TickerCache
	balances *market.BalanceCache
	pricer   Pricer
	trades   TradeLogger
	defers   *postpone.Context
	sleep    func(time.Duration)
	log      zerolog.Logger

	ticks     *ttlCache[int]
	notionals *ttlCache[float64]
	fees      *ttlCache[map[string]float64]
	bnbBurn   *ttlCache[bool]
}

// NewManager wires an execution manager.
func NewManager(api marketAPI, orders OrderBalancer, tickers *market.TickerCache, balances *market.BalanceCache, pricer Pricer, trades TradeLogger, defers *postpone.Context, log zerolog.Logger) *Manager {
	return &Manager{
		api:       api,
		orders:    orders,
		tickers:   tickers,
		balances:  balances,
		pricer:    pricer,
		trades:    trades,
		defers:    defers,
		sleep:     time.Sleep,
		log:       log.With().Str("component", "trader").Logger(),
		ticks:     newTTLCache[int](symbolMetaTTL),
		notionals: newTTLCache[float64](symbolMetaTTL),
		fees:      newTTLCache[map[string]float64](symbolMetaTTL),
		bnbBurn:   newTTLCache[bool](bnbBurnTTL),
	}
}

// Balance returns the free balance for an asset, zero when unknown.
func (m *Manager) Balance(ctx context.Context, asset string, force bool) float64 {
	balance, err := m.orders.CurrencyBalance(ctx, asset, force)
	if err != nil {
		m.log.Error().Err(err).Str("asset", asset).Msg("Balance read failed")
		return 0
	}
	return balance
}

// TickerPrice returns the last price for a symbol. On a cache miss every
// price is refetched once; symbols the exchange does not list are memoized
// and never asked for again.
func (m *Manager) TickerPrice(ctx context.Context, symbol string) (float64, bool) {
	if price, ok := m.tickers.Price(symbol); ok {
		return price, true
	}
	if m.tickers.IsNonExistent(symbol) {
		return 0, false
	}
	prices, err := m.api.AllTickerPrices(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("Failed to fetch ticker prices")
		return 0, false
	}
	m.tickers.ReplaceAll(prices)
	price, ok := m.tickers.Price(symbol)
	if !ok {
		m.log.Info().Str("symbol", symbol).Msg("Ticker does not exist, will not be fetched again")
		m.tickers.MarkNonExistent(symbol)
		return 0, false
	}
	return price, true
}

// MarketSellPrice prices selling amount of origin+target base asset.
func (m *Manager) MarketSellPrice(symbol string, amount float64) (float64, float64, bool) {
	return m.pricer.MarketSellPrice(symbol, amount)
}

// MarketBuyPrice prices buying with a quote amount.
func (m *Manager) MarketBuyPrice(symbol string, quoteAmount float64) (float64, float64, bool) {
	return m.pricer.MarketBuyPrice(symbol, quoteAmount)
}

// MarketSellFillQuote prices selling enough base to fill a quote amount.
func (m *Manager) MarketSellFillQuote(symbol string, quote float64) (float64, float64, bool) {
	return m.pricer.MarketSellFillQuote(symbol, quote)
}

// tickFromStep derives the quantity rounding exponent from a LOT_SIZE step
// string: "0.00100000" rounds to 3 decimals, "1.00000000" to 0, "10.0" to -1.
func tickFromStep(step string) (int, error) {
	one := strings.Index(step, "1")
	if one < 0 {
		return 0, fmt.Errorf("malformed step size %q", step)
	}
	if one == 0 {
		dot := strings.Index(step, ".")
		if dot < 0 {
			dot = len(step)
		}
		return 1 - dot, nil
	}
	return one - 1, nil
}

// altTick returns the cached rounding exponent for a pair.
func (m *Manager) altTick(ctx context.Context, origin, target string) (int, error) {
	return m.ticks.get(origin+target, func() (int, error) {
		info, err := m.api.SymbolInfo(ctx, origin+target)
		if err != nil {
			return 0, err
		}
		filter, ok := info.Filter("LOT_SIZE")
		if !ok {
			return 0, fmt.Errorf("no LOT_SIZE filter for %s%s", origin, target)
		}
		return tickFromStep(filter.StepSize)
	})
}

// MinNotional returns the exchange's minimum order value for a pair.
func (m *Manager) MinNotional(ctx context.Context, origin, target string) float64 {
	value, err := m.notionals.get(origin+target, func() (float64, error) {
		info, err := m.api.SymbolInfo(ctx, origin+target)
		if err != nil {
			return 0, err
		}
		filter, ok := info.Filter("NOTIONAL")
		if !ok {
			filter, ok = info.Filter("MIN_NOTIONAL")
		}
		if !ok {
			return 0, fmt.Errorf("no notional filter for %s%s", origin, target)
		}
		return float64(filter.MinNotional), nil
	})
	if err != nil {
		m.log.Error().Err(err).Str("pair", origin+target).Msg("Failed to fetch min notional")
		return 0
	}
	return value
}

func (m *Manager) takerFees(ctx context.Context) (map[string]float64, error) {
	return m.fees.get("all", func() (map[string]float64, error) {
		fees, err := m.api.AllTradeFees(ctx)
		if err != nil {
			return nil, err
		}
		out := make(map[string]float64, len(fees))
		for _, fee := range fees {
			out[fee.Symbol] = float64(fee.TakerCommission)
		}
		return out, nil
	})
}

func (m *Manager) usingBNBForFees(ctx context.Context) bool {
	burn, err := m.bnbBurn.get("spot", func() (bool, error) {
		return m.api.SpotBNBBurn(ctx)
	})
	if err != nil {
		m.log.Debug().Err(err).Msg("Failed to read BNB burn setting")
		return false
	}
	return burn
}

// Fee estimates the effective fee rate for trading origin against target.
// With BNB fee burn enabled and enough BNB on hand to cover the discounted
// fee, the rate drops to 75% of the taker commission.
func (m *Manager) Fee(ctx context.Context, origin, target string, selling bool) float64 {
	fees, err := m.takerFees(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("Failed to fetch trade fees")
		return 0.001
	}
	baseFee, ok := fees[origin+target]
	if !ok {
		m.log.Warn().Str("pair", origin+target).Msg("No fee entry for pair")
		return 0.001
	}
	if !m.usingBNBForFees(ctx) {
		return baseFee
	}

	var amountTrading float64
	if selling {
		amountTrading, err = m.SellQuantity(ctx, origin, target, 0)
	} else {
		amountTrading, err = m.BuyQuantity(ctx, origin, target, 0, 0)
	}
	if err != nil {
		return baseFee
	}

	feeAmount := amountTrading * baseFee * bnbFeeDiscount
	feeAmountBNB := feeAmount
	if origin != "BNB" {
		originPrice, ok := m.TickerPrice(ctx, origin+"BNB")
		if !ok {
			return baseFee
		}
		feeAmountBNB = feeAmount * originPrice
	}
	if m.Balance(ctx, "BNB", false) >= feeAmountBNB {
		return baseFee * bnbFeeDiscount
	}
	return baseFee
}

// BuyQuantity computes the base quantity a buy would take, floored to the
// pair's tick. Zero targetBalance or price mean "read the current value".
func (m *Manager) BuyQuantity(ctx context.Context, origin, target string, targetBalance, fromCoinPrice float64) (float64, error) {
	if targetBalance == 0 {
		targetBalance = m.Balance(ctx, target, false)
	}
	if fromCoinPrice == 0 {
		price, ok := m.TickerPrice(ctx, origin+target)
		if !ok {
			return 0, fmt.Errorf("no ticker price for %s%s", origin, target)
		}
		fromCoinPrice = price
	}
	tick, err := m.altTick(ctx, origin, target)
	if err != nil {
		return 0, err
	}
	scale := math.Pow(10, float64(tick))
	return math.Floor(targetBalance*scale/fromCoinPrice) / scale, nil
}

// SellQuantity floors the origin balance to the pair's tick.
func (m *Manager) SellQuantity(ctx context.Context, origin, target string, originBalance float64) (float64, error) {
	if originBalance == 0 {
		originBalance = m.Balance(ctx, origin, false)
	}
	tick, err := m.altTick(ctx, origin, target)
	if err != nil {
		return 0, err
	}
	scale := math.Pow(10, float64(tick))
	return math.Floor(originBalance*scale) / scale, nil
}

// retry runs an order flow up to orderRetryAttempts times with a pause
// between attempts.
func (m *Manager) retry(fn func() (*exchange.OrderReport, error)) (*exchange.OrderReport, error) {
	var lastErr error
	for attempt := 0; attempt < orderRetryAttempts; attempt++ {
		report, err := fn()
		if err == nil {
			return report, nil
		}
		lastErr = err
		m.log.Warn().Err(err).Int("attempt", attempt+1).Int("max", orderRetryAttempts).Msg("Order failed, retrying")
		m.sleep(orderRetryDelay)
	}
	return nil, fmt.Errorf("order failed after %d attempts: %w", orderRetryAttempts, lastErr)
}

// BuyAlt buys the origin coin with the full target (bridge) balance.
func (m *Manager) BuyAlt(ctx context.Context, origin, target string, buyPrice float64) (*exchange.OrderReport, error) {
	return m.retry(func() (*exchange.OrderReport, error) {
		return m.buyAlt(ctx, origin, target, buyPrice)
	})
}

func (m *Manager) buyAlt(ctx context.Context, origin, target string, buyPrice float64) (*exchange.OrderReport, error) {
	originBalance := m.Balance(ctx, origin, false)
	targetBalance := m.Balance(ctx, target, false)
	orderQty, err := m.BuyQuantity(ctx, origin, target, targetBalance, buyPrice)
	if err != nil {
		return nil, err
	}
	m.log.Info().Float64("quantity", orderQty).Str("coin", origin).Msg("Buying")

	report, err := m.orders.MakeOrder(ctx, exchange.SideBuy, origin+target, orderQty, targetBalance)
	if err != nil {
		return nil, err
	}
	if report.ExecutedQty > 0 && report.Status == exchange.StatusFilled {
		orderQty = float64(report.ExecutedQty)
	}
	m.log.Info().Str("coin", origin).Msg("Bought")

	m.writeTradeLog(origin, target, false, originBalance, targetBalance, orderQty, float64(report.CumulativeQuoteQty))
	return report, nil
}

// SellAlt sells the whole origin balance into the target (bridge) coin and
// blocks until the origin balance visibly decreases.
func (m *Manager) SellAlt(ctx context.Context, origin, target string, sellPrice float64) (*exchange.OrderReport, error) {
	return m.retry(func() (*exchange.OrderReport, error) {
		return m.sellAlt(ctx, origin, target, sellPrice)
	})
}

func (m *Manager) sellAlt(ctx context.Context, origin, target string, sellPrice float64) (*exchange.OrderReport, error) {
	originBalance := m.Balance(ctx, origin, false)
	targetBalance := m.Balance(ctx, target, false)
	orderQty, err := m.SellQuantity(ctx, origin, target, originBalance)
	if err != nil {
		return nil, err
	}
	m.log.Info().Float64("quantity", orderQty).Float64("balance", originBalance).Str("coin", origin).Msg("Selling")

	report, err := m.orders.MakeOrder(ctx, exchange.SideSell, origin+target, orderQty, sellPrice*orderQty)
	if err != nil {
		return nil, err
	}

	// The fill is only real once the account reflects it. Wake on the
	// balances-changed broadcast; a silent second forces a refetch.
	newBalance := m.Balance(ctx, origin, false)
	for newBalance >= originBalance {
		changed := true
		select {
		case <-m.balances.Changed():
		case <-time.After(sellWaitTimeout):
			changed = false
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		newBalance = m.Balance(ctx, origin, !changed)
	}
	m.log.Info().Str("coin", origin).Msg("Sold")

	m.writeTradeLog(origin, target, true, originBalance, targetBalance, orderQty, float64(report.CumulativeQuoteQty))
	return report, nil
}

// writeTradeLog records the full trade lifecycle. Marked heavy: inside a
// jump the writes are deferred until the whole jump has completed.
func (m *Manager) writeTradeLog(origin, target string, selling bool, originBalance, targetBalance, orderQty, quoteQty float64) {
	m.defers.Heavy(func() {
		id, err := m.trades.TradeCreate(origin, target, selling)
		if err != nil {
			m.log.Error().Err(err).Msg("Failed to create trade log")
			return
		}
		if err := m.trades.TradeSetOrdered(id, originBalance, targetBalance, orderQty); err != nil {
			m.log.Error().Err(err).Msg("Failed to record order")
			return
		}
		if err := m.trades.TradeSetComplete(id, quoteQty); err != nil {
			m.log.Error().Err(err).Msg("Failed to complete trade log")
		}
	})
}
