package trader

import (
	"context"
	"errors"
	"sync"

	"github.com/aristath/coinwheel/internal/domain"
	"github.com/aristath/coinwheel/internal/exchange"
)

// stubAPI cans the exchange metadata endpoints.
type stubAPI struct {
	prices      map[string]float64
	stepSizes   map[string]string
	minNotional float64
	fees        map[string]float64
	bnbBurn     bool

	tickerFetches int
}

func (s *stubAPI) AllTickerPrices(context.Context) (map[string]float64, error) {
	s.tickerFetches++
	return s.prices, nil
}

func (s *stubAPI) SymbolInfo(_ context.Context, symbol string) (*exchange.SymbolInfo, error) {
	step, ok := s.stepSizes[symbol]
	if !ok {
		step = "0.00100000"
	}
	return &exchange.SymbolInfo{
		Symbol: symbol,
		Status: "TRADING",
		Filters: []exchange.SymbolFilter{
			{FilterType: "LOT_SIZE", StepSize: step},
			{FilterType: "NOTIONAL", MinNotional: exchange.Amount(s.minNotional)},
		},
	}, nil
}

func (s *stubAPI) AllTradeFees(context.Context) ([]exchange.TradeFee, error) {
	fees := make([]exchange.TradeFee, 0, len(s.fees))
	for symbol, fee := range s.fees {
		fees = append(fees, exchange.TradeFee{Symbol: symbol, TakerCommission: exchange.Amount(fee)})
	}
	return fees, nil
}

func (s *stubAPI) SpotBNBBurn(context.Context) (bool, error) {
	return s.bnbBurn, nil
}

// stubBalancer holds balances in a map and fills orders instantly at the
// requested amounts.
type stubBalancer struct {
	mu       sync.Mutex
	balances map[string]float64
	bridge   string
	orders   []exchange.OrderRequest
	failSell bool
	failBuy  bool
}

func (b *stubBalancer) CurrencyBalance(_ context.Context, asset string, _ bool) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[asset], nil
}

func (b *stubBalancer) MakeOrder(_ context.Context, side, symbol string, qty, quoteQty float64) (*exchange.OrderReport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if side == exchange.SideSell && b.failSell {
		return nil, errors.New("sell rejected")
	}
	if side == exchange.SideBuy && b.failBuy {
		return nil, errors.New("buy rejected")
	}
	req := exchange.OrderRequest{Symbol: symbol, Side: side, Quantity: qty, QuoteOrderQty: quoteQty}
	b.orders = append(b.orders, req)

	base := symbol[:len(symbol)-len(b.bridge)]
	if side == exchange.SideSell {
		b.balances[base] -= qty
		b.balances[b.bridge] += quoteQty
	} else {
		b.balances[b.bridge] -= quoteQty
		b.balances[base] += qty
	}
	return &exchange.OrderReport{
		Symbol:             symbol,
		ExecutedQty:        exchange.Amount(qty),
		CumulativeQuoteQty: exchange.Amount(quoteQty),
		Status:             exchange.StatusFilled,
		Side:               side,
	}, nil
}

// stubPricer prices sells and buys at a flat per-symbol price with infinite
// depth.
type stubPricer struct {
	prices map[string]float64
}

func (p *stubPricer) MarketSellPrice(symbol string, amount float64) (float64, float64, bool) {
	if amount == 0 {
		return 0, 0, true
	}
	price, ok := p.prices[symbol]
	if !ok {
		return 0, 0, false
	}
	return price, price * amount, true
}

func (p *stubPricer) MarketBuyPrice(symbol string, quoteAmount float64) (float64, float64, bool) {
	if quoteAmount == 0 {
		return 0, 0, true
	}
	price, ok := p.prices[symbol]
	if !ok {
		return 0, 0, false
	}
	return price, quoteAmount / price, true
}

func (p *stubPricer) MarketSellFillQuote(symbol string, quote float64) (float64, float64, bool) {
	if quote == 0 {
		return 0, 0, true
	}
	price, ok := p.prices[symbol]
	if !ok {
		return 0, 0, false
	}
	return price, quote / price, true
}

type loggedTrade struct {
	from, to string
	selling  bool
	state    domain.TradeState
}

// stubStore records persistence calls.
type stubStore struct {
	mu           sync.Mutex
	trades       []loggedTrade
	nextTradeID  int64
	scoutBatches [][]domain.ScoutRecord
	ratioBatches [][]domain.PairRatio
	currentCoins []string
	valueBatches [][]domain.CoinValue
	failRatios   error
}

func (s *stubStore) TradeCreate(from, to string, selling bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTradeID++
	s.trades = append(s.trades, loggedTrade{from: from, to: to, selling: selling, state: domain.TradeStarted})
	return s.nextTradeID, nil
}

func (s *stubStore) TradeSetOrdered(id int64, _, _, _ float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[id-1].state = domain.TradeOrdered
	return nil
}

func (s *stubStore) TradeSetComplete(id int64, _ float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[id-1].state = domain.TradeComplete
	return nil
}

func (s *stubStore) ScoutHistoryAppendBatch(rows []domain.ScoutRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scoutBatches = append(s.scoutBatches, rows)
	return nil
}

func (s *stubStore) PairRatiosUpdate(batch []domain.PairRatio) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRatios != nil {
		return s.failRatios
	}
	s.ratioBatches = append(s.ratioBatches, batch)
	return nil
}

func (s *stubStore) CurrentCoinSet(symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentCoins = append(s.currentCoins, symbol)
	return nil
}

func (s *stubStore) CoinValueAppendBatch(rows []domain.CoinValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valueBatches = append(s.valueBatches, rows)
	return nil
}
