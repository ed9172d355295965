package trader

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/coinwheel/internal/exchange"
	"github.com/aristath/coinwheel/internal/market"
	"github.com/aristath/coinwheel/internal/postpone"
)

func newTestManager(t *testing.T, api *stubAPI, balancer *stubBalancer) (*Manager, *market.TickerCache, *stubStore) {
	t.Helper()
	tickers := market.NewTickerCache()
	balances := market.NewBalanceCache()
	store := &stubStore{}
	m := NewManager(api, balancer, tickers, balances, &stubPricer{prices: api.prices}, store, postpone.New(), zerolog.Nop())
	m.sleep = func(time.Duration) {}
	return m, tickers, store
}

func TestTickFromStep(t *testing.T) {
	cases := []struct {
		step string
		tick int
	}{
		{"0.00100000", 3},
		{"0.00000100", 6},
		{"1.00000000", 0},
		{"0.10000000", 1},
		{"10.00000000", -1},
	}
	for _, tc := range cases {
		tick, err := tickFromStep(tc.step)
		require.NoError(t, err, tc.step)
		assert.Equal(t, tc.tick, tick, "step %s", tc.step)
	}

	_, err := tickFromStep("0.00000000")
	assert.Error(t, err)
}

func TestBuyAndSellQuantityRounding(t *testing.T) {
	api := &stubAPI{
		prices:    map[string]float64{"ETHUSDT": 1500},
		stepSizes: map[string]string{"ETHUSDT": "0.00100000"},
	}
	balancer := &stubBalancer{bridge: "USDT", balances: map[string]float64{"USDT": 1000, "ETH": 0.6789999}}
	m, _, _ := newTestManager(t, api, balancer)

	buyQty, err := m.BuyQuantity(context.Background(), "ETH", "USDT", 1000, 1500)
	require.NoError(t, err)
	assert.Equal(t, 0.666, buyQty)

	sellQty, err := m.SellQuantity(context.Background(), "ETH", "USDT", 0)
	require.NoError(t, err)
	assert.Equal(t, 0.678, sellQty)
}

func TestTickerPrice_NonExistentIsMemoized(t *testing.T) {
	api := &stubAPI{prices: map[string]float64{"ETHUSDT": 1500}}
	m, _, _ := newTestManager(t, api, &stubBalancer{bridge: "USDT", balances: map[string]float64{}})

	_, ok := m.TickerPrice(context.Background(), "NOPEUSDT")
	assert.False(t, ok)
	assert.Equal(t, 1, api.tickerFetches)

	// Known symbols were cached by the bulk fetch.
	price, ok := m.TickerPrice(context.Background(), "ETHUSDT")
	require.True(t, ok)
	assert.Equal(t, 1500.0, price)

	// The rejected symbol never triggers another fetch.
	_, ok = m.TickerPrice(context.Background(), "NOPEUSDT")
	assert.False(t, ok)
	assert.Equal(t, 1, api.tickerFetches)
}

func TestFee_BNBDiscountRequiresBalance(t *testing.T) {
	api := &stubAPI{
		prices:  map[string]float64{"ETHUSDT": 1500, "ETHBNB": 5},
		fees:    map[string]float64{"ETHUSDT": 0.001},
		bnbBurn: true,
	}
	balancer := &stubBalancer{bridge: "USDT", balances: map[string]float64{"ETH": 1, "BNB": 100}}
	m, tickers, _ := newTestManager(t, api, balancer)
	tickers.ReplaceAll(api.prices)

	fee := m.Fee(context.Background(), "ETH", "USDT", true)
	assert.InDelta(t, 0.00075, fee, 1e-12, "enough BNB on hand earns the discount")

	balancer.balances["BNB"] = 0
	m.bnbBurn = newTTLCache[bool](time.Minute) // drop memoized burn flag state
	fee = m.Fee(context.Background(), "ETH", "USDT", true)
	assert.InDelta(t, 0.001, fee, 1e-12, "no BNB, no discount")
}

func TestFee_WithoutBurnReturnsTakerRate(t *testing.T) {
	api := &stubAPI{
		prices: map[string]float64{"ETHUSDT": 1500},
		fees:   map[string]float64{"ETHUSDT": 0.002},
	}
	m, _, _ := newTestManager(t, api, &stubBalancer{bridge: "USDT", balances: map[string]float64{}})
	fee := m.Fee(context.Background(), "ETH", "USDT", true)
	assert.Equal(t, 0.002, fee)
}

func TestBuyAlt_UsesFullBridgeBalance(t *testing.T) {
	api := &stubAPI{
		prices:    map[string]float64{"ETHUSDT": 1000},
		stepSizes: map[string]string{"ETHUSDT": "0.00100000"},
	}
	balancer := &stubBalancer{bridge: "USDT", balances: map[string]float64{"USDT": 2000}}
	m, tickers, store := newTestManager(t, api, balancer)
	tickers.ReplaceAll(api.prices)

	report, err := m.BuyAlt(context.Background(), "ETH", "USDT", 1000)
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusFilled, report.Status)

	require.Len(t, balancer.orders, 1)
	order := balancer.orders[0]
	assert.Equal(t, exchange.SideBuy, order.Side)
	assert.Equal(t, 2000.0, order.QuoteOrderQty, "buys spend the whole bridge balance")

	// The trade log ran inline (no postpone scope open) through COMPLETE.
	require.Len(t, store.trades, 1)
	assert.Equal(t, loggedTrade{from: "ETH", to: "USDT", selling: false, state: "COMPLETE"}, store.trades[0])
}

func TestSellAlt_WaitsForBalanceDecrease(t *testing.T) {
	api := &stubAPI{
		prices:    map[string]float64{"ETHUSDT": 1000},
		stepSizes: map[string]string{"ETHUSDT": "0.00100000"},
	}
	balancer := &stubBalancer{bridge: "USDT", balances: map[string]float64{"ETH": 2}}
	m, _, store := newTestManager(t, api, balancer)

	report, err := m.SellAlt(context.Background(), "ETH", "USDT", 1000)
	require.NoError(t, err)
	assert.EqualValues(t, 2, report.ExecutedQty)
	assert.Equal(t, 0.0, balancer.balances["ETH"])
	assert.Equal(t, 2000.0, balancer.balances["USDT"])

	require.Len(t, store.trades, 1)
	assert.True(t, store.trades[0].selling)
}

func TestSellAlt_RetriesUntilExhaustion(t *testing.T) {
	api := &stubAPI{
		prices:    map[string]float64{"ETHUSDT": 1000},
		stepSizes: map[string]string{"ETHUSDT": "0.00100000"},
	}
	balancer := &stubBalancer{bridge: "USDT", balances: map[string]float64{"ETH": 2}, failSell: true}
	m, _, store := newTestManager(t, api, balancer)
	slept := 0
	m.sleep = func(time.Duration) { slept++ }

	_, err := m.SellAlt(context.Background(), "ETH", "USDT", 1000)
	require.Error(t, err)
	assert.Equal(t, orderRetryAttempts, slept)
	assert.Empty(t, store.trades, "failed orders leave no trade log")
}
