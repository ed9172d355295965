package stream

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/coinwheel/internal/market"
)

type stubFetcher struct {
	snapshot market.DepthSnapshot
}

func (s *stubFetcher) OrderBookSnapshot(context.Context, string, int) (market.DepthSnapshot, error) {
	return s.snapshot, nil
}

// newTestPlane builds a plane and starts only the listeners, no sockets.
func newTestPlane(t *testing.T, fetcher market.SnapshotFetcher) *Plane {
	t.Helper()
	p := New(Config{
		TLD:       "com",
		Watchlist: []string{"ETH"},
		Bridge:    "USDT",
	}, market.NewTickerCache(), market.NewBalanceCache(), fetcher, nil, zerolog.Nop())

	p.wg.Add(3)
	go p.runTickerListener()
	go p.runUserDataListener()
	go p.runDepthListener()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, p.Close(ctx))
	})
	return p
}

func TestPlane_TickerEventsLandInCache(t *testing.T) {
	p := newTestPlane(t, &stubFetcher{})
	p.tickerBuf.Push(Event{Tickers: []MiniTicker{{Symbol: "ETHUSDT", Close: 2200}}})

	require.Eventually(t, func() bool {
		price, ok := p.tickers.Price("ETHUSDT")
		return ok && price == 2200
	}, time.Second, 5*time.Millisecond)
}

func TestPlane_UserDataMutatesBalances(t *testing.T) {
	p := newTestPlane(t, &stubFetcher{})

	p.userBuf.Push(Event{Account: &AccountUpdate{
		Kind:     kindAccountPosition,
		Balances: []AccountBalance{{Asset: "BTC", Free: 0.5}},
	}})
	require.Eventually(t, func() bool {
		bal, ok := p.balances.Get("BTC")
		return ok && bal == 0.5
	}, time.Second, 5*time.Millisecond)

	p.userBuf.Push(Event{Account: &AccountUpdate{Kind: kindBalanceUpdate, Asset: "BTC"}})
	require.Eventually(t, func() bool {
		_, ok := p.balances.Get("BTC")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestPlane_ConnectInvalidatesBalancesUnlessReplacement(t *testing.T) {
	p := newTestPlane(t, &stubFetcher{})
	p.balances.Apply(func(b map[string]float64) { b["BTC"] = 1 })

	// A planned replacement's CONNECT is suppressed.
	newID := uuid.New()
	p.notifyStreamReplace(uuid.New(), newID)
	p.userBuf.Push(Event{Signal: &Signal{Type: SignalConnect, StreamID: newID}})

	// A genuine CONNECT invalidates; queue it behind a marker event so we
	// can tell the two apart.
	p.userBuf.Push(Event{Account: &AccountUpdate{
		Kind:     kindAccountPosition,
		Balances: []AccountBalance{{Asset: "MARKER", Free: 1}},
	}})
	require.Eventually(t, func() bool {
		_, ok := p.balances.Get("MARKER")
		return ok
	}, time.Second, 5*time.Millisecond)
	bal, ok := p.balances.Get("BTC")
	require.True(t, ok, "suppressed CONNECT must not invalidate")
	assert.Equal(t, 1.0, bal)

	p.userBuf.Push(Event{Signal: &Signal{Type: SignalConnect, StreamID: uuid.New()}})
	require.Eventually(t, func() bool {
		_, ok := p.balances.Get("BTC")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestPlane_DepthEventsAnswerPricingQueries(t *testing.T) {
	p := newTestPlane(t, &stubFetcher{})

	p.depthBuf.Push(Event{Depth: &SymbolDepth{
		Symbol: "ETHUSDT",
		Update: market.DepthEvent{
			FirstUpdateID: 0,
			FinalUpdateID: 1,
			Bids:          []market.Level{{Price: 2200, Qty: 5}},
			Asks:          []market.Level{{Price: 2201, Qty: 5}},
		},
	}})

	require.Eventually(t, func() bool {
		price, quote, ok := p.MarketSellPrice("ETHUSDT", 2)
		return ok && price == 2200 && quote == 4400
	}, time.Second, 5*time.Millisecond)

	price, base, ok := p.MarketBuyPrice("ETHUSDT", 2201)
	require.True(t, ok)
	assert.Equal(t, 2201.0, price)
	assert.Equal(t, 1.0, base)

	// Unknown symbols are not priceable.
	_, _, ok = p.MarketSellPrice("NOPEUSDT", 1)
	assert.False(t, ok)
}

func TestPlane_DisconnectSignalClearsBooks(t *testing.T) {
	p := newTestPlane(t, &stubFetcher{snapshot: market.DepthSnapshot{LastUpdateID: 5}})

	p.depthBuf.Push(Event{Depth: &SymbolDepth{
		Symbol: "ETHUSDT",
		Update: market.DepthEvent{
			FinalUpdateID: 1,
			Bids:          []market.Level{{Price: 2200, Qty: 5}},
		},
	}})
	require.Eventually(t, func() bool {
		_, _, ok := p.MarketSellPrice("ETHUSDT", 1)
		return ok
	}, time.Second, 5*time.Millisecond)

	p.depthBuf.Push(Event{Signal: &Signal{Type: SignalDisconnect, StreamID: uuid.New()}})
	require.Eventually(t, func() bool {
		_, _, ok := p.MarketSellPrice("ETHUSDT", 1)
		return !ok
	}, time.Second, 5*time.Millisecond)
}
