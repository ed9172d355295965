package market

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepthCache_ZeroQtyRemovesLevel(t *testing.T) {
	d := NewDepthCache()
	d.AddBid(100, 2)
	d.AddBid(101, 1)
	d.AddBid(100, 0)

	bids := d.Bids()
	require.Len(t, bids, 1)
	assert.Equal(t, 101.0, bids[0].Price)

	// Removing an absent level is a no-op.
	d.AddBid(99, 0)
	assert.Equal(t, 1, d.BidCount())
}

func TestDepthCache_UpdateReplacesQty(t *testing.T) {
	d := NewDepthCache()
	d.AddAsk(50, 1)
	d.AddAsk(50, 3)
	asks := d.Asks()
	require.Len(t, asks, 1)
	assert.Equal(t, 3.0, asks[0].Qty)
}

func TestDepthCache_OrderingBestFirst(t *testing.T) {
	d := NewDepthCache()
	for _, p := range []float64{101, 99, 100} {
		d.AddBid(p, 1)
		d.AddAsk(p+10, 1)
	}
	bids := d.Bids()
	assert.Equal(t, []float64{101, 100, 99}, []float64{bids[0].Price, bids[1].Price, bids[2].Price})
	asks := d.Asks()
	assert.Equal(t, []float64{109, 110, 111}, []float64{asks[0].Price, asks[1].Price, asks[2].Price})
}

func TestDepthCache_TrimKeepsBestLevels(t *testing.T) {
	d := NewDepthCache()
	for i := 0; i < depthMaxSize; i++ {
		d.AddBid(float64(1000+i), 1)
		d.AddAsk(float64(5000+i), 1)
	}

	assert.LessOrEqual(t, d.BidCount(), depthMaxSize)
	assert.LessOrEqual(t, d.AskCount(), depthMaxSize)
	assert.Equal(t, depthKeepLimit, d.BidCount())
	assert.Equal(t, depthKeepLimit, d.AskCount())

	// Highest bids survive.
	bids := d.Bids()
	assert.Equal(t, float64(1000+depthMaxSize-1), bids[0].Price)
	assert.Equal(t, float64(1000+depthMaxSize-depthKeepLimit), bids[len(bids)-1].Price)

	// Lowest asks survive.
	asks := d.Asks()
	assert.Equal(t, 5000.0, asks[0].Price)
	assert.Equal(t, float64(5000+depthKeepLimit-1), asks[len(asks)-1].Price)
}

func TestMarketSellPrice(t *testing.T) {
	d := NewDepthCache()
	d.AddBid(100, 1)
	d.AddBid(99, 1)
	d.AddBid(98, 10)

	avg, quote, ok := d.MarketSellPrice(2)
	require.True(t, ok)
	assert.InDelta(t, 199, quote, 1e-9)
	assert.InDelta(t, 99.5, avg, 1e-9)
}

func TestMarketSellPrice_TrivialAmount(t *testing.T) {
	d := NewDepthCache()
	avg, quote, ok := d.MarketSellPrice(0)
	assert.True(t, ok)
	assert.Zero(t, avg)
	assert.Zero(t, quote)
}

func TestMarketSellPrice_ThinBook(t *testing.T) {
	d := NewDepthCache()
	d.AddBid(100, 1)
	_, _, ok := d.MarketSellPrice(5)
	assert.False(t, ok, "unfillable amount must not report a price")
}

func TestMarketBuyPrice(t *testing.T) {
	d := NewDepthCache()
	d.AddAsk(100, 1)
	d.AddAsk(101, 1)
	d.AddAsk(102, 10)

	// 100 quote buys exactly the first level.
	avg, base, ok := d.MarketBuyPrice(100)
	require.True(t, ok)
	assert.InDelta(t, 1.0, base, 1e-9)
	assert.InDelta(t, 100.0, avg, 1e-9)

	// 201 quote crosses into the second level.
	avg, base, ok = d.MarketBuyPrice(201)
	require.True(t, ok)
	assert.InDelta(t, 2.0, base, 1e-9)
	assert.InDelta(t, 100.5, avg, 1e-9)
}

func TestMarketBuyPrice_ThinBook(t *testing.T) {
	d := NewDepthCache()
	d.AddAsk(100, 1)
	_, _, ok := d.MarketBuyPrice(1000)
	assert.False(t, ok)
}

func TestMarketSellFillQuote(t *testing.T) {
	d := NewDepthCache()
	d.AddBid(100, 1)
	d.AddBid(50, 10)

	// 150 quote: 1 @ 100, then 1 @ 50.
	avg, base, ok := d.MarketSellFillQuote(150)
	require.True(t, ok)
	assert.InDelta(t, 2.0, base, 1e-9)
	assert.InDelta(t, 75.0, avg, 1e-9)
}

func TestMarketSellFillQuote_ThinBook(t *testing.T) {
	d := NewDepthCache()
	d.AddBid(100, 1)
	_, _, ok := d.MarketSellFillQuote(500)
	assert.False(t, ok)
}

func TestDepthCache_BoundHoldsUnderChurn(t *testing.T) {
	d := NewDepthCache()
	for i := 0; i < 5000; i++ {
		price := float64(i%700) + 1
		qty := float64(i % 3) // every third update deletes
		d.AddBid(price, qty)
		d.AddAsk(price, qty)
		require.LessOrEqual(t, d.BidCount(), depthMaxSize, fmt.Sprintf("bid bound broken at step %d", i))
		require.LessOrEqual(t, d.AskCount(), depthMaxSize, fmt.Sprintf("ask bound broken at step %d", i))
	}
}
