package market

import (
	"math"
	"sort"
)

const (
	depthMaxSize   = 400
	depthKeepLimit = 200
)

// Amounts at or below this are treated as fully filled. Mirrors the epsilon
// the exchange rounding leaves behind on partial fills.
const fillEpsilon = 1e-15

// Level is one price level of the order book.
type Level struct {
	Price float64
	Qty   float64
}

// DepthCache mirrors one symbol's order book from incremental updates. Both
// sides are kept sorted by ascending price; bids are walked from the back,
// asks from the front. The book is bounded: once a side reaches maxSize
// levels it is truncated to the keepLimit best prices.
type DepthCache struct {
	bids      []Level
	asks      []Level
	maxSize   int
	keepLimit int
}

// NewDepthCache creates an empty book with the default bounds.
func NewDepthCache() *DepthCache {
	return &DepthCache{maxSize: depthMaxSize, keepLimit: depthKeepLimit}
}

// AddBid applies one bid delta. Zero quantity removes the level.
func (d *DepthCache) AddBid(price, qty float64) {
	d.bids = applyLevel(d.bids, price, qty, d.maxSize, d.keepLimit, true)
}

// AddAsk applies one ask delta. Zero quantity removes the level.
func (d *DepthCache) AddAsk(price, qty float64) {
	d.asks = applyLevel(d.asks, price, qty, d.maxSize, d.keepLimit, false)
}

func applyLevel(side []Level, price, qty float64, maxSize, keepLimit int, keepHighest bool) []Level {
	i := sort.Search(len(side), func(i int) bool { return side[i].Price >= price })
	found := i < len(side) && side[i].Price == price

	if qty == 0 {
		if found {
			side = append(side[:i], side[i+1:]...)
		}
		return side
	}
	if found {
		side[i].Qty = qty
		return side
	}
	side = append(side, Level{})
	copy(side[i+1:], side[i:])
	side[i] = Level{Price: price, Qty: qty}

	if len(side) >= maxSize {
		if keepHighest {
			side = append(side[:0], side[len(side)-keepLimit:]...)
		} else {
			side = side[:keepLimit]
		}
	}
	return side
}

// Bids returns the bid levels, best (highest) first.
func (d *DepthCache) Bids() []Level {
	out := make([]Level, len(d.bids))
	for i, lvl := range d.bids {
		out[len(d.bids)-1-i] = lvl
	}
	return out
}

// Asks returns the ask levels, best (lowest) first.
func (d *DepthCache) Asks() []Level {
	out := make([]Level, len(d.asks))
	copy(out, d.asks)
	return out
}

// BidCount reports the number of bid levels.
func (d *DepthCache) BidCount() int { return len(d.bids) }

// AskCount reports the number of ask levels.
func (d *DepthCache) AskCount() int { return len(d.asks) }

// Clear drops both sides of the book.
func (d *DepthCache) Clear() {
	d.bids = d.bids[:0]
	d.asks = d.asks[:0]
}

// MarketSellPrice walks the bids from the best downwards, filling amount of
// the base asset. It returns the average price and the quote gained. ok is
// false when the book is too thin to fill the whole amount.
func (d *DepthCache) MarketSellPrice(amount float64) (avgPrice, quote float64, ok bool) {
	if math.Abs(amount) <= fillEpsilon {
		return 0, 0, true
	}
	unfilled := amount
	for i := len(d.bids) - 1; i >= 0; i-- {
		lvl := d.bids[i]
		fill := min(lvl.Qty, unfilled)
		quote += lvl.Price * fill
		unfilled -= fill
		if math.Abs(unfilled) <= fillEpsilon {
			return quote / amount, quote, true
		}
	}
	return 0, 0, false
}

// MarketBuyPrice walks the asks from the best upwards, spending quoteAmount
// of the quote asset. It returns the average price and the base obtained.
func (d *DepthCache) MarketBuyPrice(quoteAmount float64) (avgPrice, base float64, ok bool) {
	if math.Abs(quoteAmount) <= fillEpsilon {
		return 0, 0, true
	}
	var amount float64
	unfilled := quoteAmount
	for _, lvl := range d.asks {
		fill := min(unfilled/lvl.Price, lvl.Qty)
		amount += fill
		unfilled -= fill * lvl.Price
		if math.Abs(unfilled) <= fillEpsilon {
			return quoteAmount / amount, amount, true
		}
	}
	return 0, 0, false
}

// MarketSellFillQuote walks the bids until selling has produced quote units
// of the quote asset. It returns the average price and the base amount that
// has to be sold.
func (d *DepthCache) MarketSellFillQuote(quote float64) (avgPrice, base float64, ok bool) {
	if math.Abs(quote) <= fillEpsilon {
		return 0, 0, true
	}
	var amount float64
	unfilled := quote
	for i := len(d.bids) - 1; i >= 0; i-- {
		lvl := d.bids[i]
		fill := min(lvl.Qty, unfilled/lvl.Price)
		amount += fill
		unfilled -= lvl.Price * fill
		if math.Abs(unfilled) <= fillEpsilon {
			return quote / amount, amount, true
		}
	}
	return 0, 0, false
}
