// Package market holds the in-memory market-data state fed by the stream
// plane: last-trade tickers, account balances and order-book depth mirrors.
package market

import "sync"

// TickerCache stores the last observed trade price per symbol, plus the set
// of symbols the exchange has rejected. Once a symbol is marked non-existent
// it is never refetched.
type TickerCache struct {
	mu          sync.RWMutex
	values      map[string]float64
	nonExistent map[string]struct{}
}

// NewTickerCache creates an empty ticker cache.
func NewTickerCache() *TickerCache {
	return &TickerCache{
		values:      make(map[string]float64),
		nonExistent: make(map[string]struct{}),
	}
}

// Price returns the cached last price for a symbol.
func (c *TickerCache) Price(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	price, ok := c.values[symbol]
	return price, ok
}

// Set stores the last price for a symbol. Rejected symbols stay out.
func (c *TickerCache) Set(symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, rejected := c.nonExistent[symbol]; rejected {
		return
	}
	c.values[symbol] = price
}

// ReplaceAll swaps the whole price map, keeping non-existent symbols out.
func (c *TickerCache) ReplaceAll(values map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = make(map[string]float64, len(values))
	for symbol, price := range values {
		if _, rejected := c.nonExistent[symbol]; rejected {
			continue
		}
		c.values[symbol] = price
	}
}

// MarkNonExistent memoizes a symbol the exchange rejected and drops any
// cached price for it.
func (c *TickerCache) MarkNonExistent(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonExistent[symbol] = struct{}{}
	delete(c.values, symbol)
}

// IsNonExistent reports whether a symbol has been rejected before.
func (c *TickerCache) IsNonExistent(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.nonExistent[symbol]
	return ok
}
