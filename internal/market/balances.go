package market

import "sync"

// BalanceCache holds per-asset free balances. The cache is
// authoritative-on-demand: entries vanish when the exchange reports a change
// (forcing a re-read) and are replaced wholesale by account snapshots. Every
// mutation signals the balances-changed broadcast channel.
type BalanceCache struct {
	mu       sync.Mutex
	balances map[string]float64
	changed  chan struct{}
}

// NewBalanceCache creates an empty balance cache.
func NewBalanceCache() *BalanceCache {
	return &BalanceCache{
		balances: make(map[string]float64),
		changed:  make(chan struct{}),
	}
}

// Get returns the cached free balance for an asset.
func (c *BalanceCache) Get(asset string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bal, ok := c.balances[asset]
	return bal, ok
}

// Apply mutates the balance map under the lock and signals balances-changed.
func (c *BalanceCache) Apply(fn func(balances map[string]float64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.balances)
	c.notifyLocked()
}

// Drop removes one asset so the next read goes back to the exchange.
func (c *BalanceCache) Drop(asset string) {
	c.Apply(func(balances map[string]float64) {
		delete(balances, asset)
	})
}

// Invalidate clears the whole cache.
func (c *BalanceCache) Invalidate() {
	c.Apply(func(balances map[string]float64) {
		for asset := range balances {
			delete(balances, asset)
		}
	})
}

// Notify signals balances-changed without touching the map. Simulated
// wallets keep their own balances but share this broadcast.
func (c *BalanceCache) Notify() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifyLocked()
}

// Changed returns a channel closed on the next balance mutation. Callers
// re-arm by calling Changed again after a wake-up.
func (c *BalanceCache) Changed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

func (c *BalanceCache) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}
