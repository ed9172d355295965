// Package registry assigns stable indices to the enabled coin set.
package registry

import "sort"

// CoinStub is one enabled coin with its matrix index.
type CoinStub struct {
	Idx    int
	Symbol string
}

// CoinRegistry owns the index namespace for the enabled coin set. Indices are
// assigned by ascending symbol and are invalidated whenever the enabled set
// changes; a new registry is built in that case. Two engines in the same
// process each own their registry.
type CoinRegistry struct {
	stubs    []CoinStub
	bySymbol map[string]int
}

// New builds a registry from the enabled symbols, assigning indices in
// ascending symbol order regardless of input order.
func New(symbols []string) *CoinRegistry {
	sorted := make([]string, len(symbols))
	copy(sorted, symbols)
	sort.Strings(sorted)

	r := &CoinRegistry{
		stubs:    make([]CoinStub, 0, len(sorted)),
		bySymbol: make(map[string]int, len(sorted)),
	}
	for i, symbol := range sorted {
		r.stubs = append(r.stubs, CoinStub{Idx: i, Symbol: symbol})
		r.bySymbol[symbol] = i
	}
	return r
}

// BySymbol returns the stub for a symbol, or nil if the coin is not enabled.
func (r *CoinRegistry) BySymbol(symbol string) *CoinStub {
	idx, ok := r.bySymbol[symbol]
	if !ok {
		return nil
	}
	return &r.stubs[idx]
}

// ByIndex returns the stub at a matrix index.
func (r *CoinRegistry) ByIndex(idx int) *CoinStub {
	return &r.stubs[idx]
}

// Count returns the number of enabled coins.
func (r *CoinRegistry) Count() int {
	return len(r.stubs)
}

// All returns the stubs in index order.
func (r *CoinRegistry) All() []CoinStub {
	return r.stubs
}
