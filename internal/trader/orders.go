// Package trader executes market orders against the exchange (or a paper
// wallet), prices jumps off the live depth books, and hosts the scouting
// strategy that decides when to rotate between coins.
package trader

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/coinwheel/internal/exchange"
	"github.com/aristath/coinwheel/internal/market"
)

// OrderBalancer abstracts order placement and balance reads so the live
// account and the paper wallet are interchangeable.
type OrderBalancer interface {
	// CurrencyBalance returns the free balance for an asset. force
	// bypasses the cache and refetches from the exchange.
	CurrencyBalance(ctx context.Context, asset string, force bool) (float64, error)
	// MakeOrder submits a MARKET order. Buys spend quoteQty of the quote
	// asset; sells move qty of the base asset.
	MakeOrder(ctx context.Context, side, symbol string, qty, quoteQty float64) (*exchange.OrderReport, error)
}

// accountAPI is the slice of the exchange client the live balancer needs.
type accountAPI interface {
	Account(ctx context.Context) (*exchange.AccountInfo, error)
	CreateOrder(ctx context.Context, order exchange.OrderRequest) (*exchange.OrderReport, error)
}

// LiveOrderBalancer trades with real funds. Balance reads go through the
// stream-fed cache; a miss or a forced read replaces the whole cache from an
// account snapshot.
type LiveOrderBalancer struct {
	api      accountAPI
	balances *market.BalanceCache
	log      zerolog.Logger
}

// NewLiveOrderBalancer creates a balancer backed by the real account.
func NewLiveOrderBalancer(api accountAPI, balances *market.BalanceCache, log zerolog.Logger) *LiveOrderBalancer {
	return &LiveOrderBalancer{
		api:      api,
		balances: balances,
		log:      log.With().Str("component", "orders").Logger(),
	}
}

// CurrencyBalance implements OrderBalancer.
func (b *LiveOrderBalancer) CurrencyBalance(ctx context.Context, asset string, force bool) (float64, error) {
	if !force {
		if balance, ok := b.balances.Get(asset); ok {
			return balance, nil
		}
	}
	account, err := b.api.Account(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch account balances: %w", err)
	}
	var result float64
	b.balances.Apply(func(balances map[string]float64) {
		for k := range balances {
			delete(balances, k)
		}
		for _, bal := range account.Balances {
			balances[bal.Asset] = float64(bal.Free)
		}
		// Remember a zero for assets the account has never held.
		if _, ok := balances[asset]; !ok {
			balances[asset] = 0
		}
		result = balances[asset]
	})
	b.log.Debug().Int("assets", len(account.Balances)).Msg("Refreshed all balances")
	return result, nil
}

// MakeOrder implements OrderBalancer.
func (b *LiveOrderBalancer) MakeOrder(ctx context.Context, side, symbol string, qty, quoteQty float64) (*exchange.OrderReport, error) {
	req := exchange.OrderRequest{Symbol: symbol, Side: side}
	if side == exchange.SideBuy {
		req.QuoteOrderQty = quoteQty
	} else {
		req.Quantity = qty
	}
	return b.api.CreateOrder(ctx, req)
}
