package trader

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/coinwheel/internal/domain"
	"github.com/aristath/coinwheel/internal/postpone"
	"github.com/aristath/coinwheel/internal/ratios"
	"github.com/aristath/coinwheel/internal/registry"
)

// Store is the persistence surface the trading core writes through.
type Store interface {
	TradeLogger
	ScoutHistoryAppendBatch(rows []domain.ScoutRecord) error
	PairRatiosUpdate(batch []domain.PairRatio) error
	CurrentCoinSet(symbol string) error
	CoinValueAppendBatch(rows []domain.CoinValue) error
}

// Controller performs coin jumps: sell the current coin into the bridge, buy
// the target, refresh the target's ratio row and persist the dirty ratio
// cells in one bulk write. The whole jump runs inside a heavy-call deferral
// scope, so trade-log and scout-history writes flush only after it finishes.
type Controller struct {
	manager  *Manager
	matrix   *ratios.Matrix
	registry *registry.CoinRegistry
	store    Store
	defers   *postpone.Context
	bridge   string
	now      func() time.Time
	log      zerolog.Logger
}

// NewController wires a trade controller.
func NewController(manager *Manager, matrix *ratios.Matrix, reg *registry.CoinRegistry, store Store, defers *postpone.Context, bridge string, log zerolog.Logger) *Controller {
	return &Controller{
		manager:  manager,
		matrix:   matrix,
		registry: reg,
		store:    store,
		defers:   defers,
		bridge:   bridge,
		now:      time.Now,
		log:      log.With().Str("component", "controller").Logger(),
	}
}

// Jump rotates holdings from the current coin to the best coin. Any failure
// rolls the ratio matrix back to its pre-jump state.
func (c *Controller) Jump(ctx context.Context, current, best registry.CoinStub, sellPrice, buyPrice float64) error {
	c.log.Info().Str("from", current.Symbol).Str("to", best.Symbol).Msg("Jumping")
	err := c.defers.Scope(func() error {
		if _, err := c.manager.SellAlt(ctx, current.Symbol, c.bridge, sellPrice); err != nil {
			return fmt.Errorf("jump aborted, sell failed: %w", err)
		}
		if _, err := c.manager.BuyAlt(ctx, best.Symbol, c.bridge, buyPrice); err != nil {
			return fmt.Errorf("jump aborted, buy failed: %w", err)
		}
		if err := c.store.CurrentCoinSet(best.Symbol); err != nil {
			return fmt.Errorf("failed to record current coin: %w", err)
		}
		c.refreshRatioRow(ctx, best)
		return c.CommitRatios()
	})
	if err != nil {
		c.matrix.Rollback()
		c.log.Error().Err(err).Msg("Jump failed, ratios rolled back")
		return err
	}
	c.log.Info().Str("coin", best.Symbol).Msg("Jump complete")
	return nil
}

// refreshRatioRow re-bases the target coin's row on post-trade prices. Cells
// whose counterpart price is unknown keep their previous value.
func (c *Controller) refreshRatioRow(ctx context.Context, best registry.CoinStub) {
	newPrice, ok := c.manager.TickerPrice(ctx, best.Symbol+c.bridge)
	if !ok {
		c.log.Warn().Str("coin", best.Symbol).Msg("No post-trade price, ratio row kept")
		return
	}
	for _, other := range c.registry.All() {
		if other.Idx == best.Idx {
			continue
		}
		otherPrice, ok := c.manager.TickerPrice(ctx, other.Symbol+c.bridge)
		if !ok || otherPrice == 0 {
			continue
		}
		c.matrix.Set(best.Idx, other.Idx, newPrice/otherPrice)
	}
}

// CommitRatios persists every dirty matrix cell in one bulk update keyed by
// pair id, then marks the matrix clean.
func (c *Controller) CommitRatios() error {
	dirty := c.matrix.Dirty()
	batch := make([]domain.PairRatio, 0, len(dirty))
	for _, cell := range dirty {
		id := c.matrix.PairID(cell.From, cell.To)
		if id == 0 {
			continue
		}
		value := c.matrix.Get(cell.From, cell.To)
		if math.IsNaN(value) {
			continue
		}
		batch = append(batch, domain.PairRatio{PairID: id, Ratio: value})
	}
	if len(batch) > 0 {
		if err := c.store.PairRatiosUpdate(batch); err != nil {
			return fmt.Errorf("failed to persist ratios: %w", err)
		}
	}
	c.matrix.Commit()
	return nil
}

// UpdateValues snapshots every non-zero holding's balance and its USD and
// BTC prices. Runs as a scheduler job once per minute.
func (c *Controller) UpdateValues(ctx context.Context) error {
	now := c.now()
	var rows []domain.CoinValue
	for _, coin := range c.registry.All() {
		balance := c.manager.Balance(ctx, coin.Symbol, false)
		if balance == 0 {
			continue
		}
		usdPrice, _ := c.manager.TickerPrice(ctx, coin.Symbol+"USDT")
		btcPrice, _ := c.manager.TickerPrice(ctx, coin.Symbol+"BTC")
		rows = append(rows, domain.CoinValue{
			Coin:     coin.Symbol,
			Balance:  balance,
			USDPrice: usdPrice,
			BTCPrice: btcPrice,
			Interval: domain.IntervalMinutely,
			Datetime: now,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return c.store.CoinValueAppendBatch(rows)
}
