package trader

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/coinwheel/internal/domain"
	"github.com/aristath/coinwheel/internal/postpone"
	"github.com/aristath/coinwheel/internal/ratios"
	"github.com/aristath/coinwheel/internal/registry"
)

// ScoutEngine evaluates, once per tick, whether the currently held coin
// should be rotated into another watchlist coin. A jump fires when another
// coin's price ratio has improved past the recorded target by more than the
// configured margin.
type ScoutEngine struct {
	manager    *Manager
	matrix     *ratios.Matrix
	registry   *registry.CoinRegistry
	controller *Controller
	store      Store
	defers     *postpone.Context

	bridge      string
	scoutMargin float64
	useMargin   bool
	margin      MarginFunc

	now func() time.Time
	log zerolog.Logger
}

// MarginFunc computes the multiplier applied to the target ratio before
// comparing it with the current ratio. The default requires the current
// ratio to beat the target by scoutMargin percent, fee-adjusted.
type MarginFunc func(scoutMargin, feesFactor float64) float64

// DefaultMargin is the stock margin formula.
func DefaultMargin(scoutMargin, feesFactor float64) float64 {
	return 1 - scoutMargin*feesFactor/100
}

// SetMarginFunc swaps the margin formula. Passing nil restores the default.
func (s *ScoutEngine) SetMarginFunc(fn MarginFunc) {
	if fn == nil {
		fn = DefaultMargin
	}
	s.margin = fn
}

// NewScoutEngine wires a scout engine.
func NewScoutEngine(manager *Manager, matrix *ratios.Matrix, reg *registry.CoinRegistry, controller *Controller, store Store, defers *postpone.Context, bridge string, scoutMargin float64, useMargin bool, log zerolog.Logger) *ScoutEngine {
	return &ScoutEngine{
		manager:     manager,
		matrix:      matrix,
		registry:    reg,
		controller:  controller,
		store:       store,
		defers:      defers,
		bridge:      bridge,
		scoutMargin: scoutMargin,
		useMargin:   useMargin,
		margin:      DefaultMargin,
		now:         time.Now,
		log:         log.With().Str("component", "scout").Logger(),
	}
}

// Scout runs one scouting pass over the enabled coins. At most one jump
// fires per pass; without one, any leftover bridge balance is put to work.
func (s *ScoutEngine) Scout(ctx context.Context) error {
	for _, coin := range s.registry.All() {
		balance := s.manager.Balance(ctx, coin.Symbol, false)
		price, _, ok := s.manager.MarketSellPrice(coin.Symbol+s.bridge, balance)
		if !ok {
			s.log.Info().Str("pair", coin.Symbol+s.bridge).Msg("Skipping scouting, pair not priceable")
			continue
		}
		if price*balance < s.manager.MinNotional(ctx, coin.Symbol, s.bridge) {
			continue
		}
		if s.jumpToBestCoin(ctx, coin, price) {
			return nil
		}
	}
	s.BridgeScout(ctx)
	return nil
}

// candidate is one possible jump target with its margin-adjusted ratio
// improvement.
type candidate struct {
	coin  registry.CoinStub
	diff  float64
	price float64
}

// ratioDiffs compares holding `coin` at coinPrice against every other
// enabled coin. Unset target ratios are initialized to the current ratio and
// produce no candidate. Every comparison is recorded as a scout observation.
func (s *ScoutEngine) ratioDiffs(ctx context.Context, coin registry.CoinStub, coinPrice float64) ([]candidate, []domain.ScoutRecord) {
	var candidates []candidate
	var records []domain.ScoutRecord
	now := s.now()

	for _, other := range s.registry.All() {
		if other.Idx == coin.Idx {
			continue
		}
		otherPrice, ok := s.manager.TickerPrice(ctx, other.Symbol+s.bridge)
		if !ok || otherPrice == 0 {
			continue
		}

		currentRatio := coinPrice / otherPrice
		targetRatio := s.matrix.Get(coin.Idx, other.Idx)
		if math.IsNaN(targetRatio) {
			s.matrix.Set(coin.Idx, other.Idx, currentRatio)
			continue
		}

		feesFactor := 1.0
		if s.useMargin {
			sellFee := s.manager.Fee(ctx, coin.Symbol, s.bridge, true)
			buyFee := s.manager.Fee(ctx, other.Symbol, s.bridge, false)
			feesFactor = (1 - sellFee) * (1 - buyFee)
		}
		marginFactor := s.margin(s.scoutMargin, feesFactor)
		ratioDiff := (currentRatio - targetRatio*marginFactor) / targetRatio

		records = append(records, domain.ScoutRecord{
			PairID:           s.matrix.PairID(coin.Idx, other.Idx),
			RatioDiff:        ratioDiff,
			TargetRatio:      targetRatio,
			CurrentCoinPrice: coinPrice,
			OtherCoinPrice:   otherPrice,
			Datetime:         now,
		})
		candidates = append(candidates, candidate{coin: other, diff: ratioDiff, price: otherPrice})
	}
	return candidates, records
}

// jumpToBestCoin picks the strongest positive candidate and hands it to the
// controller. It reports whether a jump was attempted, successful or not, so
// the caller can end the pass. Scout observations are written through the
// heavy-call path so they batch up with any in-flight jump.
func (s *ScoutEngine) jumpToBestCoin(ctx context.Context, coin registry.CoinStub, coinPrice float64) bool {
	candidates, records := s.ratioDiffs(ctx, coin, coinPrice)
	s.recordScoutHistory(records)

	best, ok := bestCandidate(candidates)
	if !ok {
		return false
	}
	if err := s.controller.Jump(ctx, coin, best.coin, coinPrice, best.price); err != nil {
		s.log.Error().Err(err).Str("from", coin.Symbol).Str("to", best.coin.Symbol).Msg("Jump did not complete")
	}
	return true
}

func bestCandidate(candidates []candidate) (candidate, bool) {
	var best candidate
	found := false
	for _, c := range candidates {
		if c.diff <= 0 {
			continue
		}
		if !found || c.diff > best.diff {
			best = c
			found = true
		}
	}
	return best, found
}

func (s *ScoutEngine) recordScoutHistory(records []domain.ScoutRecord) {
	if len(records) == 0 {
		return
	}
	s.defers.Heavy(func() {
		if err := s.store.ScoutHistoryAppendBatch(records); err != nil {
			s.log.Error().Err(err).Msg("Failed to record scout history")
		}
	})
}

// BridgeScout puts a leftover bridge balance to work: find the coin no jump
// would immediately leave, and buy it if the balance clears the exchange
// minimum. Covers the state after a jump whose buy leg failed.
func (s *ScoutEngine) BridgeScout(ctx context.Context) {
	bridgeBalance := s.manager.Balance(ctx, s.bridge, false)
	for _, coin := range s.registry.All() {
		coinPrice, ok := s.manager.TickerPrice(ctx, coin.Symbol+s.bridge)
		if !ok || coinPrice == 0 {
			continue
		}
		candidates, _ := s.ratioDiffs(ctx, coin, coinPrice)
		if len(candidates) == 0 {
			continue
		}
		if _, positive := bestCandidate(candidates); positive {
			continue
		}
		if bridgeBalance <= s.manager.MinNotional(ctx, coin.Symbol, s.bridge) {
			continue
		}
		s.log.Info().Str("coin", coin.Symbol).Msg("Buying with leftover bridge balance")
		if _, err := s.manager.BuyAlt(ctx, coin.Symbol, s.bridge, coinPrice); err != nil {
			s.log.Error().Err(err).Str("coin", coin.Symbol).Msg("Bridge purchase failed")
			continue
		}
		if err := s.store.CurrentCoinSet(coin.Symbol); err != nil {
			s.log.Error().Err(err).Msg("Failed to record current coin")
		}
		return
	}
}
