package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/coinwheel/internal/database"
	"github.com/aristath/coinwheel/internal/market"
	"github.com/aristath/coinwheel/internal/postpone"
	"github.com/aristath/coinwheel/internal/registry"
	"github.com/aristath/coinwheel/internal/strategy"
	"github.com/aristath/coinwheel/internal/trader"
)

// Config drives one backtest run.
type Config struct {
	Watchlist    []string
	Bridge       string
	Strategy     string
	ScoutMargin  float64
	UseMargin    bool
	Start        time.Time
	End          time.Time
	ReportEvery  int     // minutes between portfolio collation reports
	StartBalance float64 // initial bridge balance
}

// Run replays the engine minute by minute over cached bars and returns the
// final portfolio value in the bridge currency.
func Run(ctx context.Context, cfg Config, bars *Bars, store *database.Store, log zerolog.Logger) (float64, error) {
	log = log.With().Str("component", "backtest").Logger()
	if !cfg.End.After(cfg.Start) {
		return 0, fmt.Errorf("backtest end %s is not after start %s", cfg.End, cfg.Start)
	}
	if cfg.ReportEvery <= 0 {
		cfg.ReportEvery = 60
	}

	if err := store.SetCoins(cfg.Watchlist); err != nil {
		return 0, fmt.Errorf("failed to set coins: %w", err)
	}
	reg := registry.New(cfg.Watchlist)
	matrix, err := store.LoadMatrix(reg)
	if err != nil {
		return 0, fmt.Errorf("failed to load ratio matrix: %w", err)
	}

	executor := NewExecutor(bars, cfg.Bridge, cfg.Watchlist, map[string]float64{cfg.Bridge: cfg.StartBalance}, log)
	tickers := market.NewTickerCache()
	balances := market.NewBalanceCache()
	defers := postpone.New()

	manager := trader.NewManager(executor, executor, tickers, balances, executor, store, defers, log)
	controller := trader.NewController(manager, matrix, reg, store, defers, cfg.Bridge, log)
	strat, err := strategy.New(cfg.Strategy, strategy.Deps{
		Manager:     manager,
		Matrix:      matrix,
		Registry:    reg,
		Controller:  controller,
		Store:       store,
		Defers:      defers,
		Bridge:      cfg.Bridge,
		ScoutMargin: cfg.ScoutMargin,
		UseMargin:   cfg.UseMargin,
		Log:         log,
	})
	if err != nil {
		return 0, err
	}

	log.Info().
		Time("start", cfg.Start).
		Time("end", cfg.End).
		Float64("balance", cfg.StartBalance).
		Msg("Backtest starting")

	n := 0
	for minute := cfg.Start; minute.Before(cfg.End); minute = minute.Add(time.Minute) {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}

		executor.SetTime(minute)
		prices, err := executor.AllTickerPrices(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to price minute %s: %w", minute, err)
		}
		tickers.ReplaceAll(prices)

		if err := strat.Scout(ctx); err != nil {
			log.Error().Err(err).Time("minute", minute).Msg("Scout pass failed")
		}

		if n%cfg.ReportEvery == 0 {
			log.Info().
				Time("minute", minute).
				Float64("portfolio", executor.CollateCoins(cfg.Bridge)).
				Msg("Backtest progress")
		}
		n++
	}

	final := executor.CollateCoins(cfg.Bridge)
	log.Info().
		Float64("portfolio", final).
		Interface("balances", executor.Balances()).
		Msg("Backtest finished")
	return final, nil
}
