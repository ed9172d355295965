// Package main is the live trading entry point. It wires the exchange
// client, the stream plane, the sqlite store and the scouting scheduler,
// then runs until SIGINT/SIGTERM.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/coinwheel/internal/config"
	"github.com/aristath/coinwheel/internal/database"
	"github.com/aristath/coinwheel/internal/exchange"
	"github.com/aristath/coinwheel/internal/market"
	"github.com/aristath/coinwheel/internal/postpone"
	"github.com/aristath/coinwheel/internal/registry"
	"github.com/aristath/coinwheel/internal/scheduler"
	"github.com/aristath/coinwheel/internal/server"
	"github.com/aristath/coinwheel/internal/strategy"
	"github.com/aristath/coinwheel/internal/stream"
	"github.com/aristath/coinwheel/internal/trader"
	"github.com/aristath/coinwheel/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})
	logger.SetGlobalLogger(log)
	log.Info().Strs("watchlist", cfg.Watchlist).Str("bridge", cfg.BridgeSymbol).Msg("Starting coinwheel")

	client := exchange.NewClient(cfg.BinanceAPIKey, cfg.BinanceAPISecret, cfg.TLD, log)

	// Credential pre-flight: fail fast before any state is touched.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if cfg.EnablePaperTrading {
		err = client.Ping(ctx)
	} else {
		_, err = client.Account(ctx)
	}
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Exchange pre-flight failed")
	}

	db, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "crypto_trading.db"),
		Profile: database.ProfileStandard,
		Name:    "trading",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open trading database")
	}
	defer db.Close()
	if err := db.Migrate(database.TradingSchema); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate trading database")
	}
	store := database.NewStore(db, log)

	if err := store.SetCoins(cfg.Watchlist); err != nil {
		log.Fatal().Err(err).Msg("Failed to reconcile watchlist")
	}
	reg := registry.New(cfg.Watchlist)
	matrix, err := store.LoadMatrix(reg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load ratio matrix")
	}

	tickers := market.NewTickerCache()
	balances := market.NewBalanceCache()

	plane := stream.New(stream.Config{
		TLD:       cfg.TLD,
		Watchlist: cfg.Watchlist,
		Bridge:    cfg.BridgeSymbol,
		UserData:  !cfg.EnablePaperTrading,
	}, tickers, balances, client, client, log)
	if err := plane.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start stream plane")
	}

	var orders trader.OrderBalancer
	if cfg.EnablePaperTrading {
		log.Info().Float64("balance", cfg.PaperWalletBalance).Msg("Paper trading enabled")
		orders = trader.NewPaperWallet(cfg.BridgeSymbol, cfg.DataDir,
			map[string]float64{cfg.BridgeSymbol: cfg.PaperWalletBalance}, balances, log)
	} else {
		orders = trader.NewLiveOrderBalancer(client, balances, log)
	}

	defers := postpone.New()
	manager := trader.NewManager(client, orders, tickers, balances, plane, store, defers, log)
	controller := trader.NewController(manager, matrix, reg, store, defers, cfg.BridgeSymbol, log)

	strat, err := strategy.New(cfg.Strategy, strategy.Deps{
		Manager:     manager,
		Matrix:      matrix,
		Registry:    reg,
		Controller:  controller,
		Store:       store,
		Defers:      defers,
		Bridge:      cfg.BridgeSymbol,
		ScoutMargin: cfg.ScoutMargin,
		UseMargin:   cfg.UseMargin,
		Log:         log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Unknown strategy")
	}

	if current, err := store.CurrentCoin(); err == nil && current != "" {
		log.Info().Str("coin", current).Msg("Resuming with current coin")
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	sched := scheduler.New(log)
	sched.Every(time.Duration(cfg.ScoutSleepTime)*time.Second, "scout", func() error {
		return strat.Scout(runCtx)
	})
	sched.Every(time.Minute, "update_values", func() error {
		return controller.UpdateValues(runCtx)
	})
	sched.Every(time.Minute, "prune_scout_history", func() error {
		return store.ScoutHistoryPrune(time.Duration(cfg.ScoutHistoryPrune * float64(time.Hour)))
	})
	sched.Every(time.Hour, "roll_up_value_history", store.ValueHistoryRollUp)

	srv := server.New(server.Config{Port: cfg.Port, Store: store, Log: log})
	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("Reporting API stopped")
		}
	}()

	stop := make(chan struct{})
	go sched.Run(stop)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	close(stop)
	runCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Reporting API shutdown failed")
	}
	if err := plane.Close(shutdownCtx); err != nil {
		_ = db.Close()
		log.Fatal().Err(err).Msg("Stream plane shutdown timed out")
	}
	log.Info().Msg("Shutdown complete")
}
