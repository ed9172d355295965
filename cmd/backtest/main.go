// Package main replays the ratio-jump engine over cached minute bars.
// BACKTEST_START and BACKTEST_END bound the replayed window.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/aristath/coinwheel/internal/backtest"
	"github.com/aristath/coinwheel/internal/config"
	"github.com/aristath/coinwheel/internal/database"
	"github.com/aristath/coinwheel/internal/exchange"
	"github.com/aristath/coinwheel/pkg/logger"
)

var dateLayouts = []string{"2006-01-02 15:04", "2006-01-02"}

func parseDate(value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable date %q, want YYYY-MM-DD or YYYY-MM-DD HH:MM", value)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})

	start, err := parseDate(getEnv("BACKTEST_START", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid BACKTEST_START")
	}
	end, err := parseDate(getEnv("BACKTEST_END", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid BACKTEST_END")
	}

	barDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "backtesting_cache.db"),
		Profile: database.ProfileCache,
		Name:    "bars",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open bar cache")
	}
	defer barDB.Close()
	if err := barDB.Migrate(backtest.BarSchema); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate bar cache")
	}

	// Klines are public endpoints, no credentials needed.
	client := exchange.NewClient("", "", cfg.TLD, log)
	bars := backtest.NewBars(client, barDB, log)

	// Each run starts from a clean trading state; only the bar cache is
	// kept between runs.
	tradingPath := filepath.Join(cfg.DataDir, "backtest_trading.db")
	_ = os.Remove(tradingPath)
	db, err := database.New(database.Config{
		Path:    tradingPath,
		Profile: database.ProfileStandard,
		Name:    "backtest-trading",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open backtest trading database")
	}
	defer db.Close()
	if err := db.Migrate(database.TradingSchema); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate backtest trading database")
	}
	store := database.NewStore(db, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	startBalance := cfg.PaperWalletBalance
	final, err := backtest.Run(ctx, backtest.Config{
		Watchlist:    cfg.Watchlist,
		Bridge:       cfg.BridgeSymbol,
		Strategy:     cfg.Strategy,
		ScoutMargin:  cfg.ScoutMargin,
		UseMargin:    cfg.UseMargin,
		Start:        start,
		End:          end,
		ReportEvery:  getEnvAsInt("BACKTEST_REPORT_INTERVAL", 60),
		StartBalance: startBalance,
	}, bars, store, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Backtest failed")
	}

	yield := 0.0
	if startBalance > 0 {
		yield = (final - startBalance) / startBalance * 100
	}
	log.Info().
		Float64("start_balance", startBalance).
		Float64("final_value", final).
		Str("yield", fmt.Sprintf("%+.2f%%", yield)).
		Msg("Backtest result")
}
