// Package config provides configuration management functionality.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Default watchlist file, used when WATCHLIST is not set in the environment.
const watchlistFile = "config/watchlist.txt"

// Config holds application configuration
type Config struct {
	DataDir string // Base directory for databases and on-disk caches

	// Trading
	BridgeSymbol       string   // Quote currency for all pair evaluations
	Watchlist          []string // Enabled coin universe
	Strategy           string   // Strategy plugin name
	ScoutMultiplier    float64  // Legacy; unused by the default strategy
	ScoutMargin        float64  // Threshold fraction for jump eligibility
	ScoutSleepTime     int      // Scout period in seconds
	ScoutHistoryPrune  float64  // Scout-history retention in hours
	UseMargin          bool     // Apply fees factor when computing ratio diff
	EnablePaperTrading bool
	PaperWalletBalance float64 // Initial bridge balance in paper mode

	// Exchange
	BinanceAPIKey    string
	BinanceAPISecret string
	TLD              string // Exchange regional endpoint (com, us, ...)

	// Reporting API
	Port     int
	LogLevel string
}

// Load reads configuration from environment variables (and .env if present)
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	watchlist := splitList(getEnv("WATCHLIST", ""))
	if len(watchlist) == 0 {
		watchlist, err = loadWatchlistFile(watchlistFile)
		if err != nil {
			return nil, err
		}
	}

	// Required: defaulting would silently decide between paper and live.
	paperRaw := os.Getenv("ENABLE_PAPER_TRADING")
	if paperRaw == "" {
		return nil, fmt.Errorf("ENABLE_PAPER_TRADING must be set (true for paper trading, false for live)")
	}
	paper, err := strconv.ParseBool(paperRaw)
	if err != nil {
		return nil, fmt.Errorf("invalid ENABLE_PAPER_TRADING %q: %w", paperRaw, err)
	}

	cfg := &Config{
		DataDir:            absDataDir,
		BridgeSymbol:       getEnv("BRIDGE_SYMBOL", "USDT"),
		Watchlist:          watchlist,
		Strategy:           getEnv("STRATEGY", "default"),
		ScoutMultiplier:    getEnvAsFloat("SCOUT_MULTIPLIER", 5),
		ScoutMargin:        getEnvAsFloat("SCOUT_MARGIN", 0.8),
		ScoutSleepTime:     getEnvAsInt("SCOUT_SLEEP_TIME", 1),
		ScoutHistoryPrune:  getEnvAsFloat("SCOUT_HISTORY_PRUNE_TIME", 1),
		UseMargin:          getEnvAsBool("USE_MARGIN", true),
		EnablePaperTrading: paper,
		PaperWalletBalance: getEnvAsFloat("PAPER_WALLET_BALANCE", 10000),
		BinanceAPIKey:      getEnv("BINANCE_API_KEY", ""),
		BinanceAPISecret:   getEnv("BINANCE_API_SECRET_KEY", ""),
		TLD:                getEnv("TLD", "com"),
		Port:               getEnvAsInt("API_PORT", 5000),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if len(c.Watchlist) == 0 {
		return fmt.Errorf("watchlist is empty: set WATCHLIST or provide %s", watchlistFile)
	}
	if !c.EnablePaperTrading && (c.BinanceAPIKey == "" || c.BinanceAPISecret == "") {
		return fmt.Errorf("BINANCE_API_KEY and BINANCE_API_SECRET_KEY are required for live trading")
	}
	return nil
}

// loadWatchlistFile reads a newline-delimited symbol list, skipping blank
// lines, comments and duplicates.
func loadWatchlistFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open watchlist file: %w", err)
	}
	defer f.Close()

	var symbols []string
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || seen[line] {
			continue
		}
		seen[line] = true
		symbols = append(symbols, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read watchlist file: %w", err)
	}
	return symbols, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Fields(value) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
