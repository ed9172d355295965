// Package backtest replays the ratio-jump engine over cached minute bars.
package backtest

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/coinwheel/internal/database"
	"github.com/aristath/coinwheel/internal/exchange"
)

// Keys in the bar cache carry the minute timestamp in this layout.
const barKeyLayout = "02 Jan 2006 15:04:05"

// One fetch pulls this many minute bars; gap minutes inside the returned
// range are cached as 0.0 so they are never refetched.
const fetchWindowMinutes = 1000

// BarSchema is the bar cache's key/value schema.
const BarSchema = `
CREATE TABLE IF NOT EXISTS bars (
    key   TEXT PRIMARY KEY,
    price REAL NOT NULL
);
`

// KlineSource fetches minute bars, normally the exchange REST client.
type KlineSource interface {
	Klines(ctx context.Context, symbol, interval string, startTime, endTime time.Time, limit int) ([]exchange.Kline, error)
}

// Bars serves historical minute prices through a sqlite key/value cache.
// A cached price of 0.0 means the exchange had no bar for that minute.
type Bars struct {
	source KlineSource
	db     *database.DB
	log    zerolog.Logger
}

// NewBars wraps a kline source with the bar cache.
func NewBars(source KlineSource, db *database.DB, log zerolog.Logger) *Bars {
	return &Bars{
		source: source,
		db:     db,
		log:    log.With().Str("component", "bars").Logger(),
	}
}

func barKey(symbol string, at time.Time) string {
	return fmt.Sprintf("%s - %s", symbol, at.UTC().Format(barKeyLayout))
}

// Price returns the open price of symbol's bar at the given minute. ok is
// false when the exchange had no bar for that minute.
func (b *Bars) Price(ctx context.Context, symbol string, at time.Time) (float64, bool, error) {
	at = at.Truncate(time.Minute)
	price, found, err := b.lookup(symbol, at)
	if err != nil {
		return 0, false, err
	}
	if found {
		return price, price != 0, nil
	}

	if err := b.fetchWindow(ctx, symbol, at); err != nil {
		return 0, false, err
	}
	price, found, err = b.lookup(symbol, at)
	if err != nil {
		return 0, false, err
	}
	if !found {
		return 0, false, fmt.Errorf("bar for %s missing after fetch", barKey(symbol, at))
	}
	return price, price != 0, nil
}

func (b *Bars) lookup(symbol string, at time.Time) (float64, bool, error) {
	var price float64
	err := b.db.Conn().QueryRow(`SELECT price FROM bars WHERE key = ?`, barKey(symbol, at)).Scan(&price)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read bar cache: %w", err)
	}
	return price, true, nil
}

// fetchWindow pulls one window of minute bars starting at the requested
// minute and caches them, zero-filling gaps up to the last returned candle.
// Minutes past the last candle stay uncached: when the window reaches past
// the present they may simply not exist yet, and a later run must be able to
// fetch them.
func (b *Bars) fetchWindow(ctx context.Context, symbol string, from time.Time) error {
	end := from.Add(fetchWindowMinutes * time.Minute)
	b.log.Info().Str("symbol", symbol).Time("from", from).Msg("Fetching bar window")

	klines, err := b.source.Klines(ctx, symbol, "1m", from, end, fetchWindowMinutes)
	if err != nil {
		return fmt.Errorf("failed to fetch klines for %s: %w", symbol, err)
	}

	byMinute := make(map[int64]float64, len(klines))
	last := from
	for _, k := range klines {
		byMinute[k.OpenTime/60000] = k.Open
		if minute := time.UnixMilli(k.OpenTime).UTC().Truncate(time.Minute); minute.After(last) {
			last = minute
		}
	}

	// With no candles at all, memoize only the requested minute as no-trade.
	cacheEnd := last.Add(time.Minute)
	if cacheEnd.After(end) {
		cacheEnd = end
	}

	return database.WithTransaction(b.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT OR REPLACE INTO bars (key, price) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare bar insert: %w", err)
		}
		defer stmt.Close()
		for minute := from; minute.Before(cacheEnd); minute = minute.Add(time.Minute) {
			price := byMinute[minute.UnixMilli()/60000]
			if _, err := stmt.Exec(barKey(symbol, minute), price); err != nil {
				return fmt.Errorf("failed to cache bar: %w", err)
			}
		}
		return nil
	})
}
