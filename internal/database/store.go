package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/coinwheel/internal/domain"
	"github.com/aristath/coinwheel/internal/ratios"
	"github.com/aristath/coinwheel/internal/registry"
)

// Datetimes are stored as UTC strings in this layout so sqlite's strftime
// can bucket them during value-history roll-ups.
const timeLayout = "2006-01-02 15:04:05"

// Store is the trading persistence port over the trading database.
type Store struct {
	db  *DB
	now func() time.Time
	log zerolog.Logger
}

// NewStore wraps an opened trading database.
func NewStore(db *DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		now: time.Now,
		log: log.With().Str("component", "store").Logger(),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// SetCoins reconciles the coins and pairs tables with the configured
// watchlist. Missing coins are inserted, absent ones disabled, and every
// ordered pair between enabled coins is ensured. Nothing is ever deleted.
func (s *Store) SetCoins(symbols []string) error {
	return WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE coins SET enabled = 0`); err != nil {
			return fmt.Errorf("failed to disable coins: %w", err)
		}
		for _, symbol := range symbols {
			_, err := tx.Exec(`INSERT INTO coins (symbol, enabled) VALUES (?, 1)
				ON CONFLICT(symbol) DO UPDATE SET enabled = 1`, symbol)
			if err != nil {
				return fmt.Errorf("failed to upsert coin %s: %w", symbol, err)
			}
		}
		for _, from := range symbols {
			for _, to := range symbols {
				if from == to {
					continue
				}
				_, err := tx.Exec(`INSERT OR IGNORE INTO pairs (from_coin, to_coin, ratio, enabled)
					VALUES (?, ?, NULL, 1)`, from, to)
				if err != nil {
					return fmt.Errorf("failed to ensure pair %s/%s: %w", from, to, err)
				}
			}
		}
		_, err := tx.Exec(`UPDATE pairs SET enabled =
			EXISTS (SELECT 1 FROM coins WHERE symbol = from_coin AND enabled = 1)
			AND EXISTS (SELECT 1 FROM coins WHERE symbol = to_coin AND enabled = 1)`)
		if err != nil {
			return fmt.Errorf("failed to reconcile pair enablement: %w", err)
		}
		return nil
	})
}

// LoadMatrix builds the ratio matrix for the registry's coin set from the
// persisted pairs. Unrecorded ratios stay NaN.
func (s *Store) LoadMatrix(reg *registry.CoinRegistry) (*ratios.Matrix, error) {
	matrix := ratios.New(reg.Count())
	rows, err := s.db.Conn().Query(`SELECT id, from_coin, to_coin, ratio FROM pairs WHERE enabled = 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to load pairs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var from, to string
		var ratio sql.NullFloat64
		if err := rows.Scan(&id, &from, &to, &ratio); err != nil {
			return nil, fmt.Errorf("failed to scan pair: %w", err)
		}
		fromStub := reg.BySymbol(from)
		toStub := reg.BySymbol(to)
		if fromStub == nil || toStub == nil {
			continue
		}
		matrix.SetPairID(fromStub.Idx, toStub.Idx, id)
		if ratio.Valid {
			matrix.Set(fromStub.Idx, toStub.Idx, ratio.Float64)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pairs: %w", err)
	}
	matrix.Commit()
	return matrix, nil
}

// PairRatiosUpdate writes a batch of ratio values keyed by pair id in one
// transaction.
func (s *Store) PairRatiosUpdate(batch []domain.PairRatio) error {
	if len(batch) == 0 {
		return nil
	}
	return WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`UPDATE pairs SET ratio = ? WHERE id = ?`)
		if err != nil {
			return fmt.Errorf("failed to prepare ratio update: %w", err)
		}
		defer stmt.Close()
		for _, pr := range batch {
			if _, err := stmt.Exec(pr.Ratio, pr.PairID); err != nil {
				return fmt.Errorf("failed to update ratio for pair %d: %w", pr.PairID, err)
			}
		}
		return nil
	})
}

// CurrentCoinSet appends to the current-coin log; the latest row wins.
func (s *Store) CurrentCoinSet(symbol string) error {
	_, err := s.db.Conn().Exec(`INSERT INTO current_coin_history (coin, datetime) VALUES (?, ?)`,
		symbol, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("failed to record current coin: %w", err)
	}
	return nil
}

// CurrentCoin returns the most recently recorded coin, empty when the log
// has no rows yet.
func (s *Store) CurrentCoin() (string, error) {
	var symbol string
	err := s.db.Conn().QueryRow(`SELECT coin FROM current_coin_history ORDER BY id DESC LIMIT 1`).Scan(&symbol)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read current coin: %w", err)
	}
	return symbol, nil
}

// TradeCreate opens a trade record in the STARTED state.
func (s *Store) TradeCreate(fromCoin, toCoin string, selling bool) (int64, error) {
	res, err := s.db.Conn().Exec(`INSERT INTO trade_history (alt_coin, crypto_coin, selling, state, datetime)
		VALUES (?, ?, ?, ?, ?)`,
		fromCoin, toCoin, selling, string(domain.TradeStarted), formatTime(s.now()))
	if err != nil {
		return 0, fmt.Errorf("failed to create trade: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read trade id: %w", err)
	}
	return id, nil
}

// TradeSetOrdered advances a trade to ORDERED with its starting balances.
func (s *Store) TradeSetOrdered(id int64, altStart, cryptoStart, altTrade float64) error {
	_, err := s.db.Conn().Exec(`UPDATE trade_history
		SET state = ?, alt_starting_balance = ?, crypto_starting_balance = ?, alt_trade_amount = ?
		WHERE id = ?`,
		string(domain.TradeOrdered), altStart, cryptoStart, altTrade, id)
	if err != nil {
		return fmt.Errorf("failed to mark trade %d ordered: %w", id, err)
	}
	return nil
}

// TradeSetComplete advances a trade to COMPLETE with the filled quote amount.
func (s *Store) TradeSetComplete(id int64, cryptoTrade float64) error {
	_, err := s.db.Conn().Exec(`UPDATE trade_history SET state = ?, crypto_trade_amount = ? WHERE id = ?`,
		string(domain.TradeComplete), cryptoTrade, id)
	if err != nil {
		return fmt.Errorf("failed to complete trade %d: %w", id, err)
	}
	return nil
}

// Trades returns the most recent trades, newest first.
func (s *Store) Trades(limit int) ([]domain.Trade, error) {
	rows, err := s.db.Conn().Query(`SELECT id, alt_coin, crypto_coin, selling, state,
		COALESCE(alt_starting_balance, 0), COALESCE(crypto_starting_balance, 0),
		COALESCE(alt_trade_amount, 0), COALESCE(crypto_trade_amount, 0), datetime
		FROM trade_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var tr domain.Trade
		var state, dt string
		if err := rows.Scan(&tr.ID, &tr.FromCoin, &tr.ToCoin, &tr.Selling, &state,
			&tr.AltStartingBalance, &tr.CryptoStartingBalance,
			&tr.AltTradeAmount, &tr.CryptoTradeAmount, &dt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		tr.State = domain.TradeState(state)
		tr.Datetime = parseTime(dt)
		trades = append(trades, tr)
	}
	return trades, rows.Err()
}

// ScoutHistoryAppendBatch appends one scouting pass's observations.
func (s *Store) ScoutHistoryAppendBatch(records []domain.ScoutRecord) error {
	if len(records) == 0 {
		return nil
	}
	return WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT INTO scout_history
			(pair_id, ratio_diff, target_ratio, current_coin_price, other_coin_price, datetime)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare scout insert: %w", err)
		}
		defer stmt.Close()
		for _, rec := range records {
			_, err := stmt.Exec(rec.PairID, rec.RatioDiff, rec.TargetRatio,
				rec.CurrentCoinPrice, rec.OtherCoinPrice, formatTime(rec.Datetime))
			if err != nil {
				return fmt.Errorf("failed to append scout record: %w", err)
			}
		}
		return nil
	})
}

// ScoutHistoryPrune drops observations older than the retention window.
func (s *Store) ScoutHistoryPrune(retention time.Duration) error {
	cutoff := formatTime(s.now().Add(-retention))
	_, err := s.db.Conn().Exec(`DELETE FROM scout_history WHERE datetime < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune scout history: %w", err)
	}
	return nil
}

// ScoutHistory returns the most recent observations, newest first.
func (s *Store) ScoutHistory(limit int) ([]domain.ScoutRecord, error) {
	rows, err := s.db.Conn().Query(`SELECT pair_id, ratio_diff, target_ratio,
		current_coin_price, other_coin_price, datetime
		FROM scout_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scout history: %w", err)
	}
	defer rows.Close()

	var records []domain.ScoutRecord
	for rows.Next() {
		var rec domain.ScoutRecord
		var dt string
		if err := rows.Scan(&rec.PairID, &rec.RatioDiff, &rec.TargetRatio,
			&rec.CurrentCoinPrice, &rec.OtherCoinPrice, &dt); err != nil {
			return nil, fmt.Errorf("failed to scan scout record: %w", err)
		}
		rec.Datetime = parseTime(dt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CoinValueAppendBatch appends one snapshot pass's portfolio values.
func (s *Store) CoinValueAppendBatch(values []domain.CoinValue) error {
	if len(values) == 0 {
		return nil
	}
	return WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT INTO coin_value_history
			(coin, balance, usd_price, btc_price, interval, datetime)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare value insert: %w", err)
		}
		defer stmt.Close()
		for _, cv := range values {
			_, err := stmt.Exec(cv.Coin, cv.Balance, cv.USDPrice, cv.BTCPrice,
				string(cv.Interval), formatTime(cv.Datetime))
			if err != nil {
				return fmt.Errorf("failed to append coin value: %w", err)
			}
		}
		return nil
	})
}

// rollUpStage promotes the latest row per (coin, bucket) to the coarser
// interval and discards the rest of the aged-out rows.
type rollUpStage struct {
	from   domain.Interval
	to     domain.Interval
	maxAge time.Duration
	bucket string // strftime format grouping rows into one kept sample
}

var rollUpStages = []rollUpStage{
	{domain.IntervalMinutely, domain.IntervalHourly, 24 * time.Hour, "%Y-%m-%d %H"},
	{domain.IntervalHourly, domain.IntervalDaily, 30 * 24 * time.Hour, "%Y-%m-%d"},
	{domain.IntervalDaily, domain.IntervalWeekly, 365 * 24 * time.Hour, "%Y-%W"},
}

// ValueHistoryRollUp ages the coin-value history: minutely rows older than a
// day collapse to hourly, hourly older than a month to daily, daily older
// than a year to weekly.
func (s *Store) ValueHistoryRollUp() error {
	now := s.now()
	return WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		for _, stage := range rollUpStages {
			cutoff := formatTime(now.Add(-stage.maxAge))
			_, err := tx.Exec(`UPDATE coin_value_history SET interval = ?
				WHERE id IN (
					SELECT MAX(id) FROM coin_value_history
					WHERE interval = ? AND datetime < ?
					GROUP BY coin, strftime(?, datetime)
				)`, string(stage.to), string(stage.from), cutoff, stage.bucket)
			if err != nil {
				return fmt.Errorf("failed to promote %s rows: %w", stage.from, err)
			}
			_, err = tx.Exec(`DELETE FROM coin_value_history WHERE interval = ? AND datetime < ?`,
				string(stage.from), cutoff)
			if err != nil {
				return fmt.Errorf("failed to discard %s rows: %w", stage.from, err)
			}
		}
		return nil
	})
}

// ValueHistory returns snapshots at one interval, newest first.
func (s *Store) ValueHistory(interval domain.Interval, limit int) ([]domain.CoinValue, error) {
	rows, err := s.db.Conn().Query(`SELECT coin, balance, COALESCE(usd_price, 0),
		COALESCE(btc_price, 0), interval, datetime
		FROM coin_value_history WHERE interval = ? ORDER BY id DESC LIMIT ?`,
		string(interval), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query value history: %w", err)
	}
	defer rows.Close()

	var values []domain.CoinValue
	for rows.Next() {
		var cv domain.CoinValue
		var ivl, dt string
		if err := rows.Scan(&cv.Coin, &cv.Balance, &cv.USDPrice, &cv.BTCPrice, &ivl, &dt); err != nil {
			return nil, fmt.Errorf("failed to scan coin value: %w", err)
		}
		cv.Interval = domain.Interval(ivl)
		cv.Datetime = parseTime(dt)
		values = append(values, cv)
	}
	return values, rows.Err()
}

// Coins returns every known coin with its enablement flag.
func (s *Store) Coins() ([]domain.Coin, error) {
	rows, err := s.db.Conn().Query(`SELECT symbol, enabled FROM coins ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to query coins: %w", err)
	}
	defer rows.Close()

	var coins []domain.Coin
	for rows.Next() {
		var c domain.Coin
		if err := rows.Scan(&c.Symbol, &c.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan coin: %w", err)
		}
		coins = append(coins, c)
	}
	return coins, rows.Err()
}
