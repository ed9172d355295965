package database

// TradingSchema is the trading store's schema. Coins are disabled rather
// than deleted so their trade and scout history keeps its foreign keys.
const TradingSchema = `
CREATE TABLE IF NOT EXISTS coins (
    symbol  TEXT PRIMARY KEY,
    enabled INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS pairs (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    from_coin TEXT NOT NULL REFERENCES coins(symbol),
    to_coin   TEXT NOT NULL REFERENCES coins(symbol),
    ratio     REAL,
    enabled   INTEGER NOT NULL DEFAULT 1,
    UNIQUE (from_coin, to_coin)
);

CREATE TABLE IF NOT EXISTS current_coin_history (
    id       INTEGER PRIMARY KEY AUTOINCREMENT,
    coin     TEXT NOT NULL,
    datetime TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trade_history (
    id                      INTEGER PRIMARY KEY AUTOINCREMENT,
    alt_coin                TEXT NOT NULL,
    crypto_coin             TEXT NOT NULL,
    selling                 INTEGER NOT NULL,
    state                   TEXT NOT NULL,
    alt_starting_balance    REAL,
    alt_trade_amount        REAL,
    crypto_starting_balance REAL,
    crypto_trade_amount     REAL,
    datetime                TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS scout_history (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    pair_id            INTEGER NOT NULL REFERENCES pairs(id),
    ratio_diff         REAL,
    target_ratio       REAL,
    current_coin_price REAL,
    other_coin_price   REAL,
    datetime           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scout_history_datetime ON scout_history(datetime);

CREATE TABLE IF NOT EXISTS coin_value_history (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    coin      TEXT NOT NULL,
    balance   REAL NOT NULL,
    usd_price REAL,
    btc_price REAL,
    interval  TEXT NOT NULL,
    datetime  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_coin_value_interval ON coin_value_history(interval, datetime);
`
