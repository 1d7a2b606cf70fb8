package db

import "fmt"

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    bot_id TEXT NOT NULL,
    side TEXT NOT NULL,
    symbol TEXT NOT NULL,
    requested_price REAL NOT NULL DEFAULT 0,
    filled_price REAL NOT NULL DEFAULT 0,
    qty REAL NOT NULL DEFAULT 0,
    fee REAL NOT NULL DEFAULT 0,
    fee_currency TEXT NOT NULL DEFAULT '',
    venue_order_id TEXT UNIQUE,
    status TEXT NOT NULL,
    parent_id TEXT,
    matched_qty REAL NOT NULL DEFAULT 0,
    realized_pnl REAL,
    created_at DATETIME NOT NULL,
    filled_at DATETIME,
    closed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_trades_bot_open
    ON trades(bot_id, side, status, closed_at);
CREATE INDEX IF NOT EXISTS idx_trades_status
    ON trades(status);

CREATE TABLE IF NOT EXISTS decision_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    bot_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    signal TEXT NOT NULL,
    price REAL NOT NULL DEFAULT 0,
    rsi REAL,
    ema REAL,
    macd REAL,
    macd_signal REAL,
    reason TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decision_log_bot
    ON decision_log(bot_id, created_at);

CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at DATETIME NOT NULL
);
`

// ApplyMigrations creates the ledger schema when missing.
func (d *Database) ApplyMigrations() error {
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
