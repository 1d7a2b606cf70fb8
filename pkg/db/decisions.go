package db

import (
	"context"
	"database/sql"
	"time"
)

// Decision is one row of the strategy audit trail. Every evaluation cycle
// writes one, including skips, so the log explains why nothing happened.
type Decision struct {
	ID         int64     `json:"id"`
	BotID      string    `json:"bot_id"`
	Symbol     string    `json:"symbol"`
	Signal     string    `json:"signal"`
	Price      float64   `json:"price"`
	RSI        float64   `json:"rsi"`
	EMA        float64   `json:"ema"`
	MACD       *float64  `json:"macd,omitempty"`
	MACDSignal *float64  `json:"macd_signal,omitempty"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// RecordDecision appends one audit trail row.
func (d *Database) RecordDecision(ctx context.Context, dec Decision) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO decision_log
			(bot_id, symbol, signal, price, rsi, ema, macd, macd_signal, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, dec.BotID, dec.Symbol, dec.Signal, dec.Price, dec.RSI, dec.EMA,
		nullFloat(dec.MACD), nullFloat(dec.MACDSignal), dec.Reason, dec.CreatedAt)
	return err
}

// ListDecisions returns recent decisions, newest first, optionally filtered
// by bot.
func (d *Database) ListDecisions(ctx context.Context, botID string, limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if botID != "" {
		rows, err = d.DB.QueryContext(ctx, `
			SELECT id, bot_id, symbol, signal, price, rsi, ema, macd, macd_signal, reason, created_at
			FROM decision_log WHERE bot_id = ?
			ORDER BY id DESC LIMIT ?
		`, botID, limit)
	} else {
		rows, err = d.DB.QueryContext(ctx, `
			SELECT id, bot_id, symbol, signal, price, rsi, ema, macd, macd_signal, reason, created_at
			FROM decision_log ORDER BY id DESC LIMIT ?
		`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Decision
	for rows.Next() {
		var dec Decision
		var macd, macdSignal sql.NullFloat64
		if err := rows.Scan(&dec.ID, &dec.BotID, &dec.Symbol, &dec.Signal,
			&dec.Price, &dec.RSI, &dec.EMA, &macd, &macdSignal,
			&dec.Reason, &dec.CreatedAt); err != nil {
			return nil, err
		}
		if macd.Valid {
			v := macd.Float64
			dec.MACD = &v
		}
		if macdSignal.Valid {
			v := macdSignal.Float64
			dec.MACDSignal = &v
		}
		res = append(res, dec)
	}
	return res, rows.Err()
}
