package db

import (
	"context"
	"database/sql"
)

// Stats is the aggregate view served by the HTTP API.
type Stats struct {
	TotalTrades   int     `json:"total_trades"`
	OpenPositions int     `json:"open_positions"`
	ClosedLots    int     `json:"closed_lots"`
	WinningLots   int     `json:"winning_lots"`
	TotalPnL      float64 `json:"total_pnl"`
	WinRate       float64 `json:"win_rate"`
	TotalFees     float64 `json:"total_fees"`
}

// GetStats computes ledger-wide aggregates, optionally scoped to one bot.
func (d *Database) GetStats(ctx context.Context, botID string) (Stats, error) {
	var s Stats
	where := ""
	var args []any
	if botID != "" {
		where = " AND bot_id = ?"
		args = []any{botID}
	}

	err := d.DB.QueryRowContext(ctx,
		`SELECT COUNT(1), COALESCE(SUM(fee), 0) FROM trades WHERE 1=1`+where, args...,
	).Scan(&s.TotalTrades, &s.TotalFees)
	if err != nil {
		return Stats{}, err
	}

	err = d.DB.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM trades
		WHERE side = ? AND status = ? AND closed_at IS NULL`+where,
		append([]any{SideBuy, StatusFilled}, args...)...,
	).Scan(&s.OpenPositions)
	if err != nil {
		return Stats{}, err
	}

	var pnl sql.NullFloat64
	err = d.DB.QueryRowContext(ctx, `
		SELECT COUNT(1),
		       COUNT(CASE WHEN realized_pnl > 0 THEN 1 END),
		       SUM(COALESCE(realized_pnl, 0))
		FROM trades
		WHERE side = ? AND closed_at IS NOT NULL`+where,
		append([]any{SideBuy}, args...)...,
	).Scan(&s.ClosedLots, &s.WinningLots, &pnl)
	if err != nil {
		return Stats{}, err
	}
	s.TotalPnL = pnl.Float64

	if s.ClosedLots > 0 {
		s.WinRate = float64(s.WinningLots) / float64(s.ClosedLots)
	}
	return s, nil
}
