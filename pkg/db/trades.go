package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Trade side values.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Trade status values. PENDING, SENT and PARTIALLY_FILLED are transient;
// FILLED, FAILED and CANCELLED are terminal for the row.
const (
	StatusPending         = "PENDING"
	StatusSent            = "SENT"
	StatusFilled          = "FILLED"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFailed          = "FAILED"
	StatusCancelled       = "CANCELLED"
)

// IsTerminal reports whether a status ends the trade row's lifecycle.
func IsTerminal(status string) bool {
	switch status {
	case StatusFilled, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Trade is one ledger row. Submission fields are immutable once set; only
// status, fill and PnL fields mutate in place.
type Trade struct {
	ID             string
	BotID          string
	Side           string
	Symbol         string
	RequestedPrice float64
	FilledPrice    float64
	Quantity       float64
	Fee            float64
	FeeCurrency    string
	VenueOrderID   string // empty means not yet acknowledged
	Status         string
	ParentID       string // SELL only: oldest BUY lot it reduces
	MatchedQty     float64
	RealizedPnL    *float64
	CreatedAt      time.Time
	FilledAt       *time.Time
	ClosedAt       *time.Time
}

// OpenQuantity is the unmatched remainder of a BUY lot.
func (t *Trade) OpenQuantity() float64 {
	return t.Quantity - t.MatchedQty
}

const tradeColumns = `
	id, bot_id, side, symbol, requested_price, filled_price, qty, fee,
	fee_currency, venue_order_id, status, parent_id, matched_qty,
	realized_pnl, created_at, filled_at, closed_at`

func scanTrade(row interface{ Scan(...any) error }) (Trade, error) {
	var t Trade
	var venueOrderID, parentID sql.NullString
	var realizedPnL sql.NullFloat64
	var filledAt, closedAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.BotID, &t.Side, &t.Symbol, &t.RequestedPrice,
		&t.FilledPrice, &t.Quantity, &t.Fee, &t.FeeCurrency,
		&venueOrderID, &t.Status, &parentID, &t.MatchedQty,
		&realizedPnL, &t.CreatedAt, &filledAt, &closedAt,
	)
	if err != nil {
		return Trade{}, err
	}
	t.VenueOrderID = venueOrderID.String
	t.ParentID = parentID.String
	if realizedPnL.Valid {
		v := realizedPnL.Float64
		t.RealizedPnL = &v
	}
	if filledAt.Valid {
		v := filledAt.Time
		t.FilledAt = &v
	}
	if closedAt.Valid {
		v := closedAt.Time
		t.ClosedAt = &v
	}
	return t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

// CreateTrade inserts a new trade row.
func (d *Database) CreateTrade(ctx context.Context, t Trade) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (`+tradeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.BotID, t.Side, t.Symbol, t.RequestedPrice, t.FilledPrice,
		t.Quantity, t.Fee, t.FeeCurrency, nullString(t.VenueOrderID),
		t.Status, nullString(t.ParentID), t.MatchedQty,
		nullFloat(t.RealizedPnL), t.CreatedAt, nullTime(t.FilledAt),
		nullTime(t.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.ID, err)
	}
	return nil
}

// GetTrade fetches one row by id.
func (d *Database) GetTrade(ctx context.Context, id string) (Trade, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT`+tradeColumns+` FROM trades WHERE id = ?`, id)
	t, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return Trade{}, ErrNotFound
	}
	return t, err
}

// GetTradeByVenueOrderID fetches the row holding the venue order id, the
// idempotency key for sync and recovery.
func (d *Database) GetTradeByVenueOrderID(ctx context.Context, venueOrderID string) (Trade, error) {
	row := d.DB.QueryRowContext(ctx,
		`SELECT`+tradeColumns+` FROM trades WHERE venue_order_id = ?`, venueOrderID)
	t, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return Trade{}, ErrNotFound
	}
	return t, err
}

// MarkSent records venue acceptance of a pending trade.
func (d *Database) MarkSent(ctx context.Context, id, venueOrderID string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE trades SET status = ?, venue_order_id = ? WHERE id = ?
	`, StatusSent, venueOrderID, id)
	return err
}

// SetStatus updates only the status column.
func (d *Database) SetStatus(ctx context.Context, id, status string) error {
	_, err := d.DB.ExecContext(ctx, `UPDATE trades SET status = ? WHERE id = ?`, status, id)
	return err
}

// ApplyFill writes fill data. filled_at is set once and immutable afterwards.
func (d *Database) ApplyFill(ctx context.Context, id, status string, price, qty, fee float64, feeCurrency string, filledAt time.Time) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE trades
		SET status = ?, filled_price = ?, qty = ?, fee = ?, fee_currency = ?,
		    filled_at = COALESCE(filled_at, ?)
		WHERE id = ?
	`, status, price, qty, fee, feeCurrency, filledAt, id)
	return err
}

// SetParent links a SELL to the BUY lot it starts reducing.
func (d *Database) SetParent(ctx context.Context, id, parentID string) error {
	_, err := d.DB.ExecContext(ctx, `UPDATE trades SET parent_id = ? WHERE id = ?`, parentID, id)
	return err
}

// AccumulateMatch adds a matched slice to a BUY lot: consumed quantity plus
// the realized PnL contributed by the slice.
func (d *Database) AccumulateMatch(ctx context.Context, buyID string, qty, pnl float64) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE trades
		SET matched_qty = matched_qty + ?,
		    realized_pnl = COALESCE(realized_pnl, 0) + ?
		WHERE id = ?
	`, qty, pnl, buyID)
	return err
}

// CloseLot stamps a fully consumed BUY lot.
func (d *Database) CloseLot(ctx context.Context, buyID string, closedAt time.Time) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE trades SET closed_at = ? WHERE id = ? AND closed_at IS NULL
	`, closedAt, buyID)
	return err
}

// CloseSell stamps a SELL as fully consumed by reconciliation, recording the
// total PnL it attributed.
func (d *Database) CloseSell(ctx context.Context, sellID string, closedAt time.Time, pnl float64) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE trades SET closed_at = ?, realized_pnl = ? WHERE id = ?
	`, closedAt, pnl, sellID)
	return err
}

// OpenLots returns the bot's open BUY lots in FIFO order. The ordering by
// fill time then id is a correctness requirement for PnL attribution.
func (d *Database) OpenLots(ctx context.Context, botID string) ([]Trade, error) {
	return d.queryTrades(ctx, `
		SELECT`+tradeColumns+`
		FROM trades
		WHERE bot_id = ? AND side = ? AND status = ? AND closed_at IS NULL
		ORDER BY filled_at ASC, id ASC
	`, botID, SideBuy, StatusFilled)
}

// OpenPositions returns every open BUY lot across all bots, oldest first.
func (d *Database) OpenPositions(ctx context.Context) ([]Trade, error) {
	return d.queryTrades(ctx, `
		SELECT`+tradeColumns+`
		FROM trades
		WHERE side = ? AND status = ? AND closed_at IS NULL
		ORDER BY filled_at ASC, id ASC
	`, SideBuy, StatusFilled)
}

// UnmatchedSells returns the bot's filled SELLs not yet consumed by
// reconciliation, oldest fill first.
func (d *Database) UnmatchedSells(ctx context.Context, botID string) ([]Trade, error) {
	return d.queryTrades(ctx, `
		SELECT`+tradeColumns+`
		FROM trades
		WHERE bot_id = ? AND side = ? AND status = ? AND closed_at IS NULL
		ORDER BY filled_at ASC, id ASC
	`, botID, SideSell, StatusFilled)
}

// HasOpenPosition reports whether the bot has any BUY exposure: an open
// filled lot, or an in-flight buy that may still fill.
func (d *Database) HasOpenPosition(ctx context.Context, botID string) (bool, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM trades
		WHERE bot_id = ? AND side = ?
		  AND status IN (?, ?, ?, ?)
		  AND closed_at IS NULL
	`, botID, SideBuy, StatusPending, StatusSent, StatusPartiallyFilled, StatusFilled).Scan(&n)
	return n > 0, err
}

// NonTerminal returns trades that still need venue polling.
func (d *Database) NonTerminal(ctx context.Context) ([]Trade, error) {
	return d.queryTrades(ctx, `
		SELECT`+tradeColumns+`
		FROM trades
		WHERE status IN (?, ?, ?) AND venue_order_id IS NOT NULL
		ORDER BY created_at ASC
	`, StatusPending, StatusSent, StatusPartiallyFilled)
}

// LastOpenAt returns the creation time of the bot's most recent BUY that was
// not rejected, for the cooldown guard.
func (d *Database) LastOpenAt(ctx context.Context, botID string) (*time.Time, error) {
	var ts time.Time
	err := d.DB.QueryRowContext(ctx, `
		SELECT created_at FROM trades
		WHERE bot_id = ? AND side = ? AND status NOT IN (?, ?)
		ORDER BY created_at DESC LIMIT 1
	`, botID, SideBuy, StatusFailed, StatusCancelled).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

// DailyRealizedPnL sums the PnL attributed by SELLs consumed on the given
// day (UTC).
func (d *Database) DailyRealizedPnL(ctx context.Context, botID string, day time.Time) (float64, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	var pnl sql.NullFloat64
	err := d.DB.QueryRowContext(ctx, `
		SELECT SUM(realized_pnl) FROM trades
		WHERE bot_id = ? AND side = ? AND closed_at >= ? AND closed_at < ?
	`, botID, SideSell, start, end).Scan(&pnl)
	return pnl.Float64, err
}

// ConsecutiveLosses counts the bot's most recent closed lots that all failed
// to profit, newest first, stopping at the first winner. A zero-PnL lot
// counts as a loss, matching the win-rate accounting.
func (d *Database) ConsecutiveLosses(ctx context.Context, botID string) (int, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT COALESCE(realized_pnl, 0) FROM trades
		WHERE bot_id = ? AND side = ? AND closed_at IS NOT NULL
		ORDER BY closed_at DESC, id DESC
		LIMIT 50
	`, botID, SideBuy)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	losses := 0
	for rows.Next() {
		var pnl float64
		if err := rows.Scan(&pnl); err != nil {
			return 0, err
		}
		if pnl > 0 {
			break
		}
		losses++
	}
	return losses, rows.Err()
}

// ClosedLotPnLs returns the realized PnL of the bot's closed BUY lots in
// close order, for drawdown accounting.
func (d *Database) ClosedLotPnLs(ctx context.Context, botID string) ([]float64, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT COALESCE(realized_pnl, 0) FROM trades
		WHERE bot_id = ? AND side = ? AND closed_at IS NOT NULL
		ORDER BY closed_at ASC, id ASC
	`, botID, SideBuy)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pnls []float64
	for rows.Next() {
		var pnl float64
		if err := rows.Scan(&pnl); err != nil {
			return nil, err
		}
		pnls = append(pnls, pnl)
	}
	return pnls, rows.Err()
}

// ResetFIFO clears all reconciliation outcomes for a bot so the recovery
// engine can rebuild links from scratch.
func (d *Database) ResetFIFO(ctx context.Context, botID string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE trades
		SET parent_id = NULL, matched_qty = 0, realized_pnl = NULL, closed_at = NULL
		WHERE bot_id = ?
	`, botID)
	return err
}

// ListTrades returns recent trades, newest first, optionally filtered by bot.
func (d *Database) ListTrades(ctx context.Context, botID string, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	if botID != "" {
		return d.queryTrades(ctx, `
			SELECT`+tradeColumns+`
			FROM trades WHERE bot_id = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		`, botID, limit)
	}
	return d.queryTrades(ctx, `
		SELECT`+tradeColumns+`
		FROM trades ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
}

func (d *Database) queryTrades(ctx context.Context, query string, args ...any) ([]Trade, error) {
	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
