// Package reconcile matches SELL fills against open BUY lots in FIFO order
// and attributes realized PnL. The same matcher serves both the live fill
// path and the recovery rebuild, so both converge to identical ledgers.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"botcore/pkg/db"
)

// qtyEpsilon absorbs float residue when deciding whether a lot or a sell is
// fully consumed.
const qtyEpsilon = 1e-9

// LotClosure reports one BUY lot fully consumed by a match.
type LotClosure struct {
	BuyID    string
	PnL      float64
	ClosedAt time.Time
}

// Result summarizes one MatchSell application.
type Result struct {
	Applied     bool // false when the sell was already reconciled
	RealizedPnL float64
	ClosedLots  []LotClosure
}

// Matcher applies FIFO matching against the ledger.
type Matcher struct {
	db  *db.Database
	log *logrus.Logger
}

func NewMatcher(database *db.Database, log *logrus.Logger) *Matcher {
	return &Matcher{db: database, log: log}
}

// MatchSell consumes open BUY lots, oldest fill first, with the given SELL.
// BUY rows are never split: partial consumption accumulates matched_qty and
// the lot closes only when fully consumed. Re-running on an already
// reconciled sell is a no-op.
//
// PnL per matched slice is (exit - entry) * qty net of proportional entry
// and exit fees. A sell exceeding total open quantity is an anomaly: it is
// logged and the ledger is left untouched.
func (m *Matcher) MatchSell(ctx context.Context, sell db.Trade) (Result, error) {
	if sell.Side != db.SideSell || sell.Status != db.StatusFilled {
		return Result{}, fmt.Errorf("matcher: trade %s is not a filled sell", sell.ID)
	}
	if sell.ClosedAt != nil {
		return Result{Applied: false}, nil
	}
	if sell.FilledAt == nil {
		return Result{}, fmt.Errorf("matcher: sell %s has no fill time", sell.ID)
	}

	lots, err := m.db.OpenLots(ctx, sell.BotID)
	if err != nil {
		return Result{}, fmt.Errorf("matcher: load open lots: %w", err)
	}

	totalOpen := 0.0
	for _, lot := range lots {
		totalOpen += lot.OpenQuantity()
	}
	if sell.Quantity > totalOpen+qtyEpsilon {
		m.log.WithFields(logrus.Fields{
			"bot":      sell.BotID,
			"sell":     sell.ID,
			"sell_qty": sell.Quantity,
			"open_qty": totalOpen,
		}).Error("sell exceeds open position, skipping reconciliation")
		return Result{Applied: false}, nil
	}

	res := Result{Applied: true}
	remaining := sell.Quantity
	for _, lot := range lots {
		if remaining <= qtyEpsilon {
			break
		}
		slice := math.Min(lot.OpenQuantity(), remaining)

		entryFee := 0.0
		if lot.Quantity > 0 {
			entryFee = lot.Fee * slice / lot.Quantity
		}
		exitFee := 0.0
		if sell.Quantity > 0 {
			exitFee = sell.Fee * slice / sell.Quantity
		}
		pnl := slice*(sell.FilledPrice-lot.FilledPrice) - entryFee - exitFee

		if err := m.db.AccumulateMatch(ctx, lot.ID, slice, pnl); err != nil {
			return Result{}, fmt.Errorf("matcher: accumulate match on %s: %w", lot.ID, err)
		}
		if sell.ParentID == "" {
			if err := m.db.SetParent(ctx, sell.ID, lot.ID); err != nil {
				return Result{}, fmt.Errorf("matcher: link sell %s: %w", sell.ID, err)
			}
			sell.ParentID = lot.ID
		}

		if lot.OpenQuantity()-slice <= qtyEpsilon {
			if err := m.db.CloseLot(ctx, lot.ID, *sell.FilledAt); err != nil {
				return Result{}, fmt.Errorf("matcher: close lot %s: %w", lot.ID, err)
			}
			closed, err := m.db.GetTrade(ctx, lot.ID)
			if err != nil {
				return Result{}, fmt.Errorf("matcher: reload lot %s: %w", lot.ID, err)
			}
			lotPnL := 0.0
			if closed.RealizedPnL != nil {
				lotPnL = *closed.RealizedPnL
			}
			res.ClosedLots = append(res.ClosedLots, LotClosure{
				BuyID:    lot.ID,
				PnL:      lotPnL,
				ClosedAt: *sell.FilledAt,
			})
		}

		remaining -= slice
		res.RealizedPnL += pnl
	}

	if err := m.db.CloseSell(ctx, sell.ID, *sell.FilledAt, res.RealizedPnL); err != nil {
		return Result{}, fmt.Errorf("matcher: close sell %s: %w", sell.ID, err)
	}

	m.log.WithFields(logrus.Fields{
		"bot":         sell.BotID,
		"sell":        sell.ID,
		"pnl":         res.RealizedPnL,
		"closed_lots": len(res.ClosedLots),
	}).Info("sell reconciled")
	return res, nil
}

// MatchPending applies every filled, not yet reconciled sell for the bot in
// fill order.
func (m *Matcher) MatchPending(ctx context.Context, botID string) ([]Result, error) {
	sells, err := m.db.UnmatchedSells(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("matcher: load unmatched sells: %w", err)
	}
	var results []Result
	for _, sell := range sells {
		res, err := m.MatchSell(ctx, sell)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Rebuild drops all reconciliation state for the bot and replays every
// filled sell through the matcher. Running it any number of times produces
// the same ledger.
func (m *Matcher) Rebuild(ctx context.Context, botID string) error {
	if err := m.db.ResetFIFO(ctx, botID); err != nil {
		return fmt.Errorf("matcher: reset fifo state: %w", err)
	}
	if _, err := m.MatchPending(ctx, botID); err != nil {
		return fmt.Errorf("matcher: rebuild: %w", err)
	}
	return nil
}
