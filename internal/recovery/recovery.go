// Package recovery rebuilds ledger state from the venue after a restart or
// suspected divergence. It upserts the venue's order history keyed by venue
// order id, then replays FIFO reconciliation from scratch. Running it any
// number of times converges to the same ledger.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"botcore/internal/config"
	"botcore/internal/reconcile"
	"botcore/internal/venue"
	"botcore/pkg/db"
)

// historyLimit bounds the per-symbol history pull.
const historyLimit = 500

type Engine struct {
	db      *db.Database
	venue   venue.Adapter
	matcher *reconcile.Matcher
	log     *logrus.Logger
}

func New(database *db.Database, adapter venue.Adapter, matcher *reconcile.Matcher, log *logrus.Logger) *Engine {
	return &Engine{db: database, venue: adapter, matcher: matcher, log: log}
}

// Recover runs per-bot recovery for every active bot.
func (e *Engine) Recover(ctx context.Context, bots []config.BotConfig) error {
	for _, bot := range bots {
		if !bot.Active {
			continue
		}
		if err := e.RecoverBot(ctx, bot); err != nil {
			return fmt.Errorf("recovery: bot %s: %w", bot.ID, err)
		}
	}
	return nil
}

// RecoverBot pulls the bot symbol's order history, upserts every order into
// the ledger and rebuilds FIFO state. Orders the ledger never saw are
// attributed to the recovering bot; orders another bot already owns are
// reconciled in place without changing ownership.
func (e *Engine) RecoverBot(ctx context.Context, bot config.BotConfig) error {
	history, err := e.venue.GetOrderHistory(ctx, bot.Symbol, historyLimit)
	if err != nil {
		return fmt.Errorf("fetch order history: %w", err)
	}

	inserted, updated := 0, 0
	for _, st := range history {
		changed, created, err := e.upsert(ctx, bot.ID, st)
		if err != nil {
			return fmt.Errorf("upsert order %s: %w", st.VenueOrderID, err)
		}
		if created {
			inserted++
		} else if changed {
			updated++
		}
	}

	if err := e.matcher.Rebuild(ctx, bot.ID); err != nil {
		return err
	}

	e.log.WithFields(logrus.Fields{
		"bot":      bot.ID,
		"symbol":   bot.Symbol,
		"orders":   len(history),
		"inserted": inserted,
		"updated":  updated,
	}).Info("recovery complete")
	return nil
}

// upsert reconciles one venue order into the ledger. Returns whether the
// row changed and whether it was newly created.
func (e *Engine) upsert(ctx context.Context, botID string, st venue.OrderStatus) (changed, created bool, err error) {
	status := statusFor(st.State)

	existing, err := e.db.GetTradeByVenueOrderID(ctx, st.VenueOrderID)
	if errors.Is(err, db.ErrNotFound) {
		createdAt := st.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		tr := db.Trade{
			ID:           uuid.NewString(),
			BotID:        botID,
			Side:         st.Side,
			Symbol:       st.Symbol,
			FilledPrice:  st.Price,
			Quantity:     st.Quantity,
			Fee:          st.Fee,
			FeeCurrency:  st.FeeCurrency,
			VenueOrderID: st.VenueOrderID,
			Status:       status,
			CreatedAt:    createdAt,
		}
		if hasFill(st.State) {
			filledAt := st.UpdatedAt
			if filledAt.IsZero() {
				filledAt = createdAt
			}
			tr.FilledAt = &filledAt
		}
		if err := e.db.CreateTrade(ctx, tr); err != nil {
			return false, false, err
		}
		return true, true, nil
	}
	if err != nil {
		return false, false, err
	}

	if existing.Status == status && existing.Quantity == st.Quantity && existing.Fee == st.Fee {
		return false, false, nil
	}

	if hasFill(st.State) {
		filledAt := st.UpdatedAt
		if filledAt.IsZero() {
			filledAt = time.Now().UTC()
		}
		if err := e.db.ApplyFill(ctx, existing.ID, status, st.Price, st.Quantity, st.Fee, st.FeeCurrency, filledAt); err != nil {
			return false, false, err
		}
		return true, false, nil
	}
	if err := e.db.SetStatus(ctx, existing.ID, status); err != nil {
		return false, false, err
	}
	return true, false, nil
}

func statusFor(state venue.State) string {
	switch state {
	case venue.StateFilled:
		return db.StatusFilled
	case venue.StatePartiallyFilled:
		return db.StatusPartiallyFilled
	case venue.StateCancelled:
		return db.StatusCancelled
	case venue.StateRejected:
		return db.StatusFailed
	default:
		return db.StatusSent
	}
}

func hasFill(state venue.State) bool {
	return state == venue.StateFilled || state == venue.StatePartiallyFilled
}
