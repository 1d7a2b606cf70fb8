// Package tracker synchronizes in-flight orders with the venue. Each sync
// pass polls every non-terminal trade, applies state transitions to the
// ledger and hands filled sells to the reconciler. A pass that observes no
// venue-side change writes nothing, so syncing is safe to repeat.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"botcore/internal/events"
	"botcore/internal/notify"
	"botcore/internal/reconcile"
	"botcore/internal/venue"
	"botcore/pkg/db"
)

// historyLookback caps the venue history scan used when a direct order query
// comes back not-found.
const historyLookback = 200

type Tracker struct {
	db       *db.Database
	venue    venue.Adapter
	matcher  *reconcile.Matcher
	notifier notify.Notifier
	bus      *events.Bus
	log      *logrus.Logger
}

func New(database *db.Database, adapter venue.Adapter, matcher *reconcile.Matcher, notifier notify.Notifier, bus *events.Bus, log *logrus.Logger) *Tracker {
	return &Tracker{
		db:       database,
		venue:    adapter,
		matcher:  matcher,
		notifier: notifier,
		bus:      bus,
		log:      log,
	}
}

// Sync polls every trade still awaiting a terminal venue state. Per-trade
// errors are logged and skipped so one sick order cannot stall the rest;
// the next pass retries naturally.
func (t *Tracker) Sync(ctx context.Context) error {
	pending, err := t.db.NonTerminal(ctx)
	if err != nil {
		return fmt.Errorf("tracker: load non-terminal trades: %w", err)
	}

	for _, trade := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		st, err := t.lookup(ctx, trade)
		if err != nil {
			t.log.WithError(err).WithFields(logrus.Fields{
				"trade": trade.ID, "venue_order": trade.VenueOrderID,
			}).Warn("order lookup failed, will retry next sync")
			continue
		}
		if err := t.apply(ctx, trade, st); err != nil {
			t.log.WithError(err).WithField("trade", trade.ID).Error("apply order state failed")
		}
	}
	return nil
}

// lookup queries the order directly, falling back to the order history when
// the venue no longer serves it from the active set.
func (t *Tracker) lookup(ctx context.Context, trade db.Trade) (venue.OrderStatus, error) {
	st, err := t.venue.GetOrder(ctx, trade.Symbol, trade.VenueOrderID)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, venue.ErrOrderNotFound) {
		return venue.OrderStatus{}, err
	}

	history, err := t.venue.GetOrderHistory(ctx, trade.Symbol, historyLookback)
	if err != nil {
		return venue.OrderStatus{}, fmt.Errorf("history fallback: %w", err)
	}
	for _, h := range history {
		if h.VenueOrderID == trade.VenueOrderID {
			return h, nil
		}
	}
	return venue.OrderStatus{}, venue.ErrOrderNotFound
}

func (t *Tracker) apply(ctx context.Context, trade db.Trade, st venue.OrderStatus) error {
	switch st.State {
	case venue.StateFilled:
		return t.applyFill(ctx, trade, st, db.StatusFilled)

	case venue.StatePartiallyFilled:
		// Skip the write when nothing moved since the last pass.
		if trade.Status == db.StatusPartiallyFilled && trade.Quantity == st.Quantity && trade.Fee == st.Fee {
			return nil
		}
		return t.applyFill(ctx, trade, st, db.StatusPartiallyFilled)

	case venue.StateCancelled:
		if err := t.db.SetStatus(ctx, trade.ID, db.StatusCancelled); err != nil {
			return err
		}
		t.notifier.Notify(ctx, notify.Notification{
			Level: notify.LevelWarn, BotID: trade.BotID,
			Title:   "order cancelled",
			Message: fmt.Sprintf("%s %s order %s cancelled by venue", trade.Side, trade.Symbol, trade.VenueOrderID),
		})
		t.bus.Publish(events.EventTradeFailed, trade.ID)
		return nil

	case venue.StateRejected:
		if err := t.db.SetStatus(ctx, trade.ID, db.StatusFailed); err != nil {
			return err
		}
		t.notifier.Notify(ctx, notify.Notification{
			Level: notify.LevelError, BotID: trade.BotID,
			Title:   "order rejected",
			Message: fmt.Sprintf("%s %s order %s rejected by venue", trade.Side, trade.Symbol, trade.VenueOrderID),
		})
		t.bus.Publish(events.EventTradeFailed, trade.ID)
		return nil

	default:
		// StateNew or unknown, still working.
		return nil
	}
}

func (t *Tracker) applyFill(ctx context.Context, trade db.Trade, st venue.OrderStatus, status string) error {
	filledAt := st.UpdatedAt
	if filledAt.IsZero() {
		filledAt = time.Now().UTC()
	}
	if err := t.db.ApplyFill(ctx, trade.ID, status, st.Price, st.Quantity, st.Fee, st.FeeCurrency, filledAt); err != nil {
		return err
	}
	if status != db.StatusFilled {
		return nil
	}

	t.notifier.Notify(ctx, notify.Notification{
		Level: notify.LevelInfo, BotID: trade.BotID,
		Title: "order filled",
		Message: fmt.Sprintf("%s %s filled: %.8f @ %.8f",
			trade.Side, trade.Symbol, st.Quantity, st.Price),
	})
	t.bus.Publish(events.EventTradeFilled, trade.ID)

	if trade.Side != db.SideSell {
		return nil
	}

	// A filled sell must flow through FIFO matching immediately.
	filled, err := t.db.GetTrade(ctx, trade.ID)
	if err != nil {
		return err
	}
	res, err := t.matcher.MatchSell(ctx, filled)
	if err != nil {
		return err
	}
	for _, closure := range res.ClosedLots {
		t.bus.Publish(events.EventPositionClosed, closure)
	}
	if len(res.ClosedLots) > 0 {
		var total float64
		for _, closure := range res.ClosedLots {
			total += closure.PnL
		}
		t.notifier.Notify(ctx, notify.Notification{
			Level: notify.LevelInfo, BotID: trade.BotID,
			Title:   "position closed",
			Message: fmt.Sprintf("%s closed %d lot(s), pnl %.4f", trade.Symbol, len(res.ClosedLots), total),
		})
	}
	return nil
}
