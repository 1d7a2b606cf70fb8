// Package engine drives the evaluation batch: per bot, fetch market data,
// decide, gate, execute and record. Bots run concurrently but each bot is
// serialized by its own lock, and a panic in one bot never takes down the
// batch.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"botcore/internal/config"
	"botcore/internal/events"
	"botcore/internal/market"
	"botcore/internal/notify"
	"botcore/internal/reconcile"
	"botcore/internal/risk"
	"botcore/internal/strategy"
	"botcore/internal/tracker"
	"botcore/internal/venue"
	"botcore/pkg/db"
)

// LastRunKey is the kv marker updated after every completed batch.
const LastRunKey = "last_run"

// Deps are the engine's collaborators, wired in main.
type Deps struct {
	DB       *db.Database
	Venue    venue.Adapter
	Gate     *risk.Gate
	Tracker  *tracker.Tracker
	Matcher  *reconcile.Matcher
	Notifier notify.Notifier
	Alerts   notify.Notifier
	Bus      *events.Bus
	Cache    *market.Cache
	Log      *logrus.Logger
}

// Options tune per-batch behavior.
type Options struct {
	Retry        venue.RetryPolicy
	VenueTimeout time.Duration
	GlobalDryRun bool
}

type Engine struct {
	deps Deps
	opts Options
	bots []config.BotConfig

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(deps Deps, opts Options, bots []config.BotConfig) *Engine {
	if opts.VenueTimeout <= 0 {
		opts.VenueTimeout = 10 * time.Second
	}
	return &Engine{
		deps:  deps,
		opts:  opts,
		bots:  bots,
		locks: make(map[string]*sync.Mutex),
	}
}

// Run executes batches on the interval until the context ends. A batch runs
// immediately at startup.
func (e *Engine) Run(ctx context.Context, interval time.Duration, runOnce bool) {
	e.RunBatch(ctx)
	if runOnce {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.RunBatch(ctx)
		}
	}
}

// RunBatch syncs in-flight orders, evaluates every active bot concurrently,
// flushes batched notifications and stamps the run marker.
func (e *Engine) RunBatch(ctx context.Context) {
	start := time.Now()
	log := e.deps.Log

	if err := e.deps.Tracker.Sync(ctx); err != nil {
		log.WithError(err).Error("order sync failed before batch")
	}

	var wg sync.WaitGroup
	active := 0
	for _, bot := range e.bots {
		if !bot.Active {
			continue
		}
		active++
		wg.Add(1)
		go func(bot config.BotConfig) {
			defer wg.Done()
			e.runBot(ctx, bot)
		}(bot)
	}
	wg.Wait()

	if flusher, ok := e.deps.Notifier.(interface{ Flush(context.Context) }); ok {
		flusher.Flush(ctx)
	}

	if err := e.deps.DB.SetKV(ctx, LastRunKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
		log.WithError(err).Error("write run marker failed")
	}
	e.deps.Bus.Publish(events.EventBatchDone, time.Since(start).String())
	log.WithFields(logrus.Fields{
		"bots":    active,
		"elapsed": time.Since(start).Round(time.Millisecond).String(),
	}).Info("batch complete")
}

func (e *Engine) lockFor(botID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[botID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[botID] = l
	}
	return l
}

func (e *Engine) runBot(ctx context.Context, bot config.BotConfig) {
	log := e.deps.Log.WithFields(logrus.Fields{"bot": bot.ID, "symbol": bot.Symbol})

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("bot evaluation panicked")
			e.deps.Alerts.Notify(ctx, notify.Notification{
				Level: notify.LevelError, BotID: bot.ID,
				Title:   "bot panic",
				Message: fmt.Sprintf("evaluation panicked: %v", r),
			})
		}
	}()

	lock := e.lockFor(bot.ID)
	lock.Lock()
	defer lock.Unlock()

	closes, ok := e.closeWindow(ctx, bot, log)
	if !ok {
		e.recordDecision(ctx, bot, strategy.Decision{
			Signal: strategy.SignalHold,
			Reason: "market data unavailable",
		})
		return
	}

	dec := strategy.Decide(closes, ParamsFor(bot))
	dryRun := bot.DryRun || e.opts.GlobalDryRun

	switch dec.Signal {
	case strategy.SignalBuy:
		e.handleBuy(ctx, bot, &dec, dryRun, log)
	case strategy.SignalSell:
		e.handleSell(ctx, bot, &dec, dryRun, log)
	}

	e.recordDecision(ctx, bot, dec)
	log.WithFields(logrus.Fields{
		"signal": dec.Signal, "price": dec.Price, "rsi": dec.RSI, "reason": dec.Reason,
	}).Info("decision")
}

// closeWindow fetches the candle window, seeding the warm cache on success
// and falling back to it when the venue is unreachable.
func (e *Engine) closeWindow(ctx context.Context, bot config.BotConfig, log *logrus.Entry) ([]float64, bool) {
	var candles []venue.Candle
	err := e.opts.Retry.Do(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, e.opts.VenueTimeout)
		defer cancel()
		var err error
		candles, err = e.deps.Venue.GetCandles(callCtx, bot.Symbol, bot.Timeframe, bot.CandleLimit)
		return err
	})
	if err == nil && len(candles) > 0 {
		e.deps.Cache.Seed(bot.Symbol, bot.Timeframe, candles)
		return venue.Closes(candles), true
	}

	cached := e.deps.Cache.Window(bot.Symbol, bot.Timeframe)
	if len(cached) > 0 {
		log.WithError(err).Warn("candle fetch failed, using cached window")
		return venue.Closes(cached), true
	}

	log.WithError(err).Error("no market data available")
	e.deps.Alerts.Notify(ctx, notify.Notification{
		Level: notify.LevelError, BotID: bot.ID,
		Title:   "market data unavailable",
		Message: fmt.Sprintf("candle fetch for %s %s failed", bot.Symbol, bot.Timeframe),
	})
	return nil, false
}

func (e *Engine) handleBuy(ctx context.Context, bot config.BotConfig, dec *strategy.Decision, dryRun bool, log *logrus.Entry) {
	verdict, err := e.deps.Gate.CheckBuy(ctx, bot)
	if err != nil {
		log.WithError(err).Error("risk check errored, buy suppressed")
	}
	if !verdict.Allowed {
		dec.Reason = fmt.Sprintf("buy suppressed: %s", verdict.Reason)
		e.deps.Alerts.Notify(ctx, notify.Notification{
			Level: notify.LevelWarn, BotID: bot.ID,
			Title:   verdict.Reason,
			Message: fmt.Sprintf("buy signal on %s suppressed", bot.Symbol),
		})
		e.deps.Bus.Publish(events.EventRiskAlert, verdict.Reason)
		return
	}
	if dryRun {
		dec.Reason = "dry run: buy signal not executed"
		return
	}
	e.placeBuy(ctx, bot, dec, log)
}

func (e *Engine) handleSell(ctx context.Context, bot config.BotConfig, dec *strategy.Decision, dryRun bool, log *logrus.Entry) {
	lots, err := e.deps.DB.OpenLots(ctx, bot.ID)
	if err != nil {
		log.WithError(err).Error("open lots query failed, sell suppressed")
		dec.Reason = "sell suppressed: ledger unavailable"
		return
	}
	openQty := 0.0
	for _, lot := range lots {
		openQty += lot.OpenQuantity()
	}
	if openQty <= 0 {
		dec.Reason = "sell skipped: no open position"
		return
	}
	if openQty < bot.MinSellQty {
		dec.Reason = fmt.Sprintf("sell skipped: open qty %.8f below minimum %.8f", openQty, bot.MinSellQty)
		return
	}
	if dryRun {
		dec.Reason = "dry run: sell signal not executed"
		return
	}
	e.placeSell(ctx, bot, dec, openQty, log)
}

func (e *Engine) placeBuy(ctx context.Context, bot config.BotConfig, dec *strategy.Decision, log *logrus.Entry) {
	qty := 0.0
	quoteAmount := bot.OrderSize
	if bot.SizingUnit == config.SizingBase {
		qty = bot.OrderSize
		quoteAmount = bot.OrderSize * dec.Price
	}

	trade := db.Trade{
		ID:             uuid.NewString(),
		BotID:          bot.ID,
		Side:           db.SideBuy,
		Symbol:         bot.Symbol,
		RequestedPrice: dec.Price,
		Quantity:       qty,
		Status:         db.StatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.deps.DB.CreateTrade(ctx, trade); err != nil {
		log.WithError(err).Error("create buy trade row failed")
		dec.Reason = "buy aborted: ledger write failed"
		return
	}
	e.deps.Bus.Publish(events.EventTradeOpened, trade.ID)

	var ack venue.Ack
	err := e.opts.Retry.Do(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, e.opts.VenueTimeout)
		defer cancel()
		var err error
		ack, err = e.deps.Venue.PlaceMarketBuy(callCtx, bot.Symbol, quoteAmount, trade.ID)
		return err
	})
	e.finishPlacement(ctx, bot, trade, ack, err, dec, log)
}

func (e *Engine) placeSell(ctx context.Context, bot config.BotConfig, dec *strategy.Decision, qty float64, log *logrus.Entry) {
	trade := db.Trade{
		ID:             uuid.NewString(),
		BotID:          bot.ID,
		Side:           db.SideSell,
		Symbol:         bot.Symbol,
		RequestedPrice: dec.Price,
		Quantity:       qty,
		Status:         db.StatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.deps.DB.CreateTrade(ctx, trade); err != nil {
		log.WithError(err).Error("create sell trade row failed")
		dec.Reason = "sell aborted: ledger write failed"
		return
	}
	e.deps.Bus.Publish(events.EventTradeOpened, trade.ID)

	var ack venue.Ack
	err := e.opts.Retry.Do(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, e.opts.VenueTimeout)
		defer cancel()
		var err error
		ack, err = e.deps.Venue.PlaceMarketSell(callCtx, bot.Symbol, qty, trade.ID)
		return err
	})
	e.finishPlacement(ctx, bot, trade, ack, err, dec, log)
}

// finishPlacement records the venue's answer: failure, acceptance, or an
// immediate fill when the ack already carries one.
func (e *Engine) finishPlacement(ctx context.Context, bot config.BotConfig, trade db.Trade, ack venue.Ack, err error, dec *strategy.Decision, log *logrus.Entry) {
	if err != nil {
		if dbErr := e.deps.DB.SetStatus(ctx, trade.ID, db.StatusFailed); dbErr != nil {
			log.WithError(dbErr).Error("mark trade failed errored")
		}
		log.WithError(err).Error("order placement failed")
		dec.Reason = fmt.Sprintf("%s failed: %v", trade.Side, err)
		e.deps.Notifier.Notify(ctx, notify.Notification{
			Level: notify.LevelError, BotID: bot.ID,
			Title:   "order placement failed",
			Message: fmt.Sprintf("%s %s: %v", trade.Side, bot.Symbol, err),
		})
		e.deps.Bus.Publish(events.EventTradeFailed, trade.ID)
		return
	}

	if err := e.deps.DB.MarkSent(ctx, trade.ID, ack.VenueOrderID); err != nil {
		log.WithError(err).Error("mark trade sent failed")
		return
	}
	e.deps.Bus.Publish(events.EventTradeSent, trade.ID)
	dec.Reason = fmt.Sprintf("%s; order %s accepted", dec.Reason, ack.VenueOrderID)

	if ack.State != venue.StateFilled && ack.State != venue.StatePartiallyFilled {
		return
	}

	// Market orders usually fill in the ack itself; apply it without waiting
	// for the next sync pass.
	status := db.StatusFilled
	if ack.State == venue.StatePartiallyFilled {
		status = db.StatusPartiallyFilled
	}
	filledAt := time.Now().UTC()
	if err := e.deps.DB.ApplyFill(ctx, trade.ID, status, ack.Price, ack.Quantity, ack.Fee, ack.FeeCurrency, filledAt); err != nil {
		log.WithError(err).Error("apply ack fill failed")
		return
	}
	if status != db.StatusFilled {
		return
	}

	e.deps.Notifier.Notify(ctx, notify.Notification{
		Level: notify.LevelInfo, BotID: bot.ID,
		Title: "order filled",
		Message: fmt.Sprintf("%s %s filled: %.8f @ %.8f",
			trade.Side, bot.Symbol, ack.Quantity, ack.Price),
	})
	e.deps.Bus.Publish(events.EventTradeFilled, trade.ID)

	if trade.Side != db.SideSell {
		return
	}
	filled, err := e.deps.DB.GetTrade(ctx, trade.ID)
	if err != nil {
		log.WithError(err).Error("reload filled sell failed")
		return
	}
	res, err := e.deps.Matcher.MatchSell(ctx, filled)
	if err != nil {
		log.WithError(err).Error("reconcile sell failed")
		return
	}
	for _, closure := range res.ClosedLots {
		e.deps.Bus.Publish(events.EventPositionClosed, closure)
	}
	if len(res.ClosedLots) > 0 {
		var total float64
		for _, closure := range res.ClosedLots {
			total += closure.PnL
		}
		e.deps.Notifier.Notify(ctx, notify.Notification{
			Level: notify.LevelInfo, BotID: bot.ID,
			Title:   "position closed",
			Message: fmt.Sprintf("%s closed %d lot(s), pnl %.4f", bot.Symbol, len(res.ClosedLots), total),
		})
	}
}

func (e *Engine) recordDecision(ctx context.Context, bot config.BotConfig, dec strategy.Decision) {
	row := db.Decision{
		BotID:     bot.ID,
		Symbol:    bot.Symbol,
		Signal:    string(dec.Signal),
		Price:     dec.Price,
		RSI:       dec.RSI,
		EMA:       dec.EMA,
		Reason:    dec.Reason,
		CreatedAt: time.Now().UTC(),
	}
	if dec.MACD != nil {
		m, s := dec.MACD.MACD, dec.MACD.Signal
		row.MACD = &m
		row.MACDSignal = &s
	}
	if err := e.deps.DB.RecordDecision(ctx, row); err != nil {
		e.deps.Log.WithError(err).WithField("bot", bot.ID).Error("record decision failed")
	}
	e.deps.Bus.Publish(events.EventDecision, row)
}

// ParamsFor maps a bot definition onto strategy thresholds. The backtester
// uses the same mapping so simulated and live decisions cannot drift.
func ParamsFor(bot config.BotConfig) strategy.Params {
	return strategy.Params{
		RSIPeriod:               bot.RSIPeriod,
		EMAPeriod:               bot.EMAPeriod,
		RSIBuyThreshold:         bot.RSIBuyThreshold,
		RSISellThreshold:        bot.RSISellThreshold,
		EMATolerancePercent:     bot.EMATolerancePercent,
		RSIDeepOversold:         bot.RSIDeepOversold,
		EMAToleranceDeepPercent: bot.EMAToleranceDeepPercent,
		UseMACDFilter:           bot.UseMACDFilter,
		MACDFast:                bot.MACDFast,
		MACDSlow:                bot.MACDSlow,
		MACDSignal:              bot.MACDSignal,
	}
}
