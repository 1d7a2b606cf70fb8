package engine

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botcore/internal/config"
	"botcore/internal/events"
	"botcore/internal/market"
	"botcore/internal/notify"
	"botcore/internal/reconcile"
	"botcore/internal/risk"
	"botcore/internal/tracker"
	"botcore/internal/venue"
	"botcore/internal/venue/venuetest"
	"botcore/pkg/db"
)

type fixture struct {
	db     *db.Database
	venue  *venuetest.Venue
	engine *Engine
}

func newFixture(t *testing.T, bots ...config.BotConfig) *fixture {
	t.Helper()
	d, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, d.ApplyMigrations())
	t.Cleanup(func() { d.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	v := venuetest.New()
	v.Price = 100
	v.Balances["USDT"] = 10000
	v.FillOnSubmit = true

	bus := events.NewBus()
	matcher := reconcile.NewMatcher(d, log)
	deps := Deps{
		DB:       d,
		Venue:    v,
		Gate:     risk.NewGate(d, v),
		Tracker:  tracker.New(d, v, matcher, notify.Nop{}, bus, log),
		Matcher:  matcher,
		Notifier: notify.Nop{},
		Alerts:   notify.Nop{},
		Bus:      bus,
		Cache:    market.NewCache(200),
		Log:      log,
	}
	opts := Options{Retry: venue.RetryPolicy{Attempts: 1}, VenueTimeout: time.Second}
	eng := New(deps, opts, bots)
	return &fixture{db: d, venue: v, engine: eng}
}

func testBot() config.BotConfig {
	return config.BotConfig{
		ID:                  "bot-a",
		Symbol:              "BTCUSDT",
		Timeframe:           "1h",
		Active:              true,
		CandleLimit:         40,
		RSIPeriod:           14,
		EMAPeriod:           20,
		RSIBuyThreshold:     40,
		RSISellThreshold:    60,
		EMATolerancePercent: 50,
		SizingUnit:          config.SizingQuote,
		OrderSize:           100,
	}
}

// candles builds an ascending series from close prices.
func candles(closes ...float64) []venue.Candle {
	base := time.Now().UTC().Add(-time.Duration(len(closes)) * time.Hour)
	out := make([]venue.Candle, len(closes))
	for i, c := range closes {
		out[i] = venue.Candle{Timestamp: base.Add(time.Duration(i) * time.Hour), Open: c, High: c, Low: c, Close: c}
	}
	return out
}

// buyCandles ends in a decline: RSI collapses while the generous tolerance
// band keeps price inside buy range.
func buyCandles() []venue.Candle {
	closes := make([]float64, 0, 35)
	for i := 0; i < 30; i++ {
		closes = append(closes, 100)
	}
	for i := 1; i <= 5; i++ {
		closes = append(closes, 100-0.5*float64(i))
	}
	return candles(closes...)
}

// sellCandles ends in a rise: RSI pins high while price stays inside the
// band.
func sellCandles() []venue.Candle {
	closes := make([]float64, 0, 35)
	for i := 0; i < 30; i++ {
		closes = append(closes, 100)
	}
	for i := 1; i <= 5; i++ {
		closes = append(closes, 100+0.5*float64(i))
	}
	return candles(closes...)
}

func insertOpenLot(t *testing.T, d *db.Database, qty float64) {
	t.Helper()
	now := time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, d.CreateTrade(context.Background(), db.Trade{
		ID: "lot1", BotID: "bot-a", Side: db.SideBuy, Symbol: "BTCUSDT",
		FilledPrice: 90, Quantity: qty, Status: db.StatusFilled,
		CreatedAt: now, FilledAt: &now,
	}))
}

func TestRunBatchExecutesBuy(t *testing.T) {
	f := newFixture(t, testBot())
	f.venue.Candles = buyCandles()

	f.engine.RunBatch(context.Background())

	assert.Equal(t, 1, f.venue.BuyCalls)
	trades, err := f.db.ListTrades(context.Background(), "bot-a", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, db.SideBuy, trades[0].Side)
	assert.Equal(t, db.StatusFilled, trades[0].Status)
	assert.NotEmpty(t, trades[0].VenueOrderID)

	decs, err := f.db.ListDecisions(context.Background(), "bot-a", 10)
	require.NoError(t, err)
	require.Len(t, decs, 1)
	assert.Equal(t, "BUY", decs[0].Signal)
	assert.Contains(t, decs[0].Reason, "accepted")
}

func TestRunBatchDryRunCreatesNoTrades(t *testing.T) {
	bot := testBot()
	bot.DryRun = true
	f := newFixture(t, bot)
	f.venue.Candles = buyCandles()

	f.engine.RunBatch(context.Background())

	assert.Zero(t, f.venue.BuyCalls)
	trades, err := f.db.ListTrades(context.Background(), "bot-a", 10)
	require.NoError(t, err)
	assert.Empty(t, trades)

	// The decision is still logged with the dry-run reason.
	decs, err := f.db.ListDecisions(context.Background(), "bot-a", 10)
	require.NoError(t, err)
	require.Len(t, decs, 1)
	assert.Contains(t, decs[0].Reason, "dry run")
}

func TestRunBatchRiskSuppressedBuy(t *testing.T) {
	f := newFixture(t, testBot())
	f.venue.Candles = buyCandles()
	insertOpenLot(t, f.db, 1)

	f.engine.RunBatch(context.Background())

	assert.Zero(t, f.venue.BuyCalls)
	trades, err := f.db.ListTrades(context.Background(), "bot-a", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1) // only the pre-existing lot

	decs, err := f.db.ListDecisions(context.Background(), "bot-a", 10)
	require.NoError(t, err)
	require.Len(t, decs, 1)
	assert.Contains(t, decs[0].Reason, "position already open")
}

func TestRunBatchExecutesSellAndReconciles(t *testing.T) {
	f := newFixture(t, testBot())
	f.venue.Candles = sellCandles()
	insertOpenLot(t, f.db, 2)

	f.engine.RunBatch(context.Background())

	assert.Equal(t, 1, f.venue.SellCalls)
	ctx := context.Background()

	lot, err := f.db.GetTrade(ctx, "lot1")
	require.NoError(t, err)
	require.NotNil(t, lot.ClosedAt)
	require.NotNil(t, lot.RealizedPnL)
	// Bought 2 @ 90, sold 2 @ 100 (mock fills at venue price).
	assert.InDelta(t, 20.0, *lot.RealizedPnL, 1e-9)
}

func TestRunBatchSellWithoutPosition(t *testing.T) {
	f := newFixture(t, testBot())
	f.venue.Candles = sellCandles()

	f.engine.RunBatch(context.Background())

	assert.Zero(t, f.venue.SellCalls)
	decs, err := f.db.ListDecisions(context.Background(), "bot-a", 10)
	require.NoError(t, err)
	require.Len(t, decs, 1)
	assert.Contains(t, decs[0].Reason, "no open position")
}

func TestRunBatchSellBelowMinimum(t *testing.T) {
	bot := testBot()
	bot.MinSellQty = 5
	f := newFixture(t, bot)
	f.venue.Candles = sellCandles()
	insertOpenLot(t, f.db, 2)

	f.engine.RunBatch(context.Background())

	assert.Zero(t, f.venue.SellCalls)
	decs, err := f.db.ListDecisions(context.Background(), "bot-a", 10)
	require.NoError(t, err)
	require.Len(t, decs, 1)
	assert.Contains(t, decs[0].Reason, "below minimum")
}

func TestRunBatchPlacementFailure(t *testing.T) {
	f := newFixture(t, testBot())
	f.venue.Candles = buyCandles()
	f.venue.FailNext("buy", venue.Permanent("place", assert.AnError))

	f.engine.RunBatch(context.Background())

	trades, err := f.db.ListTrades(context.Background(), "bot-a", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, db.StatusFailed, trades[0].Status)
}

func TestRunBatchCandleFallbackToCache(t *testing.T) {
	f := newFixture(t, testBot())
	f.venue.Candles = buyCandles()

	// First batch seeds the cache; an open position suppresses trading so
	// the ledger stays clean.
	insertOpenLot(t, f.db, 1)
	f.engine.RunBatch(context.Background())

	// Venue candles break; the cached window still yields a decision.
	f.venue.FailNext("candles", venue.Transient("candles", assert.AnError))
	f.engine.RunBatch(context.Background())

	decs, err := f.db.ListDecisions(context.Background(), "bot-a", 10)
	require.NoError(t, err)
	require.Len(t, decs, 2)
	assert.Equal(t, "BUY", decs[0].Signal)
	assert.NotContains(t, decs[0].Reason, "market data unavailable")
}

func TestRunBatchNoDataRecordsHold(t *testing.T) {
	f := newFixture(t, testBot())
	f.venue.FailNext("candles", venue.Transient("candles", assert.AnError))
	// Empty candle set afterwards still yields no usable window.

	f.engine.RunBatch(context.Background())

	decs, err := f.db.ListDecisions(context.Background(), "bot-a", 10)
	require.NoError(t, err)
	require.Len(t, decs, 1)
	assert.Equal(t, "HOLD", decs[0].Signal)
	assert.Equal(t, "market data unavailable", decs[0].Reason)
}

func TestRunBatchSkipsInactiveBots(t *testing.T) {
	bot := testBot()
	bot.Active = false
	f := newFixture(t, bot)
	f.venue.Candles = buyCandles()

	f.engine.RunBatch(context.Background())

	decs, err := f.db.ListDecisions(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, decs)
}

func TestRunBatchWritesRunMarker(t *testing.T) {
	f := newFixture(t, testBot())
	f.venue.Candles = candles(100, 100, 100)

	f.engine.RunBatch(context.Background())

	v, _, err := f.db.GetKV(context.Background(), LastRunKey)
	require.NoError(t, err)
	_, err = time.Parse(time.RFC3339, v)
	assert.NoError(t, err)
}
