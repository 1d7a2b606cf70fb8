package risk

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botcore/internal/config"
	"botcore/internal/venue/venuetest"
	"botcore/pkg/db"
)

func newTestDB(t *testing.T) *db.Database {
	t.Helper()
	d, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, d.ApplyMigrations())
	t.Cleanup(func() { d.Close() })
	return d
}

func testBot() config.BotConfig {
	return config.BotConfig{
		ID:         "bot-a",
		Symbol:     "BTCUSDT",
		SizingUnit: config.SizingQuote,
		OrderSize:  100,
	}
}

func filledBuy(id string, filledAt time.Time) db.Trade {
	return db.Trade{
		ID: id, BotID: "bot-a", Side: db.SideBuy, Symbol: "BTCUSDT",
		Quantity: 1, Status: db.StatusFilled,
		CreatedAt: filledAt, FilledAt: &filledAt,
	}
}

func TestCheckBuyAllowsCleanState(t *testing.T) {
	d := newTestDB(t)
	v := venuetest.New()
	v.Balances["USDT"] = 1000

	gate := NewGate(d, v)
	verdict, err := gate.CheckBuy(context.Background(), testBot())
	require.NoError(t, err)
	assert.True(t, verdict.Allowed)
}

func TestCheckBuyRejectsOpenPosition(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, d.CreateTrade(ctx, filledBuy("t1", time.Now().UTC())))

	v := venuetest.New()
	v.Balances["USDT"] = 1000

	gate := NewGate(d, v)
	verdict, err := gate.CheckBuy(ctx, testBot())
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
	assert.Contains(t, verdict.Reason, "position already open")
	// No venue call is made once a ledger check rejects.
	assert.Zero(t, v.OrderQueries)
}

func TestCheckBuyRejectsPendingExposure(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	tr := filledBuy("t1", time.Now().UTC())
	tr.Status = db.StatusPending
	tr.FilledAt = nil
	require.NoError(t, d.CreateTrade(ctx, tr))

	gate := NewGate(d, venuetest.New())
	verdict, err := gate.CheckBuy(ctx, testBot())
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
}

func TestCheckBuyDailyLossLimit(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sell := db.Trade{
		ID: "s1", BotID: "bot-a", Side: db.SideSell, Symbol: "BTCUSDT",
		Quantity: 1, Status: db.StatusFilled, CreatedAt: now,
	}
	require.NoError(t, d.CreateTrade(ctx, sell))
	require.NoError(t, d.CloseSell(ctx, "s1", now, -55))

	v := venuetest.New()
	v.Balances["USDT"] = 1000
	gate := NewGate(d, v)

	bot := testBot()
	bot.MaxDailyLoss = 50
	verdict, err := gate.CheckBuy(ctx, bot)
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
	assert.Contains(t, verdict.Reason, "daily loss limit")

	bot.MaxDailyLoss = 100
	verdict, err = gate.CheckBuy(ctx, bot)
	require.NoError(t, err)
	assert.True(t, verdict.Allowed)
}

func TestCheckBuyLossStreak(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-48 * time.Hour)

	for i, pnl := range []float64{-1, -2, -3} {
		closedAt := base.Add(time.Duration(i) * time.Minute)
		tr := filledBuy([]string{"t1", "t2", "t3"}[i], closedAt)
		tr.CreatedAt = closedAt
		p := pnl
		tr.RealizedPnL = &p
		tr.ClosedAt = &closedAt
		require.NoError(t, d.CreateTrade(ctx, tr))
	}

	v := venuetest.New()
	v.Balances["USDT"] = 1000
	gate := NewGate(d, v)

	bot := testBot()
	bot.MaxConsecutiveLosses = 3
	verdict, err := gate.CheckBuy(ctx, bot)
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
	assert.Contains(t, verdict.Reason, "loss streak")

	bot.MaxConsecutiveLosses = 4
	verdict, err = gate.CheckBuy(ctx, bot)
	require.NoError(t, err)
	assert.True(t, verdict.Allowed)
}

func TestCheckBuyDrawdownLimit(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-48 * time.Hour)

	// Peak +50, then down to -60: a 110 peak-to-trough drawdown.
	for i, pnl := range []float64{50, -110} {
		closedAt := base.Add(time.Duration(i) * time.Minute)
		tr := filledBuy([]string{"t1", "t2"}[i], closedAt)
		tr.CreatedAt = closedAt
		p := pnl
		tr.RealizedPnL = &p
		tr.ClosedAt = &closedAt
		require.NoError(t, d.CreateTrade(ctx, tr))
	}

	v := venuetest.New()
	v.Balances["USDT"] = 1000
	gate := NewGate(d, v)

	bot := testBot() // order size 100 quote
	bot.MaxDrawdownPercent = 100
	verdict, err := gate.CheckBuy(ctx, bot)
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
	assert.Contains(t, verdict.Reason, "drawdown limit")

	bot.MaxDrawdownPercent = 150
	verdict, err = gate.CheckBuy(ctx, bot)
	require.NoError(t, err)
	assert.True(t, verdict.Allowed)
}

func TestCheckBuyCooldown(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Last buy closed out 10 minutes ago.
	closedAt := now.Add(-10 * time.Minute)
	tr := filledBuy("t1", closedAt)
	tr.CreatedAt = closedAt
	pnl := 5.0
	tr.RealizedPnL = &pnl
	tr.ClosedAt = &closedAt
	require.NoError(t, d.CreateTrade(ctx, tr))

	v := venuetest.New()
	v.Balances["USDT"] = 1000
	gate := NewGate(d, v)

	bot := testBot()
	bot.CooldownMinutes = 60
	verdict, err := gate.CheckBuy(ctx, bot)
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
	assert.Contains(t, verdict.Reason, "cooldown")

	bot.CooldownMinutes = 5
	verdict, err = gate.CheckBuy(ctx, bot)
	require.NoError(t, err)
	assert.True(t, verdict.Allowed)

	// Zero means disabled; a fresh buy is not held back.
	recent := filledBuy("t2", now.Add(-time.Minute))
	recent.CreatedAt = now.Add(-time.Minute)
	recent.RealizedPnL = &pnl
	closedRecent := now.Add(-time.Minute)
	recent.ClosedAt = &closedRecent
	require.NoError(t, d.CreateTrade(ctx, recent))
	bot.CooldownMinutes = 0
	verdict, err = gate.CheckBuy(ctx, bot)
	require.NoError(t, err)
	assert.True(t, verdict.Allowed)
}

func TestCheckBuyBalance(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	v := venuetest.New()
	v.Balances["USDT"] = 50
	gate := NewGate(d, v)

	verdict, err := gate.CheckBuy(ctx, testBot())
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
	assert.Contains(t, verdict.Reason, "insufficient USDT balance")

	// Base sizing converts through the price first.
	v.Price = 40
	v.Balances["USDT"] = 100
	bot := testBot()
	bot.SizingUnit = config.SizingBase
	bot.OrderSize = 2 // needs 80 USDT
	verdict, err = gate.CheckBuy(ctx, bot)
	require.NoError(t, err)
	assert.True(t, verdict.Allowed)

	bot.OrderSize = 3 // needs 120 USDT
	verdict, err = gate.CheckBuy(ctx, bot)
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
}

func TestCheckBuyDryRunSkipsBalance(t *testing.T) {
	d := newTestDB(t)
	v := venuetest.New() // zero balances everywhere

	bot := testBot()
	bot.DryRun = true
	verdict, err := NewGate(d, v).CheckBuy(context.Background(), bot)
	require.NoError(t, err)
	assert.True(t, verdict.Allowed)
}

func TestCheckBuyFailsClosedOnVenueError(t *testing.T) {
	d := newTestDB(t)
	v := venuetest.New()
	v.FailNext("balance", assert.AnError)

	verdict, err := NewGate(d, v).CheckBuy(context.Background(), testBot())
	assert.Error(t, err)
	assert.False(t, verdict.Allowed)
}
