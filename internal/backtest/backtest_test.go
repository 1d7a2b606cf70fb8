package backtest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botcore/internal/strategy"
	"botcore/internal/venue"
)

func testParams() strategy.Params {
	return strategy.Params{
		RSIPeriod:           14,
		EMAPeriod:           20,
		RSIBuyThreshold:     40,
		RSISellThreshold:    60,
		EMATolerancePercent: 50,
	}
}

func testConfig() Config {
	return Config{
		Params:         testParams(),
		InitialBalance: 1000,
		OrderSize:      100,
	}
}

func series(closes ...float64) []venue.Candle {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]venue.Candle, len(closes))
	for i, c := range closes {
		out[i] = venue.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      c, High: c, Low: c, Close: c,
		}
	}
	return out
}

func flat(n int, price float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = price
	}
	return out
}

// roundTrip builds flat, decline (entry), recovery and rally (exit) phases.
func roundTrip() []venue.Candle {
	closes := flat(30, 100)
	for i := 1; i <= 5; i++ {
		closes = append(closes, 100-0.5*float64(i)) // decline to 97.5, RSI drops
	}
	for i := 1; i <= 10; i++ {
		closes = append(closes, 97.5+0.6*float64(i)) // rally to 103.5, RSI pins high
	}
	return series(closes...)
}

func TestRunFlatMarketNoTrades(t *testing.T) {
	res, err := Run(series(flat(60, 100)...), testConfig())
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	assert.Zero(t, res.TotalPnL)
	assert.Zero(t, res.ReturnPercent)
	assert.Equal(t, 1000.0, res.EndBalance)
}

func TestRunRoundTrip(t *testing.T) {
	res, err := Run(roundTrip(), testConfig())
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	tr := res.Trades[0]
	assert.Equal(t, "signal", tr.ExitReason)
	assert.Less(t, tr.EntryPrice, tr.ExitPrice)
	assert.Positive(t, tr.PnL)
	assert.Equal(t, 1, res.Wins)
	assert.Zero(t, res.Losses)
	assert.Equal(t, 1.0, res.WinRate)
	assert.InDelta(t, res.TotalPnL, res.EndBalance-1000, 1e-9)
	assert.Positive(t, res.ReturnPercent)
}

func TestRunFeesReducePnL(t *testing.T) {
	free, err := Run(roundTrip(), testConfig())
	require.NoError(t, err)

	cfg := testConfig()
	cfg.FeeRate = 0.001
	taxed, err := Run(roundTrip(), cfg)
	require.NoError(t, err)

	require.Len(t, taxed.Trades, 1)
	assert.Positive(t, taxed.TotalFees)
	assert.Less(t, taxed.TotalPnL, free.TotalPnL)
	assert.InDelta(t, free.TotalPnL-taxed.TotalFees, taxed.TotalPnL, 1e-6)
}

func TestRunStopLoss(t *testing.T) {
	// Enter on the decline, then crash through the stop.
	closes := flat(30, 100)
	for i := 1; i <= 5; i++ {
		closes = append(closes, 100-0.5*float64(i))
	}
	candles := series(closes...)
	crash := venue.Candle{
		Timestamp: candles[len(candles)-1].Timestamp.Add(time.Hour),
		Open:      97, High: 97, Low: 80, Close: 82,
	}
	candles = append(candles, crash)

	cfg := testConfig()
	cfg.StopLossPercent = 5
	res, err := Run(candles, cfg)
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, "stop loss", tr.ExitReason)
	assert.InDelta(t, tr.EntryPrice*0.95, tr.ExitPrice, 1e-9)
	assert.Negative(t, tr.PnL)
	assert.Positive(t, res.MaxDrawdownPercent)
	assert.InDelta(t, tr.PnL, res.WorstTrade, 1e-9)
	assert.InDelta(t, tr.PnL, res.BestTrade, 1e-9)
	assert.InDelta(t, -tr.PnL/cfg.InitialBalance*100, res.MaxDrawdownPercent, 1e-9)
}

func TestRunTakeProfit(t *testing.T) {
	closes := flat(30, 100)
	for i := 1; i <= 5; i++ {
		closes = append(closes, 100-0.5*float64(i))
	}
	candles := series(closes...)
	spike := venue.Candle{
		Timestamp: candles[len(candles)-1].Timestamp.Add(time.Hour),
		Open:      98, High: 110, Low: 98, Close: 105,
	}
	candles = append(candles, spike)

	cfg := testConfig()
	cfg.TakeProfitPercent = 4
	res, err := Run(candles, cfg)
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, "take profit", tr.ExitReason)
	assert.InDelta(t, tr.EntryPrice*1.04, tr.ExitPrice, 1e-9)
	assert.Positive(t, tr.PnL)
}

func TestRunLiquidatesAtEnd(t *testing.T) {
	// Entry with no exit signal afterwards.
	closes := flat(30, 100)
	for i := 1; i <= 5; i++ {
		closes = append(closes, 100-0.5*float64(i))
	}
	res, err := Run(series(closes...), testConfig())
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "end of data", res.Trades[0].ExitReason)
}

func TestRunRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.InitialBalance = 0
	_, err := Run(series(flat(30, 100)...), cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.OrderSize = 0
	_, err = Run(series(flat(30, 100)...), cfg)
	assert.Error(t, err)
}

func TestParseCSV(t *testing.T) {
	input := strings.Join([]string{
		"timestamp,open,high,low,close,volume",
		"2026-01-01T01:00:00Z,101,103,100,102,11",
		"1767225600,100,102,99,101,10", // 2026-01-01T00:00:00Z, out of order
	}, "\n")

	candles, err := parseCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, candles, 2)

	// Sorted ascending regardless of file order.
	assert.True(t, candles[0].Timestamp.Before(candles[1].Timestamp))
	assert.Equal(t, 101.0, candles[0].Close)
	assert.Equal(t, 102.0, candles[1].Close)
	assert.Equal(t, 11.0, candles[1].Volume)
}

func TestParseCSVMillisAndErrors(t *testing.T) {
	candles, err := parseCSV(strings.NewReader("1767225600000,100,102,99,101,10"))
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 2026, candles[0].Timestamp.Year())

	_, err = parseCSV(strings.NewReader("1767225600,100,102\n"))
	assert.Error(t, err)

	_, err = parseCSV(strings.NewReader("1767225600,abc,102,99,101,10"))
	assert.Error(t, err)
}
