package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botcore/internal/indicators"
)

func flatThenDecline(flat int, steps int, step float64) []float64 {
	closes := make([]float64, 0, flat+steps)
	for i := 0; i < flat; i++ {
		closes = append(closes, 100)
	}
	last := 100.0
	for i := 0; i < steps; i++ {
		last -= step
		closes = append(closes, last)
	}
	return closes
}

func flatThenRise(flat int, steps int, step float64) []float64 {
	closes := make([]float64, 0, flat+steps)
	for i := 0; i < flat; i++ {
		closes = append(closes, 100)
	}
	last := 100.0
	for i := 0; i < steps; i++ {
		last += step
		closes = append(closes, last)
	}
	return closes
}

func baseParams() Params {
	return Params{
		RSIPeriod:           14,
		EMAPeriod:           20,
		RSIBuyThreshold:     40,
		RSISellThreshold:    60,
		EMATolerancePercent: 2,
	}
}

func TestDecideBuyWithinTolerance(t *testing.T) {
	closes := flatThenDecline(20, 10, 0.1)
	p := baseParams()

	// Sanity on the crafted regime: oversold, price just under EMA.
	rsi, err := indicators.RSI(closes, p.RSIPeriod)
	require.NoError(t, err)
	require.LessOrEqual(t, rsi, p.RSIBuyThreshold)
	ema, err := indicators.EMA(closes, p.EMAPeriod)
	require.NoError(t, err)
	require.GreaterOrEqual(t, closes[len(closes)-1], ema*(1-p.EMATolerancePercent/100))

	d := Decide(closes, p)
	assert.Equal(t, SignalBuy, d.Signal)
	assert.Equal(t, rsi, d.RSI)
	assert.Equal(t, ema, d.EMA)
}

func TestDecideHoldOutsideToleranceWithoutDeepOverride(t *testing.T) {
	closes := flatThenDecline(20, 10, 1.0)
	p := baseParams()
	p.EMATolerancePercent = 1

	ema, err := indicators.EMA(closes, p.EMAPeriod)
	require.NoError(t, err)
	require.Less(t, closes[len(closes)-1], ema*(1-p.EMATolerancePercent/100))

	d := Decide(closes, p)
	assert.Equal(t, SignalHold, d.Signal)
}

func TestDecideDeepOversoldOverride(t *testing.T) {
	closes := flatThenDecline(20, 10, 1.0)
	p := baseParams()
	p.EMATolerancePercent = 1
	deepRSI := 20.0
	deepTol := 15.0
	p.RSIDeepOversold = &deepRSI
	p.EMAToleranceDeepPercent = &deepTol

	rsi, err := indicators.RSI(closes, p.RSIPeriod)
	require.NoError(t, err)
	require.LessOrEqual(t, rsi, deepRSI)

	d := Decide(closes, p)
	assert.Equal(t, SignalBuy, d.Signal)
	assert.Contains(t, d.Reason, "deep oversold")
}

func TestDecideSellNearEMA(t *testing.T) {
	closes := flatThenRise(20, 10, 0.1)
	p := baseParams()

	rsi, err := indicators.RSI(closes, p.RSIPeriod)
	require.NoError(t, err)
	require.GreaterOrEqual(t, rsi, p.RSISellThreshold)
	ema, err := indicators.EMA(closes, p.EMAPeriod)
	require.NoError(t, err)
	require.LessOrEqual(t, closes[len(closes)-1], ema*(1+p.EMATolerancePercent/100))

	d := Decide(closes, p)
	assert.Equal(t, SignalSell, d.Signal)
}

func TestDecideNoSellWhenPriceFarAboveEMA(t *testing.T) {
	closes := flatThenRise(20, 10, 2.0)
	p := baseParams()
	p.EMATolerancePercent = 1

	ema, err := indicators.EMA(closes, p.EMAPeriod)
	require.NoError(t, err)
	require.Greater(t, closes[len(closes)-1], ema*(1+p.EMATolerancePercent/100))

	d := Decide(closes, p)
	assert.Equal(t, SignalHold, d.Signal)
}

func TestDecideMACDFilterDowngradesBuy(t *testing.T) {
	// Accelerating decline: entry conditions hold (with a wide band) but the
	// MACD line sits below its signal line, so the buy is downgraded.
	closes := make([]float64, 0, 60)
	last := 200.0
	for i := 0; i < 40; i++ {
		closes = append(closes, last)
	}
	for i := 0; i < 20; i++ {
		last -= 0.2 * float64(i+1)
		closes = append(closes, last)
	}

	p := baseParams()
	p.EMATolerancePercent = 50
	p.UseMACDFilter = true
	p.MACDFast, p.MACDSlow, p.MACDSignal = 12, 26, 9

	macd, err := indicators.MACD(closes, 12, 26, 9)
	require.NoError(t, err)
	require.LessOrEqual(t, macd.MACD, macd.Signal)

	withFilter := Decide(closes, p)
	assert.Equal(t, SignalHold, withFilter.Signal)
	assert.Contains(t, withFilter.Reason, "macd")

	p.UseMACDFilter = false
	withoutFilter := Decide(closes, p)
	assert.Equal(t, SignalBuy, withoutFilter.Signal)
}

func TestDecideFailsClosedOnShortHistory(t *testing.T) {
	d := Decide([]float64{100, 101, 102}, baseParams())
	assert.Equal(t, SignalHold, d.Signal)
	assert.Contains(t, d.Reason, "insufficient history")
}

func TestDecideEmptyWindow(t *testing.T) {
	d := Decide(nil, baseParams())
	assert.Equal(t, SignalHold, d.Signal)
}
