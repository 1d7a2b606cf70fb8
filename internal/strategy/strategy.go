// Package strategy turns an indicator snapshot into a trinary trade signal.
package strategy

import (
	"errors"
	"fmt"

	"botcore/internal/indicators"
)

// Signal is the decision emitted for one close window.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// Params are the decision thresholds, validated at configuration time
// (buy threshold below sell threshold).
type Params struct {
	RSIPeriod        int
	EMAPeriod        int
	RSIBuyThreshold  float64
	RSISellThreshold float64

	// EMA tolerance band, in percent of EMA.
	EMATolerancePercent float64

	// Optional deep-oversold override: a sharply oversold RSI justifies
	// buying further below EMA than the normal tolerance allows. Both fields
	// nil or both set.
	RSIDeepOversold         *float64
	EMAToleranceDeepPercent *float64

	// Optional MACD confirmation: a BUY stands only while the MACD line is
	// above its signal line.
	UseMACDFilter bool
	MACDFast      int
	MACDSlow      int
	MACDSignal    int
}

// Decision carries the signal plus the indicator snapshot for the decision
// log.
type Decision struct {
	Signal Signal
	Price  float64
	RSI    float64
	EMA    float64
	MACD   *indicators.MACDValue
	Reason string
}

// Decide evaluates the window. It fails closed: any indicator that cannot be
// computed from the available history downgrades the decision to HOLD.
func Decide(closes []float64, p Params) Decision {
	if len(closes) == 0 {
		return Decision{Signal: SignalHold, Reason: "no candles"}
	}
	price := closes[len(closes)-1]

	rsi, err := indicators.RSI(closes, p.RSIPeriod)
	if err != nil {
		return holdOnDataError(price, "rsi", err)
	}
	ema, err := indicators.EMA(closes, p.EMAPeriod)
	if err != nil {
		return holdOnDataError(price, "ema", err)
	}

	d := Decision{Signal: SignalHold, Price: price, RSI: rsi, EMA: ema}

	lower := ema * (1 - p.EMATolerancePercent/100)
	upper := ema * (1 + p.EMATolerancePercent/100)

	// SELL takes priority: protecting an open position outranks opening a
	// new one. Threshold ordering makes simultaneous BUY+SELL impossible,
	// but the order of checks encodes the tie-break anyway.
	if rsi >= p.RSISellThreshold && price <= upper {
		d.Signal = SignalSell
		d.Reason = fmt.Sprintf("rsi %.2f >= %.2f and price %.4f within ema band", rsi, p.RSISellThreshold, price)
		return d
	}

	buy := false
	switch {
	case rsi <= p.RSIBuyThreshold && price >= lower:
		buy = true
		d.Reason = fmt.Sprintf("rsi %.2f <= %.2f and price %.4f >= ema lower bound %.4f", rsi, p.RSIBuyThreshold, price, lower)
	case p.RSIDeepOversold != nil && p.EMAToleranceDeepPercent != nil:
		deepLower := ema * (1 - *p.EMAToleranceDeepPercent/100)
		if rsi <= *p.RSIDeepOversold && price >= deepLower {
			buy = true
			d.Reason = fmt.Sprintf("deep oversold: rsi %.2f <= %.2f and price %.4f >= %.4f", rsi, *p.RSIDeepOversold, price, deepLower)
		}
	}

	if !buy {
		if d.Reason == "" {
			d.Reason = fmt.Sprintf("rsi %.2f, price %.4f, ema %.4f: no entry or exit condition", rsi, price, ema)
		}
		return d
	}

	if p.UseMACDFilter {
		macd, err := indicators.MACD(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)
		if err != nil {
			return holdOnDataError(price, "macd", err)
		}
		d.MACD = &macd
		if macd.MACD <= macd.Signal {
			d.Signal = SignalHold
			d.Reason = fmt.Sprintf("buy downgraded: macd %.4f not above signal %.4f", macd.MACD, macd.Signal)
			return d
		}
	}

	d.Signal = SignalBuy
	return d
}

func holdOnDataError(price float64, indicator string, err error) Decision {
	d := Decision{Signal: SignalHold, Price: price}
	if errors.Is(err, indicators.ErrInsufficientData) {
		d.Reason = fmt.Sprintf("%s: insufficient history", indicator)
	} else {
		d.Reason = fmt.Sprintf("%s: %v", indicator, err)
	}
	return d
}
