// Package indicators provides the pure numeric functions behind trade
// decisions. All functions are deterministic over their input window and keep
// no state between calls. Insufficient history is reported as
// ErrInsufficientData so callers can skip a tick instead of acting on a
// default value.
package indicators

import (
	"errors"
	"fmt"
)

// ErrInsufficientData is returned when the close window is shorter than the
// indicator requires.
var ErrInsufficientData = errors.New("insufficient data for indicator")

// RSI computes the Relative Strength Index from Wilder-style average gain and
// loss over the trailing period changes. Needs period+1 closes. When the
// window shows no losses the result is exactly 100.
func RSI(closes []float64, period int) (float64, error) {
	if period < 2 {
		return 0, fmt.Errorf("rsi period must be >= 2, got %d", period)
	}
	if len(closes) < period+1 {
		return 0, fmt.Errorf("rsi(%d) needs %d closes, have %d: %w",
			period, period+1, len(closes), ErrInsufficientData)
	}

	var avgGain, avgLoss float64
	for i := len(closes) - period; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	if avgLoss == 0 {
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), nil
}

// EMA returns the last value of the exponential moving average, seeded with
// the simple average of the first period closes.
func EMA(closes []float64, period int) (float64, error) {
	series, err := EMASeries(closes, period)
	if err != nil {
		return 0, err
	}
	return series[len(series)-1], nil
}

// EMASeries returns the full EMA series aligned with closes. Entries before
// index period-1 are zero (undefined).
func EMASeries(closes []float64, period int) ([]float64, error) {
	if period < 2 {
		return nil, fmt.Errorf("ema period must be >= 2, got %d", period)
	}
	if len(closes) < period {
		return nil, fmt.Errorf("ema(%d) needs %d closes, have %d: %w",
			period, period, len(closes), ErrInsufficientData)
	}

	series := make([]float64, len(closes))

	var seed float64
	for i := 0; i < period; i++ {
		seed += closes[i]
	}
	series[period-1] = seed / float64(period)

	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(closes); i++ {
		series[i] = (closes[i]-series[i-1])*multiplier + series[i-1]
	}
	return series, nil
}

// MACDValue holds the last MACD line and signal line values.
type MACDValue struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// MACD computes the last MACD line value (fast EMA minus slow EMA) and its
// signal-line EMA. Needs slow+signal-1 closes.
func MACD(closes []float64, fast, slow, signal int) (MACDValue, error) {
	if fast < 2 || signal < 1 || slow <= fast {
		return MACDValue{}, fmt.Errorf("invalid macd periods fast=%d slow=%d signal=%d", fast, slow, signal)
	}
	minLen := slow + signal - 1
	if len(closes) < minLen {
		return MACDValue{}, fmt.Errorf("macd(%d,%d,%d) needs %d closes, have %d: %w",
			fast, slow, signal, minLen, len(closes), ErrInsufficientData)
	}

	fastSeries, err := EMASeries(closes, fast)
	if err != nil {
		return MACDValue{}, err
	}
	slowSeries, err := EMASeries(closes, slow)
	if err != nil {
		return MACDValue{}, err
	}

	// MACD line is defined from index slow-1 onward.
	line := make([]float64, 0, len(closes)-slow+1)
	for i := slow - 1; i < len(closes); i++ {
		line = append(line, fastSeries[i]-slowSeries[i])
	}

	signalSeries, err := emaOver(line, signal)
	if err != nil {
		return MACDValue{}, err
	}

	v := MACDValue{
		MACD:   line[len(line)-1],
		Signal: signalSeries[len(signalSeries)-1],
	}
	v.Histogram = v.MACD - v.Signal
	return v, nil
}

// emaOver is EMASeries without the period >= 2 floor, for signal lines.
func emaOver(values []float64, period int) ([]float64, error) {
	if len(values) < period {
		return nil, fmt.Errorf("ema(%d) needs %d values, have %d: %w",
			period, period, len(values), ErrInsufficientData)
	}
	series := make([]float64, len(values))
	var seed float64
	for i := 0; i < period; i++ {
		seed += values[i]
	}
	series[period-1] = seed / float64(period)
	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		series[i] = (values[i]-series[i-1])*multiplier + series[i-1]
	}
	return series, nil
}
