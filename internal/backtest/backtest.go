// Package backtest replays the decision rules over historical candles with a
// single-lot portfolio model. It reuses the live strategy unchanged, so a
// backtested rule set behaves identically in production.
package backtest

import (
	"fmt"
	"time"

	"botcore/internal/strategy"
	"botcore/internal/venue"
)

// Config drives one simulation run.
type Config struct {
	Params strategy.Params

	InitialBalance float64 // quote currency
	OrderSize      float64 // quote notional per entry
	FeeRate        float64 // taker fee fraction, e.g. 0.001

	// Protective exits, percent of entry price. Zero disables. Checked
	// against the bar's extremes before the signal rules run.
	StopLossPercent   float64
	TakeProfitPercent float64
}

// Trade is one completed round trip.
type Trade struct {
	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	Fees       float64
	PnL        float64
	ExitReason string
}

// Result summarizes a simulation. Drawdown is the worst peak-to-trough of
// cumulative realized PnL, expressed against the starting balance.
type Result struct {
	Trades             []Trade
	TotalPnL           float64
	TotalFees          float64
	EndBalance         float64
	ReturnPercent      float64
	Wins               int
	Losses             int
	WinRate            float64
	MaxDrawdownPercent float64
	BestTrade          float64
	WorstTrade         float64
}

type position struct {
	entryTime  time.Time
	entryPrice float64
	quantity   float64
	entryFee   float64
}

// Run walks the candle series bar by bar. At each bar the strategy sees only
// history up to and including that bar; entries and exits execute at the bar
// close, protective exits at their trigger price.
func Run(candles []venue.Candle, cfg Config) (Result, error) {
	if cfg.InitialBalance <= 0 {
		return Result{}, fmt.Errorf("backtest: initial balance must be positive")
	}
	if cfg.OrderSize <= 0 {
		return Result{}, fmt.Errorf("backtest: order size must be positive")
	}

	closes := venue.Closes(candles)
	balance := cfg.InitialBalance
	res := Result{}
	var pos *position

	closeAt := func(bar venue.Candle, price float64, reason string) {
		notional := pos.quantity * price
		exitFee := notional * cfg.FeeRate
		pnl := pos.quantity*(price-pos.entryPrice) - pos.entryFee - exitFee

		res.Trades = append(res.Trades, Trade{
			EntryTime:  pos.entryTime,
			ExitTime:   bar.Timestamp,
			EntryPrice: pos.entryPrice,
			ExitPrice:  price,
			Quantity:   pos.quantity,
			Fees:       pos.entryFee + exitFee,
			PnL:        pnl,
			ExitReason: reason,
		})
		res.TotalFees += pos.entryFee + exitFee
		balance += notional - exitFee
		pos = nil
	}

	for i, bar := range candles {
		if pos != nil {
			// Protective exits outrank the signal rules.
			if cfg.StopLossPercent > 0 {
				stop := pos.entryPrice * (1 - cfg.StopLossPercent/100)
				if bar.Low <= stop {
					closeAt(bar, stop, "stop loss")
					continue
				}
			}
			if cfg.TakeProfitPercent > 0 {
				target := pos.entryPrice * (1 + cfg.TakeProfitPercent/100)
				if bar.High >= target {
					closeAt(bar, target, "take profit")
					continue
				}
			}
		}

		dec := strategy.Decide(closes[:i+1], cfg.Params)
		switch {
		case dec.Signal == strategy.SignalBuy && pos == nil:
			price := bar.Close
			if price <= 0 {
				break
			}
			notional := cfg.OrderSize
			if notional > balance {
				notional = balance
			}
			if notional <= 0 {
				break
			}
			fee := notional * cfg.FeeRate
			pos = &position{
				entryTime:  bar.Timestamp,
				entryPrice: price,
				quantity:   notional / price,
				entryFee:   fee,
			}
			balance -= notional + fee

		case dec.Signal == strategy.SignalSell && pos != nil:
			closeAt(bar, bar.Close, "signal")
		}
	}

	// Liquidate any open position at the final close so the result is
	// fully realized.
	if pos != nil && len(candles) > 0 {
		closeAt(candles[len(candles)-1], closes[len(closes)-1], "end of data")
	}

	var cum, peak, maxDD float64
	for i, tr := range res.Trades {
		res.TotalPnL += tr.PnL
		if tr.PnL > 0 {
			res.Wins++
		} else {
			res.Losses++
		}
		if i == 0 || tr.PnL > res.BestTrade {
			res.BestTrade = tr.PnL
		}
		if i == 0 || tr.PnL < res.WorstTrade {
			res.WorstTrade = tr.PnL
		}
		cum += tr.PnL
		if cum > peak {
			peak = cum
		}
		if dd := peak - cum; dd > maxDD {
			maxDD = dd
		}
	}
	res.EndBalance = balance
	res.ReturnPercent = (balance - cfg.InitialBalance) / cfg.InitialBalance * 100
	res.MaxDrawdownPercent = maxDD / cfg.InitialBalance * 100
	if n := len(res.Trades); n > 0 {
		res.WinRate = float64(res.Wins) / float64(n)
	}
	return res, nil
}
