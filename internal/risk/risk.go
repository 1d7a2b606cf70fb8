// Package risk gates BUY signals before any order is created. Checks run in
// a fixed order and the first failing check wins; any data error fails
// closed (BUY suppressed).
package risk

import (
	"context"
	"fmt"
	"time"

	"botcore/internal/config"
	"botcore/internal/venue"
	"botcore/pkg/db"
)

// Verdict is the outcome of a gate evaluation. Reason is human-readable and
// goes straight into the decision log.
type Verdict struct {
	Allowed bool
	Reason  string
}

func deny(format string, args ...any) Verdict {
	return Verdict{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// Gate evaluates per-bot risk limits against the ledger and venue balances.
type Gate struct {
	db    *db.Database
	venue venue.Adapter
	now   func() time.Time
}

func NewGate(database *db.Database, adapter venue.Adapter) *Gate {
	return &Gate{db: database, venue: adapter, now: time.Now}
}

// CheckBuy returns whether the bot may open a new position right now.
func (g *Gate) CheckBuy(ctx context.Context, bot config.BotConfig) (Verdict, error) {
	// One position per bot. In-flight buys count as exposure.
	open, err := g.db.HasOpenPosition(ctx, bot.ID)
	if err != nil {
		return deny("position check failed"), err
	}
	if open {
		return deny("position already open"), nil
	}

	if bot.MaxDailyLoss > 0 {
		pnl, err := g.db.DailyRealizedPnL(ctx, bot.ID, g.now().UTC())
		if err != nil {
			return deny("daily pnl check failed"), err
		}
		if -pnl >= bot.MaxDailyLoss {
			return deny("daily loss limit reached (%.2f of %.2f)", -pnl, bot.MaxDailyLoss), nil
		}
	}

	if bot.MaxConsecutiveLosses > 0 {
		losses, err := g.db.ConsecutiveLosses(ctx, bot.ID)
		if err != nil {
			return deny("loss streak check failed"), err
		}
		if losses >= bot.MaxConsecutiveLosses {
			return deny("loss streak limit reached (%d)", losses), nil
		}
	}

	if bot.MaxDrawdownPercent > 0 {
		pnls, err := g.db.ClosedLotPnLs(ctx, bot.ID)
		if err != nil {
			return deny("drawdown check failed"), err
		}
		if dd := maxDrawdown(pnls); dd > 0 {
			stake := bot.OrderSize
			if bot.SizingUnit == config.SizingBase {
				price, err := g.venue.GetPrice(ctx, bot.Symbol)
				if err != nil {
					return deny("drawdown check failed"), err
				}
				stake = bot.OrderSize * price
			}
			if limit := bot.MaxDrawdownPercent / 100 * stake; dd >= limit {
				return deny("drawdown limit reached (%.2f of %.2f)", dd, limit), nil
			}
		}
	}

	if bot.CooldownMinutes > 0 {
		last, err := g.db.LastOpenAt(ctx, bot.ID)
		if err != nil {
			return deny("cooldown check failed"), err
		}
		if last != nil {
			cooldown := time.Duration(bot.CooldownMinutes) * time.Minute
			if elapsed := g.now().Sub(*last); elapsed < cooldown {
				return deny("cooldown active (%s remaining)", (cooldown - elapsed).Round(time.Second)), nil
			}
		}
	}

	// Balance is checked last so cheaper ledger checks short-circuit the
	// venue call. Dry runs never spend, so they skip it.
	if !bot.DryRun {
		quote := quoteAsset(bot.Symbol)
		free, err := g.venue.GetBalance(ctx, quote)
		if err != nil {
			return deny("balance check failed"), err
		}
		needed := bot.OrderSize
		if bot.SizingUnit == config.SizingBase {
			price, err := g.venue.GetPrice(ctx, bot.Symbol)
			if err != nil {
				return deny("price check failed"), err
			}
			needed = bot.OrderSize * price
		}
		if free < needed {
			return deny("insufficient %s balance (%.2f < %.2f)", quote, free, needed), nil
		}
	}

	return Verdict{Allowed: true, Reason: "all risk checks passed"}, nil
}

// maxDrawdown is the worst peak-to-trough of cumulative realized PnL over
// closed lots in close order.
func maxDrawdown(pnls []float64) float64 {
	var cum, peak, worst float64
	for _, pnl := range pnls {
		cum += pnl
		if cum > peak {
			peak = cum
		}
		if dd := peak - cum; dd > worst {
			worst = dd
		}
	}
	return worst
}

// quoteAsset extracts the quote currency from a concatenated pair symbol.
func quoteAsset(symbol string) string {
	for _, q := range []string{"USDT", "USDC", "BUSD", "BTC", "ETH", "BNB"} {
		if len(symbol) > len(q) && symbol[len(symbol)-len(q):] == q {
			return q
		}
	}
	return "USDT"
}
