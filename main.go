package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"botcore/internal/api"
	"botcore/internal/backtest"
	"botcore/internal/config"
	"botcore/internal/engine"
	"botcore/internal/events"
	"botcore/internal/logger"
	"botcore/internal/market"
	"botcore/internal/notify"
	"botcore/internal/reconcile"
	"botcore/internal/recovery"
	"botcore/internal/risk"
	"botcore/internal/tracker"
	"botcore/internal/venue"
	"botcore/internal/venue/binance"
	"botcore/pkg/db"
)

const version = "1.2.0"

func main() {
	var (
		backtestCSV = flag.String("backtest", "", "replay the strategy over a candle CSV instead of trading")
		backtestBot = flag.String("bot", "", "bot id whose parameters drive the backtest (default: first active)")
		btBalance   = flag.Float64("balance", 10000, "backtest starting balance in quote currency")
		btFee       = flag.Float64("fee", 0.001, "backtest taker fee rate")
		btStopLoss  = flag.Float64("stop-loss", 0, "backtest stop loss percent (0 disables)")
		btTakeProf  = flag.Float64("take-profit", 0, "backtest take profit percent (0 disables)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		Output:     cfg.LogOutput,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})

	bots, err := config.LoadBots(cfg.BotsFile)
	if err != nil {
		log.WithError(err).Fatal("load bot definitions")
	}

	if *backtestCSV != "" {
		bt := backtestRun{
			csvPath:    *backtestCSV,
			botID:      *backtestBot,
			balance:    *btBalance,
			feeRate:    *btFee,
			stopLoss:   *btStopLoss,
			takeProfit: *btTakeProf,
		}
		if err := runBacktest(log, bots, bt); err != nil {
			log.WithError(err).Fatal("backtest failed")
		}
		return
	}

	runLive(cfg, log, bots)
}

func runLive(cfg *config.Config, log *logrus.Logger, bots []config.BotConfig) {
	if !cfg.HasVenueCredentials() && !cfg.DryRun {
		log.Fatal("no venue credentials configured; set BINANCE_API_KEY/BINANCE_API_SECRET or DRY_RUN=true")
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer database.Close()
	if err := database.ApplyMigrations(); err != nil {
		log.WithError(err).Fatal("apply migrations")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adapter := binance.New(cfg.BinanceAPIKey, cfg.BinanceAPISecret, cfg.BinanceTestnet, log)
	bus := events.NewBus()
	cache := market.NewCache(maxCandleLimit(bots))

	console := notify.NewConsole(log)
	batcher := notify.NewBatcher(console)
	alerts := notify.NewThrottle(console, cfg.AlertCooldown)

	matcher := reconcile.NewMatcher(database, log)
	// Sync runs inside the batch, so its notifications join the batch flush.
	trk := tracker.New(database, adapter, matcher, batcher, bus, log)

	// Reconverge the ledger with the venue before the first batch.
	rec := recovery.New(database, adapter, matcher, log)
	if err := rec.Recover(ctx, bots); err != nil {
		log.WithError(err).Error("startup recovery failed, continuing with local state")
	}

	eng := engine.New(engine.Deps{
		DB:       database,
		Venue:    adapter,
		Gate:     risk.NewGate(database, adapter),
		Tracker:  trk,
		Matcher:  matcher,
		Notifier: batcher,
		Alerts:   alerts,
		Bus:      bus,
		Cache:    cache,
		Log:      log,
	}, engine.Options{
		Retry:        venue.RetryPolicy{Attempts: cfg.VenueRetries + 1, Delay: cfg.VenueRetryDelay},
		VenueTimeout: cfg.VenueTimeout,
		GlobalDryRun: cfg.DryRun,
	}, bots)

	stopStreams := startKlineStreams(ctx, cfg, log, bots, cache)
	defer stopStreams()

	botIDs := make([]string, 0, len(bots))
	for _, b := range bots {
		if b.Active {
			botIDs = append(botIDs, b.ID)
		}
	}
	server := api.NewServer(bus, database, log, api.SystemMeta{
		DryRun:      cfg.DryRun,
		Venue:       "binance",
		Bots:        botIDs,
		RunInterval: cfg.RunInterval,
		Version:     version,
	})
	httpSrv := &http.Server{Addr: ":" + cfg.Port, Handler: server.Router}
	go func() {
		log.WithField("addr", httpSrv.Addr).Info("api listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("api server stopped")
		}
	}()

	log.WithFields(logrus.Fields{
		"bots":     len(botIDs),
		"interval": cfg.RunInterval.String(),
		"dry_run":  cfg.DryRun,
		"run_once": cfg.RunOnce,
		"version":  version,
	}).Info("engine starting")

	eng.Run(ctx, cfg.RunInterval, cfg.RunOnce)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("api shutdown")
	}
	log.Info("engine stopped")
}

// startKlineStreams keeps the candle cache warm from public websockets. A
// stream failure only degrades the fallback, so errors are logged and
// skipped.
func startKlineStreams(ctx context.Context, cfg *config.Config, log *logrus.Logger, bots []config.BotConfig, cache *market.Cache) func() {
	streams := binance.NewStreamClient(cfg.BinanceTestnet, log)
	var stops []func()
	for _, bot := range bots {
		if !bot.Active {
			continue
		}
		ch, stop, err := streams.SubscribeKlines(ctx, bot.Symbol, bot.Timeframe)
		if err != nil {
			log.WithError(err).WithField("symbol", bot.Symbol).Warn("kline stream unavailable")
			continue
		}
		stops = append(stops, stop)
		go func(symbol, timeframe string, ch <-chan venue.Candle) {
			for candle := range ch {
				cache.Append(symbol, timeframe, candle)
			}
		}(bot.Symbol, bot.Timeframe, ch)
	}
	return func() {
		for _, stop := range stops {
			stop()
		}
	}
}

type backtestRun struct {
	csvPath    string
	botID      string
	balance    float64
	feeRate    float64
	stopLoss   float64
	takeProfit float64
}

func runBacktest(log *logrus.Logger, bots []config.BotConfig, bt backtestRun) error {
	var bot *config.BotConfig
	for i := range bots {
		if bt.botID == "" && bots[i].Active {
			bot = &bots[i]
			break
		}
		if bots[i].ID == bt.botID {
			bot = &bots[i]
			break
		}
	}
	if bot == nil {
		return fmt.Errorf("no bot found for backtest (id %q)", bt.botID)
	}

	candles, err := backtest.LoadCSV(bt.csvPath)
	if err != nil {
		return err
	}

	res, err := backtest.Run(candles, backtest.Config{
		Params: engine.ParamsFor(*bot),
		// The portfolio model is quote-denominated, so order size is
		// treated as quote notional regardless of the bot's sizing unit.
		InitialBalance:    bt.balance,
		OrderSize:         bot.OrderSize,
		FeeRate:           bt.feeRate,
		StopLossPercent:   bt.stopLoss,
		TakeProfitPercent: bt.takeProfit,
	})
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"bot":     bot.ID,
		"candles": len(candles),
		"trades":  len(res.Trades),
	}).Info("backtest complete")
	fmt.Printf("bot %s over %d candles\n", bot.ID, len(candles))
	fmt.Printf("  trades:        %d (%d wins / %d losses, %.1f%% win rate)\n",
		len(res.Trades), res.Wins, res.Losses, res.WinRate*100)
	fmt.Printf("  total pnl:     %.4f (return %.2f%%)\n", res.TotalPnL, res.ReturnPercent)
	fmt.Printf("  fees paid:     %.4f\n", res.TotalFees)
	fmt.Printf("  max drawdown:  %.2f%%\n", res.MaxDrawdownPercent)
	if len(res.Trades) > 0 {
		fmt.Printf("  best/worst:    %.4f / %.4f\n", res.BestTrade, res.WorstTrade)
	}
	for _, tr := range res.Trades {
		fmt.Printf("  %s -> %s  %.8f @ %.4f -> %.4f  pnl %.4f (%s)\n",
			tr.EntryTime.Format("2006-01-02 15:04"), tr.ExitTime.Format("2006-01-02 15:04"),
			tr.Quantity, tr.EntryPrice, tr.ExitPrice, tr.PnL, tr.ExitReason)
	}
	return nil
}

func maxCandleLimit(bots []config.BotConfig) int {
	limit := 0
	for _, b := range bots {
		if b.CandleLimit > limit {
			limit = b.CandleLimit
		}
	}
	return limit
}
