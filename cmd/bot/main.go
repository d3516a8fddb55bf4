package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"ScalpSentinel/internal/api"
	"ScalpSentinel/internal/broker"
	"ScalpSentinel/internal/config"
	"ScalpSentinel/internal/logger"
	"ScalpSentinel/internal/metrics"
	"ScalpSentinel/internal/notifier"
	"ScalpSentinel/internal/position"
	"ScalpSentinel/internal/recorder"
	"ScalpSentinel/internal/risk"
	"ScalpSentinel/internal/scanner"
	"ScalpSentinel/internal/scheduler"
	"ScalpSentinel/internal/signals"
	"ScalpSentinel/internal/state"
)

func main() {
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	bootLog := zerolog.New(os.Stderr)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		bootLog.Fatal().Err(err).Str("path", cfgPath).Msg("load config")
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	if err != nil {
		bootLog.Fatal().Err(err).Msg("init logger")
	}
	log.Info().Str("mode", cfg.Mode).Strs("watchlist", cfg.Watchlist).Msg("ScalpSentinel starting")
	log.Debug().Msg("effective config:\n" + cfg.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loc := cfg.Location()
	gw := broker.NewAlpaca(broker.AlpacaConfig{
		KeyID:             cfg.Alpaca.KeyID,
		SecretKey:         cfg.Alpaca.SecretKey,
		TradingURL:        cfg.Alpaca.TradingURL,
		DataURL:           cfg.Alpaca.DataURL,
		Feed:              cfg.Alpaca.Feed,
		ProxyURL:          cfg.Alpaca.Proxy,
		Timeout:           cfg.Alpaca.Timeout,
		RequestsPerSecond: cfg.Alpaca.RequestsPerSecond,
		Burst:             cfg.Alpaca.Burst,
		Location:          loc,
	}, log)

	var store state.Store = state.FileStore{Path: cfg.State.File}
	if cfg.State.Backend == "redis" {
		rs, err := state.NewRedisStore(ctx, cfg.State.RedisAddr, cfg.State.RedisDB, cfg.State.RedisKey)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.State.RedisAddr).Msg("init redis state store")
		}
		defer rs.Close()
		store = rs
	}
	mgr, err := state.NewManager(ctx, store)
	if err != nil {
		log.Fatal().Err(err).Msg("load state")
	}

	var ledger recorder.Ledger
	if cfg.Ledger.Backend == "sqlite" {
		ledger, err = recorder.NewSQLiteLedger(cfg.Ledger.SQLitePath, log)
	} else {
		ledger, err = recorder.NewCSVLedger(cfg.Ledger.CSVPath)
	}
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Ledger.Backend).Msg("init trade ledger")
	}
	defer ledger.Close()

	var sinks []notifier.Sink
	if cfg.Notifiers.Discord.WebhookURL != "" {
		sinks = append(sinks, notifier.NewDiscordNotifier(cfg.Notifiers.Discord.WebhookURL))
	}
	var tg *notifier.TelegramNotifier
	if cfg.Notifiers.Telegram.BotToken != "" && cfg.Notifiers.Telegram.ChatID != "" {
		tg = notifier.NewTelegramNotifier(cfg.Notifiers.Telegram.BotToken, cfg.Notifiers.Telegram.ChatID, cfg.Alpaca.Proxy, log)
		sinks = append(sinks, tg)
	}
	alerts := notifier.NewDispatcher(cfg.Notifiers.QueueSize, log, sinks...)
	go alerts.Run(ctx)

	mr := metrics.New()
	limits := risk.NewLimits(cfg.Risk, ledger, loc, log)
	breaker := risk.NewBreaker(cfg.Risk.CircuitBreaker, mgr, log)

	detector, err := signals.NewDetector(cfg.Signals, loc, gw, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init signal detector")
	}
	open, err := config.ParseClock(cfg.Market.Open)
	if err != nil {
		log.Fatal().Err(err).Msg("parse market open")
	}
	scan := scanner.New(cfg.Scanning, loc, open, gw, mgr, alerts, log)

	machine, err := position.NewMachine(cfg.Trading, loc, gw, detector, mgr, ledger, alerts, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init position machine")
	}

	sched, err := scheduler.New(cfg, scheduler.Deps{
		Gateway:   gw,
		Scanner:   scan,
		Signals:   detector,
		Positions: machine,
		Limits:    limits,
		Breaker:   breaker,
		State:     mgr,
		Trades:    ledger,
		Alerts:    alerts,
		Metrics:   mr,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init scheduler")
	}
	if err := sched.RegisterAll(); err != nil {
		log.Fatal().Err(err).Msg("register cron tasks")
	}
	sched.Start(ctx)
	alerts.Startup(cfg.Mode, sched.NextScan())

	if tg != nil && cfg.Notifiers.Telegram.Commands {
		go tg.StartPolling(ctx, sched.HandleCommand)
		log.Info().Msg("telegram command polling started")
	}

	if cfg.API.Enabled {
		if cfg.Log.Level == "debug" || cfg.Log.Level == "trace" {
			gin.SetMode(gin.DebugMode)
		} else {
			gin.SetMode(gin.ReleaseMode)
		}
		api.New(cfg.API, sched, mr.Handler(), log).Start(ctx)
	}

	if cfg.RunOnStart {
		log.Info().Msg("run_on_start enabled, scanning now")
		go sched.RunScanNow()
	}

	log.Info().Time("next_scan", sched.NextScan()).Msg("ScalpSentinel is running, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutdown signal received, stopping")
	cancel()
	sched.Stop()
	alerts.Wait()
	log.Info().Msg("ScalpSentinel stopped")
}
