// Package scheduler drives the engine: the pre-market scan, the signal poll and
// the position monitor run as cron jobs, and operator commands are methods on
// the owned Scheduler.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/moznion/go-optional"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"ScalpSentinel/internal/apperr"
	"ScalpSentinel/internal/broker"
	"ScalpSentinel/internal/config"
	"ScalpSentinel/internal/logger"
	"ScalpSentinel/internal/metrics"
	"ScalpSentinel/internal/model"
	"ScalpSentinel/internal/position"
	"ScalpSentinel/internal/risk"
	"ScalpSentinel/internal/strategy"
)

type Scanner interface {
	Run(ctx context.Context, watchlist []string) (optional.Option[model.ScanResult], error)
}

type SignalSource interface {
	Evaluate(ctx context.Context, symbol string) (optional.Option[model.Signal], error)
}

type Positions interface {
	Enter(ctx context.Context, req position.EntryRequest) (optional.Option[model.OpenPosition], error)
	Monitor(ctx context.Context) (optional.Option[model.TradeRecord], error)
	ForceClose(ctx context.Context, reason string) (optional.Option[model.TradeRecord], error)
	Current() optional.Option[model.OpenPosition]
	Phase() model.Phase
}

type Limits interface {
	Check(ctx context.Context, now time.Time) (risk.Decision, error)
	State(ctx context.Context, now time.Time) (model.DailyLimitState, error)
}

type Snapshots interface {
	Snapshot() model.Snapshot
	SetPaused(ctx context.Context, paused bool) error
}

// Alerter is the notification surface used by the scheduler.
type Alerter interface {
	Signal(sig model.Signal)
	Error(where string, err error)
	BreakerTripped(st model.BreakerState)
	DailyLimit(limitPct float64, st model.DailyLimitState)
	Paused()
	Resumed()
	ForceClosing(ticker string)
	Text(title, body string)
}

// Deps are the collaborators the scheduler orchestrates.
type Deps struct {
	Gateway   broker.Gateway
	Scanner   Scanner
	Signals   SignalSource
	Positions Positions
	Limits    Limits
	Breaker   *risk.Breaker
	State     Snapshots
	Trades    risk.TradeSource
	Alerts    Alerter
	Metrics   *metrics.Recorder
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	cfg         *config.Config
	deps        Deps
	loc         *time.Location
	marketOpen  config.Clock
	marketClose config.Clock
	log         zerolog.Logger

	cron   *cron.Cron
	scanID cron.EntryID
	ctx    context.Context

	// Now is the clock used by the market-hours gate and risk checks.
	Now func() time.Time

	mu        sync.Mutex
	lastBlock string
	lastScan  time.Time
}

func New(cfg *config.Config, deps Deps, log zerolog.Logger) (*Scheduler, error) {
	open, err := config.ParseClock(cfg.Market.Open)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeConfiguration, "market.open", err)
	}
	closeAt, err := config.ParseClock(cfg.Market.Close)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeConfiguration, "market.close", err)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	loc := cfg.Location()
	s := &Scheduler{
		cfg:         cfg,
		deps:        deps,
		loc:         loc,
		marketOpen:  open,
		marketClose: closeAt,
		log:         log.With().Str("component", "scheduler").Logger(),
		ctx:         context.Background(),
		Now:         time.Now,
	}

	cl := logger.CronLogger{Log: s.log}
	s.cron = cron.New(
		cron.WithSeconds(),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	deps.Breaker.OnTrip(func(st model.BreakerState) {
		s.deps.Metrics.SetBreakerOpen(true)
		s.deps.Alerts.BreakerTripped(st)
	})
	s.deps.Metrics.SetBreakerOpen(deps.Breaker.IsOpen())
	s.deps.Metrics.SetPaused(deps.State.Snapshot().Paused)
	s.deps.Metrics.SetPositionOpen(deps.Positions.Current().IsSome())
	return s, nil
}

// RegisterAll registers the scan, signal poll and position monitor jobs.
func (s *Scheduler) RegisterAll() error {
	id, err := s.cron.AddFunc(s.cfg.Scanning.Cron, s.job("scan", s.RunScan))
	if err != nil {
		return fmt.Errorf("register scan task: %w", err)
	}
	s.scanID = id
	s.cron.Schedule(cron.Every(s.cfg.Signals.PollInterval), cron.FuncJob(s.job("signals", s.PollSignals)))
	s.cron.Schedule(cron.Every(s.cfg.Trading.MonitorInterval), cron.FuncJob(s.job("monitor", s.MonitorPosition)))
	return nil
}

func (s *Scheduler) job(task string, fn func(context.Context)) func() {
	return func() {
		start := time.Now()
		fn(s.ctx)
		s.deps.Metrics.ObserveTick(task, time.Since(start))
	}
}

// Start starts the cron scheduler. Jobs run with ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.log.Info().Str("scan", s.cfg.Scanning.Cron).Dur("poll", s.cfg.Signals.PollInterval).
		Dur("monitor", s.cfg.Trading.MonitorInterval).Msg("scheduler started")
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// NextScan returns the next scheduled scan, or zero before Start.
func (s *Scheduler) NextScan() time.Time {
	return s.cron.Entry(s.scanID).Next
}

// RunScanNow executes the scan immediately (for manual trigger / RUN_ON_START).
func (s *Scheduler) RunScanNow() {
	s.job("scan", s.RunScan)()
}

// MarketOpen reports whether now falls in the regular weekday session.
func (s *Scheduler) MarketOpen(now time.Time) bool {
	local := now.In(s.loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !local.Before(s.marketOpen.On(local, s.loc)) && !local.After(s.marketClose.On(local, s.loc))
}

func (s *Scheduler) recordError(ctx context.Context, where string, err error) {
	if ctx.Err() != nil {
		s.log.Debug().Err(err).Str("context", where).Msg("task interrupted by shutdown")
		return
	}
	s.log.Error().Err(err).Str("context", where).Msg("task failed")
	s.deps.Metrics.Error(where)
	s.deps.Alerts.Error(where, err)
	s.deps.Breaker.Record(ctx, s.Now(), where)
}

// RunScan runs the pre-market scan.
func (s *Scheduler) RunScan(ctx context.Context) {
	if s.deps.Breaker.IsOpen() {
		s.log.Debug().Msg("circuit breaker open, skipping scan")
		return
	}
	res, err := s.deps.Scanner.Run(ctx, s.cfg.Watchlist)
	if err != nil {
		s.deps.Metrics.Scan("error")
		s.recordError(ctx, "scan", err)
		return
	}
	if res.IsNone() {
		s.deps.Metrics.Scan("none")
		return
	}
	s.deps.Metrics.Scan("selected")
	s.mu.Lock()
	s.lastScan = s.Now()
	s.mu.Unlock()
}

// PollSignals evaluates the active tickers in rank order and trades the first signal.
func (s *Scheduler) PollSignals(ctx context.Context) {
	now := s.Now()
	if !s.MarketOpen(now) {
		s.log.Debug().Msg("market closed, skipping signal evaluation")
		return
	}
	snap := s.deps.State.Snapshot()
	if snap.Paused {
		s.log.Debug().Msg("bot is paused, skipping signal evaluation")
		return
	}
	if s.deps.Breaker.IsOpen() {
		s.log.Debug().Msg("circuit breaker open, skipping signal poll")
		return
	}

	decision, err := s.deps.Limits.Check(ctx, now)
	if err != nil {
		s.recordError(ctx, "signal", err)
		return
	}
	s.setBlock(decision.Reason)
	if !decision.Allowed {
		s.log.Debug().Str("reason", decision.Reason).Msg("daily limits block new entries")
		if decision.LatchTripped {
			s.deps.Alerts.DailyLimit(s.cfg.Risk.MaxDailyLossPct*100, decision.State)
		}
		return
	}

	if s.deps.Positions.Current().IsSome() || s.deps.Positions.Phase() != model.PhaseFlat {
		s.log.Debug().Msg("position already open, skipping new signals")
		return
	}

	tickers := activeSymbols(snap)
	if len(tickers) == 0 {
		s.log.Debug().Msg("no active tickers, waiting for scan")
		return
	}

	var firstErr error
	for _, symbol := range tickers {
		sig, err := s.deps.Signals.Evaluate(ctx, symbol)
		if err != nil {
			s.log.Error().Err(err).Str("symbol", symbol).Msg("signal evaluation failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		found, err := sig.Take()
		if err != nil {
			continue
		}
		s.deps.Metrics.Signal(found.Symbol, string(found.Direction))
		s.deps.Alerts.Signal(found)
		if err := s.executeTrade(ctx, found); err != nil {
			s.recordError(ctx, "trade", err)
		}
		break
	}
	if firstErr != nil {
		s.recordError(ctx, "signal", firstErr)
	}
}

func activeSymbols(snap model.Snapshot) []string {
	if len(snap.ActiveTickers) > 0 {
		out := make([]string, len(snap.ActiveTickers))
		for i, t := range snap.ActiveTickers {
			out[i] = t.Symbol
		}
		return out
	}
	if snap.TickerOfTheDay != "" {
		return []string{snap.TickerOfTheDay}
	}
	return nil
}

func (s *Scheduler) executeTrade(ctx context.Context, sig model.Signal) error {
	underlying, err := s.deps.Gateway.LatestPrice(ctx, sig.Symbol)
	if err != nil {
		return fmt.Errorf("underlying price for %s: %w", sig.Symbol, err)
	}
	chain, err := s.deps.Gateway.OptionChain(ctx, sig.Symbol, optional.None[time.Time]())
	if err != nil {
		return fmt.Errorf("option chain for %s: %w", sig.Symbol, err)
	}

	t := s.cfg.Trading
	picked := strategy.SelectContract(sig.Direction, underlying, chain, s.Now(), strategy.SelectionConfig{
		MaxDTEDays:      t.MaxOptionDTEDays,
		ATMTolerancePct: t.ATMTolerancePct,
		MaxOTMPct:       t.MaxOTMPct,
	})
	contract, err := picked.Take()
	if err != nil {
		s.log.Warn().Str("symbol", sig.Symbol).Int("chain", len(chain)).Msg("no suitable option contract found")
		return nil
	}

	cash, err := s.deps.Gateway.CashBalance(ctx)
	if err != nil {
		return fmt.Errorf("cash balance: %w", err)
	}
	qty := strategy.SizePosition(cash, t.MaxRiskPct, contract.Price)
	if qty <= 0 {
		s.log.Warn().Float64("cash", cash).Float64("price", contract.Price).Msg("insufficient funds for trade")
		return nil
	}

	s.log.Info().Str("option", contract.Symbol).Int("contracts", qty).Float64("price", contract.Price).Msg("placing order")
	opened, err := s.deps.Positions.Enter(ctx, position.EntryRequest{
		Ticker:    sig.Symbol,
		Direction: sig.Direction,
		Contract:  contract,
		Contracts: qty,
	})
	// a fill can arrive with a storage error; the position is held either way
	s.deps.Metrics.SetPositionOpen(opened.IsSome())
	return err
}

// MonitorPosition applies the exit rules to the open position. Pause does not stop exits.
func (s *Scheduler) MonitorPosition(ctx context.Context) {
	if !s.MarketOpen(s.Now()) {
		s.log.Debug().Msg("market closed, skipping position monitor")
		return
	}
	if s.deps.Breaker.IsOpen() {
		s.log.Debug().Msg("circuit breaker open, skipping position monitor")
		return
	}
	rec, err := s.deps.Positions.Monitor(ctx)
	if closed, takeErr := rec.Take(); takeErr == nil {
		s.deps.Metrics.TradeClosed(closed.ExitReason)
		s.deps.Metrics.SetPositionOpen(false)
	}
	if err != nil {
		s.recordError(ctx, "monitor", err)
	}
}

func (s *Scheduler) setBlock(reason string) {
	s.mu.Lock()
	s.lastBlock = reason
	s.mu.Unlock()
}
