package scheduler

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/moznion/go-optional"

	"ScalpSentinel/internal/model"
	"ScalpSentinel/internal/recorder"
	"ScalpSentinel/internal/risk"
)

// PositionStatus is the open position with its live valuation.
type PositionStatus struct {
	model.OpenPosition
	CurrentPrice float64 `json:"current_price,omitempty"`
	PnLPct       float64 `json:"pnl_pct"`
	Priced       bool    `json:"priced"`
}

// Status is the health report served by /status and the API.
type Status struct {
	Time           time.Time             `json:"time"`
	Mode           string                `json:"mode"`
	MarketOpen     bool                  `json:"market_open"`
	Paused         bool                  `json:"paused"`
	Phase          model.Phase           `json:"phase"`
	Breaker        risk.BreakerStatus    `json:"circuit_breaker"`
	Position       *PositionStatus       `json:"position"`
	ActiveTickers  []model.ScoredSymbol  `json:"active_tickers"`
	TickerOfTheDay string                `json:"ticker_of_the_day,omitempty"`
	LastScan       time.Time             `json:"last_scan,omitempty"`
	DailyLimits    model.DailyLimitState `json:"daily_limits"`
	Blocked        string                `json:"blocked,omitempty"`
	TodayTrades    []model.TradeRecord   `json:"today_trades"`
	Performance    recorder.Stats        `json:"performance"`
}

// Pause stops new entries. Open positions keep being monitored.
func (s *Scheduler) Pause(ctx context.Context) error {
	if err := s.deps.State.SetPaused(ctx, true); err != nil {
		return err
	}
	s.log.Warn().Msg("trading paused by operator")
	s.deps.Metrics.SetPaused(true)
	s.deps.Alerts.Paused()
	return nil
}

func (s *Scheduler) Resume(ctx context.Context) error {
	if err := s.deps.State.SetPaused(ctx, false); err != nil {
		return err
	}
	s.log.Info().Msg("trading resumed by operator")
	s.deps.Metrics.SetPaused(false)
	s.deps.Alerts.Resumed()
	return nil
}

// ForceClose closes the open position immediately, ignoring pause and the exit rules.
func (s *Scheduler) ForceClose(ctx context.Context) (optional.Option[model.TradeRecord], error) {
	pos, err := s.deps.Positions.Current().Take()
	if err != nil {
		s.log.Warn().Msg("no position to force close")
		return optional.None[model.TradeRecord](), nil
	}
	s.deps.Alerts.ForceClosing(pos.Ticker)
	rec, err := s.deps.Positions.ForceClose(ctx, model.ExitManual)
	if closed, takeErr := rec.Take(); takeErr == nil {
		s.deps.Metrics.TradeClosed(closed.ExitReason)
		s.deps.Metrics.SetPositionOpen(false)
	}
	if err != nil {
		s.log.Error().Err(err).Str("option", pos.OptionSymbol).Msg("force close failed")
		s.deps.Alerts.Error("force close", err)
		return rec, err
	}
	return rec, nil
}

// ResetBreaker closes the circuit breaker after operator review.
func (s *Scheduler) ResetBreaker(ctx context.Context) error {
	if err := s.deps.Breaker.Reset(ctx); err != nil {
		return err
	}
	s.deps.Metrics.SetBreakerOpen(false)
	s.deps.Alerts.Text("✅ Circuit breaker reset", "Scheduled operations resume on the next tick.")
	return nil
}

// Status assembles the health report. Ledger failures are returned; a missing
// option quote only leaves the position unpriced.
func (s *Scheduler) Status(ctx context.Context) (Status, error) {
	now := s.Now()
	snap := s.deps.State.Snapshot()
	st := Status{
		Time:           now,
		Mode:           s.cfg.Mode,
		MarketOpen:     s.MarketOpen(now),
		Paused:         snap.Paused,
		Phase:          s.deps.Positions.Phase(),
		Breaker:        s.deps.Breaker.State(),
		ActiveTickers:  snap.ActiveTickers,
		TickerOfTheDay: snap.TickerOfTheDay,
	}
	s.mu.Lock()
	st.Blocked = s.lastBlock
	st.LastScan = s.lastScan
	s.mu.Unlock()
	if st.LastScan.IsZero() {
		st.LastScan = snap.TickerSelectionTime
	}

	if pos, err := s.deps.Positions.Current().Take(); err == nil {
		ps := &PositionStatus{OpenPosition: pos}
		if quote, err := s.deps.Gateway.OptionMarketPrice(ctx, pos.OptionSymbol); err == nil {
			if price, err := quote.Take(); err == nil {
				ps.CurrentPrice, ps.PnLPct, ps.Priced = price, pos.PnLPct(price), true
			}
		}
		st.Position = ps
	}

	limits, err := s.deps.Limits.State(ctx, now)
	if err != nil {
		return st, err
	}
	st.DailyLimits = limits

	all, err := s.deps.Trades.Records(ctx, time.Time{})
	if err != nil {
		return st, fmt.Errorf("read ledger: %w", err)
	}
	st.Performance = recorder.Summarize(all)
	for _, r := range all {
		if r.Timestamp.In(s.loc).Format("2006-01-02") == limits.Date {
			st.TodayTrades = append(st.TodayTrades, r)
		}
	}
	return st, nil
}

const helpText = "Available commands:\n" +
	"/status - bot health, position and daily stats\n" +
	"/pause - stop new entries\n" +
	"/resume - allow new entries\n" +
	"/close - force close the open position\n" +
	"/reset - reset the circuit breaker\n" +
	"/scan - run the pre-market scan now"

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(command string) string {
	ctx := s.ctx
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return helpText
	}
	name := strings.ToLower(fields[0])
	if i := strings.IndexByte(name, '@'); i > 0 {
		name = name[:i] // "/status@MyBot" in group chats
	}

	switch name {
	case "/status":
		st, err := s.Status(ctx)
		if err != nil {
			return "⚠️ status unavailable: " + html.EscapeString(err.Error())
		}
		return FormatStatus(st)
	case "/pause":
		if err := s.Pause(ctx); err != nil {
			return "⚠️ pause failed: " + html.EscapeString(err.Error())
		}
		return ""
	case "/resume":
		if err := s.Resume(ctx); err != nil {
			return "⚠️ resume failed: " + html.EscapeString(err.Error())
		}
		return ""
	case "/close", "/forceclose":
		rec, err := s.ForceClose(ctx)
		if err != nil && rec.IsSome() {
			return "⚠️ position sold, state not saved yet: " + html.EscapeString(err.Error())
		}
		if err != nil {
			return "⚠️ force close failed: " + html.EscapeString(err.Error())
		}
		if rec.IsNone() {
			return "No open position."
		}
		return ""
	case "/reset":
		if err := s.ResetBreaker(ctx); err != nil {
			return "⚠️ reset failed: " + html.EscapeString(err.Error())
		}
		return ""
	case "/scan":
		s.RunScanNow()
		return ""
	default:
		return helpText
	}
}

// FormatStatus renders a status report in Telegram's HTML subset.
func FormatStatus(st Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>Bot Status</b> | %s\n\n", st.Time.Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "Mode: %s\n", strings.ToUpper(st.Mode))
	fmt.Fprintf(&b, "Market: %s\n", openClosed(st.MarketOpen))
	fmt.Fprintf(&b, "Paused: %v\n", st.Paused)
	if st.Breaker.Open {
		fmt.Fprintf(&b, "Circuit breaker: OPEN (%s since %s)\n", html.EscapeString(st.Breaker.Context),
			st.Breaker.TrippedAt.Format("15:04"))
	} else {
		fmt.Fprintf(&b, "Circuit breaker: closed (%d recent errors)\n", st.Breaker.ErrorsInWindow)
	}
	if st.Blocked != "" {
		fmt.Fprintf(&b, "Entries blocked: %s\n", html.EscapeString(st.Blocked))
	}

	b.WriteString("\n<b>Position</b>\n")
	if p := st.Position; p != nil {
		fmt.Fprintf(&b, "%s %dx @ $%.2f\n", html.EscapeString(p.OptionSymbol), p.Contracts, p.EntryPrice)
		if p.Priced {
			fmt.Fprintf(&b, "Now $%.2f (%+.2f%%)\n", p.CurrentPrice, p.PnLPct)
		}
	} else {
		b.WriteString("flat\n")
	}

	if len(st.ActiveTickers) > 0 {
		b.WriteString("\n<b>Active tickers</b>\n")
		for _, t := range st.ActiveTickers {
			fmt.Fprintf(&b, "#%d %s (%.3f)\n", t.Rank, html.EscapeString(t.Symbol), t.Score)
		}
	}

	b.WriteString("\n<b>Today</b>\n")
	fmt.Fprintf(&b, "Trades: %d | P/L: %+.2f%%\n", st.DailyLimits.TradeCount, st.DailyLimits.PnLPct)

	p := st.Performance
	b.WriteString("\n<b>Performance</b>\n")
	fmt.Fprintf(&b, "Total: %d | Wins: %d | Losses: %d | Win rate: %.1f%%\n", p.Total, p.Wins, p.Losses, p.WinRate)
	fmt.Fprintf(&b, "Avg win: %+.2f%% | Avg loss: %+.2f%%\n", p.AvgWin, p.AvgLoss)
	fmt.Fprintf(&b, "Best: %+.2f%% | Worst: %+.2f%%", p.Best, p.Worst)
	return b.String()
}

func openClosed(open bool) string {
	if open {
		return "open"
	}
	return "closed"
}
