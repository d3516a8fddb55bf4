// Package risk implements the account-level controls: daily trade and loss
// limits derived from the ledger, and the sliding-window circuit breaker.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ScalpSentinel/internal/config"
	"ScalpSentinel/internal/model"
)

const dateLayout = "2006-01-02"

// TradeSource is the read side of the trade ledger.
type TradeSource interface {
	Records(ctx context.Context, since time.Time) ([]model.TradeRecord, error)
}

// Decision is the outcome of a limit check. A blocked decision is not an error.
type Decision struct {
	Allowed bool
	Reason  string
	// LatchTripped is true only on the first loss-limit block of a trading date.
	LatchTripped bool
	State        model.DailyLimitState
}

// Limits enforces max trades per day and max cumulative daily loss.
type Limits struct {
	cfg    config.RiskConfig
	trades TradeSource
	loc    *time.Location
	log    zerolog.Logger

	mu        sync.Mutex
	latchDate string
}

func NewLimits(cfg config.RiskConfig, trades TradeSource, loc *time.Location, log zerolog.Logger) *Limits {
	if loc == nil {
		loc = time.UTC
	}
	return &Limits{
		cfg:    cfg,
		trades: trades,
		loc:    loc,
		log:    log.With().Str("component", "risk").Logger(),
	}
}

// State recomputes the trade count and summed pnl for the trading date of now.
func (l *Limits) State(ctx context.Context, now time.Time) (model.DailyLimitState, error) {
	local := now.In(l.loc)
	date := local.Format(dateLayout)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, l.loc)

	recs, err := l.trades.Records(ctx, start)
	if err != nil {
		return model.DailyLimitState{}, fmt.Errorf("read ledger: %w", err)
	}

	st := model.DailyLimitState{Date: date}
	for _, r := range recs {
		if r.Timestamp.In(l.loc).Format(dateLayout) != date {
			continue
		}
		st.TradeCount++
		st.PnLPct += r.PnLPct
	}
	l.mu.Lock()
	st.LossLimitHit = l.latchDate == date
	l.mu.Unlock()
	return st, nil
}

// Check decides whether a new entry is allowed at now.
func (l *Limits) Check(ctx context.Context, now time.Time) (Decision, error) {
	st, err := l.State(ctx, now)
	if err != nil {
		return Decision{}, err
	}

	if st.TradeCount >= l.cfg.MaxTradesPerDay {
		return Decision{
			Reason: fmt.Sprintf("Daily trade limit reached (%d trades)", l.cfg.MaxTradesPerDay),
			State:  st,
		}, nil
	}

	limit := l.cfg.MaxDailyLossPct * 100
	if st.PnLPct <= -limit {
		d := Decision{
			Reason: fmt.Sprintf("Daily loss limit hit (%.2f%%)", st.PnLPct),
			State:  st,
		}
		l.mu.Lock()
		if l.latchDate != st.Date {
			l.latchDate = st.Date
			d.LatchTripped = true
		}
		l.mu.Unlock()
		if d.LatchTripped {
			d.State.LossLimitHit = true
			l.log.Error().Float64("pnl_pct", st.PnLPct).Float64("limit_pct", limit).Msg("daily loss limit hit")
		}
		return d, nil
	}

	return Decision{Allowed: true, State: st}, nil
}
