package model

import "time"

// BreakerState is the persisted part of the circuit breaker.
type BreakerState struct {
	Open      bool      `json:"open"`
	TrippedAt time.Time `json:"tripped_at,omitempty"`
	Context   string    `json:"context,omitempty"`
}

// Snapshot is the single mutable state document shared by the scheduled tasks.
type Snapshot struct {
	ActiveTickers       []ScoredSymbol `json:"active_tickers"`
	TickerOfTheDay      string         `json:"ticker_of_the_day,omitempty"`
	TickerScore         float64        `json:"ticker_score,omitempty"`
	TickerMetrics       MetricSet      `json:"ticker_metrics,omitempty"`
	TickerSelectionTime time.Time      `json:"ticker_selection_time,omitempty"`
	OpenPosition        *OpenPosition  `json:"open_position"`
	PendingRecords      []TradeRecord  `json:"pending_records,omitempty"`
	Breaker             BreakerState   `json:"breaker"`
	Paused              bool           `json:"paused"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// Clone returns a deep copy so callers never alias the manager's document.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.ActiveTickers != nil {
		out.ActiveTickers = make([]ScoredSymbol, len(s.ActiveTickers))
		for i, t := range s.ActiveTickers {
			out.ActiveTickers[i] = t
			out.ActiveTickers[i].Metrics = cloneMetrics(t.Metrics)
		}
	}
	out.TickerMetrics = cloneMetrics(s.TickerMetrics)
	if s.OpenPosition != nil {
		p := *s.OpenPosition
		out.OpenPosition = &p
	}
	if s.PendingRecords != nil {
		out.PendingRecords = append([]TradeRecord(nil), s.PendingRecords...)
	}
	return out
}

func cloneMetrics(m MetricSet) MetricSet {
	if m == nil {
		return nil
	}
	out := make(MetricSet, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// DailyLimitState is derived from the ledger for one trading date.
type DailyLimitState struct {
	Date         string  `json:"date"`
	TradeCount   int     `json:"trade_count"`
	PnLPct       float64 `json:"pnl_pct"`
	LossLimitHit bool    `json:"loss_limit_hit"`
}
