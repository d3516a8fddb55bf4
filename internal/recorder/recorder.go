// Package recorder keeps the append-only trade ledger.
package recorder

import (
	"context"
	"time"

	"ScalpSentinel/internal/model"
)

// Ledger persists closed trades. Rows are immutable once appended.
type Ledger interface {
	Append(ctx context.Context, rec model.TradeRecord) error
	// Records returns rows with Timestamp at or after since, in append order.
	Records(ctx context.Context, since time.Time) ([]model.TradeRecord, error)
	Close() error
}

// Stats summarizes closed trades.
type Stats struct {
	Total       int     `json:"total"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	WinRate     float64 `json:"win_rate"`
	AvgWin      float64 `json:"avg_win"`
	AvgLoss     float64 `json:"avg_loss"`
	Best        float64 `json:"best"`
	Worst       float64 `json:"worst"`
	TotalPnLPct float64 `json:"total_pnl_pct"`
}

// Summarize computes performance statistics over records. A trade with pnl > 0 is a win.
func Summarize(records []model.TradeRecord) Stats {
	var s Stats
	var winSum, lossSum float64
	for i, r := range records {
		s.Total++
		s.TotalPnLPct += r.PnLPct
		if r.PnLPct > 0 {
			s.Wins++
			winSum += r.PnLPct
		} else {
			s.Losses++
			lossSum += r.PnLPct
		}
		if i == 0 || r.PnLPct > s.Best {
			s.Best = r.PnLPct
		}
		if i == 0 || r.PnLPct < s.Worst {
			s.Worst = r.PnLPct
		}
	}
	if s.Total > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Total) * 100
	}
	if s.Wins > 0 {
		s.AvgWin = winSum / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLoss = lossSum / float64(s.Losses)
	}
	return s
}
