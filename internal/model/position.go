package model

import "time"

// OpenPosition is the single live option position. At most one exists at a time.
type OpenPosition struct {
	Ticker       string    `json:"ticker"`
	Direction    Direction `json:"direction"`
	OptionSymbol string    `json:"option_symbol"`
	Strike       float64   `json:"strike"`
	Expiration   time.Time `json:"expiration"`
	Contracts    int       `json:"contracts"`
	EntryPrice   float64   `json:"entry_price"`
	EntryTime    time.Time `json:"entry_time"`
	OrderID      string    `json:"order_id"`
}

// PnLPct returns the percentage gain of price over the entry price.
func (p OpenPosition) PnLPct(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice * 100.0
}

// Phase is the lifecycle state of the position machine.
type Phase string

const (
	PhaseFlat    Phase = "flat"
	PhaseOpen    Phase = "open"
	PhaseClosing Phase = "closing"
)

// Exit reasons recorded on a TradeRecord.
const (
	ExitProfitTarget = "profit target"
	ExitStopLoss     = "stop loss"
	ExitReversal     = "ema reversal"
	ExitTimeout      = "timeout"
	ExitEndOfDay     = "end of day"
	ExitManual       = "manual_force_close"
)

// TradeRecord is an immutable ledger row written once per closed position.
type TradeRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	Ticker     string    `json:"ticker"`
	Direction  Direction `json:"direction"`
	Strike     float64   `json:"strike"`
	Expiration time.Time `json:"expiration"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Contracts  int       `json:"contracts"`
	PnLPct     float64   `json:"pnl_pct"`
	ExitReason string    `json:"exit_reason"`
}

// LedgerColumns is the stable column order of the trade ledger.
var LedgerColumns = []string{
	"timestamp",
	"ticker",
	"direction",
	"strike",
	"expiration",
	"entry_price",
	"exit_price",
	"contracts",
	"pnl_pct",
	"exit_reason",
}
