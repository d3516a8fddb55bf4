package model

import "time"

// IndicatorSnapshot holds the indicator values at the bar that produced a signal.
type IndicatorSnapshot struct {
	EMAShort  float64
	EMALong   float64
	Diff      float64
	RSI       float64
	Volume    float64
	AvgVolume float64
}

// Signal is an entry signal emitted by the detector.
type Signal struct {
	Symbol     string
	Direction  Direction
	Time       time.Time
	Price      float64
	Indicators IndicatorSnapshot
	Reason     string
}

// Metric names used by the scanner.
const (
	MetricPremarketVolume    = "premarket_volume"
	MetricGapPercent         = "gap_percent"
	MetricIVRank             = "iv_rank"
	MetricOptionOpenInterest = "option_open_interest"
	MetricATR                = "atr"
	MetricNewsSentiment      = "news_sentiment"
	MetricNewsVolume         = "news_volume"
)

// MetricNames lists every scanner metric in display order.
var MetricNames = []string{
	MetricPremarketVolume,
	MetricGapPercent,
	MetricIVRank,
	MetricOptionOpenInterest,
	MetricATR,
	MetricNewsSentiment,
	MetricNewsVolume,
}

// MetricSet maps metric name to its normalized value in [0,100].
type MetricSet map[string]float64

// ScoredSymbol is one ranked watchlist entry.
type ScoredSymbol struct {
	Symbol  string    `json:"symbol"`
	Score   float64   `json:"score"`
	Rank    int       `json:"rank"`
	Metrics MetricSet `json:"metrics,omitempty"`
}

// ScanResult is the outcome of a scan cycle.
type ScanResult struct {
	Winner ScoredSymbol
	Active []ScoredSymbol
	Ranked []ScoredSymbol
	At     time.Time
}
