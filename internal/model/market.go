package model

import "time"

// Bar represents a single candlestick bar.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Timeframe is the bar aggregation requested from the gateway.
type Timeframe string

const (
	Timeframe1Min Timeframe = "1Min"
	Timeframe1Day Timeframe = "1Day"
)

// NewsArticle is a single headline returned by the news feed.
type NewsArticle struct {
	Headline  string
	Summary   string
	CreatedAt time.Time
}

// Closes extracts the close prices of bars in order.
func Closes(bars []Bar) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}
