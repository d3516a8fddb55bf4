package calculator

import (
	"math"

	"github.com/moznion/go-optional"

	"ScalpSentinel/internal/model"
)

// CalculateATR returns the simple average of the last period true ranges.
// The first bar's true range is its high-low span. Returns 0 with fewer than period bars.
func CalculateATR(bars []model.Bar, period int) float64 {
	if period <= 0 || len(bars) < period {
		return 0
	}
	tr := make([]float64, len(bars))
	for i, b := range bars {
		hl := b.High - b.Low
		if i == 0 {
			tr[i] = hl
			continue
		}
		prev := bars[i-1].Close
		tr[i] = math.Max(hl, math.Max(math.Abs(b.High-prev), math.Abs(b.Low-prev)))
	}
	atr, err := CalculateSMA(tr, period)
	if err != nil {
		return 0
	}
	return atr
}

// CalculateGapPercent returns the overnight gap from previous close to today's open.
func CalculateGapPercent(prevClose, open float64) float64 {
	if prevClose == 0 {
		return 0
	}
	return (open - prevClose) / prevClose * 100.0
}

// IVRank places current within the range spanned by values, scaled to [0,100].
// A single distinct value yields 50; an empty input is undefined.
func IVRank(values []float64, current float64) optional.Option[float64] {
	if len(values) == 0 {
		return optional.None[float64]()
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi == lo {
		return optional.Some(50.0)
	}
	return optional.Some((current - lo) / (hi - lo) * 100.0)
}

// AverageVolume averages the lookback bars immediately preceding the latest bar.
// ok is false when fewer than lookback+1 bars are available.
func AverageVolume(bars []model.Bar, lookback int) (avg float64, ok bool) {
	if lookback <= 0 || len(bars) < lookback+1 {
		return 0, false
	}
	window := bars[len(bars)-lookback-1 : len(bars)-1]
	sum := 0.0
	for _, b := range window {
		sum += b.Volume
	}
	return sum / float64(lookback), true
}
