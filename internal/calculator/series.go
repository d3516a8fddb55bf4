package calculator

import "ScalpSentinel/internal/model"

// Periods configures the indicator lengths.
type Periods struct {
	EMAShort int
	EMALong  int
	RSI      int
}

// Series holds per-bar indicator values aligned with the input bars.
type Series struct {
	Close    []float64
	Volume   []float64
	EMAShort []float64
	EMALong  []float64
	Diff     []float64
	RSI      []float64
}

// Compute derives all indicators for bars. It is a pure function of its inputs.
func Compute(bars []model.Bar, p Periods) Series {
	closes := model.Closes(bars)
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		volumes[i] = b.Volume
	}

	short := CalculateEMASeries(closes, p.EMAShort)
	long := CalculateEMASeries(closes, p.EMALong)
	diff := make([]float64, len(closes))
	for i := range closes {
		diff[i] = short[i] - long[i]
	}

	return Series{
		Close:    closes,
		Volume:   volumes,
		EMAShort: short,
		EMALong:  long,
		Diff:     diff,
		RSI:      CalculateRSISeries(closes, p.RSI),
	}
}

// Len is the number of bars in the series.
func (s Series) Len() int { return len(s.Close) }
