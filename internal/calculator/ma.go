package calculator

import (
	"errors"
	"math"
)

// CalculateSMA computes the simple moving average of the last period values.
func CalculateSMA(values []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be positive")
	}
	if len(values) < period {
		return 0, errors.New("not enough data for SMA calculation")
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period), nil
}

// CalculateEMASeries returns the exponential moving average at every index.
// Smoothing factor is 2/(period+1) and the series is seeded with the first value.
// A non-positive period yields an all-NaN series.
func CalculateEMASeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 {
		fillNaN(out)
		return out
	}
	if len(values) == 0 {
		return out
	}
	alpha := 2.0 / float64(period+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

func fillNaN(values []float64) {
	for i := range values {
		values[i] = math.NaN()
	}
}
