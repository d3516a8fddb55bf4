package calculator

// CalculateRSISeries computes a Wilder-smoothed RSI at every index.
// Average gain and loss use alpha = 1/period starting from the first price change.
// The value is NaN while fewer than period prior bars exist or when the average loss is zero.
func CalculateRSISeries(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	fillNaN(out)
	if period <= 0 || len(closes) < 2 {
		return out
	}

	alpha := 1.0 / float64(period)
	var avgGain, avgLoss float64
	for i := 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		if i == 1 {
			avgGain, avgLoss = gain, loss
		} else {
			avgGain = alpha*gain + (1-alpha)*avgGain
			avgLoss = alpha*loss + (1-alpha)*avgLoss
		}

		if i < period || avgLoss == 0 {
			continue
		}
		rs := avgGain / avgLoss
		out[i] = 100.0 - 100.0/(1.0+rs)
	}
	return out
}
