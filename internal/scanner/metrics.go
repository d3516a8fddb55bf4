package scanner

import (
	"math"
	"sort"
	"strings"

	"ScalpSentinel/internal/model"
)

// RawMetrics are the unnormalized per-symbol inputs to scoring.
type RawMetrics struct {
	PremarketVolume    float64
	AvgPremarketVolume float64
	GapPercent         float64
	IVRank             float64
	OpenInterest       float64
	ATR                float64
	NewsSentiment      float64 // [-1, 1]
	NewsCount          int
}

// VolumeRatio is today's premarket volume over the recent average, 1.0 without history.
func (r RawMetrics) VolumeRatio() float64 {
	if r.AvgPremarketVolume <= 0 {
		return 1.0
	}
	return r.PremarketVolume / r.AvgPremarketVolume
}

// Normalize maps raw metrics onto [0,100]. A symbol whose premarket volume is below
// minPremarketVolume gets an all-zero set. A non-positive minimum disables the filter.
func Normalize(raw RawMetrics, minPremarketVolume float64) model.MetricSet {
	m := model.MetricSet{
		model.MetricPremarketVolume:    clamp(raw.VolumeRatio() * 50),
		model.MetricGapPercent:         clamp(math.Abs(raw.GapPercent) * 10),
		model.MetricIVRank:             clamp(raw.IVRank),
		model.MetricOptionOpenInterest: clamp(raw.OpenInterest / 1000),
		model.MetricATR:                clamp(raw.ATR * 10),
		model.MetricNewsSentiment:      clamp((raw.NewsSentiment + 1) * 50),
		model.MetricNewsVolume:         clamp(float64(raw.NewsCount) * 5),
	}
	if minPremarketVolume > 0 && raw.PremarketVolume < minPremarketVolume {
		for k := range m {
			m[k] = 0
		}
	}
	return m
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(100, math.Max(0, v))
}

// Score is the weighted sum of metrics. Metrics without a weight do not count.
func Score(metrics model.MetricSet, weights map[string]float64) float64 {
	score := 0.0
	for name, w := range weights {
		score += metrics[name] * w
	}
	return score
}

// Rank orders by descending score, keeping input order among ties, and assigns 1-based ranks.
func Rank(scored []model.ScoredSymbol) []model.ScoredSymbol {
	out := append([]model.ScoredSymbol(nil), scored...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

var (
	positiveKeywords = []string{"beat", "surge", "gain", "up", "high", "profit", "growth", "strong",
		"upgrade", "buy", "bullish", "positive", "record", "success", "win"}
	negativeKeywords = []string{"miss", "drop", "fall", "down", "low", "loss", "decline", "weak",
		"downgrade", "sell", "bearish", "negative", "concern", "fail", "lawsuit"}
)

// Sentiment scores articles by keyword presence in headline and summary.
// Each article scores (pos-neg)/(pos+neg), or 0 without hits; the result is the mean, in [-1,1].
func Sentiment(articles []model.NewsArticle) float64 {
	if len(articles) == 0 {
		return 0
	}
	total := 0.0
	for _, a := range articles {
		text := strings.ToLower(a.Headline + " " + a.Summary)
		pos := countKeywords(text, positiveKeywords)
		neg := countKeywords(text, negativeKeywords)
		if pos+neg > 0 {
			total += float64(pos-neg) / float64(pos+neg)
		}
	}
	return total / float64(len(articles))
}

// countKeywords counts keywords appearing anywhere in text, substrings included.
func countKeywords(text string, keywords []string) int {
	n := 0
	for _, k := range keywords {
		if strings.Contains(text, k) {
			n++
		}
	}
	return n
}
