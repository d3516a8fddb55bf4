package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ScalpSentinel/internal/config"
	"ScalpSentinel/internal/model"
)

var eastern, _ = time.LoadLocation("America/New_York")

type fakeMarket struct {
	now       time.Time
	today     map[string]float64
	history   map[string]float64
	chains    map[string][]model.OptionContract
	news      map[string][]model.NewsArticle
	broken    map[string]bool
	noChain   map[string]bool
	dailyBars []model.Bar
}

func (f *fakeMarket) HistoricalBars(_ context.Context, symbol string, tf model.Timeframe, start, _ time.Time, _ int) ([]model.Bar, error) {
	if f.broken[symbol] {
		return nil, errors.New("gateway down")
	}
	if tf == model.Timeframe1Day {
		return f.dailyBars, nil
	}
	vol := f.history[symbol]
	if start.In(eastern).YearDay() == f.now.In(eastern).YearDay() {
		vol = f.today[symbol]
	}
	return []model.Bar{
		{Time: start.Add(time.Hour), Close: 10, High: 10, Low: 10, Volume: vol},
		// after the open, excluded from the premarket sum
		{Time: start.Add(6 * time.Hour), Close: 10, High: 10, Low: 10, Volume: 1e9},
	}, nil
}

func (f *fakeMarket) OptionChain(_ context.Context, underlying string, _ optional.Option[time.Time]) ([]model.OptionContract, error) {
	if f.noChain[underlying] {
		return nil, errors.New("options feed down")
	}
	return f.chains[underlying], nil
}

func (f *fakeMarket) News(_ context.Context, symbol string, _, _ time.Time, _ int) ([]model.NewsArticle, error) {
	return f.news[symbol], nil
}

type memState struct {
	snap  model.Snapshot
	calls int
}

func (m *memState) Update(_ context.Context, fn func(*model.Snapshot) error) (model.Snapshot, error) {
	m.calls++
	next := m.snap.Clone()
	if err := fn(&next); err != nil {
		return m.snap, err
	}
	m.snap = next
	return next.Clone(), nil
}

type recordingAlerter struct {
	results []model.ScanResult
}

func (r *recordingAlerter) TickerSelection(result model.ScanResult) { r.results = append(r.results, result) }

func scanConfig() config.ScanningConfig {
	return config.ScanningConfig{
		MaxActiveTickers:     2,
		PremarketHistoryDays: 5,
		NewsLookback:         24 * time.Hour,
		Weights: map[string]float64{
			model.MetricPremarketVolume:    0.25,
			model.MetricGapPercent:         0.15,
			model.MetricIVRank:             0.15,
			model.MetricOptionOpenInterest: 0.15,
			model.MetricATR:                0.10,
			model.MetricNewsSentiment:      0.10,
			model.MetricNewsVolume:         0.10,
		},
	}
}

func newScanner(cfg config.ScanningConfig, market *fakeMarket, st *memState, alerts *recordingAlerter) *Scanner {
	s := New(cfg, eastern, config.Clock{Hour: 9, Minute: 30}, market, st, alerts, zerolog.Nop())
	s.Now = func() time.Time { return market.now }
	return s
}

func abcMarket() *fakeMarket {
	return &fakeMarket{
		now:     time.Date(2026, 3, 4, 8, 30, 0, 0, eastern),
		today:   map[string]float64{"A": 100_000, "B": 300_000, "C": 50_000},
		history: map[string]float64{"A": 100_000, "B": 100_000, "C": 100_000},
	}
}

func TestRun_SelectsHighestScore(t *testing.T) {
	market := abcMarket()
	st := &memState{}
	alerts := &recordingAlerter{}

	got, err := newScanner(scanConfig(), market, st, alerts).Run(context.Background(), []string{"A", "B", "C"})
	require.NoError(t, err)
	result, err := got.Take()
	require.NoError(t, err)

	assert.Equal(t, "B", result.Winner.Symbol)
	require.Len(t, result.Ranked, 3)
	assert.Equal(t, []string{"B", "A", "C"}, symbols(result.Ranked))
	assert.Equal(t, []int{1, 2, 3}, []int{result.Ranked[0].Rank, result.Ranked[1].Rank, result.Ranked[2].Rank})
	// B: 100*0.25 + neutral iv 50*0.15 + neutral sentiment 50*0.10
	assert.InDelta(t, 37.5, result.Winner.Score, 1e-9)

	assert.Equal(t, []string{"B", "A"}, symbols(st.snap.ActiveTickers))
	assert.Equal(t, "B", st.snap.TickerOfTheDay)
	assert.Equal(t, market.now, st.snap.TickerSelectionTime)
	require.Len(t, alerts.results, 1)
	assert.Equal(t, "B", alerts.results[0].Winner.Symbol)
}

func TestRun_HardFilterZeroesMetrics(t *testing.T) {
	cfg := scanConfig()
	cfg.MinPremarketVolume = 200_000
	st := &memState{}

	got, err := newScanner(cfg, abcMarket(), st, &recordingAlerter{}).Run(context.Background(), []string{"A", "B", "C"})
	require.NoError(t, err)
	result, err := got.Take()
	require.NoError(t, err)

	assert.Equal(t, "B", result.Winner.Symbol)
	for _, s := range result.Ranked[1:] {
		assert.Zero(t, s.Score, s.Symbol)
		for name, v := range s.Metrics {
			assert.Zero(t, v, "%s %s", s.Symbol, name)
		}
	}
	// ties keep watchlist order
	assert.Equal(t, []string{"B", "A", "C"}, symbols(result.Ranked))
}

func TestRun_SkipsFailingSymbols(t *testing.T) {
	market := abcMarket()
	market.broken = map[string]bool{"B": true}
	st := &memState{}

	got, err := newScanner(scanConfig(), market, st, &recordingAlerter{}).Run(context.Background(), []string{"A", "B", "C"})
	require.NoError(t, err)
	result, err := got.Take()
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, symbols(result.Ranked))
}

func TestRun_NoResult(t *testing.T) {
	market := abcMarket()
	market.broken = map[string]bool{"A": true, "B": true}
	st := &memState{}
	alerts := &recordingAlerter{}
	s := newScanner(scanConfig(), market, st, alerts)

	got, err := s.Run(context.Background(), []string{"A", "B"})
	require.NoError(t, err)
	assert.True(t, got.IsNone())

	got, err = s.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, got.IsNone())

	assert.Zero(t, st.calls)
	assert.Empty(t, alerts.results)
}

func TestChainMetrics(t *testing.T) {
	market := abcMarket()
	today := time.Date(2026, 3, 4, 0, 0, 0, 0, eastern)
	market.chains = map[string][]model.OptionContract{"A": {
		{Expiration: today, OpenInterest: 5000, ImpliedVolatility: 0.2},
		{Expiration: today.AddDate(0, 0, 1), OpenInterest: 3000, ImpliedVolatility: 0.4},
		{Expiration: today.AddDate(0, 0, 2), OpenInterest: 2000},
	}}
	s := newScanner(scanConfig(), market, &memState{}, nil)

	iv, oi, err := s.chainMetrics(context.Background(), "A", market.now)
	require.NoError(t, err)
	assert.Equal(t, 100.0, iv)
	assert.Equal(t, 8000.0, oi)

	iv, oi, err = s.chainMetrics(context.Background(), "B", market.now)
	require.NoError(t, err)
	assert.Equal(t, 50.0, iv)
	assert.Zero(t, oi)

	market.noChain = map[string]bool{"B": true}
	_, _, err = s.chainMetrics(context.Background(), "B", market.now)
	require.Error(t, err)
}

func TestNormalize_Clamps(t *testing.T) {
	m := Normalize(RawMetrics{
		PremarketVolume:    10,
		AvgPremarketVolume: 1,
		GapPercent:         -40,
		IVRank:             130,
		OpenInterest:       -5,
		ATR:                3.2,
		NewsSentiment:      1,
		NewsCount:          50,
	}, 0)
	require.Len(t, m, len(model.MetricNames))
	for name, v := range m {
		assert.GreaterOrEqual(t, v, 0.0, name)
		assert.LessOrEqual(t, v, 100.0, name)
	}
	assert.InDelta(t, 32.0, m[model.MetricATR], 1e-9)
	assert.Equal(t, 100.0, m[model.MetricGapPercent])
	assert.Equal(t, 0.0, m[model.MetricOptionOpenInterest])
}

func TestSentiment(t *testing.T) {
	articles := []model.NewsArticle{
		{Headline: "Shares surge on strong demand"},
		{Headline: "Quarterly report released"},
	}
	assert.InDelta(t, 0.5, Sentiment(articles), 1e-9)
	assert.InDelta(t, -1.0, Sentiment([]model.NewsArticle{{Headline: "Company faces lawsuit"}}), 1e-9)
	assert.Zero(t, Sentiment(nil))
}

func symbols(scored []model.ScoredSymbol) []string {
	out := make([]string, len(scored))
	for i, s := range scored {
		out[i] = s.Symbol
	}
	return out
}

func TestRun_SkipsSymbolWithoutOptionChain(t *testing.T) {
	market := abcMarket()
	market.noChain = map[string]bool{"B": true}
	st := &memState{}

	got, err := newScanner(scanConfig(), market, st, &recordingAlerter{}).Run(context.Background(), []string{"A", "B", "C"})
	require.NoError(t, err)
	result, err := got.Take()
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "C"}, symbols(result.Ranked))
	assert.Equal(t, "A", st.snap.TickerOfTheDay)
}
