// Package scanner ranks the watchlist before the open and selects the symbols to trade.
package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rs/zerolog"

	"ScalpSentinel/internal/calculator"
	"ScalpSentinel/internal/config"
	"ScalpSentinel/internal/model"
)

const (
	atrPeriod     = 14
	newsLimit     = 50
	gapLookback   = 10 * 24 * time.Hour
	premarketFrom = 4 * time.Hour
)

// MarketData is the gateway surface the scanner reads.
type MarketData interface {
	HistoricalBars(ctx context.Context, symbol string, tf model.Timeframe, start, end time.Time, limit int) ([]model.Bar, error)
	OptionChain(ctx context.Context, underlying string, expiration optional.Option[time.Time]) ([]model.OptionContract, error)
	News(ctx context.Context, symbol string, start, end time.Time, limit int) ([]model.NewsArticle, error)
}

// SnapshotUpdater persists the scan outcome.
type SnapshotUpdater interface {
	Update(ctx context.Context, fn func(*model.Snapshot) error) (model.Snapshot, error)
}

// Alerter receives the ticker-selection notification.
type Alerter interface {
	TickerSelection(result model.ScanResult)
}

// Scanner scores each watchlist symbol and persists the active set.
type Scanner struct {
	cfg    config.ScanningConfig
	loc    *time.Location
	open   config.Clock
	data   MarketData
	state  SnapshotUpdater
	alerts Alerter
	log    zerolog.Logger

	Now func() time.Time
}

// New creates a Scanner. marketOpen bounds the premarket session.
func New(cfg config.ScanningConfig, loc *time.Location, marketOpen config.Clock, data MarketData, state SnapshotUpdater, alerts Alerter, log zerolog.Logger) *Scanner {
	return &Scanner{
		cfg:    cfg,
		loc:    loc,
		open:   marketOpen,
		data:   data,
		state:  state,
		alerts: alerts,
		log:    log.With().Str("component", "scanner").Logger(),
		Now:    time.Now,
	}
}

// Run scores watchlist and persists the top symbols. It returns None when the
// watchlist is empty or no symbol could be evaluated; only a persistence failure is an error.
func (s *Scanner) Run(ctx context.Context, watchlist []string) (optional.Option[model.ScanResult], error) {
	if len(watchlist) == 0 {
		s.log.Warn().Msg("watchlist is empty, skipping scan")
		return optional.None[model.ScanResult](), nil
	}

	now := s.Now().In(s.loc)
	s.log.Info().Strs("watchlist", watchlist).Msg("starting pre-market scan")

	scored := make([]model.ScoredSymbol, 0, len(watchlist))
	for _, symbol := range watchlist {
		if err := ctx.Err(); err != nil {
			return optional.None[model.ScanResult](), err
		}
		raw, err := s.collect(ctx, symbol, now)
		if err != nil {
			s.log.Error().Err(err).Str("symbol", symbol).Msg("failed to evaluate metrics")
			continue
		}
		metrics := Normalize(raw, s.cfg.MinPremarketVolume)
		score := Score(metrics, s.cfg.Weights)
		s.log.Debug().Str("symbol", symbol).Interface("raw", raw).Interface("metrics", metrics).
			Float64("score", score).Msg("scored symbol")
		scored = append(scored, model.ScoredSymbol{Symbol: symbol, Score: score, Metrics: metrics})
	}
	if len(scored) == 0 {
		s.log.Error().Msg("no symbols produced metrics, scan aborted")
		return optional.None[model.ScanResult](), nil
	}

	ranked := Rank(scored)
	active := ranked[:min(s.cfg.MaxActiveTickers, len(ranked))]
	result := model.ScanResult{
		Winner: ranked[0],
		Active: append([]model.ScoredSymbol(nil), active...),
		Ranked: ranked,
		At:     now,
	}

	_, err := s.state.Update(ctx, func(snap *model.Snapshot) error {
		snap.ActiveTickers = result.Active
		snap.TickerOfTheDay = result.Winner.Symbol
		snap.TickerScore = result.Winner.Score
		snap.TickerMetrics = result.Winner.Metrics
		snap.TickerSelectionTime = now
		return nil
	})
	if err != nil {
		return optional.None[model.ScanResult](), fmt.Errorf("persist scan result: %w", err)
	}

	s.log.Info().Str("winner", result.Winner.Symbol).Float64("score", result.Winner.Score).
		Int("active", len(result.Active)).Msg("ticker of the day selected")
	if s.alerts != nil {
		s.alerts.TickerSelection(result)
	}
	return optional.Some(result), nil
}

// collect gathers raw metrics. Premarket volume and the option chain are required;
// the other metrics fall back to neutral values when their data is unavailable.
func (s *Scanner) collect(ctx context.Context, symbol string, now time.Time) (RawMetrics, error) {
	var raw RawMetrics

	vol, err := s.premarketVolume(ctx, symbol, now)
	if err != nil {
		return raw, fmt.Errorf("premarket volume: %w", err)
	}
	raw.PremarketVolume = vol
	raw.AvgPremarketVolume = s.averagePremarketVolume(ctx, symbol, now)
	raw.GapPercent = s.gapPercent(ctx, symbol, now)
	raw.IVRank, raw.OpenInterest, err = s.chainMetrics(ctx, symbol, now)
	if err != nil {
		return raw, fmt.Errorf("option chain: %w", err)
	}
	raw.ATR = s.atr(ctx, symbol, now)
	raw.NewsSentiment, raw.NewsCount = s.news(ctx, symbol, now)
	return raw, nil
}

// premarketVolume sums minute-bar volume from 04:00 up to the open on day's date.
func (s *Scanner) premarketVolume(ctx context.Context, symbol string, day time.Time) (float64, error) {
	start := dayStart(day, s.loc).Add(premarketFrom)
	end := s.open.On(day, s.loc)
	bars, err := s.data.HistoricalBars(ctx, symbol, model.Timeframe1Min, start, end, 0)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, b := range bars {
		if b.Time.Before(end) {
			total += b.Volume
		}
	}
	return total, nil
}

// averagePremarketVolume averages the prior days with non-zero premarket volume.
func (s *Scanner) averagePremarketVolume(ctx context.Context, symbol string, now time.Time) float64 {
	total, count := 0.0, 0
	for offset := 1; offset <= s.cfg.PremarketHistoryDays; offset++ {
		day := now.AddDate(0, 0, -offset)
		vol, err := s.premarketVolume(ctx, symbol, day)
		if err != nil {
			s.log.Debug().Err(err).Str("symbol", symbol).Str("day", day.Format("2006-01-02")).Msg("skip premarket history day")
			continue
		}
		if vol > 0 {
			total += vol
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func (s *Scanner) gapPercent(ctx context.Context, symbol string, now time.Time) float64 {
	bars, err := s.data.HistoricalBars(ctx, symbol, model.Timeframe1Day, now.Add(-gapLookback), time.Time{}, 5)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("gap unavailable")
		return 0
	}
	if len(bars) < 2 {
		return 0
	}
	return calculator.CalculateGapPercent(bars[len(bars)-2].Close, bars[len(bars)-1].Open)
}

// chainMetrics returns the IV rank over positive implied volatilities (50 when no
// contract quotes one) and the open interest of contracts expiring today or tomorrow.
// Without a chain there is no open interest to judge, so the error is returned.
func (s *Scanner) chainMetrics(ctx context.Context, symbol string, now time.Time) (ivRank, openInterest float64, err error) {
	chain, err := s.data.OptionChain(ctx, symbol, optional.None[time.Time]())
	if err != nil {
		return 0, 0, err
	}

	var ivs []float64
	maxIV := 0.0
	today := dayStart(now, s.loc)
	for _, c := range chain {
		if c.ImpliedVolatility > 0 {
			ivs = append(ivs, c.ImpliedVolatility)
			maxIV = max(maxIV, c.ImpliedVolatility)
		}
		days := calendarDays(today, dayStart(c.Expiration, s.loc))
		if days == 0 || days == 1 {
			openInterest += c.OpenInterest
		}
	}
	return calculator.IVRank(ivs, maxIV).TakeOr(50), openInterest, nil
}

func (s *Scanner) atr(ctx context.Context, symbol string, now time.Time) float64 {
	bars, err := s.data.HistoricalBars(ctx, symbol, model.Timeframe1Day, now.AddDate(0, 0, -atrPeriod*3), time.Time{}, 0)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("atr unavailable")
		return 0
	}
	return calculator.CalculateATR(bars, atrPeriod)
}

func (s *Scanner) news(ctx context.Context, symbol string, now time.Time) (float64, int) {
	articles, err := s.data.News(ctx, symbol, now.Add(-s.cfg.NewsLookback), now, newsLimit)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("news unavailable")
		return 0, 0
	}
	return Sentiment(articles), len(articles)
}

func dayStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// calendarDays counts whole days from a to b, both at local midnight.
func calendarDays(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
