// Package signals detects EMA crossover entry signals confirmed by RSI and volume.
package signals

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rs/zerolog"

	"ScalpSentinel/internal/calculator"
	"ScalpSentinel/internal/config"
	"ScalpSentinel/internal/model"
)

// minReversalBars is the fewest bars HasReversal will judge.
const minReversalBars = 5

// BarSource supplies historical bars.
type BarSource interface {
	HistoricalBars(ctx context.Context, symbol string, tf model.Timeframe, start, end time.Time, limit int) ([]model.Bar, error)
}

// Detector evaluates the latest minute bars of a symbol for an entry signal.
type Detector struct {
	cfg     config.SignalsConfig
	windows []config.Window
	loc     *time.Location
	bars    BarSource
	log     zerolog.Logger

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// NewDetector creates a Detector. Trading windows are parsed once here.
func NewDetector(cfg config.SignalsConfig, loc *time.Location, bars BarSource, log zerolog.Logger) (*Detector, error) {
	windows, err := config.ParseWindows(cfg.TradingWindows)
	if err != nil {
		return nil, err
	}
	return &Detector{
		cfg:     cfg,
		windows: windows,
		loc:     loc,
		bars:    bars,
		log:     log.With().Str("component", "signals").Logger(),
		Now:     time.Now,
	}, nil
}

func (d *Detector) periods() calculator.Periods {
	return calculator.Periods{EMAShort: d.cfg.EMAShort, EMALong: d.cfg.EMALong, RSI: d.cfg.RSIPeriod}
}

// minBars is the fewest bars Evaluate needs before it looks for a crossover.
func (d *Detector) minBars() int {
	return max(d.cfg.EMALong+5, 30)
}

// Evaluate returns a signal when the latest bar completes a confirmed crossover.
// None means no decision this tick; an error means the bars could not be fetched.
func (d *Detector) Evaluate(ctx context.Context, symbol string) (optional.Option[model.Signal], error) {
	now := d.Now()
	if !config.AnyContains(d.windows, now, d.loc) {
		d.log.Debug().Str("symbol", symbol).Time("now", now).Msg("outside trading windows")
		return optional.None[model.Signal](), nil
	}

	bars, err := d.recentBars(ctx, symbol, now)
	if err != nil {
		return optional.None[model.Signal](), err
	}
	if len(bars) < d.minBars() {
		d.log.Debug().Str("symbol", symbol).Int("bars", len(bars)).Msg("insufficient bar data")
		return optional.None[model.Signal](), nil
	}

	s := calculator.Compute(bars, d.periods())
	last := s.Len() - 1

	direction, ok := Crossover(s.Diff[last-1], s.Diff[last])
	if !ok {
		return optional.None[model.Signal](), nil
	}

	rsi := s.RSI[last]
	if !d.passesRSI(direction, rsi) {
		d.log.Debug().Str("symbol", symbol).Str("direction", string(direction)).Float64("rsi", rsi).Msg("rsi filter rejected crossover")
		return optional.None[model.Signal](), nil
	}

	avgVolume, ok := d.passesVolume(bars)
	if !ok {
		d.log.Debug().Str("symbol", symbol).Str("direction", string(direction)).Msg("volume filter rejected crossover")
		return optional.None[model.Signal](), nil
	}

	latest := bars[last]
	sig := model.Signal{
		Symbol:    symbol,
		Direction: direction,
		Time:      latest.Time,
		Price:     latest.Close,
		Indicators: model.IndicatorSnapshot{
			EMAShort:  s.EMAShort[last],
			EMALong:   s.EMALong[last],
			Diff:      s.Diff[last],
			RSI:       rsi,
			Volume:    latest.Volume,
			AvgVolume: avgVolume,
		},
		Reason: fmt.Sprintf("EMA crossover confirmed with RSI %.2f and volume filter", rsi),
	}
	d.log.Info().Str("symbol", symbol).Str("direction", string(direction)).Float64("price", sig.Price).
		Float64("rsi", rsi).Msg("signal detected")
	return optional.Some(sig), nil
}

// HasReversal reports whether the trend has turned against entry: either an opposite
// crossover on the latest bar, or the EMA spread already sitting on the other side.
// It applies no RSI or volume filter and ignores trading windows.
func (d *Detector) HasReversal(ctx context.Context, symbol string, entry model.Direction) (bool, error) {
	bars, err := d.recentBars(ctx, symbol, d.Now())
	if err != nil {
		return false, err
	}
	if len(bars) < minReversalBars {
		return false, nil
	}

	s := calculator.Compute(bars, d.periods())
	last := s.Len() - 1
	if direction, ok := Crossover(s.Diff[last-1], s.Diff[last]); ok {
		return direction == entry.Opposite(), nil
	}

	diff := s.Diff[last]
	switch entry {
	case model.DirectionCall:
		return diff < 0, nil
	case model.DirectionPut:
		return diff > 0, nil
	}
	return false, nil
}

func (d *Detector) recentBars(ctx context.Context, symbol string, now time.Time) ([]model.Bar, error) {
	lookback := d.cfg.LookbackMinutes
	start := now.Add(-time.Duration(lookback) * time.Minute)
	bars, err := d.bars.HistoricalBars(ctx, symbol, model.Timeframe1Min, start, now, lookback)
	if err != nil {
		return nil, fmt.Errorf("fetch bars for %s: %w", symbol, err)
	}
	return bars, nil
}

// Crossover classifies the move of the EMA spread from prev to curr.
// Upward through zero is a call, downward through zero a put.
func Crossover(prev, curr float64) (model.Direction, bool) {
	if math.IsNaN(prev) || math.IsNaN(curr) {
		return "", false
	}
	if prev <= 0 && curr > 0 {
		return model.DirectionCall, true
	}
	if prev >= 0 && curr < 0 {
		return model.DirectionPut, true
	}
	return "", false
}

func (d *Detector) passesRSI(direction model.Direction, rsi float64) bool {
	if math.IsNaN(rsi) {
		return false
	}
	if direction == model.DirectionCall {
		return rsi >= d.cfg.RSICallMin
	}
	return rsi <= d.cfg.RSIPutMax
}

func (d *Detector) passesVolume(bars []model.Bar) (float64, bool) {
	avg, ok := calculator.AverageVolume(bars, d.cfg.VolumeLookback)
	if !ok || avg == 0 {
		return avg, false
	}
	return avg, bars[len(bars)-1].Volume >= d.cfg.VolumeMultiplier*avg
}
