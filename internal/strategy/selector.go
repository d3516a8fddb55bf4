// Package strategy picks the option contract for a signal and sizes the order.
package strategy

import (
	"math"
	"sort"
	"time"

	"github.com/moznion/go-optional"

	"ScalpSentinel/internal/model"
)

// dteSlack admits contracts a little past the configured maximum DTE.
const dteSlack = 0.1

// SelectionConfig bounds the contracts considered.
type SelectionConfig struct {
	MaxDTEDays      float64
	ATMTolerancePct float64 // how far in-the-money a strike may sit, as a fraction of the underlying
	MaxOTMPct       float64 // how far out-of-the-money a strike may sit
}

// SelectContract returns the nearest-expiry, closest-to-the-money contract of the
// signal's direction with a usable price. None when nothing qualifies.
func SelectContract(direction model.Direction, underlying float64, chain []model.OptionContract, now time.Time, cfg SelectionConfig) optional.Option[model.OptionCandidate] {
	if underlying <= 0 {
		return optional.None[model.OptionCandidate]()
	}

	var candidates []model.OptionCandidate
	for _, c := range chain {
		if c.Type != direction {
			continue
		}
		dte := math.Max(c.Expiration.Sub(now).Seconds()/86400.0, 0)
		if dte > cfg.MaxDTEDays+dteSlack {
			continue
		}
		penalty, ok := StrikePenalty(direction, c.Strike, underlying, cfg)
		if !ok {
			continue
		}
		price, ok := c.InferPrice()
		if !ok {
			continue
		}
		candidates = append(candidates, model.OptionCandidate{
			Symbol:     c.Symbol,
			Strike:     c.Strike,
			Expiration: c.Expiration,
			Price:      price,
			DTE:        dte,
			Penalty:    penalty,
		})
	}
	if len(candidates) == 0 {
		return optional.None[model.OptionCandidate]()
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		di, dj := math.Abs(candidates[i].DTE), math.Abs(candidates[j].DTE)
		if di != dj {
			return di < dj
		}
		return candidates[i].Penalty < candidates[j].Penalty
	})
	return optional.Some(candidates[0])
}

// StrikePenalty is the absolute distance from the underlying for strikes inside the
// allowed band; ok is false for strikes too deep in or too far out of the money.
func StrikePenalty(direction model.Direction, strike, underlying float64, cfg SelectionConfig) (float64, bool) {
	if underlying <= 0 {
		return 0, false
	}
	tolerance := underlying * cfg.ATMTolerancePct
	otmLimit := underlying * cfg.MaxOTMPct

	var diff float64
	switch direction {
	case model.DirectionCall:
		diff = strike - underlying
	case model.DirectionPut:
		diff = underlying - strike
	default:
		return 0, false
	}
	if diff < -tolerance || diff > otmLimit {
		return 0, false
	}
	return math.Abs(diff), true
}
