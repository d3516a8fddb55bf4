package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ScalpSentinel/internal/model"
)

var selCfg = SelectionConfig{MaxDTEDays: 1, ATMTolerancePct: 0.005, MaxOTMPct: 0.02}

func contract(sym string, typ model.Direction, strike float64, exp time.Time, bid, ask float64) model.OptionContract {
	return model.OptionContract{Symbol: sym, Underlying: "SPY", Type: typ, Strike: strike, Expiration: exp, Bid: bid, Ask: ask}
}

func TestSelectContract(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	today := time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC)
	tomorrow := today.Add(24 * time.Hour)
	nextWeek := today.Add(7 * 24 * time.Hour)

	chain := []model.OptionContract{
		contract("C500-1D", model.DirectionCall, 500, tomorrow, 1.0, 1.2),
		contract("C501-0D", model.DirectionCall, 501, today, 0.8, 1.0),
		contract("C500-0D", model.DirectionCall, 500, today, 1.1, 1.3),
		contract("C490-0D", model.DirectionCall, 490, today, 9.0, 9.5),  // deep ITM
		contract("C520-0D", model.DirectionCall, 520, today, 0.05, 0.1), // too far OTM
		contract("C500-7D", model.DirectionCall, 500, nextWeek, 3.0, 3.2),
		contract("P500-0D", model.DirectionPut, 500, today, 1.0, 1.1),
		contract("C499-0D", model.DirectionCall, 499, today, 0, 0),     // no price
	}

	got := SelectContract(model.DirectionCall, 500.4, chain, now, selCfg)
	c, err := got.Take()
	require.NoError(t, err)
	assert.Equal(t, "C500-0D", c.Symbol)
	assert.InDelta(t, 1.2, c.Price, 1e-9)
	assert.InDelta(t, 0.25, c.DTE, 1e-9)
	assert.InDelta(t, 0.4, c.Penalty, 1e-9)

	put, err := SelectContract(model.DirectionPut, 500.4, chain, now, selCfg).Take()
	require.NoError(t, err)
	assert.Equal(t, "P500-0D", put.Symbol)
}

func TestSelectContract_None(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	chain := []model.OptionContract{contract("C500", model.DirectionCall, 500, now.Add(6*time.Hour), 1, 1.2)}

	assert.True(t, SelectContract(model.DirectionCall, 0, chain, now, selCfg).IsNone())
	assert.True(t, SelectContract(model.DirectionPut, 500, chain, now, selCfg).IsNone())
	assert.True(t, SelectContract(model.DirectionCall, 500, nil, now, selCfg).IsNone())
}

func TestSelectContract_ExpiredCountsAsZeroDTE(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	chain := []model.OptionContract{contract("C500", model.DirectionCall, 500, now.Add(-time.Hour), 0, 0)}
	chain[0].Last = 0.4

	c, err := SelectContract(model.DirectionCall, 500, chain, now, selCfg).Take()
	require.NoError(t, err)
	assert.Zero(t, c.DTE)
	assert.Equal(t, 0.4, c.Price)
}

func TestStrikePenalty(t *testing.T) {
	tests := []struct {
		name      string
		direction model.Direction
		strike    float64
		ok        bool
	}{
		{"call at the money", model.DirectionCall, 100, true},
		{"call slightly ITM", model.DirectionCall, 99.6, true},
		{"call deep ITM", model.DirectionCall, 99, false},
		{"call at OTM limit", model.DirectionCall, 102, true},
		{"call beyond OTM limit", model.DirectionCall, 102.5, false},
		{"put slightly ITM", model.DirectionPut, 100.4, true},
		{"put deep ITM", model.DirectionPut, 101, false},
		{"put OTM", model.DirectionPut, 98.5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := StrikePenalty(tt.direction, tt.strike, 100, selCfg)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestSizePosition(t *testing.T) {
	assert.Equal(t, 2, SizePosition(25_000, 0.01, 1.20))
	assert.Equal(t, 0, SizePosition(10_000, 0.01, 1.5))
	assert.Equal(t, 1, SizePosition(10_000, 0.01, 1.0))
	assert.Equal(t, 0, SizePosition(10_000, 0.01, 0))
	assert.Equal(t, 0, SizePosition(10_000, 0.01, -2))
	assert.Equal(t, 0, SizePosition(0, 0.01, 1))
}

func TestSizePosition_MonotonicInCash(t *testing.T) {
	for _, price := range []float64{0.05, 0.37, 1.2, 4.85} {
		prev := 0
		for cash := 0.0; cash <= 200_000; cash += 1_250 {
			n := SizePosition(cash, 0.01, price)
			require.GreaterOrEqual(t, n, prev, "price %.2f cash %.0f", price, cash)
			prev = n
		}
	}
}
