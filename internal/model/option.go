package model

import (
	"fmt"
	"strings"
	"time"
)

// Direction is the side of the market a signal or position bets on.
type Direction string

const (
	DirectionCall Direction = "call"
	DirectionPut  Direction = "put"
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == DirectionCall {
		return DirectionPut
	}
	return DirectionCall
}

// ParseDirection accepts "call"/"c" and "put"/"p" in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call", "c":
		return DirectionCall, nil
	case "put", "p":
		return DirectionPut, nil
	default:
		return "", fmt.Errorf("unknown option direction %q", s)
	}
}

// OptionContract is one entry of an option chain as reported by the gateway.
type OptionContract struct {
	Symbol            string
	Underlying        string
	Type              Direction
	Strike            float64
	Expiration        time.Time
	Bid               float64
	Ask               float64
	Last              float64
	OpenInterest      float64
	ImpliedVolatility float64
}

// InferPrice derives a tradable premium: mid of bid/ask, else ask, else bid, else last.
// ok is false when nothing positive is available.
func (c OptionContract) InferPrice() (price float64, ok bool) {
	switch {
	case c.Ask > 0 && c.Bid > 0:
		return (c.Ask + c.Bid) / 2, true
	case c.Ask > 0:
		return c.Ask, true
	case c.Bid > 0:
		return c.Bid, true
	case c.Last > 0:
		return c.Last, true
	}
	return 0, false
}

// OptionCandidate is a contract that survived selection filters. Never persisted.
type OptionCandidate struct {
	Symbol     string
	Strike     float64
	Expiration time.Time
	Price      float64
	DTE        float64
	Penalty    float64
}
