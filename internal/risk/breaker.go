package risk

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ScalpSentinel/internal/config"
	"ScalpSentinel/internal/model"
)

// BreakerStore persists the open state so a restart does not clear a trip.
type BreakerStore interface {
	LoadBreaker() model.BreakerState
	SaveBreaker(ctx context.Context, st model.BreakerState) error
}

// BreakerStatus is the breaker view reported to operators.
type BreakerStatus struct {
	model.BreakerState
	ErrorsInWindow int `json:"errors_in_window"`
}

// Breaker halts trading after a burst of errors. It keeps the last Capacity error
// timestamps and opens once at least Threshold are held and they span less than
// Span. It stays open until Reset.
type Breaker struct {
	cfg   config.CircuitBreakerConfig
	store BreakerStore
	log   zerolog.Logger

	mu     sync.Mutex
	errors []time.Time
	state  model.BreakerState
	onTrip func(model.BreakerState)
}

// NewBreaker restores the persisted state from store.
func NewBreaker(cfg config.CircuitBreakerConfig, store BreakerStore, log zerolog.Logger) *Breaker {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10
	}
	if cfg.Threshold <= 0 || cfg.Threshold > cfg.Capacity {
		cfg.Threshold = cfg.Capacity
	}
	b := &Breaker{
		cfg:   cfg,
		store: store,
		log:   log.With().Str("component", "breaker").Logger(),
	}
	if store != nil {
		b.state = store.LoadBreaker()
	}
	if b.state.Open {
		b.log.Warn().Time("tripped_at", b.state.TrippedAt).Str("context", b.state.Context).
			Msg("circuit breaker restored open, operator reset required")
	}
	return b
}

// OnTrip registers a callback run after the breaker opens.
func (b *Breaker) OnTrip(fn func(model.BreakerState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrip = fn
}

// Record adds an error at now and reports whether this call opened the breaker.
func (b *Breaker) Record(ctx context.Context, now time.Time, errContext string) bool {
	b.mu.Lock()
	b.errors = append(b.errors, now)
	if len(b.errors) > b.cfg.Capacity {
		b.errors = b.errors[len(b.errors)-b.cfg.Capacity:]
	}
	if b.state.Open || len(b.errors) < b.cfg.Threshold {
		b.mu.Unlock()
		return false
	}
	if b.errors[len(b.errors)-1].Sub(b.errors[0]) >= b.cfg.Span {
		b.mu.Unlock()
		return false
	}

	b.state = model.BreakerState{Open: true, TrippedAt: now, Context: errContext}
	st := b.state
	onTrip := b.onTrip
	count := len(b.errors)
	b.mu.Unlock()

	b.log.Error().Str("context", errContext).Int("errors", count).Dur("span", b.cfg.Span).
		Msg("circuit breaker opened")
	b.persist(ctx, st)
	if onTrip != nil {
		onTrip(st)
	}
	return true
}

// IsOpen reports whether scheduled operations must short-circuit.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.Open
}

// Reset closes the breaker and clears the error window.
func (b *Breaker) Reset(ctx context.Context) error {
	b.mu.Lock()
	b.errors = nil
	b.state = model.BreakerState{}
	b.mu.Unlock()

	b.log.Info().Msg("circuit breaker reset")
	if b.store == nil {
		return nil
	}
	return b.store.SaveBreaker(ctx, model.BreakerState{})
}

func (b *Breaker) State() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStatus{BreakerState: b.state, ErrorsInWindow: len(b.errors)}
}

func (b *Breaker) persist(ctx context.Context, st model.BreakerState) {
	if b.store == nil {
		return
	}
	if err := b.store.SaveBreaker(ctx, st); err != nil {
		b.log.Error().Err(err).Msg("persist breaker state")
	}
}
