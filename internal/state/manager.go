package state

import (
	"context"
	"sync"
	"time"

	"ScalpSentinel/internal/apperr"
	"ScalpSentinel/internal/model"
)

// Manager owns the snapshot document. Every mutation is a load-modify-save
// transaction under one mutex; a failed save leaves the in-memory document unchanged.
type Manager struct {
	mu    sync.Mutex
	doc   model.Snapshot
	store Store

	now func() time.Time
}

// NewManager creates a Manager, loading the current document from store.
func NewManager(ctx context.Context, store Store) (*Manager, error) {
	doc, err := store.Load(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorage, "load snapshot", err)
	}
	return &Manager{doc: doc, store: store, now: time.Now}, nil
}

// Snapshot returns a copy of the current document.
func (m *Manager) Snapshot() model.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.Clone()
}

// Update applies fn to a copy of the document and persists it. If fn or the save
// fails, nothing changes and the error is returned.
func (m *Manager) Update(ctx context.Context, fn func(*model.Snapshot) error) (model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.doc.Clone()
	if err := fn(&next); err != nil {
		return m.doc.Clone(), err
	}
	next.UpdatedAt = m.now()
	if err := m.store.Save(ctx, next); err != nil {
		return m.doc.Clone(), apperr.Wrap(apperr.CodeStorage, "save snapshot", err)
	}
	m.doc = next
	return next.Clone(), nil
}

// Paused reports the operator pause flag.
func (m *Manager) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.Paused
}

// SetPaused persists the operator pause flag.
func (m *Manager) SetPaused(ctx context.Context, paused bool) error {
	_, err := m.Update(ctx, func(s *model.Snapshot) error {
		s.Paused = paused
		return nil
	})
	return err
}

// LoadBreaker returns the persisted circuit breaker state.
func (m *Manager) LoadBreaker() model.BreakerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.Breaker
}

// SaveBreaker persists the circuit breaker state.
func (m *Manager) SaveBreaker(ctx context.Context, b model.BreakerState) error {
	_, err := m.Update(ctx, func(s *model.Snapshot) error {
		s.Breaker = b
		return nil
	})
	return err
}
