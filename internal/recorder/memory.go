package recorder

import (
	"context"
	"sync"
	"time"

	"ScalpSentinel/internal/model"
)

// MemoryLedger keeps trades in memory. Used in tests and dry runs.
type MemoryLedger struct {
	mu      sync.Mutex
	records []model.TradeRecord

	// FailNext makes the next Append return this error once.
	FailNext error
}

func NewMemoryLedger(records ...model.TradeRecord) *MemoryLedger {
	return &MemoryLedger{records: append([]model.TradeRecord(nil), records...)}
}

func (m *MemoryLedger) Append(_ context.Context, rec model.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailNext; err != nil {
		m.FailNext = nil
		return err
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *MemoryLedger) Records(_ context.Context, since time.Time) ([]model.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TradeRecord
	for _, r := range m.records {
		if !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryLedger) Close() error { return nil }
