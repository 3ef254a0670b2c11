package numerator

import (
	"context"
	"sync"
)

// MockGenerator is a test implementation of Generator.
// With a nil func it counts per series, starting from the sequence's CurrentNumber.
type MockGenerator struct {
	NextNumberFunc func(ctx context.Context, seq *Sequence, tenantID string) (string, error)

	mu       sync.Mutex
	counters map[string]int64
}

// NextNumber implements Generator.
func (m *MockGenerator) NextNumber(ctx context.Context, seq *Sequence, tenantID string) (string, error) {
	if m.NextNumberFunc != nil {
		return m.NextNumberFunc(ctx, seq, tenantID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = make(map[string]int64)
	}
	key := tenantID + ":" + seq.ID.String()
	if _, ok := m.counters[key]; !ok {
		m.counters[key] = seq.CurrentNumber
	}
	m.counters[key]++
	return Format(seq.Prefix, m.counters[key]), nil
}

// Ensure compile-time interface compliance.
var _ Generator = (*MockGenerator)(nil)
