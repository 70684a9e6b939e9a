package session

import (
	"context"
	"sync"
)

// MemoryRegistry keeps sessions in process memory. Records are never
// expired; it suits single-instance deployments and tests.
type MemoryRegistry struct {
	mu      sync.Mutex
	records map[string]Record
}

var _ Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry returns an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{records: make(map[string]Record)}
}

func (m *MemoryRegistry) Register(_ context.Context, rec Record) (Record, error) {
	if err := rec.validate(); err != nil {
		return Record{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.records[rec.Subject]
	if ok && !rec.supersedes(existing) {
		return existing, nil
	}
	m.records[rec.Subject] = rec
	return rec, nil
}

func (m *MemoryRegistry) Current(_ context.Context, subject string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[subject]
	return rec, ok, nil
}

func (m *MemoryRegistry) Remove(_ context.Context, subject string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, subject)
	return nil
}

// Len returns the number of subjects with a session.
func (m *MemoryRegistry) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
