package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"pumprelay/relay-server/internal/model"
)

// MemoryBackend keeps entries in process memory. Contents are lost on restart.
type MemoryBackend struct {
	mu      sync.Mutex
	entries []model.LogEntry
	down    bool
}

// NewMemory returns an empty, available memory backend.
func NewMemory() *MemoryBackend {
	return &MemoryBackend{}
}

// SetAvailable toggles availability, simulating a store outage.
func (m *MemoryBackend) SetAvailable(ok bool) {
	m.mu.Lock()
	m.down = !ok
	m.mu.Unlock()
}

func (m *MemoryBackend) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.down
}

func (m *MemoryBackend) Create(_ context.Context, entry model.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MemoryBackend) Find(_ context.Context, r model.DateRange, limit int) ([]model.LogEntry, error) {
	m.mu.Lock()
	matched := make([]model.LogEntry, 0, len(m.entries))
	for _, e := range m.entries {
		if r.Contains(e.Timestamp) {
			matched = append(matched, e)
		}
	}
	m.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *MemoryBackend) DeleteMany(_ context.Context, r model.DateRange) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.entries[:0]
	var removed int64
	for _, e := range m.entries {
		if r.Contains(e.Timestamp) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return removed, nil
}

func (m *MemoryBackend) Close(context.Context) error { return nil }
