package db

import (
	"context"
	"sync"

	"escalarm/internal/escalation"
)

var _ AlarmStore = (*MemoryStore)(nil)

// MemoryStore keeps alarms in process memory. It is used when no
// DATABASE_URL is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	alarms map[string]escalation.Alarm
	order  []string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{alarms: make(map[string]escalation.Alarm)}
}

func (s *MemoryStore) Save(_ context.Context, a escalation.Alarm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alarms[a.ID]; !ok {
		s.order = append(s.order, a.ID)
	}
	s.alarms[a.ID] = a.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alarms[id]; !ok {
		return nil
	}
	delete(s.alarms, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns clones in insertion order.
func (s *MemoryStore) List(_ context.Context) ([]escalation.Alarm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]escalation.Alarm, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.alarms[id].Clone())
	}
	return out, nil
}
