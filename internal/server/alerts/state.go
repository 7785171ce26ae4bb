package alerts

import (
	"sync"

	"github.com/watchtower-noc/watchtower/internal/model"
)

// StateStore tracks operator lifecycle actions by alert id, independently
// of the alerts themselves, which are re-derived on every read.
type StateStore interface {
	Acknowledge(id string)
	Clear(id string)
	Status(id string) model.AlertStatus
}

// MemoryStateStore keeps acknowledgements for the lifetime of the process.
type MemoryStateStore struct {
	mu    sync.RWMutex
	acked map[string]struct{}
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{acked: make(map[string]struct{})}
}

func (s *MemoryStateStore) Acknowledge(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked[id] = struct{}{}
}

func (s *MemoryStateStore) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.acked, id)
}

// Status returns AlertAcknowledged for acknowledged ids, else AlertActive.
func (s *MemoryStateStore) Status(id string) model.AlertStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.acked[id]; ok {
		return model.AlertAcknowledged
	}
	return model.AlertActive
}
