package orchestrator

import (
	"sync"

	"github.com/listforge/listforge/internal/pipeline"
)

// statsTable guards the orchestrator's counters; WorkOnce may run from many
// workers at once.
type statsTable struct {
	mu     sync.Mutex
	global Stats
	stores map[string]StoreStats
}

func (s *statsTable) terminal(storeID string, status pipeline.TaskStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global.TotalProcessed++
	store := s.storesLocked()[storeID]
	switch status {
	case pipeline.TaskStatusSuccess:
		s.global.Succeeded++
		store.Succeeded++
	case pipeline.TaskStatusFailed:
		s.global.Failed++
		store.Failed++
	case pipeline.TaskStatusSkippedGuardrail:
		s.global.SkippedGuardrail++
		store.SkippedGuardrail++
	case pipeline.TaskStatusSkippedDuplicate:
		s.global.SkippedDuplicate++
		store.SkippedDuplicate++
	}
	s.stores[storeID] = store
}

func (s *statsTable) deferred(storeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global.Deferred++
	store := s.storesLocked()[storeID]
	store.Deferred++
	s.stores[storeID] = store
}

func (s *statsTable) storesLocked() map[string]StoreStats {
	if s.stores == nil {
		s.stores = make(map[string]StoreStats)
	}
	return s.stores
}

func (s *statsTable) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.global
	out.Stores = make(map[string]StoreStats, len(s.stores))
	for id, st := range s.stores {
		out.Stores[id] = st
	}
	return out
}
