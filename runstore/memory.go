package runstore

import (
	"context"
	"sync"
)

type MemoryStore struct {
	mu      sync.RWMutex
	runs    map[string]Run
	metrics []Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]Run)}
}

func (s *MemoryStore) Init(_ context.Context) error {
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) AppendMetrics(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics = append(s.metrics, records...)
	return nil
}

func (s *MemoryStore) Metrics(_ context.Context, runID, split string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, r := range s.metrics {
		if r.RunID == runID && (split == "" || r.Split == split) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
