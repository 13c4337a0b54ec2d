package genstore

import (
	"context"
	"sync"
)

// LocalGenStore keeps generations in-process. Generations are never pruned:
// forgetting one would let entries of a deleted store become live again.
type LocalGenStore struct {
	mu   sync.RWMutex
	gens map[string]uint64
}

var _ GenStore = (*LocalGenStore)(nil)

func NewLocalGenStore() *LocalGenStore {
	return &LocalGenStore{gens: make(map[string]uint64)}
}

func (s *LocalGenStore) Snapshot(_ context.Context, k string) (uint64, error) {
	s.mu.RLock()
	g := s.gens[k]
	s.mu.RUnlock()
	return g, nil
}

// SnapshotMany reads all requested keys under one read lock.
func (s *LocalGenStore) SnapshotMany(_ context.Context, ks []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(ks))
	s.mu.RLock()
	for _, k := range ks {
		out[k] = s.gens[k]
	}
	s.mu.RUnlock()
	return out, nil
}

func (s *LocalGenStore) Bump(_ context.Context, k string) (uint64, error) {
	s.mu.Lock()
	s.gens[k]++
	g := s.gens[k]
	s.mu.Unlock()
	return g, nil
}

func (s *LocalGenStore) Close(context.Context) error { return nil }
