package genstore

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	pr "github.com/unkn0wn-root/offcache/provider"
)

// ProviderGenStore persists generations in the same provider as the entries,
// so a persistent provider (disk) keeps its stores valid across restarts.
// Bump is atomic within one process only; use RedisGenStore when several
// processes share a store.
type ProviderGenStore struct {
	p  pr.Provider
	ns string
	mu sync.Mutex
}

var _ GenStore = (*ProviderGenStore)(nil)

func NewProviderGenStore(p pr.Provider, namespace string) *ProviderGenStore {
	return &ProviderGenStore{p: p, ns: namespace}
}

func (s *ProviderGenStore) key(k string) string { return "gen:" + s.ns + ":" + k }

func (s *ProviderGenStore) Snapshot(ctx context.Context, k string) (uint64, error) {
	raw, ok, err := s.p.Get(ctx, s.key(k))
	if err != nil || !ok {
		return 0, err
	}
	g, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("provider gen parse: %w", err)
	}
	return g, nil
}

func (s *ProviderGenStore) SnapshotMany(ctx context.Context, ks []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(ks))
	for _, k := range ks {
		g, err := s.Snapshot(ctx, k)
		if err != nil {
			return nil, err
		}
		out[k] = g
	}
	return out, nil
}

func (s *ProviderGenStore) Bump(ctx context.Context, k string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.Snapshot(ctx, k)
	if err != nil {
		return 0, err
	}
	g++
	ok, err := s.p.Set(ctx, s.key(k), []byte(strconv.FormatUint(g, 10)), 1, 0)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("provider gen bump rejected for %q", k)
	}
	return g, nil
}

// Close does not close the provider; the storage owns it.
func (s *ProviderGenStore) Close(context.Context) error { return nil }
