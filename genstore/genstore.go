// Package genstore keeps the generation counter of every named store.
//
// A store's entries are framed with the generation that was current when they
// were written; an entry is live only while that generation is still current.
// Deleting a store is therefore a single Bump, which is atomic with respect to
// every reader no matter how many entries the store held.
package genstore

import "context"

// GenStore abstracts where generations live.
//   - LocalGenStore: in-process, for in-memory providers.
//   - ProviderGenStore: persisted next to the entries, for the disk provider.
//   - RedisGenStore: shared across processes.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, key string) (uint64, error)
	// SnapshotMany returns gens for many keys; missing => 0.
	SnapshotMany(ctx context.Context, keys []string) (map[string]uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, key string) (uint64, error)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
