package genstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisGenStore shares store generations across processes and survives
// restarts. Keys never expire: an expired generation would resurrect the
// entries of a deleted store.
type RedisGenStore struct {
	rdb         redis.UniversalClient
	ns          string
	closeClient bool
}

var _ GenStore = (*RedisGenStore)(nil)

// NewRedisGenStore creates a Redis-backed generation store. closeClient
// should be true only when the store exclusively owns the client.
func NewRedisGenStore(client redis.UniversalClient, namespace string, closeClient bool) *RedisGenStore {
	return &RedisGenStore{rdb: client, ns: namespace, closeClient: closeClient}
}

func (s *RedisGenStore) key(k string) string { return "gen:" + s.ns + ":" + k }

// Snapshot returns the current generation. Missing keys are generation 0.
func (s *RedisGenStore) Snapshot(ctx context.Context, k string) (uint64, error) {
	res, err := s.rdb.Get(ctx, s.key(k)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	u, err := strconv.ParseUint(res, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis gen parse: %w", err)
	}
	return u, nil
}

// SnapshotMany reads all generations with one MGET. Missing keys map to 0.
func (s *RedisGenStore) SnapshotMany(ctx context.Context, ks []string) (map[string]uint64, error) {
	if len(ks) == 0 {
		return map[string]uint64{}, nil
	}
	keys := make([]string, len(ks))
	for i, k := range ks {
		keys[i] = s.key(k)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]uint64, len(ks))
	for i, v := range vals {
		var str string
		switch vv := v.(type) {
		case nil:
			out[ks[i]] = 0
			continue
		case string:
			str = vv
		case []byte:
			str = string(vv)
		default:
			str = fmt.Sprint(vv)
		}
		u, err := strconv.ParseUint(str, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis gen parse at %s: %w", ks[i], err)
		}
		out[ks[i]] = u
	}
	return out, nil
}

// Bump is a single INCR.
func (s *RedisGenStore) Bump(ctx context.Context, k string) (uint64, error) {
	v, err := s.rdb.Incr(ctx, s.key(k)).Result()
	if err != nil {
		return 0, err
	}
	return uint64(v), nil
}

func (s *RedisGenStore) Close(context.Context) error {
	if !s.closeClient {
		return nil
	}
	if err := s.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}
