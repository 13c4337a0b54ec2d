package offcache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/offcache/internal/util"
	"github.com/unkn0wn-root/offcache/internal/wire"
)

// catalog is the persisted list of stores in a namespace. Providers cannot
// enumerate keys, so every store also indexes the identities it holds.
type catalog struct {
	Stores map[string]*storeRecord `msgpack:"stores"`
}

type storeRecord struct {
	Gen     uint64    `msgpack:"gen"`
	Created time.Time `msgpack:"created"`
	Digest  string    `msgpack:"digest,omitempty"`
	Keys    []string  `msgpack:"keys,omitempty"` // sorted, unique
}

func (r *storeRecord) addKey(id string) {
	i := sort.SearchStrings(r.Keys, id)
	if i < len(r.Keys) && r.Keys[i] == id {
		return
	}
	r.Keys = append(r.Keys, "")
	copy(r.Keys[i+1:], r.Keys[i:])
	r.Keys[i] = id
}

func (r *storeRecord) removeKey(id string) bool {
	i := sort.SearchStrings(r.Keys, id)
	if i == len(r.Keys) || r.Keys[i] != id {
		return false
	}
	r.Keys = append(r.Keys[:i], r.Keys[i+1:]...)
	return true
}

func (r *storeRecord) info(name string) StoreInfo {
	return StoreInfo{
		Name:       name,
		Generation: r.Gen,
		Created:    r.Created,
		Digest:     r.Digest,
		Entries:    len(r.Keys),
	}
}

// loadCatalog must be called with s.mu held. A missing catalog is empty; a
// corrupt one is dropped.
func (s *storage) loadCatalog(ctx context.Context) (*catalog, uint64, error) {
	k := util.CatalogKey(s.ns)
	raw, ok, err := s.provider.Get(ctx, k)
	if err != nil {
		return nil, 0, fmt.Errorf("offcache: read catalog: %w", err)
	}
	cat := &catalog{Stores: make(map[string]*storeRecord)}
	if !ok {
		return cat, 0, nil
	}
	rev, payload, err := wire.DecodeCatalog(raw)
	if err == nil {
		err = msgpack.Unmarshal(payload, cat)
	}
	if err != nil {
		s.log.Warn("dropping corrupt catalog", Fields{"ns": s.ns, "err": err})
		s.hooks.SelfHealEntry("", k, "corrupt")
		_ = s.provider.Del(ctx, k)
		return &catalog{Stores: make(map[string]*storeRecord)}, 0, nil
	}
	if cat.Stores == nil {
		cat.Stores = make(map[string]*storeRecord)
	}
	return cat, rev, nil
}

// catalogAttempts bounds retries of a catalog update that lost a race.
const catalogAttempts = 3

// catalogRev returns the revision of the stored catalog; 0 when missing or
// unreadable, the same as loadCatalog reports.
func (s *storage) catalogRev(ctx context.Context) (uint64, error) {
	raw, ok, err := s.provider.Get(ctx, util.CatalogKey(s.ns))
	if err != nil {
		return 0, fmt.Errorf("offcache: read catalog: %w", err)
	}
	if !ok {
		return 0, nil
	}
	rev, _, err := wire.DecodeCatalog(raw)
	if err != nil {
		return 0, nil
	}
	return rev, nil
}

// saveCatalog must be called with s.mu held. It fails with ErrCatalogConflict
// when the stored catalog is no longer at rev. Providers have no conditional
// write, so a writer in another process can still slip in between the check
// and the write.
func (s *storage) saveCatalog(ctx context.Context, cat *catalog, rev uint64) error {
	payload, err := msgpack.Marshal(cat)
	if err != nil {
		return fmt.Errorf("offcache: encode catalog: %w", err)
	}
	cur, err := s.catalogRev(ctx)
	if err != nil {
		return err
	}
	if cur != rev {
		return ErrCatalogConflict
	}
	k := util.CatalogKey(s.ns)
	raw := wire.EncodeCatalog(rev+1, payload)
	ok, err := s.provider.Set(ctx, k, raw, s.cost(k, raw), 0)
	if err != nil {
		return fmt.Errorf("offcache: write catalog: %w", err)
	}
	if !ok {
		return fmt.Errorf("offcache: write catalog: %w", ErrRejected)
	}
	return nil
}

// updateRecord applies fn to the live record of name at generation g and
// persists the catalog. Returns ErrStoreDeleted if that incarnation is gone.
// A lost race is retried on a fresh copy.
func (s *storage) updateRecord(ctx context.Context, name string, g uint64, fn func(*storeRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for range catalogAttempts {
		var (
			cat *catalog
			rev uint64
		)
		if cat, rev, err = s.loadCatalog(ctx); err != nil {
			return err
		}
		rec := cat.Stores[name]
		if rec == nil || rec.Gen != g {
			return ErrStoreDeleted
		}
		fn(rec)
		if err = s.saveCatalog(ctx, cat, rev); !errors.Is(err, ErrCatalogConflict) {
			return err
		}
	}
	return err
}
