package offcache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	c "github.com/unkn0wn-root/offcache/codec"
	gen "github.com/unkn0wn-root/offcache/genstore"
	"github.com/unkn0wn-root/offcache/internal/util"
	"github.com/unkn0wn-root/offcache/internal/wire"
	pr "github.com/unkn0wn-root/offcache/provider"
)

type storage struct {
	ns       string
	provider pr.Provider
	codec    c.Codec[Snapshot]
	gen      gen.GenStore
	log      Logger
	hooks    Hooks
	ttl      time.Duration
	cost     func(key string, raw []byte) int64
	now      func() time.Time

	// serializes catalog read-modify-write
	mu sync.Mutex
}

func newStorage(opts Options) (*storage, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("offcache: provider is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("offcache: namespace is required")
	}

	s := &storage{
		ns:       opts.Namespace,
		provider: opts.Provider,
		ttl:      opts.EntryTTL,
	}
	s.log = coalesce[Logger](opts.Logger, NopLogger{})
	s.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	if opts.GenStore != nil {
		s.gen = opts.GenStore
	} else {
		// in-process generations; fine for in-memory providers
		s.gen = gen.NewLocalGenStore()
	}
	if opts.Codec != nil {
		s.codec = opts.Codec
	} else {
		s.codec = c.MustCBOR[Snapshot](false)
	}
	if opts.ComputeCost != nil {
		s.cost = opts.ComputeCost
	} else {
		s.cost = func(_ string, raw []byte) int64 { return int64(len(raw)) }
	}
	if opts.Now != nil {
		s.now = opts.Now
	} else {
		s.now = time.Now
	}
	return s, nil
}

func validStoreName(name string) error {
	if name == "" || strings.ContainsAny(name, ": \t\n") {
		return fmt.Errorf("offcache: invalid store name %q", name)
	}
	return nil
}

func (s *storage) currentGen(ctx context.Context, name string) (uint64, error) {
	return s.gen.Snapshot(ctx, util.StoreGenKey(s.ns, name))
}

func (s *storage) Open(ctx context.Context, name string) (Store, error) {
	if err := validStoreName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for range catalogAttempts {
		var st Store
		if st, err = s.open(ctx, name); !errors.Is(err, ErrCatalogConflict) {
			return st, err
		}
	}
	return nil, err
}

// open must be called with s.mu held.
func (s *storage) open(ctx context.Context, name string) (Store, error) {
	cat, rev, err := s.loadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	cur, err := s.currentGen(ctx, name)
	if err != nil {
		return nil, err
	}
	if rec := cat.Stores[name]; rec != nil && rec.Gen == cur && cur != 0 {
		return &store{s: s, name: name, gen: cur}, nil
	}

	// new incarnation: anything left over from an older one is now stale
	g, err := s.gen.Bump(ctx, util.StoreGenKey(s.ns, name))
	if err != nil {
		return nil, fmt.Errorf("offcache: open %q: %w", name, err)
	}
	cat.Stores[name] = &storeRecord{Gen: g, Created: s.now().UTC()}
	if err := s.saveCatalog(ctx, cat, rev); err != nil {
		return nil, err
	}
	s.log.Debug("store created", Fields{"ns": s.ns, "store": name, "gen": g})
	return &store{s: s, name: name, gen: g}, nil
}

func (s *storage) Has(ctx context.Context, name string) (bool, error) {
	_, ok, err := s.Stat(ctx, name)
	return ok, err
}

func (s *storage) Stat(ctx context.Context, name string) (StoreInfo, bool, error) {
	s.mu.Lock()
	cat, _, err := s.loadCatalog(ctx)
	s.mu.Unlock()
	if err != nil {
		return StoreInfo{}, false, err
	}
	rec := cat.Stores[name]
	if rec == nil {
		return StoreInfo{}, false, nil
	}
	cur, err := s.currentGen(ctx, name)
	if err != nil {
		return StoreInfo{}, false, err
	}
	if cur != rec.Gen {
		return StoreInfo{}, false, nil
	}
	return rec.info(name), true, nil
}

func (s *storage) Keys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	cat, _, err := s.loadCatalog(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(cat.Stores) == 0 {
		return nil, nil
	}
	genKeys := make([]string, 0, len(cat.Stores))
	for name := range cat.Stores {
		genKeys = append(genKeys, util.StoreGenKey(s.ns, name))
	}
	gens, err := s.gen.SnapshotMany(ctx, genKeys)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(cat.Stores))
	for name, rec := range cat.Stores {
		if gens[util.StoreGenKey(s.ns, name)] == rec.Gen {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete bumps the store's generation first. From that point every entry of
// the store is stale, so the entry deletes that follow are only reclaiming
// space.
func (s *storage) Delete(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cat, rev, err := s.loadCatalog(ctx)
	if err != nil {
		return false, err
	}
	rec := cat.Stores[name]
	if rec == nil {
		return false, nil
	}
	cur, err := s.currentGen(ctx, name)
	if err != nil {
		return false, err
	}
	if cur != rec.Gen {
		// dangling record of an incarnation deleted elsewhere
		delete(cat.Stores, name)
		if err := s.saveCatalog(ctx, cat, rev); err != nil {
			s.log.Warn("dropping dangling catalog record failed", Fields{"store": name, "err": err})
		}
		return false, nil
	}

	newGen, err := s.gen.Bump(ctx, util.StoreGenKey(s.ns, name))
	if err != nil {
		return false, fmt.Errorf("offcache: delete %q: %w", name, err)
	}
	delete(cat.Stores, name)
	if err := s.saveCatalog(ctx, cat, rev); err != nil {
		// the bump already hid the store; a stale record is filtered by gen
		s.log.Warn("catalog update after delete failed", Fields{"store": name, "err": err})
	}
	for _, id := range rec.Keys {
		_ = s.provider.Del(ctx, util.EntryKey(s.ns, name, id))
	}
	s.log.Debug("store deleted", Fields{"ns": s.ns, "store": name, "entries": len(rec.Keys), "newGen": newGen})
	return true, nil
}

func (s *storage) Close(ctx context.Context) error {
	if s.gen != nil {
		_ = s.gen.Close(ctx)
	}
	return s.provider.Close(ctx)
}

// store is a handle on one incarnation of a named store.
type store struct {
	s    *storage
	name string
	gen  uint64
}

func storable(req *http.Request) bool {
	return req != nil && req.URL != nil && (req.Method == "" || req.Method == http.MethodGet)
}

func identity(req *http.Request) string {
	return util.RequestKey(req.Method, req.URL)
}

func (h *store) Name() string       { return h.name }
func (h *store) Generation() uint64 { return h.gen }

func (h *store) Match(ctx context.Context, req *http.Request) (Snapshot, bool, error) {
	if !storable(req) {
		return Snapshot{}, false, nil
	}
	id := identity(req)
	k := util.EntryKey(h.s.ns, h.name, id)

	raw, ok, err := h.s.provider.Get(ctx, k)
	if err != nil || !ok {
		return Snapshot{}, false, err
	}
	g, payload, err := wire.DecodeEntry(raw)
	if err != nil {
		h.heal(ctx, k, id, "corrupt")
		return Snapshot{}, false, nil
	}
	cur, err := h.s.currentGen(ctx, h.name)
	if err != nil {
		return Snapshot{}, false, err
	}
	if g != cur {
		h.heal(ctx, k, id, "stale_gen")
		return Snapshot{}, false, nil
	}
	if cur != h.gen {
		// entry of a newer incarnation; this handle's store is gone
		return Snapshot{}, false, nil
	}
	snap, err := h.s.codec.Decode(payload)
	if err != nil {
		h.heal(ctx, k, id, "decode")
		return Snapshot{}, false, nil
	}
	return snap, true, nil
}

// heal drops an unreadable entry and its index key so Entries stays honest.
func (h *store) heal(ctx context.Context, k, id, reason string) {
	_ = h.s.provider.Del(ctx, k)
	err := h.s.updateRecord(ctx, h.name, h.gen, func(rec *storeRecord) { rec.removeKey(id) })
	if err != nil && !errors.Is(err, ErrStoreDeleted) {
		h.s.log.Debug("unindexing dropped entry failed", Fields{"store": h.name, "id": id, "err": err})
	}
	h.s.hooks.SelfHealEntry(h.name, id, reason)
	h.s.log.Debug("dropped entry", Fields{"store": h.name, "id": id, "reason": reason})
}

func (h *store) Put(ctx context.Context, req *http.Request, snap Snapshot) error {
	return h.put(ctx, []Entry{{Request: req, Snapshot: snap}}, h.s.ttl)
}

func (h *store) PutAll(ctx context.Context, entries []Entry) error {
	return h.put(ctx, entries, 0)
}

func (h *store) put(ctx context.Context, entries []Entry, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if !storable(e.Request) {
			return ErrMethodNotCacheable
		}
	}
	cur, err := h.s.currentGen(ctx, h.name)
	if err != nil {
		return err
	}
	if cur != h.gen {
		return ErrStoreDeleted
	}

	written := make([]string, 0, len(entries))
	var werr error
	for _, e := range entries {
		id := identity(e.Request)
		if werr = h.write(ctx, id, e.Snapshot, ttl); werr != nil {
			werr = fmt.Errorf("offcache: put %q: %w", id, werr)
			break
		}
		written = append(written, id)
	}
	if len(written) == 0 {
		return werr
	}

	err = h.s.updateRecord(ctx, h.name, h.gen, func(rec *storeRecord) {
		for _, id := range written {
			rec.addKey(id)
		}
	})
	if errors.Is(err, ErrStoreDeleted) {
		// deleted while writing: the entries are stale already, reclaim them
		for _, id := range written {
			_ = h.s.provider.Del(ctx, util.EntryKey(h.s.ns, h.name, id))
		}
	}
	return errors.Join(werr, err)
}

func (h *store) write(ctx context.Context, id string, snap Snapshot, ttl time.Duration) error {
	payload, err := h.s.codec.Encode(snap)
	if err != nil {
		return err
	}
	k := util.EntryKey(h.s.ns, h.name, id)
	raw := wire.EncodeEntry(h.gen, payload)
	ok, err := h.s.provider.Set(ctx, k, raw, h.s.cost(k, raw), ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRejected
	}
	return nil
}

func (h *store) Delete(ctx context.Context, req *http.Request) (bool, error) {
	if !storable(req) {
		return false, nil
	}
	id := identity(req)
	if err := h.s.provider.Del(ctx, util.EntryKey(h.s.ns, h.name, id)); err != nil {
		return false, err
	}
	var existed bool
	err := h.s.updateRecord(ctx, h.name, h.gen, func(rec *storeRecord) {
		existed = rec.removeKey(id)
	})
	if errors.Is(err, ErrStoreDeleted) {
		return false, nil
	}
	return existed, err
}

// Keys returns nil once the store was deleted.
func (h *store) Keys(ctx context.Context) ([]string, error) {
	h.s.mu.Lock()
	cat, _, err := h.s.loadCatalog(ctx)
	h.s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	rec := cat.Stores[h.name]
	if rec == nil || rec.Gen != h.gen {
		return nil, nil
	}
	cur, err := h.s.currentGen(ctx, h.name)
	if err != nil || cur != h.gen {
		return nil, err
	}
	return append([]string(nil), rec.Keys...), nil
}

func (h *store) Seal(ctx context.Context, digest string) error {
	return h.s.updateRecord(ctx, h.name, h.gen, func(rec *storeRecord) {
		rec.Digest = digest
	})
}
