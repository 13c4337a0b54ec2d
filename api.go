package offcache

import (
	"context"
	"net/http"
	"time"

	c "github.com/unkn0wn-root/offcache/codec"
	gen "github.com/unkn0wn-root/offcache/genstore"
	pr "github.com/unkn0wn-root/offcache/provider"
	"github.com/unkn0wn-root/offcache/snapshot"
)

type Snapshot = snapshot.Snapshot

// Storage is a namespace of named stores. A store name is a version tag.
type Storage interface {
	// Open returns the named store, creating it if it does not exist.
	Open(ctx context.Context, name string) (Store, error)
	// Has reports whether the named store exists.
	Has(ctx context.Context, name string) (bool, error)
	// Delete removes the named store and everything in it. Deletion is atomic:
	// once Delete returns no reader can observe any of the store's entries.
	// Reports whether a store was deleted.
	Delete(ctx context.Context, name string) (bool, error)
	// Keys lists existing store names, sorted.
	Keys(ctx context.Context) ([]string, error)
	// Stat describes one store.
	Stat(ctx context.Context, name string) (StoreInfo, bool, error)
	Close(context.Context) error
}

// Store maps request identities to snapshots. Only GET requests are stored.
// Identity is the method plus the normalized URL; headers are not part of it.
type Store interface {
	Name() string
	// Generation is the incarnation of the store this handle was opened on.
	Generation() uint64

	Match(ctx context.Context, req *http.Request) (Snapshot, bool, error)
	// Put stores s under req's identity, replacing any previous entry. It
	// fails with ErrStoreDeleted if the store was deleted since Open.
	// The entry expires after Options.EntryTTL.
	Put(ctx context.Context, req *http.Request, s Snapshot) error
	// PutAll writes entries and indexes them with a single catalog update.
	// Its entries never expire; install writes the required entries with it.
	PutAll(ctx context.Context, entries []Entry) error
	Delete(ctx context.Context, req *http.Request) (bool, error)
	// Keys lists stored identities ("GET https://host/path"), sorted.
	Keys(ctx context.Context) ([]string, error)

	// Seal records the manifest digest the store was fully installed from.
	Seal(ctx context.Context, digest string) error
}

// Entry is one request/snapshot pair for PutAll.
type Entry struct {
	Request  *http.Request
	Snapshot Snapshot
}

// StoreInfo is the catalog record of a store.
type StoreInfo struct {
	Name       string    `json:"name"`
	Generation uint64    `json:"generation"`
	Created    time.Time `json:"created"`
	// Digest is set once the store was sealed by a completed install.
	Digest  string `json:"digest,omitempty"`
	Entries int    `json:"entries"`
}

// Options configure a Storage. Only Namespace and Provider are required.
type Options struct {
	Namespace string // isolates one app's stores, e.g. "speakeasy"
	Provider  pr.Provider

	Codec    c.Codec[Snapshot] // nil => CBOR
	GenStore gen.GenStore      // nil => LocalGenStore (in-process)
	Logger   Logger            // nil => NopLogger
	Hooks    Hooks             // nil => NopHooks

	// EntryTTL bounds how long an entry written by Put may live in the
	// provider; 0 => no expiry. Entries written by PutAll are kept until their
	// store is deleted.
	EntryTTL time.Duration

	// ComputeCost is passed to the provider as the write cost; nil => len(raw).
	ComputeCost func(key string, raw []byte) int64

	// Now is the clock; nil => time.Now.
	Now func() time.Time
}

func New(opts Options) (Storage, error) {
	return newStorage(opts)
}

// ListStores returns the catalog record of every store in st, sorted by name.
func ListStores(ctx context.Context, st Storage) ([]StoreInfo, error) {
	names, err := st.Keys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]StoreInfo, 0, len(names))
	for _, name := range names {
		info, ok, err := st.Stat(ctx, name)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, info)
		}
	}
	return out, nil
}

// coalesce picks def for an unset option.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
