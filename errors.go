package offcache

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotHandled is returned by Proxy.Handle for requests it does not
	// intercept (non-http(s) schemes). Callers pass those through untouched.
	ErrNotHandled = errors.New("offcache: request not handled")

	// ErrVersionNotBumped means a manifest changed its resources but kept the
	// version tag of an installed store.
	ErrVersionNotBumped = errors.New("offcache: manifest changed without a new version")

	// ErrStoreDeleted is returned when writing through a handle whose store was
	// deleted (or re-created) after the handle was opened.
	ErrStoreDeleted = errors.New("offcache: store was deleted")

	// ErrNoFallback means a navigation failed and no fallback document is cached.
	ErrNoFallback = errors.New("offcache: no cached fallback document")

	ErrInvalidManifest = errors.New("offcache: invalid manifest")

	// ErrFetchStatus is returned for non-2xx responses to required manifest entries.
	ErrFetchStatus = errors.New("offcache: unexpected response status")

	ErrMethodNotCacheable = errors.New("offcache: only GET requests can be stored")

	// ErrRejected means the provider refused a write under memory pressure.
	ErrRejected = errors.New("offcache: provider rejected write")

	// ErrCatalogConflict means another writer changed the catalog between a
	// read and the write that followed it.
	ErrCatalogConflict = errors.New("offcache: catalog changed concurrently")
)

// InstallError is returned when a version could not be installed. The store
// created for it has been removed and the previously active version (if any)
// keeps serving.
type InstallError struct {
	Version string
	URL     string // failing entry; "" when the failure was not entry-specific
	Err     error
}

func (e *InstallError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("install %q: %v", e.Version, e.Err)
	}
	return fmt.Sprintf("install %q: %s: %v", e.Version, e.URL, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// TransitionError reports an illegal lifecycle transition.
type TransitionError struct {
	Version string
	From    State
	To      State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("controller %q: illegal transition %s -> %s", e.Version, e.From, e.To)
}

// PurgeError collects stores activation could not delete. Activation still
// completes; the stores are retried on the next activation.
type PurgeError struct {
	Names []string
	Errs  []error
}

func (e *PurgeError) add(name string, err error) {
	e.Names = append(e.Names, name)
	e.Errs = append(e.Errs, err)
}

func (e *PurgeError) Error() string {
	parts := make([]string, len(e.Names))
	for i := range e.Names {
		parts[i] = fmt.Sprintf("%s: %v", e.Names[i], e.Errs[i])
	}
	return "purge stale stores: " + strings.Join(parts, "; ")
}

func (e *PurgeError) Unwrap() []error { return e.Errs }
