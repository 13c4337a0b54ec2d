package offcache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/offcache/snapshot"
)

// ControllerOptions configure one version's Controller.
// Manifest, Origin and Storage are required.
type ControllerOptions struct {
	Manifest Manifest
	Origin   *url.URL // where root-relative entries are served from
	Storage  Storage

	Fetcher Fetcher // nil => HTTPFetcher{} (http.DefaultClient)
	Logger  Logger  // nil => NopLogger
	Hooks   Hooks   // nil => NopHooks

	// SkipWaiting requests takeover right after a successful install instead of
	// waiting for the clients of the previous version to go away.
	SkipWaiting bool
	// ClaimClients moves already-connected clients to this controller on
	// activation.
	ClaimClients bool

	Now func() time.Time // nil => time.Now
}

// Controller drives one version through install and activation and owns the
// store named after that version.
type Controller struct {
	id       string
	manifest Manifest
	digest   string
	origin   *url.URL
	storage  Storage
	fetcher  Fetcher
	log      Logger
	hooks    Hooks
	now      func() time.Time

	skipOnInstall bool
	claimClients  bool
	// set by Registration; returns how many clients were moved
	claim func(*Controller) int

	mu          sync.Mutex
	state       State
	skipWaiting bool
	store       Store

	optional sync.WaitGroup
}

func NewController(opts ControllerOptions) (*Controller, error) {
	if err := opts.Manifest.Validate(); err != nil {
		return nil, err
	}
	if opts.Storage == nil {
		return nil, fmt.Errorf("offcache: storage is required")
	}
	if opts.Origin == nil || opts.Origin.Host == "" {
		return nil, fmt.Errorf("offcache: origin is required")
	}

	c := &Controller{
		id:            uuid.NewString(),
		manifest:      opts.Manifest,
		digest:        opts.Manifest.Digest(),
		origin:        opts.Origin,
		storage:       opts.Storage,
		skipOnInstall: opts.SkipWaiting,
		claimClients:  opts.ClaimClients,
		state:         StateUninstalled,
	}
	c.fetcher = opts.Fetcher
	if c.fetcher == nil {
		c.fetcher = HTTPFetcher{}
	}
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.log = coalesce[Logger](opts.Logger, NopLogger{}).With(Fields{"version": opts.Manifest.Version})
	if opts.Now != nil {
		c.now = opts.Now
	} else {
		c.now = time.Now
	}
	return c, nil
}

func (c *Controller) ID() string         { return c.id }
func (c *Controller) Version() string    { return c.manifest.Version }
func (c *Controller) Digest() string     { return c.digest }
func (c *Controller) Manifest() Manifest { return c.manifest }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Store is the version's store; nil until Install succeeded.
func (c *Controller) Store() Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store
}

func (c *Controller) transition(from, to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from || !from.CanTransition(to) {
		return &TransitionError{Version: c.manifest.Version, From: c.state, To: to}
	}
	c.state = to
	return nil
}

// Install caches every required entry of the manifest into the version's
// store. Either all required entries are stored or the store is removed and
// an *InstallError is returned. Optional entries are cached in the
// background; see Settled.
//
// A store already sealed with the same manifest digest (a previous run with a
// persistent provider) is reused without refetching.
func (c *Controller) Install(ctx context.Context) error {
	if err := c.transition(StateUninstalled, StateInstalling); err != nil {
		return err
	}
	st, err := c.install(ctx)
	if err != nil {
		_ = c.transition(StateInstalling, StateUninstalled)
		c.log.Error("install failed", Fields{"err": err})
		return err
	}

	c.mu.Lock()
	c.store = st
	c.state = StateInstalled
	if c.skipOnInstall {
		c.skipWaiting = true
	}
	c.mu.Unlock()
	c.log.Info("installed", Fields{"required": len(c.manifest.Required), "skipWaiting": c.skipOnInstall})
	return nil
}

func (c *Controller) install(ctx context.Context) (Store, error) {
	version := c.manifest.Version
	required, optional, err := c.manifest.Resolve(c.origin)
	if err != nil {
		return nil, &InstallError{Version: version, Err: err}
	}

	info, exists, err := c.storage.Stat(ctx, version)
	if err != nil {
		return nil, &InstallError{Version: version, Err: err}
	}
	if exists && info.Digest == c.digest {
		st, err := c.reuse(ctx, required)
		if err == nil {
			c.log.Info("reusing installed store", Fields{"entries": info.Entries})
			c.cacheOptional(ctx, st, optional)
			return st, nil
		}
		if ctx.Err() != nil {
			return nil, &InstallError{Version: version, Err: ctx.Err()}
		}
		c.log.Warn("installed store incomplete, reinstalling", Fields{"err": err})
	}
	if exists {
		// unsealed leftover of an interrupted install, or a sealed one that
		// lost required entries
		if _, err := c.storage.Delete(ctx, version); err != nil {
			return nil, &InstallError{Version: version, Err: err}
		}
	}

	st, err := c.storage.Open(ctx, version)
	if err != nil {
		return nil, &InstallError{Version: version, Err: err}
	}
	c.cacheOptional(ctx, st, optional)

	entries, err := c.fetchAll(ctx, required)
	if err == nil {
		if err = st.PutAll(ctx, entries); err == nil {
			err = st.Seal(ctx, c.digest)
		}
		if err != nil {
			err = &InstallError{Version: version, Err: err}
		}
	}
	if err != nil {
		if _, derr := c.storage.Delete(context.WithoutCancel(ctx), version); derr != nil {
			c.log.Warn("discarding partial store failed", Fields{"err": derr})
		}
		return nil, err
	}
	return st, nil
}

// reuse opens the sealed store of the version and makes sure every required
// entry is still readable. Entries that expired or were dropped as corrupt are
// fetched again; the store is not reused if any of them cannot be.
func (c *Controller) reuse(ctx context.Context, required []*url.URL) (Store, error) {
	st, err := c.storage.Open(ctx, c.manifest.Version)
	if err != nil {
		return nil, err
	}
	var missing []*url.URL
	for _, u := range required {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		_, ok, err := st.Match(ctx, req)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, u)
		}
	}
	if len(missing) == 0 {
		return st, nil
	}

	c.log.Info("refetching missing entries", Fields{"missing": len(missing)})
	entries, err := c.fetchAll(ctx, missing)
	if err != nil {
		return nil, err
	}
	if err := st.PutAll(ctx, entries); err != nil {
		return nil, err
	}
	return st, nil
}

// fetchAll fetches every url; the first failure cancels the rest.
func (c *Controller) fetchAll(ctx context.Context, urls []*url.URL) ([]Entry, error) {
	entries := make([]Entry, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		g.Go(func() error {
			e, err := c.fetchEntry(gctx, u)
			if err != nil {
				return &InstallError{Version: c.manifest.Version, URL: u.String(), Err: err}
			}
			entries[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// cacheOptional fetches optional entries without holding up the install.
// Every entry settles on its own; failures are reported, never returned.
func (c *Controller) cacheOptional(ctx context.Context, st Store, urls []*url.URL) {
	bg := context.WithoutCancel(ctx)
	for _, u := range urls {
		c.optional.Add(1)
		go func() {
			defer c.optional.Done()
			req, _ := http.NewRequestWithContext(bg, http.MethodGet, u.String(), nil)
			if _, ok, _ := st.Match(bg, req); ok {
				return
			}
			e, err := c.fetchEntry(bg, u)
			if err == nil {
				err = st.Put(bg, e.Request, e.Snapshot)
			}
			if errors.Is(err, ErrStoreDeleted) {
				c.log.Debug("optional entry dropped, store gone", Fields{"url": u.String()})
				return
			}
			if err != nil {
				c.log.Warn("optional entry not cached", Fields{"url": u.String(), "err": err})
				c.hooks.OptionalFetchFailed(c.manifest.Version, u.String(), err)
			}
		}()
	}
}

func (c *Controller) fetchEntry(ctx context.Context, u *url.URL) (Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Entry{}, err
	}
	resp, err := c.fetcher.Fetch(ctx, req)
	if err != nil {
		return Entry{}, err
	}
	snap, err := snapshot.Capture(resp, classify(c.origin, req, resp), c.now())
	if err != nil {
		return Entry{}, err
	}
	if !snap.OK() {
		return Entry{}, fmt.Errorf("%w: %d", ErrFetchStatus, snap.Status)
	}
	return Entry{Request: req, Snapshot: snap}, nil
}

// Settled blocks until every optional entry has been stored or has failed.
// When ctx ends first it returns ctx.Err(); the fetches keep running and a
// helper goroutine waits for them.
func (c *Controller) Settled(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.optional.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Activate deletes every store not named after this version, claims clients
// when configured and makes the controller active.
//
// Stores that cannot be deleted are reported in a *PurgeError; the controller
// is active regardless and the next activation retries them.
func (c *Controller) Activate(ctx context.Context) error {
	if err := c.transition(StateInstalled, StateActivating); err != nil {
		return err
	}

	perr := &PurgeError{}
	names, err := c.storage.Keys(ctx)
	if err != nil {
		perr.add("*", err)
	}
	for _, name := range names {
		if name == c.manifest.Version {
			continue
		}
		if _, err := c.storage.Delete(ctx, name); err != nil {
			perr.add(name, err)
			c.hooks.StalePurgeFailed(name, err)
			continue
		}
		c.log.Info("deleting old cache", Fields{"store": name})
		c.hooks.StaleStorePurged(name)
	}

	claimed := 0
	if c.claimClients && c.claim != nil {
		claimed = c.claim(c)
	}

	c.mu.Lock()
	c.state = StateActive
	c.mu.Unlock()
	c.log.Info("activated", Fields{"claimed": claimed})

	if len(perr.Errs) > 0 {
		c.log.Error("stale stores not purged", Fields{"err": perr})
		return perr
	}
	return nil
}

// SkipWaiting marks the controller to take over as soon as it is installed.
func (c *Controller) SkipWaiting() {
	c.mu.Lock()
	c.skipWaiting = true
	c.mu.Unlock()
}

func (c *Controller) skipWaitingRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.skipWaiting
}

// HandleMessage processes a client control message. Unknown types are ignored.
func (c *Controller) HandleMessage(_ context.Context, msg Message) error {
	switch msg.Type {
	case MessageSkipWaiting:
		c.SkipWaiting()
	default:
		c.log.Debug("ignoring message", Fields{"type": msg.Type})
	}
	return nil
}

// retire makes a superseded controller redundant.
func (c *Controller) retire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.CanTransition(StateRedundant) {
		c.state = StateRedundant
	}
}

func isPurgeError(err error) bool {
	var pe *PurgeError
	return errors.As(err, &pe)
}
