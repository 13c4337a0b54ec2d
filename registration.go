package offcache

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RegistrationOptions configure a Registration. Storage and Origin are
// required; the rest is handed to every Controller it creates.
type RegistrationOptions struct {
	Storage Storage
	Origin  *url.URL

	Fetcher Fetcher
	Logger  Logger
	Hooks   Hooks

	SkipWaiting  bool
	ClaimClients bool

	Now func() time.Time
}

// Registration coordinates the controllers of successive versions: at most one
// active, at most one installed and waiting. It also tracks connected
// clients, which decide when a waiting version may take over.
type Registration struct {
	opts  RegistrationOptions
	log   Logger
	hooks Hooks

	// one lifecycle change at a time: installs and activations. An
	// activation purges every other store, including one being installed.
	installMu sync.Mutex

	mu      sync.Mutex
	active  *Controller
	waiting *Controller
	clients map[string]*Client
	subs    map[int]chan ControllerChange
	nextSub int
}

func NewRegistration(opts RegistrationOptions) (*Registration, error) {
	if opts.Storage == nil {
		return nil, fmt.Errorf("offcache: storage is required")
	}
	if opts.Origin == nil || opts.Origin.Host == "" {
		return nil, fmt.Errorf("offcache: origin is required")
	}
	return &Registration{
		opts:    opts,
		log:     coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:   coalesce[Hooks](opts.Hooks, NopHooks{}),
		clients: make(map[string]*Client),
		subs:    make(map[int]chan ControllerChange),
	}, nil
}

func (r *Registration) Active() *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Registration) Waiting() *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

// Update installs m as a new version. It returns the controller now
// responsible for m, which is either active or waiting.
//
// Re-submitting the active manifest is a no-op. Changing the resources of an
// installed version without a new version tag fails with ErrVersionNotBumped.
func (r *Registration) Update(ctx context.Context, m Manifest) (*Controller, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	r.installMu.Lock()
	defer r.installMu.Unlock()

	digest := m.Digest()
	for _, cur := range []*Controller{r.Active(), r.Waiting()} {
		if cur == nil || cur.Version() != m.Version {
			continue
		}
		if cur.Digest() != digest {
			return nil, ErrVersionNotBumped
		}
		return cur, r.maybeActivate(ctx)
	}
	info, ok, err := r.opts.Storage.Stat(ctx, m.Version)
	if err != nil {
		return nil, err
	}
	if ok && info.Digest != "" && info.Digest != digest {
		return nil, ErrVersionNotBumped
	}

	ctrl, err := NewController(ControllerOptions{
		Manifest:     m,
		Origin:       r.opts.Origin,
		Storage:      r.opts.Storage,
		Fetcher:      r.opts.Fetcher,
		Logger:       r.opts.Logger,
		Hooks:        r.opts.Hooks,
		SkipWaiting:  r.opts.SkipWaiting,
		ClaimClients: r.opts.ClaimClients,
		Now:          r.opts.Now,
	})
	if err != nil {
		return nil, err
	}
	ctrl.claim = r.claim

	if err := ctrl.Install(ctx); err != nil {
		ctrl.retire()
		return nil, err
	}

	r.mu.Lock()
	prev := r.waiting
	r.waiting = ctrl
	r.mu.Unlock()
	if prev != nil {
		prev.retire()
	}
	return ctrl, r.maybeActivate(ctx)
}

// Activate hands over to the waiting controller now, regardless of clients.
func (r *Registration) Activate(ctx context.Context) error {
	r.installMu.Lock()
	defer r.installMu.Unlock()
	w := r.Waiting()
	if w == nil {
		return nil
	}
	return r.activate(ctx, w)
}

// PostMessage delivers a client message to the waiting controller, if any.
// It waits for an install in progress.
func (r *Registration) PostMessage(ctx context.Context, msg Message) error {
	r.installMu.Lock()
	defer r.installMu.Unlock()
	w := r.Waiting()
	if w == nil {
		r.log.Debug("message with no waiting controller", Fields{"type": msg.Type})
		return nil
	}
	if err := w.HandleMessage(ctx, msg); err != nil {
		return err
	}
	return r.maybeActivate(ctx)
}

// maybeActivate and activate must be called with installMu held.
func (r *Registration) maybeActivate(ctx context.Context) error {
	r.mu.Lock()
	w := r.waiting
	if w == nil {
		r.mu.Unlock()
		return nil
	}
	ready := r.active == nil || w.skipWaitingRequested() || r.controlledByLocked(r.active) == 0
	r.mu.Unlock()
	if !ready {
		r.log.Debug("version waiting for clients", Fields{"version": w.Version()})
		return nil
	}
	return r.activate(ctx, w)
}

func (r *Registration) activate(ctx context.Context, w *Controller) error {
	r.mu.Lock()
	if r.waiting != w {
		r.mu.Unlock()
		return nil
	}
	r.waiting = nil
	r.mu.Unlock()

	err := w.Activate(ctx)
	if err != nil && !isPurgeError(err) {
		return err
	}

	r.mu.Lock()
	prev := r.active
	r.active = w
	r.mu.Unlock()
	if prev != nil && prev != w {
		prev.retire()
	}
	return err
}

// claim moves every client to c and notifies subscribers.
func (r *Registration) claim(c *Controller) int {
	r.mu.Lock()
	var from string
	if r.active != nil {
		from = r.active.Version()
	}
	n := 0
	for _, cl := range r.clients {
		if cl.ctrl != c {
			cl.ctrl = c
			n++
		}
	}
	// sends stay under mu so a concurrent cancel cannot close ch mid-send
	change := ControllerChange{From: from, To: c.Version(), Clients: n}
	for _, ch := range r.subs {
		select {
		case ch <- change:
		default:
			// slow subscriber; it can read Active() instead
		}
	}
	r.mu.Unlock()

	r.hooks.ControllerChanged(from, c.Version())
	return n
}

func (r *Registration) controlledByLocked(c *Controller) int {
	n := 0
	for _, cl := range r.clients {
		if cl.ctrl == c {
			n++
		}
	}
	return n
}

// Subscribe returns a channel of controller changes. Sends never block;
// changes are dropped for a full channel. cancel closes the channel.
func (r *Registration) Subscribe(buf int) (<-chan ControllerChange, func()) {
	ch := make(chan ControllerChange, buf)
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			close(ch)
			r.mu.Unlock()
		})
	}
}

// Clients reports the number of connected clients.
func (r *Registration) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Client is a connected page. It is controlled by the version that was active
// when it connected, until a newer version claims it.
type Client struct {
	id   string
	reg  *Registration
	ctrl *Controller // guarded by reg.mu
}

func (r *Registration) Connect() *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	cl := &Client{id: uuid.NewString(), reg: r, ctrl: r.active}
	r.clients[cl.id] = cl
	return cl
}

func (cl *Client) ID() string { return cl.id }

// Controller is nil for a client that connected before any activation and was
// not claimed.
func (cl *Client) Controller() *Controller {
	cl.reg.mu.Lock()
	defer cl.reg.mu.Unlock()
	return cl.ctrl
}

// Close disconnects the client. When it was the last client of the active
// version, a waiting version takes over; that waits for an install in
// progress.
func (cl *Client) Close(ctx context.Context) error {
	r := cl.reg
	r.mu.Lock()
	_, ok := r.clients[cl.id]
	delete(r.clients, cl.id)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	r.installMu.Lock()
	defer r.installMu.Unlock()
	return r.maybeActivate(ctx)
}
