package offcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/offcache/snapshot"
)

const defaultFallback = "/index.html"

// ProxyOptions configure a Proxy. Registration and Origin are required.
type ProxyOptions struct {
	Registration *Registration
	Origin       *url.URL

	Fetcher Fetcher // nil => HTTPFetcher{}
	Logger  Logger
	Hooks   Hooks

	// FallbackDocument is served for failed navigations; "" => "/index.html".
	FallbackDocument string

	Now func() time.Time
}

// Stats are cumulative proxy counters.
type Stats struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Passthrough   uint64 `json:"passthrough"` // no active version
	Fallbacks     uint64 `json:"fallbacks"`
	NetworkErrors uint64 `json:"network_errors"`
	Writes        uint64 `json:"writes"`
	WriteFailures uint64 `json:"write_failures"`
}

// Proxy answers requests from the active version's store and fills it from the
// network. It is safe for concurrent use.
type Proxy struct {
	reg      *Registration
	origin   *url.URL
	fetcher  Fetcher
	log      Logger
	hooks    Hooks
	fallback *url.URL
	now      func() time.Time

	writes sync.WaitGroup

	hits, misses, passthrough, fallbacks atomic.Uint64
	netErrs, written, writeFails        atomic.Uint64
}

func NewProxy(opts ProxyOptions) (*Proxy, error) {
	if opts.Registration == nil {
		return nil, fmt.Errorf("offcache: registration is required")
	}
	if opts.Origin == nil || opts.Origin.Host == "" {
		return nil, fmt.Errorf("offcache: origin is required")
	}
	fb, err := url.Parse(coalesce(opts.FallbackDocument, defaultFallback))
	if err != nil {
		return nil, fmt.Errorf("offcache: fallback document: %w", err)
	}
	p := &Proxy{
		reg:      opts.Registration,
		origin:   opts.Origin,
		fetcher:  opts.Fetcher,
		log:      coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:    coalesce[Hooks](opts.Hooks, NopHooks{}),
		fallback: opts.Origin.ResolveReference(fb),
		now:      opts.Now,
	}
	if p.fetcher == nil {
		p.fetcher = HTTPFetcher{}
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// Handle answers req. Requests for schemes other than http(s) return
// ErrNotHandled and must be left to the default network path.
//
//   - no active version: plain network fetch
//   - stored snapshot for req: served without touching the network
//   - otherwise fetched; a 200 same-origin GET response is stored in the
//     background and the caller gets an equivalent response
//   - network failure of a navigation: the cached fallback document
func (p *Proxy) Handle(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.URL == nil || (req.URL.Scheme != "http" && req.URL.Scheme != "https") {
		return nil, ErrNotHandled
	}

	ctrl := p.reg.Active()
	if ctrl == nil {
		p.passthrough.Add(1)
		return p.fetcher.Fetch(ctx, req)
	}
	st := ctrl.Store()

	if snap, ok, err := st.Match(ctx, req); err != nil {
		p.log.Warn("cache lookup failed", Fields{"url": req.URL.String(), "err": err})
	} else if ok {
		p.hits.Add(1)
		p.log.Debug("serving from cache", Fields{"url": req.URL.String(), "store": st.Name()})
		return snap.Response(req), nil
	}
	p.misses.Add(1)

	resp, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		p.netErrs.Add(1)
		return p.offline(ctx, req, st, err)
	}
	if !storable(req) || resp.StatusCode != http.StatusOK {
		return resp, nil
	}
	typ := classify(p.origin, req, resp)
	if typ != snapshot.TypeBasic {
		return resp, nil
	}
	snap, err := snapshot.Capture(resp, typ, p.now())
	if err != nil {
		return nil, fmt.Errorf("offcache: read %s: %w", req.URL, err)
	}
	p.store(ctx, st, req, snap)
	return resp, nil
}

// store writes snap in the background. The caller's response never depends on
// the outcome.
func (p *Proxy) store(ctx context.Context, st Store, req *http.Request, snap Snapshot) {
	key := &http.Request{Method: http.MethodGet, URL: cloneURL(req.URL)}
	bg := context.WithoutCancel(ctx)
	p.writes.Add(1)
	go func() {
		defer p.writes.Done()
		if err := st.Put(bg, key, snap); err != nil {
			p.writeFails.Add(1)
			p.log.Warn("cache write failed", Fields{"url": key.URL.String(), "store": st.Name(), "err": err})
			p.hooks.CacheWriteFailed(st.Name(), identity(key), err)
			return
		}
		p.written.Add(1)
	}()
}

func (p *Proxy) offline(ctx context.Context, req *http.Request, st Store, ferr error) (*http.Response, error) {
	ferr = fmt.Errorf("offcache: fetch %s: %w", req.URL, ferr)
	if !isNavigation(req) {
		return nil, ferr
	}
	fbReq := &http.Request{Method: http.MethodGet, URL: p.fallback}
	snap, ok, err := st.Match(ctx, fbReq)
	if err != nil || !ok {
		return nil, errors.Join(ferr, ErrNoFallback)
	}
	p.fallbacks.Add(1)
	p.log.Info("serving fallback document", Fields{"url": req.URL.String(), "fallback": p.fallback.String()})
	p.hooks.NavigationFallback(req.URL.String(), p.fallback.String())
	return snap.Response(req), nil
}

// Wait blocks until background cache writes are done. When ctx ends first it
// returns ctx.Err(); the writes keep running and a helper goroutine waits for
// them.
func (p *Proxy) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.writes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Proxy) Stats() Stats {
	return Stats{
		Hits:          p.hits.Load(),
		Misses:        p.misses.Load(),
		Passthrough:   p.passthrough.Load(),
		Fallbacks:     p.fallbacks.Load(),
		NetworkErrors: p.netErrs.Load(),
		Writes:        p.written.Load(),
		WriteFailures: p.writeFails.Load(),
	}
}

// hop-by-hop headers, not forwarded in reverse mode
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ServeHTTP is reverse mode: the request path is resolved against the app
// origin and handled as if the page had issued it.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := p.origin.ResolveReference(&url.URL{Path: r.URL.Path, RawPath: r.URL.RawPath, RawQuery: r.URL.RawQuery})
	out := r.Clone(r.Context())
	out.URL = target
	out.Host = target.Host
	out.RequestURI = ""
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}

	resp, err := p.Handle(r.Context(), out)
	if err != nil {
		p.log.Debug("proxy error", Fields{"url": target.String(), "err": err})
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		w.Header().Del(h)
	}
	w.WriteHeader(resp.StatusCode)
	if r.Method != http.MethodHead {
		_, _ = io.Copy(w, resp.Body)
	}
}

// Transport is forward mode: an http.RoundTripper for clients that fetch the
// app's resources directly. Unhandled requests go to base (nil =>
// http.DefaultTransport).
func (p *Proxy) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return roundTripper{p: p, base: base}
}

type roundTripper struct {
	p    *Proxy
	base http.RoundTripper
}

func (rt roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := rt.p.Handle(req.Context(), req)
	if errors.Is(err, ErrNotHandled) {
		return rt.base.RoundTrip(req)
	}
	return resp, err
}

func cloneURL(u *url.URL) *url.URL {
	c := *u
	if u.User != nil {
		user := *u.User
		c.User = &user
	}
	return &c
}
