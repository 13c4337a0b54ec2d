package offcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pr "github.com/unkn0wn-root/offcache/provider"
)

type memEntry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

type memProvider struct {
	mu     sync.Mutex
	m      map[string]memEntry
	reject bool // Set returns ok=false
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string]memEntry)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(p.m, key)
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reject {
		return false, nil
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	p.m[key] = memEntry{v: append([]byte(nil), value...), exp: exp}
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, key)
	return nil
}

func (p *memProvider) Close(_ context.Context) error { return nil }

func (p *memProvider) setReject(v bool) {
	p.mu.Lock()
	p.reject = v
	p.mu.Unlock()
}

func (p *memProvider) countPrefix(prefix string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for k := range p.m {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n
}

// ==============================
// Fake network
// ==============================

var errOffline = errors.New("network unreachable")

type route struct {
	status int
	body   string
	header http.Header
	err    error
}

type fakeNet struct {
	mu      sync.Mutex
	routes  map[string]route
	calls   map[string]int
	offline bool
}

func newFakeNet() *fakeNet {
	return &fakeNet{routes: make(map[string]route), calls: make(map[string]int)}
}

func (n *fakeNet) handle(u string, status int, body string) {
	n.mu.Lock()
	n.routes[u] = route{status: status, body: body}
	n.mu.Unlock()
}

func (n *fakeNet) handleRoute(u string, r route) {
	n.mu.Lock()
	n.routes[u] = r
	n.mu.Unlock()
}

func (n *fakeNet) setOffline(v bool) {
	n.mu.Lock()
	n.offline = v
	n.mu.Unlock()
}

func (n *fakeNet) callCount(u string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[u]
}

func (n *fakeNet) totalCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	t := 0
	for _, c := range n.calls {
		t += c
	}
	return t
}

func (n *fakeNet) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	u := req.URL.String()
	n.mu.Lock()
	n.calls[u]++
	off := n.offline
	r, ok := n.routes[u]
	n.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if off {
		return nil, errOffline
	}
	if !ok {
		r = route{status: http.StatusNotFound, body: "not found"}
	}
	if r.err != nil {
		return nil, r.err
	}
	h := r.header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	return &http.Response{
		StatusCode: r.status,
		Status:     fmt.Sprintf("%d %s", r.status, http.StatusText(r.status)),
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(r.body)),
		Request:    req,
	}, nil
}

// ==============================
// Gates
// ==============================

// gate parks the first hit after arm until release.
type gate struct {
	armed    atomic.Bool
	entered  chan struct{}
	released chan struct{}
	once     sync.Once
}

func newGate(t *testing.T) *gate {
	g := &gate{entered: make(chan struct{}), released: make(chan struct{})}
	t.Cleanup(g.release)
	return g
}

func (g *gate) arm() { g.armed.Store(true) }

func (g *gate) hit() {
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.released
	}
}

func (g *gate) wait(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("gate never reached")
	}
}

func (g *gate) release() { g.once.Do(func() { close(g.released) }) }

// gatedFetcher parks the fetch of one URL on g.
type gatedFetcher struct {
	Fetcher
	url string
	g   *gate
}

func (f gatedFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.URL.String() == f.url {
		f.g.hit()
	}
	return f.Fetcher.Fetch(ctx, req)
}

// gatedLogger parks on g when msg is logged at info level.
type gatedLogger struct {
	NopLogger
	msg string
	g   *gate
}

func (l gatedLogger) Info(msg string, _ Fields) {
	if msg == l.msg {
		l.g.hit()
	}
}

func (l gatedLogger) With(Fields) Logger { return l }

// warnLogger records warning messages.
type warnLogger struct {
	NopLogger
	mu    *sync.Mutex
	warns *[]string
}

func newWarnLogger() warnLogger { return warnLogger{mu: &sync.Mutex{}, warns: new([]string)} }

func (l warnLogger) Warn(msg string, _ Fields) {
	l.mu.Lock()
	*l.warns = append(*l.warns, msg)
	l.mu.Unlock()
}

func (l warnLogger) With(Fields) Logger { return l }

func (l warnLogger) recorded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), *l.warns...)
}

// ==============================
// Recording hooks
// ==============================

type recHooks struct {
	NopHooks
	mu          sync.Mutex
	healed      []string
	optFailed   []string
	purged      []string
	writeFailed []string
	fallbacks   []string
	changes     []string
}

func (h *recHooks) SelfHealEntry(store, id, reason string) {
	h.mu.Lock()
	h.healed = append(h.healed, reason)
	h.mu.Unlock()
}

func (h *recHooks) OptionalFetchFailed(_, u string, _ error) {
	h.mu.Lock()
	h.optFailed = append(h.optFailed, u)
	h.mu.Unlock()
}

func (h *recHooks) StaleStorePurged(name string) {
	h.mu.Lock()
	h.purged = append(h.purged, name)
	h.mu.Unlock()
}

func (h *recHooks) CacheWriteFailed(_, id string, _ error) {
	h.mu.Lock()
	h.writeFailed = append(h.writeFailed, id)
	h.mu.Unlock()
}

func (h *recHooks) NavigationFallback(u, _ string) {
	h.mu.Lock()
	h.fallbacks = append(h.fallbacks, u)
	h.mu.Unlock()
}

func (h *recHooks) ControllerChanged(from, to string) {
	h.mu.Lock()
	h.changes = append(h.changes, from+"->"+to)
	h.mu.Unlock()
}

func (h *recHooks) recorded() recHooks {
	h.mu.Lock()
	defer h.mu.Unlock()
	return recHooks{
		healed:      append([]string(nil), h.healed...),
		optFailed:   append([]string(nil), h.optFailed...),
		purged:      append([]string(nil), h.purged...),
		writeFailed: append([]string(nil), h.writeFailed...),
		fallbacks:   append([]string(nil), h.fallbacks...),
		changes:     append([]string(nil), h.changes...),
	}
}

// ==============================
// Fixtures
// ==============================

const testOrigin = "https://app.example"

func mustURL(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return u
}

func getReq(t *testing.T, s string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s, nil)
	if err != nil {
		t.Fatalf("NewRequest %q: %v", s, err)
	}
	return req
}

func newTestStorage(t *testing.T, mp pr.Provider, hooks Hooks) Storage {
	t.Helper()
	st, err := New(Options{Namespace: "speakeasy", Provider: mp, Hooks: hooks})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return st
}

func testManifest(version string) Manifest {
	return Manifest{
		Version:  version,
		Required: []string{"/", "/index.html", "/assets/app.js", "/assets/styles.css"},
		Optional: []string{"https://fonts.example/inter.css"},
	}
}

// serveShell registers the app shell of testManifest on n with bodies tagged
// by tag.
func serveShell(n *fakeNet, tag string) {
	n.handle(testOrigin+"/", 200, "root "+tag)
	n.handle(testOrigin+"/index.html", 200, "index "+tag)
	n.handle(testOrigin+"/assets/app.js", 200, "app.js "+tag)
	n.handle(testOrigin+"/assets/styles.css", 200, "styles "+tag)
	n.handleRoute("https://fonts.example/inter.css", route{
		status: 200,
		body:   "font " + tag,
		header: http.Header{"Access-Control-Allow-Origin": {"*"}},
	})
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}
