package offcache

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/unkn0wn-root/offcache/snapshot"
)

// Fetcher performs network requests on behalf of the controller and proxy.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// HTTPFetcher fetches with an *http.Client (nil => http.DefaultClient).
// Its transport must not route back through the Proxy.
type HTTPFetcher struct {
	Client *http.Client
}

func (f HTTPFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	cl := f.Client
	if cl == nil {
		cl = http.DefaultClient
	}
	return cl.Do(req.WithContext(ctx))
}

func sameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return originOf(a) == originOf(b)
}

func originOf(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		return scheme + "://" + host + ":" + port
	}
	return scheme + "://" + host
}

// classify assigns the response type a browser would: basic for the app's own
// origin, cors when the server opted in, opaque otherwise. Redirects are
// classified by the final URL.
func classify(origin *url.URL, req *http.Request, resp *http.Response) snapshot.Type {
	final := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL
	}
	switch {
	case sameOrigin(origin, final):
		return snapshot.TypeBasic
	case resp.Header.Get("Access-Control-Allow-Origin") != "":
		return snapshot.TypeCORS
	default:
		return snapshot.TypeOpaque
	}
}

// isNavigation reports a top-level document request.
func isNavigation(req *http.Request) bool {
	return req.Header.Get("Sec-Fetch-Dest") == "document" ||
		req.Header.Get("Sec-Fetch-Mode") == "navigate"
}
