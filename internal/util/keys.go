package util

import (
	"net"
	"net/url"
	"strings"
)

// NormalizeURL returns the canonical string form of u used for request identity:
// lower-cased scheme and host, default port dropped, empty path as "/",
// fragment removed. The query is kept verbatim.
func NormalizeURL(u *url.URL) string {
	c := *u
	c.Scheme = strings.ToLower(c.Scheme)
	c.Fragment = ""
	c.RawFragment = ""
	if c.Path == "" && c.Opaque == "" {
		c.Path = "/"
		c.RawPath = ""
	}

	host := strings.ToLower(c.Hostname())
	port := c.Port()
	if (c.Scheme == "http" && port == "80") || (c.Scheme == "https" && port == "443") {
		port = ""
	}
	switch {
	case port != "":
		c.Host = net.JoinHostPort(host, port)
	case strings.Contains(host, ":"):
		c.Host = "[" + host + "]"
	default:
		c.Host = host
	}
	return c.String()
}

// RequestKey is the identity of a request: "<METHOD> <normalized url>".
// An empty method means GET.
func RequestKey(method string, u *url.URL) string {
	m := strings.ToUpper(method)
	if m == "" {
		m = "GET"
	}
	return m + " " + NormalizeURL(u)
}

// EntryKey isolates one store's entries by namespace and store name.
func EntryKey(ns, store, identity string) string {
	return "entry:" + ns + ":" + store + ":" + identity
}

// StoreGenKey is the generation-store key of a named store.
func StoreGenKey(ns, store string) string {
	return "store:" + ns + ":" + store
}

func CatalogKey(ns string) string {
	return "catalog:" + ns
}
