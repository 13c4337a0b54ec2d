package util

import (
	"net/url"
	"testing"
)

func TestRequestKeyNormalization(t *testing.T) {
	cases := []struct {
		method string
		in     string
		want   string
	}{
		{"", "https://Example.COM/index.html", "GET https://example.com/index.html"},
		{"get", "http://example.com:80/a?b=1", "GET http://example.com/a?b=1"},
		{"GET", "https://example.com:443", "GET https://example.com/"},
		{"GET", "https://example.com:8443/x#frag", "GET https://example.com:8443/x"},
		{"HEAD", "http://[::1]:80/", "HEAD http://[::1]/"},
		{"GET", "http://[::1]:8080/", "GET http://[::1]:8080/"},
	}
	for _, tc := range cases {
		u, err := url.Parse(tc.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if got := RequestKey(tc.method, u); got != tc.want {
			t.Fatalf("RequestKey(%q, %q) = %q, want %q", tc.method, tc.in, got, tc.want)
		}
	}
}

func TestNormalizeURLDoesNotMutateInput(t *testing.T) {
	u, _ := url.Parse("HTTPS://Example.com:443/a#x")
	before := u.String()
	_ = NormalizeURL(u)
	if u.String() != before {
		t.Fatalf("input mutated: %q -> %q", before, u.String())
	}
}

func TestKeyBuildersAreNamespaced(t *testing.T) {
	if got := EntryKey("app", "v1", "GET https://a/"); got != "entry:app:v1:GET https://a/" {
		t.Fatalf("EntryKey = %q", got)
	}
	if got := StoreGenKey("app", "v1"); got != "store:app:v1" {
		t.Fatalf("StoreGenKey = %q", got)
	}
	if got := CatalogKey("app"); got != "catalog:app" {
		t.Fatalf("CatalogKey = %q", got)
	}
}
