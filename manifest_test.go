package offcache

import (
	"errors"
	"testing"
)

func TestDefaultManifestIsValid(t *testing.T) {
	m := DefaultManifest()
	if err := m.Validate(); err != nil {
		t.Fatalf("DefaultManifest invalid: %v", err)
	}
	if m.Version != "speakeasy-v1" || len(m.Required) != 4 || len(m.Optional) != 2 {
		t.Fatalf("unexpected default manifest %+v", m)
	}
}

func TestManifestValidate(t *testing.T) {
	cases := []struct {
		name string
		m    Manifest
		ok   bool
	}{
		{"ok", Manifest{Version: "v1", Required: []string{"/", "https://cdn.example/x.css"}}, true},
		{"empty version", Manifest{Required: []string{"/"}}, false},
		{"bad version", Manifest{Version: "v 1", Required: []string{"/"}}, false},
		{"no required", Manifest{Version: "v1", Optional: []string{"/a"}}, false},
		{"relative path", Manifest{Version: "v1", Required: []string{"assets/app.js"}}, false},
		{"bad scheme", Manifest{Version: "v1", Required: []string{"ftp://host/x"}}, false},
		{"duplicate across lists", Manifest{Version: "v1", Required: []string{"/a"}, Optional: []string{"/a"}}, false},
		{"empty entry", Manifest{Version: "v1", Required: []string{""}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.m.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidManifest) {
				t.Fatalf("want ErrInvalidManifest, got %v", err)
			}
		})
	}
}

func TestManifestResolve(t *testing.T) {
	m := DefaultManifest()
	req, opt, err := m.Resolve(mustURL(t, "http://localhost:8080/app/"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if req[0].String() != "http://localhost:8080/" || req[2].String() != "http://localhost:8080/assets/app.js" {
		t.Fatalf("required resolved to %v", req)
	}
	if opt[1].String() != m.Optional[1] {
		t.Fatalf("absolute entry changed: %s", opt[1])
	}
	if _, _, err := m.Resolve(mustURL(t, "/no-host")); err == nil {
		t.Fatalf("Resolve without host should fail")
	}
}

func TestManifestDigest(t *testing.T) {
	a := DefaultManifest()
	b := DefaultManifest()
	b.Version = "speakeasy-v2"
	if a.Digest() != b.Digest() {
		t.Fatalf("digest must not depend on the version tag")
	}

	c := DefaultManifest()
	c.Optional[0] = "HTTPS://FONTS.googleapis.com:443/css2?family=Inter:wght@300;400;500;600;700&display=swap"
	if a.Digest() != c.Digest() {
		t.Fatalf("digest must use normalized URLs")
	}

	d := DefaultManifest()
	d.Required = append(d.Required, "/assets/extra.js")
	if a.Digest() == d.Digest() {
		t.Fatalf("digest ignores required entries")
	}

	e := DefaultManifest()
	e.Optional, e.Required = e.Required, e.Optional
	if a.Digest() == e.Digest() {
		t.Fatalf("digest ignores which list an entry is in")
	}
}
