package offcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/unkn0wn-root/offcache/internal/util"
)

// Manifest declares what one version of the app must have cached.
//
// Entries are either root-relative ("/assets/app.js", resolved against the
// app origin) or absolute http(s) URLs. Required entries gate installation;
// optional entries are cached best-effort.
//
// Any change to the required resources must come with a new Version. A store
// named after a version is never rewritten in place.
type Manifest struct {
	Version  string   `json:"version" yaml:"version" mapstructure:"version"`
	Required []string `json:"required" yaml:"required" mapstructure:"required"`
	Optional []string `json:"optional,omitempty" yaml:"optional" mapstructure:"optional"`
}

// DefaultManifest is the app shell of the speakeasy text-to-speech front end.
func DefaultManifest() Manifest {
	return Manifest{
		Version: "speakeasy-v1",
		Required: []string{
			"/",
			"/index.html",
			"/assets/app.js",
			"/assets/styles.css",
		},
		Optional: []string{
			"https://fonts.googleapis.com/css2?family=Inter:wght@300;400;500;600;700&display=swap",
			"https://cdnjs.cloudflare.com/ajax/libs/feather-icons/4.29.0/feather.min.css",
		},
	}
}

func (m Manifest) Validate() error {
	if strings.TrimSpace(m.Version) == "" {
		return fmt.Errorf("%w: version is empty", ErrInvalidManifest)
	}
	if err := validStoreName(m.Version); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if len(m.Required) == 0 {
		return fmt.Errorf("%w: no required entries", ErrInvalidManifest)
	}
	seen := make(map[string]struct{}, len(m.Required)+len(m.Optional))
	for _, list := range [][]string{m.Required, m.Optional} {
		for _, e := range list {
			if _, err := parseEntry(e); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidManifest, err)
			}
			if _, dup := seen[e]; dup {
				return fmt.Errorf("%w: duplicate entry %q", ErrInvalidManifest, e)
			}
			seen[e] = struct{}{}
		}
	}
	return nil
}

func parseEntry(e string) (*url.URL, error) {
	if e == "" {
		return nil, fmt.Errorf("empty entry")
	}
	u, err := url.Parse(e)
	if err != nil {
		return nil, fmt.Errorf("entry %q: %w", e, err)
	}
	switch {
	case u.Scheme == "" && u.Host == "" && strings.HasPrefix(u.Path, "/"):
		return u, nil
	case (u.Scheme == "http" || u.Scheme == "https") && u.Host != "":
		return u, nil
	}
	return nil, fmt.Errorf("entry %q: want root-relative path or http(s) URL", e)
}

// Resolve returns the absolute URLs of the manifest's entries for the app
// served at origin.
func (m Manifest) Resolve(origin *url.URL) (required, optional []*url.URL, err error) {
	if origin == nil || origin.Host == "" {
		return nil, nil, fmt.Errorf("offcache: resolve manifest: origin has no host")
	}
	resolve := func(list []string) ([]*url.URL, error) {
		out := make([]*url.URL, 0, len(list))
		for _, e := range list {
			u, err := parseEntry(e)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
			}
			out = append(out, origin.ResolveReference(u))
		}
		return out, nil
	}
	if required, err = resolve(m.Required); err != nil {
		return nil, nil, err
	}
	if optional, err = resolve(m.Optional); err != nil {
		return nil, nil, err
	}
	return required, optional, nil
}

// Digest fingerprints the entry lists, independent of the origin the app is
// served from.
func (m Manifest) Digest() string {
	h := sha256.New()
	write := func(tag string, list []string) {
		for _, e := range list {
			norm := e
			if u, err := parseEntry(e); err == nil && u.Host != "" {
				norm = util.NormalizeURL(u)
			}
			h.Write([]byte(tag))
			h.Write([]byte(norm))
			h.Write([]byte{'\n'})
		}
	}
	write("R ", m.Required)
	write("O ", m.Optional)
	return hex.EncodeToString(h.Sum(nil))
}
