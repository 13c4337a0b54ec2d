// Package prefs persists the app's user preferences and last entered text
// through an offcache provider, so they survive reloads the same way the
// cached app shell does.
package prefs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	c "github.com/unkn0wn-root/offcache/codec"
	pr "github.com/unkn0wn-root/offcache/provider"
)

const (
	KeyPrefs = "tts_prefs"
	KeyText  = "tts_text"
)

// Speed is the speech rate as the page's range input reports it. It is
// written as a string and accepts a JSON string or number on read.
type Speed string

func (s *Speed) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*s = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = Speed(v)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("prefs: speed: %w", err)
		}
		*s = Speed(n.String())
		return nil
	}
}

// Rate parses the speed; "" => 1.
func (s Speed) Rate() (float64, error) {
	if s == "" {
		return 1, nil
	}
	return strconv.ParseFloat(string(s), 64)
}

// Prefs is the preferences record. Fields missing from a stored record read as
// their zero value.
type Prefs struct {
	Voice string `json:"voice"`
	Speed Speed  `json:"speed"`
	Loop  bool   `json:"loop"`
}

// Store reads and writes preferences. Writes replace the whole record.
type Store struct {
	p     pr.Provider
	ns    string
	prefs c.Codec[Prefs]
	text  c.Codec[string]
}

func New(p pr.Provider, namespace string) *Store {
	return &Store{
		p:     p,
		ns:    namespace,
		prefs: c.JSON[Prefs]{},
		text:  c.String{},
	}
}

func (s *Store) key(k string) string { return "prefs:" + s.ns + ":" + k }

// Load returns the stored preferences; ok=false if none were saved.
func (s *Store) Load(ctx context.Context) (Prefs, bool, error) {
	raw, ok, err := s.p.Get(ctx, s.key(KeyPrefs))
	if err != nil || !ok {
		return Prefs{}, false, err
	}
	v, err := s.prefs.Decode(raw)
	if err != nil {
		return Prefs{}, false, fmt.Errorf("prefs: decode %s: %w", KeyPrefs, err)
	}
	return v, true, nil
}

func (s *Store) Save(ctx context.Context, p Prefs) error {
	if p.Speed != "" {
		if _, err := p.Speed.Rate(); err != nil {
			return fmt.Errorf("prefs: invalid speed %q", p.Speed)
		}
	}
	raw, err := s.prefs.Encode(p)
	if err != nil {
		return err
	}
	return s.set(ctx, KeyPrefs, raw)
}

// Text returns the last saved text.
func (s *Store) Text(ctx context.Context) (string, bool, error) {
	raw, ok, err := s.p.Get(ctx, s.key(KeyText))
	if err != nil || !ok {
		return "", false, err
	}
	v, err := s.text.Decode(raw)
	return v, err == nil, err
}

func (s *Store) SaveText(ctx context.Context, text string) error {
	raw, err := s.text.Encode(text)
	if err != nil {
		return err
	}
	return s.set(ctx, KeyText, raw)
}

func (s *Store) set(ctx context.Context, k string, raw []byte) error {
	ok, err := s.p.Set(ctx, s.key(k), raw, int64(len(raw)), 0)
	if err != nil {
		return fmt.Errorf("prefs: write %s: %w", k, err)
	}
	if !ok {
		return fmt.Errorf("prefs: write %s: rejected by provider", k)
	}
	return nil
}
