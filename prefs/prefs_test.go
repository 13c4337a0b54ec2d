package prefs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/unkn0wn-root/offcache/provider/disk"
)

func newTestStore(t *testing.T) (*Store, *disk.Provider) {
	t.Helper()
	p, err := disk.New(disk.Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("disk.New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return New(p, "speakeasy"), p
}

func TestPrefsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	if _, ok, err := s.Load(ctx); ok || err != nil {
		t.Fatalf("Load on empty store: ok=%v err=%v", ok, err)
	}
	want := Prefs{Voice: "Samantha", Speed: "1.25", Loop: true}
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, ok, err := s.Load(ctx)
	if err != nil || !ok || got != want {
		t.Fatalf("Load: ok=%v err=%v got=%+v", ok, err, got)
	}

	// last write wins
	want.Loop = false
	_ = s.Save(ctx, want)
	if got, _, _ := s.Load(ctx); got.Loop {
		t.Fatalf("second Save not visible")
	}
}

func TestPrefsAcceptNumericAndPartialRecords(t *testing.T) {
	ctx := context.Background()
	s, p := newTestStore(t)

	cases := map[string]Prefs{
		`{"voice":"Alex","speed":1.5,"loop":true}`: {Voice: "Alex", Speed: "1.5", Loop: true},
		`{"speed":"0.75"}`:                         {Speed: "0.75"},
		`{}`:                                       {},
		`{"speed":null}`:                           {},
	}
	for raw, want := range cases {
		if _, err := p.Set(ctx, s.key(KeyPrefs), []byte(raw), 0, 0); err != nil {
			t.Fatal(err)
		}
		got, ok, err := s.Load(ctx)
		if err != nil || !ok || got != want {
			t.Fatalf("%s: ok=%v err=%v got=%+v want %+v", raw, ok, err, got, want)
		}
	}
}

func TestPrefsSpeedWrittenAsString(t *testing.T) {
	b, err := json.Marshal(Prefs{Voice: "v", Speed: "2", Loop: false})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"voice":"v","speed":"2","loop":false}` {
		t.Fatalf("encoded %s", b)
	}
	if r, err := Speed("").Rate(); err != nil || r != 1 {
		t.Fatalf("default rate=%v err=%v", r, err)
	}
}

func TestPrefsRejectsBadSpeed(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Save(context.Background(), Prefs{Speed: "fast"}); err == nil {
		t.Fatalf("expected error for non-numeric speed")
	}
}

func TestTextRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	if _, ok, _ := s.Text(ctx); ok {
		t.Fatalf("Text on empty store")
	}
	text := "Hello, world.\nSecond line with ünïcode."
	if err := s.SaveText(ctx, text); err != nil {
		t.Fatalf("SaveText: %v", err)
	}
	got, ok, err := s.Text(ctx)
	if err != nil || !ok || got != text {
		t.Fatalf("Text: ok=%v err=%v got=%q", ok, err, got)
	}
}
