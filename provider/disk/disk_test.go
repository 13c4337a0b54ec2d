package disk

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"
)

func newTestProvider(t *testing.T, level int) *Provider {
	t.Helper()
	p, err := New(Config{Dir: t.TempDir(), CompressionLevel: level})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestDiskBasicOperations(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t, 3)

	if _, ok, err := p.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get miss: ok=%v err=%v", ok, err)
	}
	if ok, err := p.Set(ctx, "k", []byte("v"), 1, 0); err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	got, ok, err := p.Get(ctx, "k")
	if err != nil || !ok || string(got) != "v" {
		t.Fatalf("Get after set: ok=%v err=%v got=%q", ok, err, got)
	}
	if err := p.Del(ctx, "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, ok, _ := p.Get(ctx, "k"); ok {
		t.Fatalf("key still present after Del")
	}
	if err := p.Del(ctx, "k"); err != nil {
		t.Fatalf("Del of missing key: %v", err)
	}
}

// Large compressible values are stored compressed but must come back byte-for-byte.
func TestDiskCompressionIsTransparent(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t, 3)

	value := bytes.Repeat([]byte("speak easy "), 1000)
	if _, err := p.Set(ctx, "big", value, 1, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	raw, err := os.ReadFile(p.path("big"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if raw[4]&flagCompressed == 0 || len(raw) >= len(value) {
		t.Fatalf("expected compressed file, flags=%x size=%d", raw[4], len(raw))
	}

	got, ok, err := p.Get(ctx, "big")
	if err != nil || !ok || !bytes.Equal(got, value) {
		t.Fatalf("Get big: ok=%v err=%v equal=%v", ok, err, bytes.Equal(got, value))
	}
}

func TestDiskTTLExpiry(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t, 0)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	if _, err := p.Set(ctx, "k", []byte("v"), 1, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, _ := p.Get(ctx, "k"); !ok {
		t.Fatalf("expected hit before expiry")
	}
	now = now.Add(2 * time.Minute)
	if _, ok, _ := p.Get(ctx, "k"); ok {
		t.Fatalf("expected miss after expiry")
	}
	if _, err := os.Stat(p.path("k")); !os.IsNotExist(err) {
		t.Fatalf("expired file should be removed, stat err=%v", err)
	}
}

func TestDiskForeignFileIsDropped(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t, 0)

	if _, err := p.Set(ctx, "k", []byte("v"), 1, 0); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p.path("k"), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := p.Get(ctx, "k"); ok || err != nil {
		t.Fatalf("foreign file: ok=%v err=%v", ok, err)
	}
}

func TestDiskSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	p1, err := New(Config{Dir: dir, CompressionLevel: 3})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p1.Set(ctx, "k", []byte("persisted"), 1, 0); err != nil {
		t.Fatal(err)
	}
	_ = p1.Close(ctx)

	p2, err := New(Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer p2.Close(ctx)
	got, ok, err := p2.Get(ctx, "k")
	if err != nil || !ok || string(got) != "persisted" {
		t.Fatalf("Get after reopen: ok=%v err=%v got=%q", ok, err, got)
	}

	files, size, err := p2.Usage()
	if err != nil || files != 1 || size == 0 {
		t.Fatalf("Usage: files=%d size=%d err=%v", files, size, err)
	}
}
