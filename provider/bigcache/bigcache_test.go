package bigcache

import (
	"context"
	"testing"
)

func TestBigcacheBasicOperations(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, Config{HardMaxCacheSizeMB: 8})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close(ctx)

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
	if p.Len() != 1 {
		t.Fatalf("Len=%d want 1", p.Len())
	}
	if err := p.Del(ctx, "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if err := p.Del(ctx, "k"); err != nil {
		t.Fatalf("Del of missing key: %v", err)
	}
	if _, ok, _ := p.Get(ctx, "k"); ok {
		t.Fatalf("key still present after Del")
	}
}
