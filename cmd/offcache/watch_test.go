package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchFileReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "offcache.yaml")
	if err := os.WriteFile(path, []byte("namespace: a\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	reloads := make(chan struct{}, 16)
	done := make(chan error, 1)
	go func() {
		done <- watchFile(ctx, path, quietLogger(), func(context.Context) error {
			reloads <- struct{}{}
			return nil
		})
	}()

	// the watcher registers asynchronously; keep writing until it reacts
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
loop:
	for {
		select {
		case <-reloads:
			break loop
		case <-tick.C:
			if err := os.WriteFile(path, []byte("namespace: b\n"), 0o644); err != nil {
				t.Fatal(err)
			}
		case <-deadline:
			t.Fatal("no reload after writing the watched file")
		}
	}

	// other files in the directory are ignored
	time.Sleep(200 * time.Millisecond)
	for len(reloads) > 0 {
		<-reloads
	}
	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-reloads:
		t.Fatal("reload for an unrelated file")
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watchFile: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watchFile did not stop after cancel")
	}
}
