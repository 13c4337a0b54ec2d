package asynchook

import (
	"runtime"
	"sync"
	"testing"

	"github.com/unkn0wn-root/offcache"
)

type countHooks struct {
	offcache.NopHooks
	mu      sync.Mutex
	purged  []string
	changes int
	block   chan struct{}
}

func (c *countHooks) StaleStorePurged(name string) {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	c.purged = append(c.purged, name)
	c.mu.Unlock()
}

func (c *countHooks) ControllerChanged(string, string) {
	c.mu.Lock()
	c.changes++
	c.mu.Unlock()
}

func TestAsyncDeliversAndDrainsOnClose(t *testing.T) {
	inner := &countHooks{}
	h := New(inner, 2, 16)
	h.StaleStorePurged("v1")
	h.StaleStorePurged("v2")
	h.ControllerChanged("v1", "v2")
	h.Close()

	if len(inner.purged) != 2 || inner.changes != 1 {
		t.Fatalf("purged=%v changes=%d", inner.purged, inner.changes)
	}
	h.ControllerChanged("v2", "v3")
	if h.Dropped() != 1 {
		t.Fatalf("event after Close should be dropped, dropped=%d", h.Dropped())
	}
}

func TestAsyncDropsWhenFull(t *testing.T) {
	inner := &countHooks{block: make(chan struct{})}
	h := New(inner, 1, 1)

	h.StaleStorePurged("a") // taken by the worker, blocks
	// wait until the worker picked it up so the queue is empty
	for len(h.q) != 0 {
		runtime.Gosched()
	}
	h.StaleStorePurged("b") // queued
	h.StaleStorePurged("c") // dropped
	close(inner.block)
	h.Close()

	if h.Dropped() != 1 {
		t.Fatalf("dropped=%d want 1", h.Dropped())
	}
	if len(inner.purged) != 2 {
		t.Fatalf("purged=%v", inner.purged)
	}
}
