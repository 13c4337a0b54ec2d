// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    SelfHealEvery: 10, // sample logs: ~every 10th self-heal
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	st, _ := offcache.New(offcache.Options{
//	    Namespace: "speakeasy",
//	    Provider:  provider,
//	    Hooks:     hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/offcache"
)

// Hooks runs inner's callbacks on worker goroutines. Events are dropped when
// the queue is full.
type Hooks struct {
	inner   offcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Uint64
}

var _ offcache.Hooks = (*Hooks)(nil)

func New(inner offcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events after Close are
// dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.closed.Store(true)
		close(h.q)
		h.wg.Wait()
	})
}

// Dropped reports events lost to a full queue or a closed hook.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	if h.closed.Load() {
		h.dropped.Add(1)
		return
	}
	defer func() {
		// lost a race with Close
		if recover() != nil {
			h.dropped.Add(1)
		}
	}()
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) SelfHealEntry(store, id, reason string) {
	h.try(func() { h.inner.SelfHealEntry(store, id, reason) })
}
func (h *Hooks) OptionalFetchFailed(version, url string, err error) {
	h.try(func() { h.inner.OptionalFetchFailed(version, url, err) })
}
func (h *Hooks) StaleStorePurged(name string) { h.try(func() { h.inner.StaleStorePurged(name) }) }
func (h *Hooks) StalePurgeFailed(name string, err error) {
	h.try(func() { h.inner.StalePurgeFailed(name, err) })
}
func (h *Hooks) CacheWriteFailed(store, id string, err error) {
	h.try(func() { h.inner.CacheWriteFailed(store, id, err) })
}
func (h *Hooks) NavigationFallback(url, fallback string) {
	h.try(func() { h.inner.NavigationFallback(url, fallback) })
}
func (h *Hooks) ControllerChanged(from, to string) {
	h.try(func() { h.inner.ControllerChanged(from, to) })
}
