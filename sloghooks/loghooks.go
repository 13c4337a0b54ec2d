package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/offcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery  uint64
	WriteFailEvery uint64
	// Optional URL/identity redactor. Defaults to keeping the value.
	// Set to RedactHash to log a SHA-256 prefix instead.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr  atomic.Uint64
	writeFailCtr atomic.Uint64
}

var _ offcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

// RedactHash replaces s with the hex of the first 8 bytes of its SHA-256.
func RedactHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

func (h *Hooks) redact(s string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(s)
	}
	return s
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SelfHealEntry(store, id, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("offcache.self_heal_entry",
		"store", store,
		"id", h.redact(id),
		"reason", reason)
}

func (h *Hooks) OptionalFetchFailed(version, url string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("offcache.optional_fetch_failed",
		"version", version,
		"url", h.redact(url),
		"err", err)
}

func (h *Hooks) StaleStorePurged(name string) {
	if h.l == nil {
		return
	}
	h.l.Info("offcache.stale_store_purged", "store", name)
}

func (h *Hooks) StalePurgeFailed(name string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("offcache.stale_purge_failed",
		"store", name,
		"err", err)
}

func (h *Hooks) CacheWriteFailed(store, id string, err error) {
	if h.l == nil || !sample(h.opts.WriteFailEvery, &h.writeFailCtr) {
		return
	}
	h.l.Warn("offcache.cache_write_failed",
		"store", store,
		"id", h.redact(id),
		"err", err)
}

func (h *Hooks) NavigationFallback(url, fallback string) {
	if h.l == nil {
		return
	}
	h.l.Info("offcache.navigation_fallback",
		"url", h.redact(url),
		"fallback", fallback)
}

func (h *Hooks) ControllerChanged(from, to string) {
	if h.l == nil {
		return
	}
	h.l.Info("offcache.controller_changed",
		"from", from,
		"to", to)
}
