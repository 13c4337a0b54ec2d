package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/offcache"
	"github.com/unkn0wn-root/offcache/codec"
	"github.com/unkn0wn-root/offcache/genstore"
	asynchook "github.com/unkn0wn-root/offcache/hooks/async"
	"github.com/unkn0wn-root/offcache/internal/config"
	"github.com/unkn0wn-root/offcache/internal/server"
	charmlog "github.com/unkn0wn-root/offcache/log/charm"
	"github.com/unkn0wn-root/offcache/prefs"
	pr "github.com/unkn0wn-root/offcache/provider"
	"github.com/unkn0wn-root/offcache/provider/bigcache"
	"github.com/unkn0wn-root/offcache/provider/disk"
	rds "github.com/unkn0wn-root/offcache/provider/redis"
	"github.com/unkn0wn-root/offcache/provider/ristretto"
	"github.com/unkn0wn-root/offcache/sloghooks"
)

const fetchTimeout = 30 * time.Second

// app is the wired set of components every subcommand works on.
type app struct {
	cfg    *config.Config
	logger *log.Logger

	provider pr.Provider
	disk     *disk.Provider // set for the disk provider, for usage reports
	rdb      *goredis.Client
	hooks    *asynchook.Hooks

	storage offcache.Storage
	reg     *offcache.Registration
	proxy   *offcache.Proxy
	prefs   *prefs.Store
}

func newApp(ctx context.Context, cfg *config.Config, logger *log.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	gens, err := a.openProvider(ctx)
	if err != nil {
		return nil, err
	}

	snapCodec, err := newCodec(cfg.Codec)
	if err != nil {
		_ = a.provider.Close(ctx)
		return nil, err
	}

	raw := sloghooks.New(slog.New(logger), sloghooks.Options{SelfHealEvery: 10})
	a.hooks = asynchook.New(raw, 1, 1024)
	lg := charmlog.Logger{L: logger}

	a.storage, err = offcache.New(offcache.Options{
		Namespace: cfg.Namespace,
		Provider:  a.provider,
		Codec: codec.LimitCodec[offcache.Snapshot]{
			Inner:     snapCodec,
			MaxEncode: cfg.MaxEntryBytes,
			MaxDecode: cfg.MaxEntryBytes,
		},
		GenStore: gens,
		Logger:   lg,
		Hooks:    a.hooks,
		EntryTTL: cfg.EntryTTL,
	})
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	origin := cfg.OriginURL()
	fetcher := offcache.HTTPFetcher{Client: &http.Client{Timeout: fetchTimeout}}

	a.reg, err = offcache.NewRegistration(offcache.RegistrationOptions{
		Storage:      a.storage,
		Origin:       origin,
		Fetcher:      fetcher,
		Logger:       lg,
		Hooks:        a.hooks,
		SkipWaiting:  cfg.SkipWaiting,
		ClaimClients: cfg.ClaimClients,
	})
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.proxy, err = offcache.NewProxy(offcache.ProxyOptions{
		Registration: a.reg,
		Origin:       origin,
		Fetcher:      fetcher,
		Logger:       lg,
		Hooks:        a.hooks,
	})
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.prefs = prefs.New(a.provider, cfg.Namespace)
	return a, nil
}

// openProvider opens the configured provider and the generation store that
// matches its lifetime.
func (a *app) openProvider(ctx context.Context) (genstore.GenStore, error) {
	cfg := a.cfg
	switch cfg.Provider {
	case "disk":
		p, err := disk.New(disk.Config{Dir: cfg.DiskDir, CompressionLevel: cfg.CompressionLevel})
		if err != nil {
			return nil, err
		}
		a.provider, a.disk = p, p
		// generations must survive restarts along with the files
		return genstore.NewProviderGenStore(p, cfg.Namespace), nil

	case "bigcache":
		p, err := bigcache.New(ctx, bigcache.Config{HardMaxCacheSizeMB: cfg.MemoryMB})
		if err != nil {
			return nil, fmt.Errorf("bigcache: %w", err)
		}
		a.provider = p
		return genstore.NewLocalGenStore(), nil

	case "ristretto":
		maxCost := int64(cfg.MemoryMB) << 20
		p, err := ristretto.New(ristretto.Config{
			NumCounters: maxCost / 1024 * 10, // ~10x the number of 1KiB entries
			MaxCost:     maxCost,
			BufferItems: 64,
		})
		if err != nil {
			return nil, err
		}
		a.provider = p
		return genstore.NewLocalGenStore(), nil

	case "redis":
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		a.rdb = goredis.NewClient(opts)
		p, err := rds.New(rds.Config{Client: a.rdb})
		if err != nil {
			return nil, err
		}
		if err := p.Ping(ctx); err != nil {
			_ = a.rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.provider = p
		return genstore.NewRedisGenStore(a.rdb, cfg.Namespace, false), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func newCodec(name string) (codec.Codec[offcache.Snapshot], error) {
	switch name {
	case "cbor":
		return codec.NewCBOR[offcache.Snapshot](false)
	case "msgpack":
		return codec.Msgpack[offcache.Snapshot]{}, nil
	case "json":
		return codec.JSON[offcache.Snapshot]{}, nil
	case "proto":
		return codec.SnapshotProto{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

func (a *app) server() *server.Server {
	return server.New(a.cfg, a.logger, server.Deps{
		Registration: a.reg,
		Proxy:        a.proxy,
		Storage:      a.storage,
		Prefs:        a.prefs,
	})
}

// Close waits for pending cache writes and releases the provider.
func (a *app) Close(ctx context.Context) {
	if a.proxy != nil {
		if err := a.proxy.Wait(ctx); err != nil {
			a.logger.Warn("pending cache writes abandoned", "error", err)
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(ctx); err != nil {
			a.logger.Warn("close storage", "error", err)
		}
	} else if a.provider != nil {
		_ = a.provider.Close(ctx)
	}
	if a.hooks != nil {
		a.hooks.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}
