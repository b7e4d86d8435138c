package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"

	"github.com/unkn0wn-root/cachemgr"
	"github.com/unkn0wn-root/cachemgr/adapter"
	"github.com/unkn0wn-root/cachemgr/adapter/local"
	mcadapter "github.com/unkn0wn-root/cachemgr/adapter/memcache"
	"github.com/unkn0wn-root/cachemgr/adapter/noop"
	redisadapter "github.com/unkn0wn-root/cachemgr/adapter/redis"
	"github.com/unkn0wn-root/cachemgr/codec"
	"github.com/unkn0wn-root/cachemgr/entry"
	"github.com/unkn0wn-root/cachemgr/provider"
	"github.com/unkn0wn-root/cachemgr/provider/bigcache"
	"github.com/unkn0wn-root/cachemgr/provider/memory"
	"github.com/unkn0wn-root/cachemgr/provider/ristretto"
)

// ErrNotEnhanced is returned by Build for backends that only implement the
// basic contract; use BuildLegacy for those.
var ErrNotEnhanced = errors.New("config: adapter does not support the enhanced API")

// Deps are runtime collaborators that cannot come from a file.
type Deps struct {
	Logger cachemgr.Logger
	Hooks  cachemgr.Hooks
	Meter  metric.Meter
}

// Options maps the file settings onto manager options.
func (c *Config) Options(d Deps) cachemgr.Options {
	return cachemgr.Options{
		Logger:        d.Logger,
		Hooks:         d.Hooks,
		Meter:         d.Meter,
		MaxRetries:    c.Retry.Attempts,
		RetryDelay:    c.Retry.Delay,
		RetryJitter:   c.Retry.Jitter,
		MaxRetryDelay: c.Retry.MaxDelay,
		DefaultTTL:    c.DefaultTTL,
		MaxKeyLength:  c.MaxKeyLength,
		MaxValueSize:  c.MaxValueSize,
		Namespace:     c.Namespace,
		CaseSensitive: c.CaseSensitive,
		SlowThreshold: c.SlowThreshold,
	}
}

// Build constructs an enhanced manager. The backend is closed again if
// construction fails.
func Build(ctx context.Context, c *Config, d Deps) (*cachemgr.EnhancedManager, error) {
	a, err := c.NewAdapter(ctx)
	if err != nil {
		return nil, err
	}
	ea, ok := a.(adapter.EnhancedAdapter)
	if !ok {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("%w: %s", ErrNotEnhanced, a.Name(""))
	}
	m, err := cachemgr.NewEnhanced(ea, c.Options(d))
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return m, nil
}

// BuildLegacy constructs the legacy manager over any backend.
func BuildLegacy(ctx context.Context, c *Config, d Deps) (*cachemgr.Manager, error) {
	a, err := c.NewAdapter(ctx)
	if err != nil {
		return nil, err
	}
	m, err := cachemgr.New(a, c.Options(d))
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return m, nil
}

// NewAdapter constructs the configured backend. The adapter owns any
// client it creates.
func (c *Config) NewAdapter(ctx context.Context) (adapter.Adapter, error) {
	ec, err := c.entryCodec()
	if err != nil {
		return nil, err
	}
	switch c.Adapter {
	case "", AdapterLocal:
		p, err := c.provider(ctx)
		if err != nil {
			return nil, err
		}
		a, err := local.New(local.Config{
			Provider:  p,
			Prefix:    c.Prefix,
			Namespace: c.Namespace,
			Codec:     ec,
		})
		if err != nil {
			_ = p.Close(ctx)
			return nil, err
		}
		return a, nil

	case AdapterRedis:
		rdb, err := c.redisClient()
		if err != nil {
			return nil, err
		}
		a, err := redisadapter.New(redisadapter.Config{
			Client:       rdb,
			CloseClient:  true,
			Prefix:       c.Prefix,
			Namespace:    c.Namespace,
			Codec:        ec,
			ScanCount:    c.Redis.ScanCount,
			WatchRetries: c.Redis.WatchRetries,
		})
		if err != nil {
			_ = rdb.Close()
			return nil, err
		}
		return a, nil

	case AdapterMemcache:
		mc := memcache.New(c.Memcache.Servers...)
		if c.Memcache.Timeout > 0 {
			mc.Timeout = c.Memcache.Timeout
		}
		return mcadapter.New(mcadapter.Config{
			Client:      mc,
			CloseClient: true,
			Prefix:      c.Prefix,
			Namespace:   c.Namespace,
			Codec:       ec,
		})

	case AdapterNoop:
		return noop.New(), nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownAdapter, c.Adapter)
}

func (c *Config) redisClient() (goredis.UniversalClient, error) {
	if c.Redis.URL != "" {
		opts, err := goredis.ParseURL(c.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("config: redis url: %w", err)
		}
		if c.Redis.Password != "" {
			opts.Password = c.Redis.Password
		}
		if c.Redis.DialTimeout > 0 {
			opts.DialTimeout = c.Redis.DialTimeout
		}
		return goredis.NewClient(opts), nil
	}
	return goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:       c.Redis.Addrs,
		Username:    c.Redis.Username,
		Password:    c.Redis.Password,
		DB:          c.Redis.DB,
		DialTimeout: c.Redis.DialTimeout,
	}), nil
}

func (c *Config) provider(ctx context.Context) (provider.Provider, error) {
	switch c.Local.Provider {
	case "", "memory":
		return memory.New(memory.Config{CleanupInterval: c.Local.CleanupInterval}), nil
	case "ristretto":
		r := c.Local.Ristretto
		return ristretto.New(ristretto.Config{
			NumCounters: orDefault(r.NumCounters, 1e5),
			MaxCost:     orDefault(r.MaxCost, 1<<26),
			BufferItems: orDefault(r.BufferItems, 64),
		})
	case "bigcache":
		b := c.Local.Bigcache
		return bigcache.New(ctx, bigcache.Config{
			LifeWindow:         orDefault(b.LifeWindow, orDefault(c.DefaultTTL, time.Hour)),
			CleanWindow:        b.CleanWindow,
			MaxEntriesInWindow: b.MaxEntriesInWindow,
			MaxEntrySize:       b.MaxEntrySize,
			HardMaxCacheSizeMB: b.HardMaxCacheSizeMB,
		})
	}
	return nil, fmt.Errorf("config: unknown local provider %q", c.Local.Provider)
}

func (c *Config) entryCodec() (entry.Codec, error) {
	ec := entry.Codec{
		Compress:  c.Codec.Compress,
		Threshold: c.Codec.Threshold,
		MaxSize:   c.Codec.MaxSize,
	}
	switch c.Codec.Serializer {
	case "", "json":
	case "msgpack":
		ec.Serializer = codec.Msgpack[entry.Entry]{}
	case "cbor":
		cb, err := codec.NewCBOR[entry.Entry](true)
		if err != nil {
			return ec, err
		}
		ec.Serializer = cb
	case "proto":
		ec.Serializer = entry.NewProto()
	default:
		return ec, fmt.Errorf("config: unknown serializer %q", c.Codec.Serializer)
	}
	return ec, nil
}

func orDefault[T int64 | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}
