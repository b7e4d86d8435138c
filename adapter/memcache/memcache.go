// Package memcache adapts a memcached cluster to the basic adapter contract.
// Memcached cannot enumerate keys or index tags, so Keys, Fields, Size and
// tagged writes report adapter.ErrNotSupported.
package memcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/unkn0wn-root/cachemgr/adapter"
	"github.com/unkn0wn-root/cachemgr/entry"
	"github.com/unkn0wn-root/cachemgr/internal/keys"
)

// MaxKeyLength is the memcached protocol limit.
const MaxKeyLength = 250

// relativeLimit is the longest expiration memcached treats as relative.
const relativeLimit = 30 * 24 * time.Hour

var ErrNilClient = errors.New("memcache adapter: nil client")

var (
	_ adapter.Adapter = (*Adapter)(nil)
	_ adapter.Remover = (*Adapter)(nil)
)

// Client is the subset of *memcache.Client the adapter uses.
type Client interface {
	Get(key string) (*memcache.Item, error)
	GetMulti(keys []string) (map[string]*memcache.Item, error)
	Set(item *memcache.Item) error
	Delete(key string) error
	CompareAndSwap(item *memcache.Item) error
	FlushAll() error
	Ping() error
}

var _ Client = (*memcache.Client)(nil)

type Config struct {
	Client      Client
	CloseClient bool // close the client on Close when it implements io.Closer

	Name       string        // "memcache"
	Prefix     string        // "cache"
	Namespace  string        // "default"
	DefaultTTL time.Duration // used when Options.TTL == 0; 0 => no expiry
	Codec      entry.Codec

	CASRetries int // attempts for ExtendTTL under contention; 3
}

type Adapter struct {
	c           Client
	closeClient bool
	keys        keys.Builder
	codec       entry.Codec
	name        string
	ns          string
	defaultTTL  time.Duration
	casRetries  int

	closed atomic.Bool
	bg     sync.WaitGroup
}

func New(cfg Config) (*Adapter, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if cfg.Name == "" {
		cfg.Name = "memcache"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "cache"
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.CASRetries <= 0 {
		cfg.CASRetries = 3
	}
	if err := keys.ValidateNamespace(cfg.Namespace); err != nil {
		return nil, err
	}
	return &Adapter{
		c:           cfg.Client,
		closeClient: cfg.CloseClient,
		keys:        keys.Builder{Prefix: cfg.Prefix},
		codec:       cfg.Codec,
		name:        cfg.Name,
		ns:          cfg.Namespace,
		defaultTTL:  cfg.DefaultTTL,
		casRetries:  cfg.CASRetries,
	}, nil
}

// key maps a logical key to a memcached-safe key. Hash fields get their own
// key under the hash structure's name.
func (a *Adapter) key(o adapter.Options, key string) (string, error) {
	ns := a.ns
	if o.Namespace != "" {
		if err := keys.ValidateNamespace(o.Namespace); err != nil {
			return "", err
		}
		ns = o.Namespace
	}
	phys := a.keys.Data(ns, key)
	if o.Hash != "" {
		phys = a.keys.Hash(ns, key) + keys.Sep + o.Hash
	}
	return keys.Compact(phys, MaxKeyLength), nil
}

func (a *Adapter) ttlFor(ttl time.Duration) time.Duration {
	switch {
	case ttl > 0:
		return ttl
	case ttl < 0:
		return 0
	}
	return a.defaultTTL
}

// expiration converts ttl to memcached's int32 field: seconds when relative,
// a unix timestamp beyond 30 days, 0 for none.
func expiration(ttl time.Duration, now time.Time) int32 {
	if ttl <= 0 {
		return 0
	}
	if ttl > relativeLimit {
		return int32(now.Add(ttl).Unix())
	}
	return int32((ttl + time.Second - 1) / time.Second)
}

func (a *Adapter) Get(ctx context.Context, key string, o adapter.Options) (*entry.Entry, error) {
	k, err := a.key(o, key)
	if err != nil {
		return nil, err
	}
	it, err := a.c.Get(k)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a.decodeLive(ctx, it), nil
}

func (a *Adapter) decodeLive(_ context.Context, it *memcache.Item) *entry.Entry {
	e, err := a.codec.Decode(it.Value)
	if err != nil || e.Expired(time.Now()) {
		a.evictLater(it.Key)
		return nil
	}
	return &e
}

func (a *Adapter) MGet(ctx context.Context, ks []string, o adapter.Options) ([]*entry.Entry, error) {
	phys := make([]string, len(ks))
	for i, k := range ks {
		p, err := a.key(o, k)
		if err != nil {
			return nil, err
		}
		phys[i] = p
	}
	out := make([]*entry.Entry, len(ks))
	if len(ks) == 0 {
		return out, nil
	}
	items, err := a.c.GetMulti(phys)
	if err != nil {
		return nil, err
	}
	for i, p := range phys {
		if it, ok := items[p]; ok {
			out[i] = a.decodeLive(ctx, it)
		}
	}
	return out, nil
}

func (a *Adapter) Set(ctx context.Context, key string, value json.RawMessage, o adapter.Options) (bool, error) {
	return a.MSet(ctx, map[string]json.RawMessage{key: value}, o)
}

func (a *Adapter) MSet(_ context.Context, entries map[string]json.RawMessage, o adapter.Options) (bool, error) {
	if len(o.Tags) > 0 {
		return false, fmt.Errorf("%w: tags", adapter.ErrNotSupported)
	}
	ttl := a.ttlFor(o.TTL)
	now := time.Now()
	items := make([]*memcache.Item, 0, len(entries))
	for k, v := range entries {
		p, err := a.key(o, k)
		if err != nil {
			return false, err
		}
		b, err := a.codec.Encode(entry.NewAt(now, v, ttl, o.Metadata), o.Compress)
		if err != nil {
			return false, fmt.Errorf("key %q: %w", k, err)
		}
		items = append(items, &memcache.Item{Key: p, Value: b, Expiration: expiration(ttl, now)})
	}
	for _, it := range items {
		if err := a.c.Set(it); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (a *Adapter) Delete(_ context.Context, key string, o adapter.Options) (bool, error) {
	p, err := a.key(o, key)
	if err != nil {
		return false, err
	}
	return a.del(p)
}

func (a *Adapter) del(p string) (bool, error) {
	err := a.c.Delete(p)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return false, nil
	}
	return err == nil, err
}

func (a *Adapter) DeleteMany(ctx context.Context, ks []string, o adapter.Options) (bool, error) {
	removed, err := a.Remove(ctx, ks, o)
	return len(removed) > 0, err
}

// Remove deletes ks one by one and returns the ones that existed.
func (a *Adapter) Remove(ctx context.Context, ks []string, o adapter.Options) ([]string, error) {
	var out []string
	for _, k := range ks {
		ok, err := a.Delete(ctx, k, o)
		if err != nil {
			return out, err
		}
		if ok {
			out = append(out, k)
		}
	}
	return out, nil
}

// ExtendTTL rewrites the envelope with gets+CAS so its expiry agrees with
// memcached's.
func (a *Adapter) ExtendTTL(_ context.Context, key string, ttl time.Duration, o adapter.Options) (bool, error) {
	p, err := a.key(o, key)
	if err != nil {
		return false, err
	}
	ttl = a.ttlFor(ttl)
	for i := 0; i < a.casRetries; i++ {
		it, err := a.c.Get(p)
		if errors.Is(err, memcache.ErrCacheMiss) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		now := time.Now()
		e, err := a.codec.Decode(it.Value)
		if err != nil || e.Expired(now) {
			return false, nil
		}
		b, err := a.codec.Encode(e.WithTTL(now, ttl), nil)
		if err != nil {
			return false, err
		}
		it.Value = b
		it.Expiration = expiration(ttl, now)
		switch err := a.c.CompareAndSwap(it); {
		case err == nil:
			return true, nil
		case errors.Is(err, memcache.ErrCASConflict):
			continue
		case errors.Is(err, memcache.ErrNotStored), errors.Is(err, memcache.ErrCacheMiss):
			return false, nil
		default:
			return false, err
		}
	}
	return false, memcache.ErrCASConflict
}

func (a *Adapter) Keys(context.Context, string, adapter.Options) ([]string, error) {
	return nil, adapter.ErrNotSupported
}

func (a *Adapter) Fields(context.Context, string, adapter.Options) ([]string, error) {
	return nil, adapter.ErrNotSupported
}

func (a *Adapter) Size(context.Context) (int64, error) {
	return -1, adapter.ErrNotSupported
}

// Clear flushes the whole memcached cluster; the adapter cannot scope it.
func (a *Adapter) Clear(_ context.Context, o adapter.Options) (bool, error) {
	if o.Hash != "" {
		return false, adapter.ErrNotSupported
	}
	if err := a.c.FlushAll(); err != nil {
		return false, err
	}
	return true, nil
}

func (a *Adapter) IsAlive(context.Context) bool { return a.c.Ping() == nil }

func (a *Adapter) Name(key string) string {
	if key == "" {
		return a.name
	}
	p, _ := a.key(adapter.Options{}, key)
	return p
}

func (a *Adapter) evictLater(p string) {
	if a.closed.Load() {
		return
	}
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		_, _ = a.del(p)
	}()
}

// Close waits for background evictions. Safe to call multiple times.
func (a *Adapter) Close(context.Context) error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	a.bg.Wait()
	if c, ok := a.c.(io.Closer); ok && a.closeClient {
		return c.Close()
	}
	return nil
}
