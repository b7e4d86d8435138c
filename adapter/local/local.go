// Package local is an in-process enhanced adapter. Values live in any
// provider.Provider (a TTL map by default); the tag index, legacy hash
// structures and counters are kept consistent under one adapter mutex.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/cachemgr/adapter"
	"github.com/unkn0wn-root/cachemgr/entry"
	"github.com/unkn0wn-root/cachemgr/internal/keys"
	"github.com/unkn0wn-root/cachemgr/provider"
	"github.com/unkn0wn-root/cachemgr/provider/memory"
)

var (
	_ adapter.EnhancedAdapter = (*Adapter)(nil)
	_ adapter.Pipeliner       = (*Adapter)(nil)
	_ adapter.Transactor      = (*Adapter)(nil)
	_ adapter.Remover         = (*Adapter)(nil)
)

type Config struct {
	Provider   provider.Provider // nil => memory.New
	Name       string            // "local"
	Prefix     string            // "cache"
	Namespace  string            // "default"
	DefaultTTL time.Duration     // used when Options.TTL == 0; 0 => no expiry
	Codec      entry.Codec

	// EvictTimeout bounds the background deletion of lazily expired entries.
	EvictTimeout time.Duration // 1s
	// Now is a test clock; nil => time.Now.
	Now func() time.Time
}

type tagSet struct {
	members map[string]struct{}
	exp     time.Time // zero => none
}

// hashRecord is one legacy hash structure: field -> encoded entry.
type hashRecord map[string][]byte

type Adapter struct {
	mu sync.RWMutex

	p            provider.Provider
	keys         keys.Builder
	codec        entry.Codec
	name         string
	defaultTTL   time.Duration
	evictTimeout time.Duration
	now          func() time.Time

	ns     atomic.Value // string
	tags   map[string]*tagSet
	stats  adapter.Counters
	closed atomic.Bool
	bg     sync.WaitGroup
}

func New(cfg Config) (*Adapter, error) {
	cfg = cfg.withDefaults()
	if err := keys.ValidateNamespace(cfg.Namespace); err != nil {
		return nil, err
	}
	a := &Adapter{
		p:            cfg.Provider,
		keys:         keys.Builder{Prefix: cfg.Prefix},
		codec:        cfg.Codec,
		name:         cfg.Name,
		defaultTTL:   cfg.DefaultTTL,
		evictTimeout: cfg.EvictTimeout,
		now:          cfg.Now,
		tags:         make(map[string]*tagSet),
	}
	a.ns.Store(cfg.Namespace)
	return a, nil
}

func (c Config) withDefaults() Config {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Provider == nil {
		c.Provider = memory.New(memory.Config{Now: c.Now, CleanupInterval: time.Minute})
	}
	if c.Name == "" {
		c.Name = "local"
	}
	if c.Prefix == "" {
		c.Prefix = "cache"
	}
	if c.Namespace == "" {
		c.Namespace = "default"
	}
	if c.EvictTimeout <= 0 {
		c.EvictTimeout = time.Second
	}
	return c
}

func (a *Adapter) nsFor(o adapter.Options) (string, error) {
	if o.Namespace == "" {
		return a.Namespace(), nil
	}
	if err := keys.ValidateNamespace(o.Namespace); err != nil {
		return "", err
	}
	return o.Namespace, nil
}

// ttlFor resolves a caller TTL to a concrete one; 0 means no expiry.
func (a *Adapter) ttlFor(ttl time.Duration) time.Duration {
	switch {
	case ttl > 0:
		return ttl
	case ttl < 0:
		return 0
	}
	return a.defaultTTL
}

// ---- reads ----

func (a *Adapter) Get(ctx context.Context, key string, o adapter.Options) (*entry.Entry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.get(ctx, key, o)
}

func (a *Adapter) get(ctx context.Context, key string, o adapter.Options) (*entry.Entry, error) {
	ns, err := a.nsFor(o)
	if err != nil {
		return nil, err
	}
	e, err := a.lookup(ctx, ns, key, o.Hash)
	if err != nil {
		a.stats.Error(1)
		return nil, err
	}
	a.stats.Track(e != nil)
	return e, nil
}

// lookup returns the live entry or nil. Expired or undecodable values are
// removed in the background.
func (a *Adapter) lookup(ctx context.Context, ns, key, field string) (*entry.Entry, error) {
	if field != "" {
		phys := a.keys.Hash(ns, key)
		rec, err := a.loadHash(ctx, phys)
		if err != nil {
			return nil, err
		}
		b, ok := rec[field]
		if !ok {
			return nil, nil
		}
		return a.decodeLive(ctx, b, phys, field), nil
	}
	phys := a.keys.Data(ns, key)
	b, ok, err := a.p.Get(ctx, phys)
	if err != nil || !ok {
		return nil, err
	}
	return a.decodeLive(ctx, b, phys, ""), nil
}

func (a *Adapter) decodeLive(ctx context.Context, b []byte, phys, field string) *entry.Entry {
	e, err := a.codec.Decode(b)
	if err != nil || e.Expired(a.now()) {
		a.evictLater(ctx, phys, field)
		return nil
	}
	return &e
}

func (a *Adapter) MGet(ctx context.Context, ks []string, o adapter.Options) ([]*entry.Entry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*entry.Entry, len(ks))
	for i, k := range ks {
		e, err := a.get(ctx, k, o)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func (a *Adapter) Exists(ctx context.Context, key string, o adapter.Options) (bool, error) {
	ns, err := a.nsFor(o)
	if err != nil {
		return false, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, err := a.lookup(ctx, ns, key, o.Hash)
	return e != nil, err
}

func (a *Adapter) TTL(ctx context.Context, key string, o adapter.Options) (time.Duration, error) {
	ns, err := a.nsFor(o)
	if err != nil {
		return adapter.TTLMissing, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, err := a.lookup(ctx, ns, key, o.Hash)
	if err != nil || e == nil {
		return adapter.TTLMissing, err
	}
	d, ok := e.TTL(a.now())
	if !ok {
		return adapter.TTLPersistent, nil
	}
	return d, nil
}

// ---- writes ----

func (a *Adapter) Set(ctx context.Context, key string, value json.RawMessage, o adapter.Options) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.set(ctx, key, value, o)
}

func (a *Adapter) set(ctx context.Context, key string, value json.RawMessage, o adapter.Options) (bool, error) {
	if o.Hash != "" && len(o.Tags) > 0 {
		return false, adapter.ErrTaggedHash
	}
	ns, err := a.nsFor(o)
	if err != nil {
		return false, err
	}
	ttl := a.ttlFor(o.TTL)
	e := entry.NewAt(a.now(), value, ttl, o.Metadata)
	b, err := a.codec.Encode(e, o.Compress)
	if err != nil {
		return false, err
	}
	ok, phys, err := a.store(ctx, ns, key, o.Hash, b, ttl)
	if err != nil {
		a.stats.Error(1)
		return false, err
	}
	if !ok {
		return false, nil
	}
	a.tag(phys, o.Tags, ttl)
	a.stats.Set(1)
	return true, nil
}

// store writes already-encoded bytes for key (or its hash field).
func (a *Adapter) store(ctx context.Context, ns, key, field string, b []byte, ttl time.Duration) (bool, string, error) {
	if field == "" {
		phys := a.keys.Data(ns, key)
		ok, err := a.p.Set(ctx, phys, b, int64(len(b)), ttl)
		return ok, phys, err
	}
	phys := a.keys.Hash(ns, key)
	rec, err := a.loadHash(ctx, phys)
	if err != nil {
		return false, phys, err
	}
	if rec == nil {
		rec = hashRecord{}
	}
	rec[field] = b
	ok, err := a.saveHash(ctx, phys, rec)
	return ok, phys, err
}

func (a *Adapter) MSet(ctx context.Context, entries map[string]json.RawMessage, o adapter.Options) (bool, error) {
	if o.Hash != "" && len(o.Tags) > 0 {
		return false, adapter.ErrTaggedHash
	}
	ns, err := a.nsFor(o)
	if err != nil {
		return false, err
	}
	ttl := a.ttlFor(o.TTL)
	now := a.now()
	enc := make(map[string][]byte, len(entries))
	for k, v := range entries {
		b, err := a.codec.Encode(entry.NewAt(now, v, ttl, o.Metadata), o.Compress)
		if err != nil {
			return false, fmt.Errorf("key %q: %w", k, err)
		}
		enc[k] = b
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	all := true
	for k, b := range enc {
		ok, phys, err := a.store(ctx, ns, k, o.Hash, b, ttl)
		if err != nil {
			a.stats.Error(1)
			return false, err
		}
		if !ok {
			all = false
			continue
		}
		a.tag(phys, o.Tags, ttl)
		a.stats.Set(1)
	}
	return all, nil
}

func (a *Adapter) Delete(ctx context.Context, key string, o adapter.Options) (bool, error) {
	ns, err := a.nsFor(o)
	if err != nil {
		return false, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.del(ctx, ns, key, o.Hash)
}

func (a *Adapter) del(ctx context.Context, ns, key, field string) (bool, error) {
	if field != "" {
		phys := a.keys.Hash(ns, key)
		rec, err := a.loadHash(ctx, phys)
		if err != nil {
			return false, err
		}
		if _, ok := rec[field]; !ok {
			return false, nil
		}
		delete(rec, field)
		if _, err := a.saveHash(ctx, phys, rec); err != nil {
			return false, err
		}
		a.stats.Delete(1)
		return true, nil
	}
	phys := a.keys.Data(ns, key)
	_, ok, err := a.p.Get(ctx, phys)
	if err != nil || !ok {
		return false, err
	}
	if err := a.p.Del(ctx, phys); err != nil {
		return false, err
	}
	a.stats.Delete(1)
	return true, nil
}

func (a *Adapter) DeleteMany(ctx context.Context, ks []string, o adapter.Options) (bool, error) {
	n, err := a.MDel(ctx, ks, o)
	return n > 0, err
}

func (a *Adapter) MDel(ctx context.Context, ks []string, o adapter.Options) (int64, error) {
	removed, err := a.Remove(ctx, ks, o)
	return int64(len(removed)), err
}

// Remove deletes ks and returns the ones that existed, in input order.
func (a *Adapter) Remove(ctx context.Context, ks []string, o adapter.Options) ([]string, error) {
	ns, err := a.nsFor(o)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, k := range ks {
		ok, err := a.del(ctx, ns, k, o.Hash)
		if err != nil {
			return out, err
		}
		if ok {
			out = append(out, k)
		}
	}
	return out, nil
}

// Expire rewrites the envelope expiry together with the stored TTL.
func (a *Adapter) Expire(ctx context.Context, key string, ttl time.Duration, o adapter.Options) (bool, error) {
	ns, err := a.nsFor(o)
	if err != nil {
		return false, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.expire(ctx, ns, key, o.Hash, ttl)
}

func (a *Adapter) expire(ctx context.Context, ns, key, field string, ttl time.Duration) (bool, error) {
	e, err := a.lookup(ctx, ns, key, field)
	if err != nil || e == nil {
		return false, err
	}
	ttl = a.ttlFor(ttl)
	next := e.WithTTL(a.now(), ttl)
	b, err := a.codec.Encode(next, nil)
	if err != nil {
		return false, err
	}
	ok, _, err := a.store(ctx, ns, key, field, b, ttl)
	return ok, err
}

func (a *Adapter) ExtendTTL(ctx context.Context, key string, ttl time.Duration, o adapter.Options) (bool, error) {
	return a.Expire(ctx, key, ttl, o)
}

func (a *Adapter) Increment(ctx context.Context, key string, delta int64, o adapter.Options) (int64, error) {
	if o.Hash != "" {
		return 0, adapter.ErrNotSupported
	}
	ns, err := a.nsFor(o)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	e, err := a.lookup(ctx, ns, key, "")
	if err != nil {
		return 0, err
	}
	var (
		n   int64
		ttl time.Duration
	)
	if e == nil {
		ttl = a.ttlFor(o.TTL)
		fresh := entry.NewAt(now, nil, ttl, nil)
		e = &fresh
	} else {
		if err := json.Unmarshal(e.Data, &n); err != nil {
			return 0, fmt.Errorf("%w: %q", adapter.ErrNotInteger, key)
		}
		ttl, _ = e.TTL(now)
	}
	n += delta
	e.Data = strconv.AppendInt(nil, n, 10)
	b, err := a.codec.Encode(*e, nil)
	if err != nil {
		return 0, err
	}
	if _, _, err := a.store(ctx, ns, key, "", b, ttl); err != nil {
		return 0, err
	}
	return n, nil
}

func (a *Adapter) Decrement(ctx context.Context, key string, delta int64, o adapter.Options) (int64, error) {
	return a.Increment(ctx, key, -delta, o)
}

// ---- tags ----

// tag records phys under every tag. A tag set lives as long as its
// longest-lived member and never expires once a permanent member joins.
// Caller holds the write lock.
func (a *Adapter) tag(phys string, tags []string, ttl time.Duration) {
	now := a.now()
	for _, t := range tags {
		tk := a.keys.Tag(t)
		s, ok := a.tags[tk]
		fresh := !ok || s.expired(now)
		if fresh {
			s = &tagSet{members: make(map[string]struct{})}
			a.tags[tk] = s
		}
		s.members[phys] = struct{}{}
		switch exp := now.Add(ttl); {
		case ttl <= 0:
			s.exp = time.Time{}
		case fresh:
			s.exp = exp
		case !s.exp.IsZero() && s.exp.Before(exp):
			s.exp = exp
		}
	}
}

func (s *tagSet) expired(now time.Time) bool {
	return !s.exp.IsZero() && !now.Before(s.exp)
}

// members returns the deduplicated union of the live tag sets.
func (a *Adapter) members(tags []string) map[string]struct{} {
	now := a.now()
	out := make(map[string]struct{})
	for _, t := range tags {
		s, ok := a.tags[a.keys.Tag(t)]
		if !ok || s.expired(now) {
			continue
		}
		for m := range s.members {
			out[m] = struct{}{}
		}
	}
	return out
}

func (a *Adapter) FlushByTags(ctx context.Context, tags []string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n int64
	for phys := range a.members(tags) {
		_, ok, err := a.p.Get(ctx, phys)
		if err != nil {
			return n, err
		}
		if !ok {
			continue
		}
		if err := a.p.Del(ctx, phys); err != nil {
			return n, err
		}
		n++
	}
	for _, t := range tags {
		delete(a.tags, a.keys.Tag(t))
	}
	a.stats.Delete(n)
	return n, nil
}

func (a *Adapter) KeysByTags(ctx context.Context, tags []string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for phys := range a.members(tags) {
		ns, key, ok := a.keys.SplitData(phys)
		if !ok {
			ns, key, ok = a.keys.SplitHash(phys)
		}
		live := false
		if ok {
			b, hit, err := a.p.Get(ctx, phys)
			if err != nil {
				return nil, err
			}
			live = hit && a.liveBytes(b, phys)
		}
		if !live {
			for _, t := range tags {
				if s, ok := a.tags[a.keys.Tag(t)]; ok {
					delete(s.members, phys)
				}
			}
			continue
		}
		out = append(out, keys.Qualified(ns, key))
	}
	sort.Strings(out)
	return out, nil
}

// liveBytes reports whether a stored value at phys is still visible.
// Hash structures are live while they exist.
func (a *Adapter) liveBytes(b []byte, phys string) bool {
	if _, _, isHash := a.keys.SplitHash(phys); isHash {
		return true
	}
	e, err := a.codec.Decode(b)
	return err == nil && !e.Expired(a.now())
}

// ---- enumeration ----

// scan returns physical keys matching pattern, sorted.
func (a *Adapter) scan(ctx context.Context, pattern string) ([]string, error) {
	all, err := a.p.Keys(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, k := range all {
		if keys.Match(pattern, k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (a *Adapter) Keys(ctx context.Context, pattern string, o adapter.Options) ([]string, error) {
	ns, err := a.nsFor(o)
	if err != nil {
		return nil, err
	}
	if pattern == "" {
		pattern = "*"
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.keysIn(ctx, ns, pattern, o.Hash)
}

func (a *Adapter) keysIn(ctx context.Context, ns, pattern, field string) ([]string, error) {
	if field == "" {
		phys, err := a.scan(ctx, a.keys.DataPattern(ns, pattern))
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(phys))
		for _, p := range phys {
			b, ok, err := a.p.Get(ctx, p)
			if err != nil {
				return nil, err
			}
			if !ok || !a.liveBytes(b, p) {
				continue
			}
			if _, key, ok := a.keys.SplitData(p); ok {
				out = append(out, key)
			}
		}
		return out, nil
	}
	phys, err := a.scan(ctx, a.keys.HashPattern(ns, pattern))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, p := range phys {
		rec, err := a.loadHash(ctx, p)
		if err != nil {
			return nil, err
		}
		if _, ok := rec[field]; !ok {
			continue
		}
		if _, key, ok := a.keys.SplitHash(p); ok {
			out = append(out, key)
		}
	}
	return out, nil
}

func (a *Adapter) KeysByNamespace(ctx context.Context, ns, pattern string) ([]string, error) {
	return a.Keys(ctx, pattern, adapter.Options{Namespace: ns})
}

func (a *Adapter) Fields(ctx context.Context, key string, o adapter.Options) ([]string, error) {
	ns, err := a.nsFor(o)
	if err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, err := a.loadHash(ctx, a.keys.Hash(ns, key))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rec))
	for f := range rec {
		out = append(out, f)
	}
	sort.Strings(out)
	return out, nil
}

func (a *Adapter) Size(ctx context.Context) (int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.size(ctx)
}

func (a *Adapter) size(ctx context.Context) (int64, error) {
	var n int64
	for _, pat := range []string{a.keys.AllDataPattern(), a.keys.AllHashPattern()} {
		ks, err := a.scan(ctx, pat)
		if err != nil {
			return 0, err
		}
		n += int64(len(ks))
	}
	return n, nil
}

// ---- scoped removal ----

func (a *Adapter) FlushNamespace(ctx context.Context, ns string) (int64, error) {
	if err := keys.ValidateNamespace(ns); err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	var n int64
	for _, pat := range a.keys.NamespacePatterns(ns) {
		c, err := a.dropMatching(ctx, pat)
		n += c
		if err != nil {
			return n, err
		}
	}
	a.stats.Delete(n)
	return n, nil
}

func (a *Adapter) dropMatching(ctx context.Context, pattern string) (int64, error) {
	ks, err := a.scan(ctx, pattern)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, k := range ks {
		if err := a.p.Del(ctx, k); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Clear removes everything under the adapter prefix, or with o.Hash set,
// that field from every hash structure.
func (a *Adapter) Clear(ctx context.Context, o adapter.Options) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if o.Hash == "" {
		if _, err := a.dropMatching(ctx, a.keys.AllPattern()); err != nil {
			return false, err
		}
		a.tags = make(map[string]*tagSet)
		return true, nil
	}
	hs, err := a.scan(ctx, a.keys.AllHashPattern())
	if err != nil {
		return false, err
	}
	for _, p := range hs {
		rec, err := a.loadHash(ctx, p)
		if err != nil {
			return false, err
		}
		if _, ok := rec[o.Hash]; !ok {
			continue
		}
		delete(rec, o.Hash)
		if _, err := a.saveHash(ctx, p, rec); err != nil {
			return false, err
		}
	}
	return true, nil
}

// ---- hash structures ----

func (a *Adapter) loadHash(ctx context.Context, phys string) (hashRecord, error) {
	b, ok, err := a.p.Get(ctx, phys)
	if err != nil || !ok {
		return nil, err
	}
	var rec hashRecord
	if err := msgpack.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("%w: hash %q: %v", entry.ErrCorrupt, phys, err)
	}
	return rec, nil
}

// saveHash persists rec; an empty record removes the structure.
func (a *Adapter) saveHash(ctx context.Context, phys string, rec hashRecord) (bool, error) {
	if len(rec) == 0 {
		return true, a.p.Del(ctx, phys)
	}
	b, err := msgpack.Marshal(rec)
	if err != nil {
		return false, err
	}
	return a.p.Set(ctx, phys, b, int64(len(b)), 0)
}

// ---- lazy eviction ----

func (a *Adapter) evictLater(ctx context.Context, phys, field string) {
	if a.closed.Load() {
		return
	}
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.evictTimeout)
		defer cancel()
		a.mu.Lock()
		defer a.mu.Unlock()
		a.dropStale(ctx, phys, field)
	}()
}

// dropStale re-checks under the write lock so a concurrent fresh write survives.
func (a *Adapter) dropStale(ctx context.Context, phys, field string) {
	stale := func(b []byte) bool {
		e, err := a.codec.Decode(b)
		return err != nil || e.Expired(a.now())
	}
	if field == "" {
		b, ok, err := a.p.Get(ctx, phys)
		if err == nil && ok && stale(b) {
			_ = a.p.Del(ctx, phys)
		}
		return
	}
	rec, err := a.loadHash(ctx, phys)
	if err != nil {
		return
	}
	if b, ok := rec[field]; ok && stale(b) {
		delete(rec, field)
		_, _ = a.saveHash(ctx, phys, rec)
	}
}

// ---- misc ----

func (a *Adapter) Stats(ctx context.Context) (adapter.Stats, error) {
	n, err := a.Size(ctx)
	if err != nil {
		return adapter.Stats{}, err
	}
	return a.stats.Snapshot(n), nil
}

func (a *Adapter) SetNamespace(ns string) error {
	if err := keys.ValidateNamespace(ns); err != nil {
		return err
	}
	a.ns.Store(ns)
	return nil
}

func (a *Adapter) Namespace() string { return a.ns.Load().(string) }

func (a *Adapter) Name(key string) string {
	if key == "" {
		return a.name
	}
	return a.keys.Data(a.Namespace(), key)
}

func (a *Adapter) IsAlive(context.Context) bool { return !a.closed.Load() }

func (a *Adapter) Close(ctx context.Context) error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	a.bg.Wait()
	return a.p.Close(ctx)
}
