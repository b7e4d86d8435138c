// Package redis is the reference enhanced adapter on go-redis.
//
// Data entries are plain string keys holding an encoded envelope; legacy
// hash-keyed values are fields of a Redis hash; tags are Redis sets of
// physical keys. Enumeration uses SCAN and therefore targets a single node
// (standalone, sentinel or a single-shard proxy).
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/cachemgr/adapter"
	"github.com/unkn0wn-root/cachemgr/entry"
	"github.com/unkn0wn-root/cachemgr/internal/keys"
)

var ErrNilClient = errors.New("redis adapter: nil client")

var (
	_ adapter.EnhancedAdapter = (*Adapter)(nil)
	_ adapter.Pipeliner       = (*Adapter)(nil)
	_ adapter.Transactor      = (*Adapter)(nil)
	_ adapter.Remover         = (*Adapter)(nil)
)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this adapter exclusively owns the client

	Name       string        // "redis"
	Prefix     string        // "cache"
	Namespace  string        // "default"
	DefaultTTL time.Duration // used when Options.TTL == 0; 0 => no expiry
	Codec      entry.Codec

	ScanCount    int64         // SCAN COUNT hint; 100
	WatchRetries int           // optimistic-lock attempts for Expire and Transaction; 3
	EvictTimeout time.Duration // bound for background deletion of stale values; 1s
}

type Adapter struct {
	rdb         goredis.UniversalClient
	closeClient bool

	keys         keys.Builder
	codec        entry.Codec
	name         string
	defaultTTL   time.Duration
	scanCount    int64
	watchRetries int
	evictTimeout time.Duration

	ns     atomic.Value // string
	stats  adapter.Counters
	closed atomic.Bool
	bg     sync.WaitGroup
}

func New(cfg Config) (*Adapter, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	cfg = cfg.withDefaults()
	if err := keys.ValidateNamespace(cfg.Namespace); err != nil {
		return nil, err
	}
	a := &Adapter{
		rdb:          cfg.Client,
		closeClient:  cfg.CloseClient,
		keys:         keys.Builder{Prefix: cfg.Prefix},
		codec:        cfg.Codec,
		name:         cfg.Name,
		defaultTTL:   cfg.DefaultTTL,
		scanCount:    cfg.ScanCount,
		watchRetries: cfg.WatchRetries,
		evictTimeout: cfg.EvictTimeout,
	}
	a.ns.Store(cfg.Namespace)
	return a, nil
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "redis"
	}
	if c.Prefix == "" {
		c.Prefix = "cache"
	}
	if c.Namespace == "" {
		c.Namespace = "default"
	}
	if c.ScanCount <= 0 {
		c.ScanCount = 100
	}
	if c.WatchRetries <= 0 {
		c.WatchRetries = 3
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

func (a *Adapter) ttlFor(ttl time.Duration) time.Duration {
	switch {
	case ttl > 0:
		return ttl
	case ttl < 0:
		return 0
	}
	return a.defaultTTL
}

// physical returns the Redis key holding key (a hash when field != "").
func (a *Adapter) physical(ns, key, field string) string {
	if field != "" {
		return a.keys.Hash(ns, key)
	}
	return a.keys.Data(ns, key)
}

// ---- reads ----

func (a *Adapter) Get(ctx context.Context, key string, o adapter.Options) (*entry.Entry, error) {
	ns, err := a.nsFor(o)
	if err != nil {
		return nil, err
	}
	phys := a.physical(ns, key, o.Hash)
	var b []byte
	if o.Hash != "" {
		b, err = a.rdb.HGet(ctx, phys, o.Hash).Bytes()
	} else {
		b, err = a.rdb.Get(ctx, phys).Bytes()
	}
	return a.finishGet(ctx, b, err, phys, o.Hash)
}

// finishGet turns a raw reply into a live entry, counting the lookup.
func (a *Adapter) finishGet(ctx context.Context, b []byte, err error, phys, field string) (*entry.Entry, error) {
	if err == goredis.Nil {
		a.stats.Miss(1)
		return nil, nil
	}
	if err != nil {
		a.stats.Error(1)
		return nil, err
	}
	e := a.decodeLive(ctx, b, phys, field)
	a.stats.Track(e != nil)
	return e, nil
}

func (a *Adapter) decodeLive(ctx context.Context, b []byte, phys, field string) *entry.Entry {
	e, err := a.codec.Decode(b)
	if err != nil || e.Expired(time.Now()) {
		a.evictLater(ctx, phys, field, b)
		return nil
	}
	return &e
}

func (a *Adapter) MGet(ctx context.Context, ks []string, o adapter.Options) ([]*entry.Entry, error) {
	ns, err := a.nsFor(o)
	if err != nil {
		return nil, err
	}
	out := make([]*entry.Entry, len(ks))
	if len(ks) == 0 {
		return out, nil
	}
	if o.Hash != "" {
		cmds := make([]*goredis.StringCmd, len(ks))
		_, err := a.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
			for i, k := range ks {
				cmds[i] = p.HGet(ctx, a.keys.Hash(ns, k), o.Hash)
			}
			return nil
		})
		if err != nil && err != goredis.Nil {
			a.stats.Error(1)
			return nil, err
		}
		for i, cmd := range cmds {
			b, err := cmd.Bytes()
			if out[i], err = a.finishGet(ctx, b, err, a.keys.Hash(ns, ks[i]), o.Hash); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	phys := make([]string, len(ks))
	for i, k := range ks {
		phys[i] = a.keys.Data(ns, k)
	}
	vals, err := a.rdb.MGet(ctx, phys...).Result()
	if err != nil {
		a.stats.Error(1)
		return nil, err
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			a.stats.Miss(1)
			continue
		}
		out[i] = a.decodeLive(ctx, []byte(s), phys[i], "")
		a.stats.Track(out[i] != nil)
	}
	return out, nil
}

func (a *Adapter) Exists(ctx context.Context, key string, o adapter.Options) (bool, error) {
	ns, err := a.nsFor(o)
	if err != nil {
		return false, err
	}
	phys := a.physical(ns, key, o.Hash)
	if o.Hash != "" {
		return a.rdb.HExists(ctx, phys, o.Hash).Result()
	}
	n, err := a.rdb.Exists(ctx, phys).Result()
	return n > 0, err
}

// TTL reports PTTL semantics. Hash fields carry their expiry in the envelope.
func (a *Adapter) TTL(ctx context.Context, key string, o adapter.Options) (time.Duration, error) {
	ns, err := a.nsFor(o)
	if err != nil {
		return adapter.TTLMissing, err
	}
	if o.Hash != "" {
		b, err := a.rdb.HGet(ctx, a.keys.Hash(ns, key), o.Hash).Bytes()
		if err == goredis.Nil {
			return adapter.TTLMissing, nil
		}
		if err != nil {
			return adapter.TTLMissing, err
		}
		e, err := a.codec.Decode(b)
		if err != nil || e.Expired(time.Now()) {
			return adapter.TTLMissing, nil
		}
		if d, ok := e.TTL(time.Now()); ok {
			return d, nil
		}
		return adapter.TTLPersistent, nil
	}
	d, err := a.rdb.PTTL(ctx, a.keys.Data(ns, key)).Result()
	if err != nil {
		return adapter.TTLMissing, err
	}
	switch d {
	case -2:
		return adapter.TTLMissing, nil
	case -1:
		return adapter.TTLPersistent, nil
	}
	return d, nil
}

// ---- writes ----

func (a *Adapter) Set(ctx context.Context, key string, value json.RawMessage, o adapter.Options) (bool, error) {
	return a.MSet(ctx, map[string]json.RawMessage{key: value}, o)
}

// MSet writes every entry and its tag memberships in one MULTI/EXEC.
func (a *Adapter) MSet(ctx context.Context, entries map[string]json.RawMessage, o adapter.Options) (bool, error) {
	if o.Hash != "" && len(o.Tags) > 0 {
		return false, adapter.ErrTaggedHash
	}
	ns, err := a.nsFor(o)
	if err != nil {
		return false, err
	}
	ttl := a.ttlFor(o.TTL)
	now := time.Now()
	enc := make(map[string][]byte, len(entries))
	for k, v := range entries {
		b, err := a.codec.Encode(entry.NewAt(now, v, ttl, o.Metadata), o.Compress)
		if err != nil {
			return false, fmt.Errorf("key %q: %w", k, err)
		}
		enc[k] = b
	}
	_, err = a.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		for k, b := range enc {
			a.queueWrite(ctx, p, a.physical(ns, k, o.Hash), o.Hash, b, ttl, o.Tags)
		}
		return nil
	})
	if err != nil {
		a.stats.Error(1)
		return false, err
	}
	a.stats.Set(int64(len(enc)))
	return true, nil
}

// queueWrite queues the value write plus tag maintenance and returns the
// command whose outcome decides the write.
func (a *Adapter) queueWrite(ctx context.Context, p goredis.Pipeliner, phys, field string, b []byte, ttl time.Duration, tags []string) goredis.Cmder {
	var cmd goredis.Cmder
	if field != "" {
		cmd = p.HSet(ctx, phys, field, b)
	} else {
		cmd = p.Set(ctx, phys, b, ttl)
	}
	for _, t := range tags {
		tagScript.Eval(ctx, p, []string{a.keys.Tag(t)}, phys, ttl.Milliseconds())
	}
	return cmd
}

func (a *Adapter) Delete(ctx context.Context, key string, o adapter.Options) (bool, error) {
	n, err := a.MDel(ctx, []string{key}, o)
	return n > 0, err
}

func (a *Adapter) DeleteMany(ctx context.Context, ks []string, o adapter.Options) (bool, error) {
	n, err := a.MDel(ctx, ks, o)
	return n > 0, err
}

func (a *Adapter) MDel(ctx context.Context, ks []string, o adapter.Options) (int64, error) {
	removed, err := a.Remove(ctx, ks, o)
	return int64(len(removed)), err
}

// Remove deletes ks in one MULTI/EXEC and returns the ones that existed,
// in input order.
func (a *Adapter) Remove(ctx context.Context, ks []string, o adapter.Options) ([]string, error) {
	ns, err := a.nsFor(o)
	if err != nil {
		return nil, err
	}
	if len(ks) == 0 {
		return nil, nil
	}
	cmds := make([]*goredis.IntCmd, len(ks))
	_, err = a.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		for i, k := range ks {
			if o.Hash != "" {
				cmds[i] = p.HDel(ctx, a.keys.Hash(ns, k), o.Hash)
			} else {
				cmds[i] = p.Del(ctx, a.keys.Data(ns, k))
			}
		}
		return nil
	})
	if err != nil {
		a.stats.Error(1)
		return nil, err
	}
	var out []string
	for i, c := range cmds {
		if c.Val() > 0 {
			out = append(out, ks[i])
		}
	}
	a.stats.Delete(int64(len(out)))
	return out, nil
}

// Expire rewrites the envelope expiry and the key TTL under WATCH so the
// read-path expiry check agrees with Redis.
func (a *Adapter) Expire(ctx context.Context, key string, ttl time.Duration, o adapter.Options) (bool, error) {
	ns, err := a.nsFor(o)
	if err != nil {
		return false, err
	}
	phys := a.physical(ns, key, o.Hash)
	ttl = a.ttlFor(ttl)

	var ok bool
	fn := func(tx *goredis.Tx) error {
		plan, err := a.planExpire(ctx, tx, phys, o.Hash, ttl, nil)
		if err != nil || !plan.found {
			ok = false
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			a.queueExpire(ctx, p, phys, o.Hash, plan)
			return nil
		})
		ok = err == nil
		return err
	}
	err = a.watch(ctx, fn, phys)
	return ok, err
}

func (a *Adapter) ExtendTTL(ctx context.Context, key string, ttl time.Duration, o adapter.Options) (bool, error) {
	return a.Expire(ctx, key, ttl, o)
}

// watch runs fn under WATCH keys, retrying optimistic-lock conflicts.
func (a *Adapter) watch(ctx context.Context, fn func(*goredis.Tx) error, watched ...string) error {
	var err error
	for i := 0; i < a.watchRetries; i++ {
		err = a.rdb.Watch(ctx, fn, watched...)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
	}
	return err
}

// expirePlan is the rewrite computed for one Expire before MULTI.
type expirePlan struct {
	found bool
	bare  bool // plain counter: only the key TTL changes
	b     []byte
	ttl   time.Duration
}

// planExpire reads the current value through tx, or uses cur when the
// caller already knows it, and prepares the rewrite.
func (a *Adapter) planExpire(ctx context.Context, tx *goredis.Tx, phys, field string, ttl time.Duration, cur *entry.Entry) (expirePlan, error) {
	now := time.Now()
	if cur == nil {
		var (
			b   []byte
			err error
		)
		if field != "" {
			b, err = tx.HGet(ctx, phys, field).Bytes()
		} else {
			b, err = tx.Get(ctx, phys).Bytes()
		}
		if err == goredis.Nil {
			return expirePlan{}, nil
		}
		if err != nil {
			return expirePlan{}, err
		}
		e, err := a.codec.Decode(b)
		if err != nil {
			return expirePlan{}, err
		}
		cur = &e
	}
	if cur.Expired(now) {
		return expirePlan{}, nil
	}
	if cur.Bare() && field == "" {
		return expirePlan{found: true, bare: true, ttl: ttl}, nil
	}
	b, err := a.codec.Encode(cur.WithTTL(now, ttl), nil)
	if err != nil {
		return expirePlan{}, err
	}
	return expirePlan{found: true, b: b, ttl: ttl}, nil
}

func (a *Adapter) queueExpire(ctx context.Context, p goredis.Pipeliner, phys, field string, plan expirePlan) goredis.Cmder {
	switch {
	case plan.bare && plan.ttl > 0:
		return p.PExpire(ctx, phys, plan.ttl)
	case plan.bare:
		return p.Persist(ctx, phys)
	case field != "":
		return p.HSet(ctx, phys, field, plan.b)
	default:
		return p.Set(ctx, phys, plan.b, plan.ttl)
	}
}

// ---- counters ----

// incrScript applies the TTL only when INCRBY creates the key.
var incrScript = goredis.NewScript(`
local created = redis.call('EXISTS', KEYS[1]) == 0
local v = redis.call('INCRBY', KEYS[1], ARGV[1])
if created and tonumber(ARGV[2]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return v
`)

func (a *Adapter) Increment(ctx context.Context, key string, delta int64, o adapter.Options) (int64, error) {
	if o.Hash != "" {
		return 0, adapter.ErrNotSupported
	}
	ns, err := a.nsFor(o)
	if err != nil {
		return 0, err
	}
	ttl := a.ttlFor(o.TTL)
	phys := a.keys.Data(ns, key)
	n, err := incrScript.Run(ctx, a.rdb, []string{phys}, delta, ttl.Milliseconds()).Int64()
	if err != nil && strings.Contains(err.Error(), "not an integer") {
		n, err = a.incrEntry(ctx, phys, delta, ttl)
		if errors.Is(err, adapter.ErrNotInteger) {
			return 0, fmt.Errorf("%w: %q", adapter.ErrNotInteger, key)
		}
	}
	if err != nil {
		a.stats.Error(1)
		return 0, err
	}
	return n, nil
}

// incrEntry increments an integer stored inside an envelope (a value
// written by Set) under WATCH, keeping its metadata and remaining TTL.
func (a *Adapter) incrEntry(ctx context.Context, phys string, delta int64, ttl time.Duration) (int64, error) {
	var n int64
	fn := func(tx *goredis.Tx) error {
		n = delta
		next, exp := strconv.AppendInt(nil, delta, 10), ttl
		b, err := tx.Get(ctx, phys).Bytes()
		switch {
		case err == goredis.Nil:
		case err != nil:
			return err
		default:
			e, err := a.codec.Decode(b)
			if err != nil {
				return adapter.ErrNotInteger
			}
			if e.Expired(time.Now()) {
				break
			}
			var cur int64
			if err := json.Unmarshal(e.Data, &cur); err != nil {
				return adapter.ErrNotInteger
			}
			n = cur + delta
			e.Data = strconv.AppendInt(nil, n, 10)
			if next, err = a.codec.Encode(e, nil); err != nil {
				return err
			}
			exp = goredis.KeepTTL
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Set(ctx, phys, next, exp)
			return nil
		})
		return err
	}
	if err := a.watch(ctx, fn, phys); err != nil {
		return 0, err
	}
	return n, nil
}

func (a *Adapter) Decrement(ctx context.Context, key string, delta int64, o adapter.Options) (int64, error) {
	return a.Increment(ctx, key, -delta, o)
}

// ---- enumeration ----

// scan collects distinct keys matching pattern, sorted.
func (a *Adapter) scan(ctx context.Context, pattern string) ([]string, error) {
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		ks, next, err := a.rdb.Scan(ctx, cursor, pattern, a.scanCount).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range ks {
			seen[k] = struct{}{}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
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
	if o.Hash == "" {
		phys, err := a.scan(ctx, a.keys.DataPattern(ns, pattern))
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(phys))
		for _, p := range phys {
			if _, k, ok := a.keys.SplitData(p); ok {
				out = append(out, k)
			}
		}
		return out, nil
	}

	phys, err := a.scan(ctx, a.keys.HashPattern(ns, pattern))
	if err != nil || len(phys) == 0 {
		return nil, err
	}
	cmds := make([]*goredis.BoolCmd, len(phys))
	if _, err := a.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for i, k := range phys {
			cmds[i] = p.HExists(ctx, k, o.Hash)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	var out []string
	for i, c := range cmds {
		if !c.Val() {
			continue
		}
		if _, k, ok := a.keys.SplitHash(phys[i]); ok {
			out = append(out, k)
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
	fs, err := a.rdb.HKeys(ctx, a.keys.Hash(ns, key)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(fs)
	return fs, nil
}

func (a *Adapter) Size(ctx context.Context) (int64, error) {
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
	if err != nil || len(ks) == 0 {
		return 0, err
	}
	return a.rdb.Del(ctx, ks...).Result()
}

// Clear removes every key under the adapter prefix, or with o.Hash set,
// that field from every hash structure.
func (a *Adapter) Clear(ctx context.Context, o adapter.Options) (bool, error) {
	if o.Hash == "" {
		_, err := a.dropMatching(ctx, a.keys.AllPattern())
		return err == nil, err
	}
	hs, err := a.scan(ctx, a.keys.AllHashPattern())
	if err != nil {
		return false, err
	}
	if len(hs) == 0 {
		return true, nil
	}
	_, err = a.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for _, h := range hs {
			p.HDel(ctx, h, o.Hash)
		}
		return nil
	})
	return err == nil, err
}

// ---- lazy eviction ----

// dropIfSame deletes the key (or field) only while it still holds the
// stale bytes, so a concurrent rewrite survives.
var dropIfSame = goredis.NewScript(`
if ARGV[2] == '' then
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
end
if redis.call('HGET', KEYS[1], ARGV[2]) == ARGV[1] then
	return redis.call('HDEL', KEYS[1], ARGV[2])
end
return 0
`)

func (a *Adapter) evictLater(ctx context.Context, phys, field string, stale []byte) {
	if a.closed.Load() {
		return
	}
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.evictTimeout)
		defer cancel()
		_ = dropIfSame.Run(ctx, a.rdb, []string{phys}, stale, field).Err()
	}()
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

func (a *Adapter) IsAlive(ctx context.Context) bool {
	return !a.closed.Load() && a.rdb.Ping(ctx).Err() == nil
}

// Close waits for background evictions and releases the client only when
// the adapter owns it. Safe to call multiple times.
func (a *Adapter) Close(context.Context) error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	a.bg.Wait()
	if a.closeClient {
		if err := a.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
