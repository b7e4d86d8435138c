package cachemgr

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/unkn0wn-root/cachemgr/adapter"
	"github.com/unkn0wn-root/cachemgr/entry"
)

// EnhancedManager is the full cache API. Every method reports failures as
// errors: *ValidationError for rejected input, *OperationError once retries
// are exhausted. Misses are not errors.
type EnhancedManager struct {
	c      *core
	a      adapter.EnhancedAdapter
	legacy *Manager
}

// Legacy returns the hash-keyed API over the same backend and counters.
func (m *EnhancedManager) Legacy() *Manager { return m.legacy }

// Adapter returns the backend.
func (m *EnhancedManager) Adapter() adapter.EnhancedAdapter { return m.a }

// Get returns the stored JSON value, or nil on a miss.
func (m *EnhancedManager) Get(ctx context.Context, key string, opts ...CallOption) (json.RawMessage, error) {
	e, err := m.c.get(ctx, key, opts)
	if e == nil {
		return nil, err
	}
	return e.Data, nil
}

// GetEntry returns the stored envelope with its timestamps and metadata.
func (m *EnhancedManager) GetEntry(ctx context.Context, key string, opts ...CallOption) (*entry.Entry, error) {
	return m.c.get(ctx, key, opts)
}

func (m *EnhancedManager) Set(ctx context.Context, key string, value any, opts ...CallOption) (bool, error) {
	return m.c.set(ctx, key, value, opts)
}

// MGet returns one value per key in input order; nil marks a miss.
func (m *EnhancedManager) MGet(ctx context.Context, keys []string, opts ...CallOption) ([]json.RawMessage, error) {
	es, err := m.c.getMany(ctx, keys, opts)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, len(es))
	for i, e := range es {
		if e != nil {
			out[i] = e.Data
		}
	}
	return out, nil
}

// MSet writes all items with the same options. Nothing is written if any
// item fails validation.
func (m *EnhancedManager) MSet(ctx context.Context, items map[string]any, opts ...CallOption) (bool, error) {
	return m.c.setMany(ctx, items, opts)
}

// MDel deletes keys and returns how many existed.
func (m *EnhancedManager) MDel(ctx context.Context, keys []string, opts ...CallOption) (int64, error) {
	const op = "mdel"
	if len(keys) == 0 {
		return 0, nil
	}
	ks, o, err := m.c.prepareMany(op, keys, opts)
	if err != nil {
		return 0, err
	}
	removed, err := m.c.remove(ctx, op, ks, o)
	if err != nil {
		return 0, err
	}
	return int64(len(removed)), nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *EnhancedManager) Delete(ctx context.Context, key string, opts ...CallOption) (bool, error) {
	return m.c.del(ctx, key, opts)
}

// Clear wipes everything the backend holds for this manager's prefix.
func (m *EnhancedManager) Clear(ctx context.Context) (bool, error) {
	return m.c.clear(ctx, "")
}

// FlushNamespace removes every entry of ns and returns the count removed.
func (m *EnhancedManager) FlushNamespace(ctx context.Context, ns string) (int64, error) {
	const op = "flush_namespace"
	o, err := m.c.options(op, []CallOption{WithNamespace(ns)})
	if err != nil {
		return 0, m.c.reject(op, ns, err)
	}
	var n int64
	err = m.c.run(ctx, op, o.Namespace, func(ctx context.Context) (err error) {
		n, err = m.a.FlushNamespace(ctx, o.Namespace)
		return err
	})
	if err != nil {
		return 0, err
	}
	m.c.stats.Delete(n)
	m.c.cleared("namespace:" + o.Namespace)
	return n, nil
}

// FlushByTags removes every entry carrying any of tags.
func (m *EnhancedManager) FlushByTags(ctx context.Context, tags ...string) (int64, error) {
	const op = "flush_tags"
	if len(tags) == 0 {
		return 0, nil
	}
	ts, err := m.c.tags(op, tags)
	if err != nil {
		return 0, m.c.reject(op, "", err)
	}
	var n int64
	err = m.c.run(ctx, op, "", func(ctx context.Context) (err error) {
		n, err = m.a.FlushByTags(ctx, ts)
		return err
	})
	if err != nil {
		return 0, err
	}
	m.c.stats.Delete(n)
	m.c.cleared("tags:" + strings.Join(ts, ","))
	return n, nil
}

// Keys lists logical keys of the effective namespace matching a glob pattern.
func (m *EnhancedManager) Keys(ctx context.Context, pattern string, opts ...CallOption) ([]string, error) {
	return m.c.keys(ctx, pattern, opts)
}

func (m *EnhancedManager) KeysByNamespace(ctx context.Context, ns, pattern string) ([]string, error) {
	const op = "keys_namespace"
	o, err := m.c.options(op, []CallOption{WithNamespace(ns)})
	if err != nil {
		return nil, m.c.reject(op, ns, err)
	}
	if pattern == "" {
		pattern = "*"
	}
	p, err := m.c.key(op, pattern)
	if err != nil {
		return nil, m.c.reject(op, pattern, err)
	}
	var out []string
	err = m.c.run(ctx, op, p, func(ctx context.Context) (err error) {
		out, err = m.a.KeysByNamespace(ctx, o.Namespace, p)
		return err
	})
	return out, err
}

// KeysByTags returns "<namespace>:<key>" names of live entries carrying any of tags.
func (m *EnhancedManager) KeysByTags(ctx context.Context, tags ...string) ([]string, error) {
	const op = "keys_tags"
	if len(tags) == 0 {
		return nil, nil
	}
	ts, err := m.c.tags(op, tags)
	if err != nil {
		return nil, m.c.reject(op, "", err)
	}
	var out []string
	err = m.c.run(ctx, op, "", func(ctx context.Context) (err error) {
		out, err = m.a.KeysByTags(ctx, ts)
		return err
	})
	return out, err
}

func (m *EnhancedManager) Exists(ctx context.Context, key string, opts ...CallOption) (bool, error) {
	const op = "exists"
	k, o, err := m.c.prepare(op, key, opts)
	if err != nil {
		return false, err
	}
	var ok bool
	err = m.c.run(ctx, op, k, func(ctx context.Context) (err error) {
		ok, err = m.a.Exists(ctx, k, o)
		return err
	})
	return ok, err
}

// Expire sets a new lifetime on an existing key. ttl == 0 applies the
// manager default; adapter.NoExpiry makes the key permanent.
func (m *EnhancedManager) Expire(ctx context.Context, key string, ttl time.Duration, opts ...CallOption) (bool, error) {
	const op = "expire"
	k, o, err := m.c.prepare(op, key, opts)
	if err != nil {
		return false, err
	}
	if ttl == 0 {
		ttl = m.c.defaultTTL
	}
	var ok bool
	err = m.c.run(ctx, op, k, func(ctx context.Context) (err error) {
		ok, err = m.a.Expire(ctx, k, ttl, o)
		return err
	})
	return ok, err
}

// TTL returns the remaining lifetime, adapter.TTLPersistent for a key
// without expiry or adapter.TTLMissing for an absent key.
func (m *EnhancedManager) TTL(ctx context.Context, key string, opts ...CallOption) (time.Duration, error) {
	const op = "ttl"
	k, o, err := m.c.prepare(op, key, opts)
	if err != nil {
		return adapter.TTLMissing, err
	}
	d := adapter.TTLMissing
	err = m.c.run(ctx, op, k, func(ctx context.Context) (err error) {
		d, err = m.a.TTL(ctx, k, o)
		return err
	})
	return d, err
}

// ExtendTTL is Expire for callers that also use the legacy API; backends
// without native TTL updates fall back to a rewrite.
func (m *EnhancedManager) ExtendTTL(ctx context.Context, key string, ttl time.Duration, opts ...CallOption) (bool, error) {
	return m.c.extendTTL(ctx, key, ttl, opts)
}

// Increment adds delta to a counter, creating it at zero first. A TTL
// option only applies when the counter is created. Not retried.
func (m *EnhancedManager) Increment(ctx context.Context, key string, delta int64, opts ...CallOption) (int64, error) {
	return m.counter(ctx, "increment", key, delta, opts, m.a.Increment)
}

func (m *EnhancedManager) Decrement(ctx context.Context, key string, delta int64, opts ...CallOption) (int64, error) {
	return m.counter(ctx, "decrement", key, delta, opts, m.a.Decrement)
}

func (m *EnhancedManager) counter(
	ctx context.Context,
	op, key string,
	delta int64,
	opts []CallOption,
	fn func(context.Context, string, int64, adapter.Options) (int64, error),
) (int64, error) {
	k, o, err := m.c.prepare(op, key, opts)
	if err != nil {
		return 0, err
	}
	if o.Hash != "" {
		return 0, m.c.reject(op, k, adapter.ErrNotSupported)
	}
	var n int64
	err = m.c.once(ctx, op, k, func(ctx context.Context) (err error) {
		n, err = fn(ctx, k, delta, o)
		return err
	})
	if err != nil {
		return 0, err
	}
	m.c.wrote(k)
	return n, nil
}

// Stats returns manager-level counters with the backend's live key count
// (-1 when the backend cannot count).
func (m *EnhancedManager) Stats(ctx context.Context) (adapter.Stats, error) {
	return m.c.snapshot(ctx)
}

func (m *EnhancedManager) Size(ctx context.Context) (int64, error) {
	return m.c.size(ctx)
}

// Ping returns nil when the backend answers.
func (m *EnhancedManager) Ping(ctx context.Context) error {
	return m.c.ping(ctx)
}

// SetNamespace changes the default namespace of this manager and its backend.
func (m *EnhancedManager) SetNamespace(ns string) error {
	if err := m.c.setNamespace(ns); err != nil {
		return err
	}
	return m.a.SetNamespace(ns)
}

func (m *EnhancedManager) Namespace() string { return m.c.Namespace() }

// SetCaseSensitive switches key folding for this manager only.
func (m *EnhancedManager) SetCaseSensitive(on bool) { m.c.norm.caseSensitive.Store(on) }

func (m *EnhancedManager) CaseSensitive() bool { return m.c.norm.caseSensitive.Load() }

// AddHooks registers another event listener.
func (m *EnhancedManager) AddHooks(h Hooks) { m.c.hooks.add(h) }

// Pipeline returns an empty pipeline. Backends without native batching run
// the ops one by one.
func (m *EnhancedManager) Pipeline() *Pipeline {
	return &Pipeline{Batch: Batch{c: m.c}, a: m.a}
}

// Transaction queues ops through build and applies them atomically.
// It returns adapter.ErrNotSupported when the backend has no transactions.
func (m *EnhancedManager) Transaction(ctx context.Context, build func(b *Batch)) ([]adapter.Result, error) {
	const op = "transaction"
	tx, ok := m.a.(adapter.Transactor)
	if !ok {
		return nil, m.c.reject(op, "", adapter.ErrNotSupported)
	}
	b := &Batch{c: m.c}
	build(b)
	ops := b.valid()
	if len(ops) == 0 {
		return b.merge(nil), nil
	}
	var res []adapter.Result
	err := m.c.once(ctx, op, "", func(ctx context.Context) (err error) {
		res, err = tx.Transaction(ctx, ops)
		return err
	})
	if err != nil {
		return nil, err
	}
	return b.merge(res), nil
}

// Close releases the backend.
func (m *EnhancedManager) Close(ctx context.Context) error {
	return m.c.close(ctx)
}
