package cachemgr

import (
	"context"
	"encoding/json"
	"time"

	"github.com/unkn0wn-root/cachemgr/adapter"
)

// Manager is the legacy API. Reads and deletes never fail: a backend error
// is logged, counted and reported to hooks, then surfaced as a miss, false
// or an empty list. Set-family calls still return *ValidationError for
// rejected input.
//
// hash addresses a field of a legacy hash structure; "" means a plain entry.
type Manager struct {
	c *core
}

func hashOpts(hash string) []CallOption {
	if hash == "" {
		return nil
	}
	return []CallOption{WithHash(hash)}
}

// Get returns the stored JSON value, or nil.
func (m *Manager) Get(ctx context.Context, key, hash string) json.RawMessage {
	e, _ := m.c.get(ctx, key, hashOpts(hash))
	if e == nil {
		return nil
	}
	return e.Data
}

// Set stores value. ttl == 0 applies the manager default. The error is
// non-nil only when the input is rejected.
func (m *Manager) Set(ctx context.Context, key string, value any, ttl time.Duration, hash string) (bool, error) {
	opts := append(hashOpts(hash), WithTTL(ttl))
	return swallow(m.c.set(ctx, key, value, opts))
}

// Save stores data under a hash field without expiry; Load decides freshness.
// With hash == "" it is Set with the default TTL.
func (m *Manager) Save(ctx context.Context, key string, data any, hash string) (bool, error) {
	if hash == "" {
		return m.Set(ctx, key, data, 0, "")
	}
	return m.Set(ctx, key, data, adapter.NoExpiry, hash)
}

// Load returns the value under a hash field only while it is younger than
// ttl. ttl <= 0 skips the age check. With hash == "" it is Get.
func (m *Manager) Load(ctx context.Context, key string, ttl time.Duration, hash string) json.RawMessage {
	if hash == "" {
		return m.Get(ctx, key, "")
	}
	e, _ := m.c.get(ctx, key, hashOpts(hash))
	if e == nil {
		return nil
	}
	if ttl > 0 && !e.Created().Add(ttl).After(time.Now()) {
		return nil
	}
	return e.Data
}

// MGet returns one value per key in input order; nil marks a miss.
func (m *Manager) MGet(ctx context.Context, keys []string, hash string) []json.RawMessage {
	es, err := m.c.getMany(ctx, keys, hashOpts(hash))
	out := make([]json.RawMessage, len(keys))
	if err != nil {
		return out
	}
	for i, e := range es {
		if e != nil {
			out[i] = e.Data
		}
	}
	return out
}

func (m *Manager) MSet(ctx context.Context, items map[string]any, ttl time.Duration, hash string) (bool, error) {
	opts := append(hashOpts(hash), WithTTL(ttl))
	return swallow(m.c.setMany(ctx, items, opts))
}

func (m *Manager) Delete(ctx context.Context, key, hash string) bool {
	ok, _ := m.c.del(ctx, key, hashOpts(hash))
	return ok
}

// Purge is Delete.
func (m *Manager) Purge(ctx context.Context, key, hash string) bool {
	return m.Delete(ctx, key, hash)
}

func (m *Manager) DeleteMany(ctx context.Context, keys []string, hash string) bool {
	ok, _ := m.c.delMany(ctx, keys, hashOpts(hash))
	return ok
}

// List returns the hash field names stored under key.
func (m *Manager) List(ctx context.Context, key string) []string {
	out, _ := m.c.fields(ctx, key)
	return out
}

// Keys lists logical keys matching pattern. With hash set it lists the
// keys whose structure holds that field.
func (m *Manager) Keys(ctx context.Context, pattern, hash string) []string {
	out, _ := m.c.keys(ctx, pattern, hashOpts(hash))
	return out
}

// Clear wipes the backend, or with hash set, that field everywhere.
func (m *Manager) Clear(ctx context.Context, hash string) bool {
	ok, _ := m.c.clear(ctx, hash)
	return ok
}

// Size returns the number of stored entries, or -1 when unknown.
func (m *Manager) Size(ctx context.Context) int64 {
	n, err := m.c.size(ctx)
	if err != nil {
		return -1
	}
	return n
}

func (m *Manager) Ping(ctx context.Context) bool {
	return m.c.ping(ctx) == nil
}

func (m *Manager) ExtendTTL(ctx context.Context, key string, ttl time.Duration, hash string) bool {
	ok, _ := m.c.extendTTL(ctx, key, ttl, hashOpts(hash))
	return ok
}

func (m *Manager) Stats(ctx context.Context) adapter.Stats {
	s, _ := m.c.snapshot(ctx)
	return s
}

func (m *Manager) AddHooks(h Hooks) { m.c.hooks.add(h) }

func (m *Manager) Namespace() string { return m.c.Namespace() }

// SetNamespace changes the namespace used by subsequent calls.
func (m *Manager) SetNamespace(ns string) error { return m.c.setNamespace(ns) }

func (m *Manager) SetCaseSensitive(on bool) { m.c.norm.caseSensitive.Store(on) }

func (m *Manager) Close(ctx context.Context) error { return m.c.close(ctx) }

// swallow keeps validation errors and turns backend failures into false.
func swallow(ok bool, err error) (bool, error) {
	if err == nil {
		return ok, nil
	}
	if isValidation(err) {
		return false, err
	}
	return false, nil
}
