package cachemgr

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/unkn0wn-root/cachemgr/adapter"
	"github.com/unkn0wn-root/cachemgr/entry"
)

// ---------- reads ----------

func (c *core) get(ctx context.Context, key string, opts []CallOption) (*entry.Entry, error) {
	const op = "get"
	k, o, err := c.prepare(op, key, opts)
	if err != nil {
		return nil, err
	}
	var e *entry.Entry
	err = c.run(ctx, op, k, func(ctx context.Context) (err error) {
		e, err = c.a.Get(ctx, k, o)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.track(k, e != nil)
	return e, nil
}

// getMany returns one slot per key, in order; nil marks a miss.
func (c *core) getMany(ctx context.Context, in []string, opts []CallOption) ([]*entry.Entry, error) {
	const op = "mget"
	if len(in) == 0 {
		return nil, nil
	}
	ks, o, err := c.prepareMany(op, in, opts)
	if err != nil {
		return nil, err
	}
	var es []*entry.Entry
	err = c.run(ctx, op, "", func(ctx context.Context) (err error) {
		es, err = c.a.MGet(ctx, ks, o)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]*entry.Entry, len(ks))
	for i, k := range ks {
		if i < len(es) {
			out[i] = es[i]
		}
		c.track(k, out[i] != nil)
	}
	return out, nil
}

// ---------- writes ----------

func (c *core) set(ctx context.Context, key string, value any, opts []CallOption) (bool, error) {
	const op = "set"
	k, o, err := c.prepare(op, key, opts)
	if err != nil {
		return false, err
	}
	data, err := c.encode(op, k, value)
	if err != nil {
		return false, c.reject(op, k, err)
	}
	var ok bool
	err = c.run(ctx, op, k, func(ctx context.Context) (err error) {
		ok, err = c.a.Set(ctx, k, data, o)
		return err
	})
	if err != nil {
		return false, err
	}
	if ok {
		c.wrote(k)
	}
	return ok, nil
}

// setMany validates the whole batch before writing any of it.
func (c *core) setMany(ctx context.Context, items map[string]any, opts []CallOption) (bool, error) {
	const op = "mset"
	if len(items) == 0 {
		return true, nil
	}
	o, err := c.options(op, opts)
	if err != nil {
		return false, c.reject(op, "", err)
	}
	batch := make(map[string]json.RawMessage, len(items))
	for key, v := range items {
		k, err := c.key(op, key)
		if err != nil {
			return false, c.reject(op, key, err)
		}
		data, err := c.encode(op, k, v)
		if err != nil {
			return false, c.reject(op, k, err)
		}
		batch[k] = data
	}
	var ok bool
	err = c.run(ctx, op, "", func(ctx context.Context) (err error) {
		ok, err = c.a.MSet(ctx, batch, o)
		return err
	})
	if err != nil {
		return false, err
	}
	if ok {
		for k := range batch {
			c.wrote(k)
		}
	}
	return ok, nil
}

func (c *core) del(ctx context.Context, key string, opts []CallOption) (bool, error) {
	const op = "delete"
	k, o, err := c.prepare(op, key, opts)
	if err != nil {
		return false, err
	}
	var ok bool
	err = c.run(ctx, op, k, func(ctx context.Context) (err error) {
		ok, err = c.a.Delete(ctx, k, o)
		return err
	})
	if err != nil {
		return false, err
	}
	if ok {
		c.deleted(k)
	}
	return ok, nil
}

func (c *core) delMany(ctx context.Context, in []string, opts []CallOption) (bool, error) {
	const op = "delete_many"
	if len(in) == 0 {
		return false, nil
	}
	ks, o, err := c.prepareMany(op, in, opts)
	if err != nil {
		return false, err
	}
	removed, err := c.remove(ctx, op, ks, o)
	return len(removed) > 0, err
}

// remove deletes ks and reports a delete event for each key the backend
// actually removed, including those removed by a failed attempt.
// Adapters that cannot attribute a multi-key delete are called per key.
func (c *core) remove(ctx context.Context, op string, ks []string, o adapter.Options) ([]string, error) {
	var removed []string
	err := c.run(ctx, op, "", func(ctx context.Context) error {
		if r, ok := c.a.(adapter.Remover); ok {
			got, err := r.Remove(ctx, ks, o)
			removed = append(removed, got...)
			return err
		}
		for _, k := range ks {
			ok, err := c.a.Delete(ctx, k, o)
			if err != nil {
				return err
			}
			if ok {
				removed = append(removed, k)
			}
		}
		return nil
	})
	for _, k := range removed {
		c.deleted(k)
	}
	return removed, err
}

// clear wipes the backend, or one hash field across all structures.
func (c *core) clear(ctx context.Context, hash string) (bool, error) {
	const op = "clear"
	o := adapter.Options{Hash: hash}
	var ok bool
	err := c.run(ctx, op, hash, func(ctx context.Context) (err error) {
		ok, err = c.a.Clear(ctx, o)
		return err
	})
	if err != nil {
		return false, err
	}
	scope := "all"
	if hash != "" {
		scope = "hash:" + hash
	}
	c.cleared(scope)
	return ok, nil
}

// ---------- listing ----------

func (c *core) keys(ctx context.Context, pattern string, opts []CallOption) ([]string, error) {
	const op = "keys"
	if pattern == "" {
		pattern = "*"
	}
	p, o, err := c.prepare(op, pattern, opts)
	if err != nil {
		return nil, err
	}
	var out []string
	err = c.run(ctx, op, p, func(ctx context.Context) (err error) {
		out, err = c.a.Keys(ctx, p, o)
		return err
	})
	return out, err
}

func (c *core) fields(ctx context.Context, key string) ([]string, error) {
	const op = "list"
	k, o, err := c.prepare(op, key, nil)
	if err != nil {
		return nil, err
	}
	var out []string
	err = c.run(ctx, op, k, func(ctx context.Context) (err error) {
		out, err = c.a.Fields(ctx, k, o)
		return err
	})
	return out, err
}

func (c *core) size(ctx context.Context) (int64, error) {
	var n int64
	err := c.run(ctx, "size", "", func(ctx context.Context) (err error) {
		n, err = c.a.Size(ctx)
		return err
	})
	return n, err
}

func (c *core) ping(ctx context.Context) error {
	return c.run(ctx, "ping", "", func(ctx context.Context) error {
		if !c.a.IsAlive(ctx) {
			return errNotAlive
		}
		return nil
	})
}

// ---------- ttl ----------

// extendTTL uses the backend's native TTL update and falls back to reading
// the entry and writing it back with the new lifetime.
func (c *core) extendTTL(ctx context.Context, key string, ttl time.Duration, opts []CallOption) (bool, error) {
	const op = "extend_ttl"
	k, o, err := c.prepare(op, key, opts)
	if err != nil {
		return false, err
	}
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	var ok bool
	err = c.run(ctx, op, k, func(ctx context.Context) (err error) {
		ok, err = c.a.ExtendTTL(ctx, k, ttl, o)
		if !errors.Is(err, adapter.ErrNotSupported) {
			return err
		}
		e, err := c.a.Get(ctx, k, o)
		if err != nil || e == nil {
			ok = false
			return err
		}
		o.TTL = ttl
		o.Metadata = e.Metadata
		ok, err = c.a.Set(ctx, k, e.Data, o)
		return err
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}
