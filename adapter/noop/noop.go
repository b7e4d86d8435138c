// Package noop is an enhanced adapter that stores nothing. Reads miss,
// writes report success and counters return the delta.
package noop

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/cachemgr/adapter"
	"github.com/unkn0wn-root/cachemgr/entry"
	"github.com/unkn0wn-root/cachemgr/internal/keys"
)

var (
	_ adapter.EnhancedAdapter = (*Adapter)(nil)
	_ adapter.Pipeliner       = (*Adapter)(nil)
	_ adapter.Transactor      = (*Adapter)(nil)
	_ adapter.Remover         = (*Adapter)(nil)
)

type Adapter struct {
	ns    atomic.Value // string
	stats adapter.Counters
}

func New() *Adapter {
	a := &Adapter{}
	a.ns.Store("default")
	return a
}

func (a *Adapter) Get(context.Context, string, adapter.Options) (*entry.Entry, error) {
	a.stats.Miss(1)
	return nil, nil
}

func (a *Adapter) Set(context.Context, string, json.RawMessage, adapter.Options) (bool, error) {
	return true, nil
}

func (a *Adapter) MGet(_ context.Context, ks []string, _ adapter.Options) ([]*entry.Entry, error) {
	a.stats.Miss(int64(len(ks)))
	return make([]*entry.Entry, len(ks)), nil
}

func (a *Adapter) MSet(context.Context, map[string]json.RawMessage, adapter.Options) (bool, error) {
	return true, nil
}

func (a *Adapter) Delete(context.Context, string, adapter.Options) (bool, error) { return false, nil }

func (a *Adapter) DeleteMany(context.Context, []string, adapter.Options) (bool, error) {
	return false, nil
}

func (a *Adapter) MDel(context.Context, []string, adapter.Options) (int64, error) { return 0, nil }

func (a *Adapter) Remove(context.Context, []string, adapter.Options) ([]string, error) {
	return nil, nil
}

func (a *Adapter) Keys(context.Context, string, adapter.Options) ([]string, error) { return nil, nil }

func (a *Adapter) Fields(context.Context, string, adapter.Options) ([]string, error) {
	return nil, nil
}

func (a *Adapter) Clear(context.Context, adapter.Options) (bool, error) { return true, nil }

func (a *Adapter) IsAlive(context.Context) bool { return true }

func (a *Adapter) Size(context.Context) (int64, error) { return 0, nil }

func (a *Adapter) Name(string) string { return "noop" }

func (a *Adapter) ExtendTTL(context.Context, string, time.Duration, adapter.Options) (bool, error) {
	return false, nil
}

func (a *Adapter) Exists(context.Context, string, adapter.Options) (bool, error) { return false, nil }

func (a *Adapter) Expire(context.Context, string, time.Duration, adapter.Options) (bool, error) {
	return false, nil
}

func (a *Adapter) TTL(context.Context, string, adapter.Options) (time.Duration, error) {
	return adapter.TTLMissing, nil
}

func (a *Adapter) Increment(_ context.Context, _ string, delta int64, _ adapter.Options) (int64, error) {
	return delta, nil
}

func (a *Adapter) Decrement(_ context.Context, _ string, delta int64, _ adapter.Options) (int64, error) {
	return -delta, nil
}

func (a *Adapter) FlushNamespace(_ context.Context, ns string) (int64, error) {
	return 0, keys.ValidateNamespace(ns)
}

func (a *Adapter) FlushByTags(context.Context, []string) (int64, error) { return 0, nil }

func (a *Adapter) KeysByNamespace(_ context.Context, ns, _ string) ([]string, error) {
	return nil, keys.ValidateNamespace(ns)
}

func (a *Adapter) KeysByTags(context.Context, []string) ([]string, error) { return nil, nil }

func (a *Adapter) Stats(context.Context) (adapter.Stats, error) { return a.stats.Snapshot(0), nil }

func (a *Adapter) SetNamespace(ns string) error {
	if err := keys.ValidateNamespace(ns); err != nil {
		return err
	}
	a.ns.Store(ns)
	return nil
}

func (a *Adapter) Namespace() string { return a.ns.Load().(string) }

func (a *Adapter) Pipeline() adapter.Pipeline {
	return adapter.NewPipeline(a.Transaction)
}

func (a *Adapter) Transaction(ctx context.Context, ops []adapter.Op) ([]adapter.Result, error) {
	return adapter.RunOps(ctx, a, ops), nil
}

func (a *Adapter) Close(context.Context) error { return nil }
