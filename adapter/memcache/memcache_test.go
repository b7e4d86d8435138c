package memcache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/unkn0wn-root/cachemgr/adapter"
)

// fakeClient is an in-memory memcached. CAS succeeds while the value is
// unchanged since the caller's last Get of that key.
type fakeClient struct {
	mu      sync.Mutex
	items   map[string]memcache.Item
	seen    map[string][]byte
	flushed int
	down    bool
	// conflictOnce makes the next CompareAndSwap fail with ErrCASConflict.
	conflictOnce bool
}

func newFake() *fakeClient {
	return &fakeClient{items: map[string]memcache.Item{}, seen: map[string][]byte{}}
}

func (f *fakeClient) Get(key string) (*memcache.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[key]
	if !ok {
		return nil, memcache.ErrCacheMiss
	}
	f.seen[key] = it.Value
	cp := it
	return &cp, nil
}

func (f *fakeClient) GetMulti(keys []string) (map[string]*memcache.Item, error) {
	out := map[string]*memcache.Item{}
	for _, k := range keys {
		if it, err := f.Get(k); err == nil {
			out[k] = it
		}
	}
	return out, nil
}

func (f *fakeClient) Set(it *memcache.Item) error {
	if len(it.Key) > MaxKeyLength || strings.ContainsAny(it.Key, " \n\t") {
		return memcache.ErrMalformedKey
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[it.Key] = *it
	return nil
}

func (f *fakeClient) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[key]; !ok {
		return memcache.ErrCacheMiss
	}
	delete(f.items, key)
	return nil
}

func (f *fakeClient) CompareAndSwap(it *memcache.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.items[it.Key]
	if !ok {
		return memcache.ErrNotStored
	}
	if f.conflictOnce || !bytes.Equal(cur.Value, f.seen[it.Key]) {
		f.conflictOnce = false
		return memcache.ErrCASConflict
	}
	f.items[it.Key] = *it
	return nil
}

func (f *fakeClient) FlushAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = map[string]memcache.Item{}
	f.flushed++
	return nil
}

func (f *fakeClient) Ping() error {
	if f.down {
		return errors.New("connection refused")
	}
	return nil
}

func newTestAdapter(t *testing.T) (*Adapter, *fakeClient) {
	t.Helper()
	f := newFake()
	a, err := New(Config{Client: f})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a, f
}

func TestSetGetDelete(t *testing.T) {
	ctx := context.Background()
	a, f := newTestAdapter(t)

	ok, err := a.Set(ctx, "user:1", json.RawMessage(`{"a":1}`), adapter.Options{TTL: 90 * time.Second})
	if err != nil || !ok {
		t.Fatalf("set: ok=%v err=%v", ok, err)
	}
	it := f.items["cache:d:default:user:1"]
	if it.Expiration != 90 {
		t.Fatalf("expiration = %d, want 90", it.Expiration)
	}
	e, err := a.Get(ctx, "user:1", adapter.Options{})
	if err != nil || e == nil || string(e.Data) != `{"a":1}` {
		t.Fatalf("get = %v err=%v", e, err)
	}
	if ok, _ := a.Delete(ctx, "user:1", adapter.Options{}); !ok {
		t.Fatalf("delete existing reported false")
	}
	if ok, err := a.Delete(ctx, "user:1", adapter.Options{}); ok || err != nil {
		t.Fatalf("delete missing: ok=%v err=%v", ok, err)
	}
}

func TestLongAndUnsafeKeysAreCompacted(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter(t)

	long := strings.Repeat("k", 400)
	spaced := "has space"
	for _, k := range []string{long, spaced} {
		if _, err := a.Set(ctx, k, json.RawMessage(`1`), adapter.Options{}); err != nil {
			t.Fatalf("set %q: %v", k[:8], err)
		}
		if e, _ := a.Get(ctx, k, adapter.Options{}); e == nil {
			t.Fatalf("get %q missed", k[:8])
		}
	}
	if a.Name(long) == a.Name(long+"x") {
		t.Fatalf("distinct long keys collided")
	}
}

func TestMGetOrderAndHashFields(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter(t)

	_, _ = a.MSet(ctx, map[string]json.RawMessage{"a": json.RawMessage(`1`), "c": json.RawMessage(`3`)}, adapter.Options{})
	_, _ = a.Set(ctx, "a", json.RawMessage(`"field"`), adapter.Options{Hash: "h"})

	es, err := a.MGet(ctx, []string{"a", "b", "c"}, adapter.Options{})
	if err != nil || len(es) != 3 || es[1] != nil || string(es[0].Data) != "1" || string(es[2].Data) != "3" {
		t.Fatalf("mget = %v err=%v", es, err)
	}
	e, _ := a.Get(ctx, "a", adapter.Options{Hash: "h"})
	if e == nil || string(e.Data) != `"field"` {
		t.Fatalf("hash field = %v", e)
	}
}

func TestExtendTTLUsesCAS(t *testing.T) {
	ctx := context.Background()
	a, f := newTestAdapter(t)

	_, _ = a.Set(ctx, "k", json.RawMessage(`1`), adapter.Options{TTL: time.Minute})
	f.conflictOnce = true

	ok, err := a.ExtendTTL(ctx, "k", time.Hour, adapter.Options{})
	if err != nil || !ok {
		t.Fatalf("extend: ok=%v err=%v", ok, err)
	}
	if got := f.items["cache:d:default:k"].Expiration; got != 3600 {
		t.Fatalf("expiration = %d", got)
	}
	e, _ := a.Get(ctx, "k", adapter.Options{})
	if d, ok := e.TTL(time.Now()); !ok || d < 59*time.Minute {
		t.Fatalf("envelope not rewritten: %v %v", d, ok)
	}
	if ok, _ := a.ExtendTTL(ctx, "missing", time.Hour, adapter.Options{}); ok {
		t.Fatalf("extend on missing key reported true")
	}
}

func TestUnsupportedOperations(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter(t)

	if _, err := a.Keys(ctx, "*", adapter.Options{}); !errors.Is(err, adapter.ErrNotSupported) {
		t.Fatalf("keys err = %v", err)
	}
	if _, err := a.Fields(ctx, "k", adapter.Options{}); !errors.Is(err, adapter.ErrNotSupported) {
		t.Fatalf("fields err = %v", err)
	}
	if _, err := a.Size(ctx); !errors.Is(err, adapter.ErrNotSupported) {
		t.Fatalf("size err = %v", err)
	}
	if _, err := a.Set(ctx, "k", json.RawMessage(`1`), adapter.Options{Tags: []string{"t"}}); !errors.Is(err, adapter.ErrNotSupported) {
		t.Fatalf("tagged set err = %v", err)
	}
}

func TestRemoveReportsRemovedKeys(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter(t)

	_, _ = a.Set(ctx, "a", json.RawMessage(`1`), adapter.Options{})
	_, _ = a.Set(ctx, "c", json.RawMessage(`1`), adapter.Options{})
	removed, err := a.Remove(ctx, []string{"a", "b", "c"}, adapter.Options{})
	if err != nil || len(removed) != 2 || removed[0] != "a" || removed[1] != "c" {
		t.Fatalf("remove = %v err=%v", removed, err)
	}
	if ok, _ := a.DeleteMany(ctx, []string{"a", "c"}, adapter.Options{}); ok {
		t.Fatalf("second delete reported removal")
	}
}

func TestNoEvictionAfterClose(t *testing.T) {
	ctx := context.Background()
	a, f := newTestAdapter(t)

	const phys = "cache:d:default:bad"
	f.items[phys] = memcache.Item{Key: phys, Value: []byte("not an envelope")}
	if err := a.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if e, _ := a.Get(ctx, "bad", adapter.Options{}); e != nil {
		t.Fatalf("corrupt value decoded: %v", e)
	}
	if err := a.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[phys]; !ok {
		t.Fatalf("eviction started after close")
	}
}

func TestClearAndPing(t *testing.T) {
	ctx := context.Background()
	a, f := newTestAdapter(t)

	_, _ = a.Set(ctx, "k", json.RawMessage(`1`), adapter.Options{})
	if ok, err := a.Clear(ctx, adapter.Options{}); !ok || err != nil {
		t.Fatalf("clear: ok=%v err=%v", ok, err)
	}
	if f.flushed != 1 || len(f.items) != 0 {
		t.Fatalf("flush_all not issued")
	}
	if !a.IsAlive(ctx) {
		t.Fatalf("expected alive")
	}
	f.down = true
	if a.IsAlive(ctx) {
		t.Fatalf("expected dead")
	}
}

func TestExpiration(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cases := []struct {
		ttl  time.Duration
		want int32
	}{
		{0, 0},
		{-time.Second, 0},
		{500 * time.Millisecond, 1},
		{time.Minute, 60},
		{31 * 24 * time.Hour, int32(now.Add(31 * 24 * time.Hour).Unix())},
	}
	for _, c := range cases {
		if got := expiration(c.ttl, now); got != c.want {
			t.Fatalf("expiration(%v) = %d, want %d", c.ttl, got, c.want)
		}
	}
}
