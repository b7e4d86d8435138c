package noop

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/unkn0wn-root/cachemgr/adapter"
)

func TestNoopStoresNothing(t *testing.T) {
	ctx := context.Background()
	a := New()

	if ok, err := a.Set(ctx, "k", json.RawMessage(`1`), adapter.Options{}); !ok || err != nil {
		t.Fatalf("set: ok=%v err=%v", ok, err)
	}
	if e, err := a.Get(ctx, "k", adapter.Options{}); e != nil || err != nil {
		t.Fatalf("get: e=%v err=%v", e, err)
	}
	es, _ := a.MGet(ctx, []string{"a", "b"}, adapter.Options{})
	if len(es) != 2 || es[0] != nil || es[1] != nil {
		t.Fatalf("mget = %v", es)
	}
	if n, _ := a.Increment(ctx, "n", 3, adapter.Options{}); n != 3 {
		t.Fatalf("incr = %d", n)
	}
	if n, _ := a.Decrement(ctx, "n", 3, adapter.Options{}); n != -3 {
		t.Fatalf("decr = %d", n)
	}
	if d, _ := a.TTL(ctx, "k", adapter.Options{}); d != adapter.TTLMissing {
		t.Fatalf("ttl = %v", d)
	}
	st, _ := a.Stats(ctx)
	if st.Misses != 3 {
		t.Fatalf("misses = %d", st.Misses)
	}
}

func TestNoopPipeline(t *testing.T) {
	res, err := New().Pipeline().
		Set("a", json.RawMessage(`1`), adapter.Options{}).
		Get("a", adapter.Options{}).
		Exec(context.Background())
	if err != nil || len(res) != 2 {
		t.Fatalf("exec: %v %v", res, err)
	}
	if !res[0].OK || res[1].Entry != nil {
		t.Fatalf("results = %+v", res)
	}
}

func TestNoopValidatesNamespace(t *testing.T) {
	a := New()
	if err := a.SetNamespace("a:b"); err == nil {
		t.Fatalf("expected invalid namespace error")
	}
	if _, err := a.FlushNamespace(context.Background(), ""); err == nil {
		t.Fatalf("expected empty namespace error")
	}
}
