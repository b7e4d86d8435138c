package bigcache

import (
	"context"
	"sort"
	"testing"
	"time"
)

func TestRoundTripAndIterate(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, Config{LifeWindow: time.Minute})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer p.Close(ctx)

	for _, k := range []string{"x", "y"} {
		if ok, err := p.Set(ctx, k, []byte(k+"v"), 0, 0); !ok || err != nil {
			t.Fatalf("set %s: ok=%v err=%v", k, ok, err)
		}
	}
	if b, ok, _ := p.Get(ctx, "x"); !ok || string(b) != "xv" {
		t.Fatalf("get x = %q ok=%v", b, ok)
	}
	if _, ok, err := p.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("missing: ok=%v err=%v", ok, err)
	}
	keys, _ := p.Keys(ctx)
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "x" || keys[1] != "y" {
		t.Fatalf("keys = %v", keys)
	}
	if err := p.Del(ctx, "missing"); err != nil {
		t.Fatalf("del missing: %v", err)
	}
}
