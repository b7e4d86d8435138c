package memory

import (
	"context"
	"sort"
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) add(d time.Duration) { c.t = c.t.Add(d) }

func TestSetGetDel(t *testing.T) {
	ctx := context.Background()
	p := New(Config{})
	defer p.Close(ctx)

	in := []byte("hello")
	if ok, err := p.Set(ctx, "k", in, 1, 0); !ok || err != nil {
		t.Fatalf("set: ok=%v err=%v", ok, err)
	}
	in[0] = 'j' // provider must own its copy
	b, ok, err := p.Get(ctx, "k")
	if err != nil || !ok || string(b) != "hello" {
		t.Fatalf("get = %q ok=%v err=%v", b, ok, err)
	}
	if err := p.Del(ctx, "k"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if err := p.Del(ctx, "k"); err != nil {
		t.Fatalf("second del: %v", err)
	}
	if _, ok, _ := p.Get(ctx, "k"); ok {
		t.Fatalf("expected miss after delete")
	}
}

func TestTTLAndKeys(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Unix(1000, 0)}
	p := New(Config{Now: c.now})
	defer p.Close(ctx)

	_, _ = p.Set(ctx, "short", []byte("1"), 1, time.Second)
	_, _ = p.Set(ctx, "long", []byte("2"), 1, time.Hour)
	_, _ = p.Set(ctx, "forever", []byte("3"), 1, 0)

	c.add(2 * time.Second)
	if _, ok, _ := p.Get(ctx, "short"); ok {
		t.Fatalf("short should have expired")
	}
	keys, _ := p.Keys(ctx)
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "forever" || keys[1] != "long" {
		t.Fatalf("keys = %v", keys)
	}

	p.sweep()
	p.mu.RLock()
	n := len(p.items)
	p.mu.RUnlock()
	if n != 2 {
		t.Fatalf("sweep left %d items, want 2", n)
	}
}
