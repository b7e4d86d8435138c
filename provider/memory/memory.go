// Package memory is a map-backed provider.Provider with per-key TTL.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/unkn0wn-root/cachemgr/provider"
)

var _ provider.Provider = (*Provider)(nil)

type Config struct {
	// CleanupInterval > 0 starts a janitor that drops expired keys.
	// Expired keys are invisible to readers either way.
	CleanupInterval time.Duration
	// Now is a test clock; nil => time.Now.
	Now func() time.Time
}

type item struct {
	b   []byte
	exp time.Time // zero => none
}

type Provider struct {
	mu    sync.RWMutex
	items map[string]item
	now   func() time.Time

	stop chan struct{}
	once sync.Once
}

func New(cfg Config) *Provider {
	p := &Provider{
		items: make(map[string]item),
		now:   cfg.Now,
		stop:  make(chan struct{}),
	}
	if p.now == nil {
		p.now = time.Now
	}
	if cfg.CleanupInterval > 0 {
		go p.janitor(cfg.CleanupInterval)
	}
	return p
}

func (p *Provider) live(it item, now time.Time) bool {
	return it.exp.IsZero() || now.Before(it.exp)
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.RLock()
	it, ok := p.items[key]
	p.mu.RUnlock()
	if !ok || !p.live(it, p.now()) {
		return nil, false, nil
	}
	return it.b, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	it := item{b: append([]byte(nil), value...)}
	if ttl > 0 {
		it.exp = p.now().Add(ttl)
	}
	p.mu.Lock()
	p.items[key] = it
	p.mu.Unlock()
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.items, key)
	p.mu.Unlock()
	return nil
}

func (p *Provider) Keys(_ context.Context) ([]string, error) {
	now := p.now()
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.items))
	for k, it := range p.items {
		if p.live(it, now) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (p *Provider) Close(_ context.Context) error {
	p.once.Do(func() { close(p.stop) })
	return nil
}

func (p *Provider) janitor(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-t.C:
			p.sweep()
		}
	}
}

func (p *Provider) sweep() {
	now := p.now()
	p.mu.Lock()
	for k, it := range p.items {
		if !p.live(it, now) {
			delete(p.items, k)
		}
	}
	p.mu.Unlock()
}
