// Package asynchook moves hook delivery off the calling goroutine.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{HitEvery: 100})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	m, _ := cachemgr.NewEnhanced(adapter, cachemgr.Options{Hooks: hooks})
//
// Events are dropped, and counted, when the queue is full.
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/cachemgr"
)

type Hooks struct {
	inner cachemgr.Hooks
	q     chan func()
	wg    sync.WaitGroup

	mu      sync.RWMutex // guards closed against concurrent sends
	closed  bool
	dropped atomic.Uint64
}

var _ cachemgr.Hooks = (*Hooks)(nil)

func New(inner cachemgr.Hooks, workers, qlen int) *Hooks {
	if inner == nil {
		inner = cachemgr.NopHooks{}
	}
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				run(f)
			}
		}()
	}
	return h
}

// run keeps a panicking listener from killing its worker.
func run(f func()) {
	defer func() { _ = recover() }()
	f()
}

// Close stops accepting events and waits for queued ones to be delivered.
func (h *Hooks) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.q)
	h.mu.Unlock()
	h.wg.Wait()
}

// Dropped reports events discarded because the queue was full or closed.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) Hit(k string)       { h.try(func() { h.inner.Hit(k) }) }
func (h *Hooks) Miss(k string)      { h.try(func() { h.inner.Miss(k) }) }
func (h *Hooks) Set(k string)       { h.try(func() { h.inner.Set(k) }) }
func (h *Hooks) Delete(k string)    { h.try(func() { h.inner.Delete(k) }) }
func (h *Hooks) Clear(scope string) { h.try(func() { h.inner.Clear(scope) }) }
func (h *Hooks) Error(op, k string, err error) {
	h.try(func() { h.inner.Error(op, k, err) })
}
