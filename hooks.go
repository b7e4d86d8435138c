package cachemgr

import (
	"sync"
	"sync/atomic"
)

// Hooks observe cache events. Keys are normalized logical keys.
// The manager calls hooks inline on the calling goroutine; wrap slow
// listeners with hooks/async. A panicking hook is recovered and logged.
type Hooks interface {
	Hit(key string)
	Miss(key string)
	Set(key string)
	Delete(key string)
	// Clear reports a scoped or full wipe: "all", "namespace:<ns>" or "tags:<t1,t2>".
	Clear(scope string)
	// Error fires once per failed operation, after retries.
	Error(op, key string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) Hit(string)                 {}
func (NopHooks) Miss(string)                {}
func (NopHooks) Set(string)                 {}
func (NopHooks) Delete(string)              {}
func (NopHooks) Clear(string)               {}
func (NopHooks) Error(string, string, error) {}

// hookSet fans events out to every registered listener.
type hookSet struct {
	mu  sync.Mutex // serializes writers
	hs  atomic.Pointer[[]Hooks]
	log Logger
}

func (s *hookSet) add(h Hooks) {
	if h == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var next []Hooks
	if cur := s.hs.Load(); cur != nil {
		next = append(next, *cur...)
	}
	next = append(next, h)
	s.hs.Store(&next)
}

func (s *hookSet) emit(event string, f func(Hooks)) {
	cur := s.hs.Load()
	if cur == nil {
		return
	}
	for _, h := range *cur {
		s.call(event, h, f)
	}
}

func (s *hookSet) call(event string, h Hooks, f func(Hooks)) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("cache hook panicked", Fields{"event": event, "panic": r})
		}
	}()
	f(h)
}
