package adapter

import "sync/atomic"

// Counters is the monotonically increasing bookkeeping shared by adapters.
type Counters struct {
	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
	errors  atomic.Int64
}

func (c *Counters) Hit(n int64)    { c.hits.Add(n) }
func (c *Counters) Miss(n int64)   { c.misses.Add(n) }
func (c *Counters) Set(n int64)    { c.sets.Add(n) }
func (c *Counters) Delete(n int64) { c.deletes.Add(n) }
func (c *Counters) Error(n int64)  { c.errors.Add(n) }

// Track counts a lookup result.
func (c *Counters) Track(hit bool) {
	if hit {
		c.Hit(1)
	} else {
		c.Miss(1)
	}
}

// Snapshot copies the counters; keys is the caller's live key count.
func (c *Counters) Snapshot(keys int64) Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Sets:    c.sets.Load(),
		Deletes: c.deletes.Load(),
		Errors:  c.errors.Load(),
		Keys:    keys,
	}
}
