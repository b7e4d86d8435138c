package cachemgr

import (
	"context"
	"time"

	"github.com/unkn0wn-root/cachemgr/adapter"
)

// Batch queues operations for EnhancedManager.Pipeline and
// EnhancedManager.Transaction. Keys and values are validated while
// queuing; an invalid op yields a Result carrying its error and is never
// sent to the backend.
type Batch struct {
	c    *core
	ops  []adapter.Op
	errs []error
}

func (b *Batch) add(op adapter.Op, err error) *Batch {
	b.ops = append(b.ops, op)
	b.errs = append(b.errs, err)
	return b
}

func (b *Batch) op(kind adapter.OpKind, key string, opts []CallOption) (adapter.Op, error) {
	name := kind.String()
	op := adapter.Op{Kind: kind, Key: key}
	k, err := b.c.key(name, key)
	if err != nil {
		return op, err
	}
	o, err := b.c.options(name, opts)
	if err != nil {
		return op, err
	}
	op.Key, op.Options = k, o
	return op, nil
}

func (b *Batch) Set(key string, value any, opts ...CallOption) *Batch {
	op, err := b.op(adapter.OpSet, key, opts)
	if err == nil {
		op.Value, err = b.c.encode("set", op.Key, value)
	}
	return b.add(op, err)
}

func (b *Batch) Get(key string, opts ...CallOption) *Batch {
	return b.add(b.op(adapter.OpGet, key, opts))
}

func (b *Batch) Del(key string, opts ...CallOption) *Batch {
	return b.add(b.op(adapter.OpDel, key, opts))
}

func (b *Batch) Expire(key string, ttl time.Duration, opts ...CallOption) *Batch {
	op, err := b.op(adapter.OpExpire, key, opts)
	op.TTL = ttl
	if ttl == 0 {
		op.TTL = b.c.defaultTTL
	}
	return b.add(op, err)
}

// Len reports the number of queued ops.
func (b *Batch) Len() int { return len(b.ops) }

// valid returns the ops that passed validation.
func (b *Batch) valid() []adapter.Op {
	out := make([]adapter.Op, 0, len(b.ops))
	for i, op := range b.ops {
		if b.errs[i] == nil {
			out = append(out, op)
		}
	}
	return out
}

// merge places backend results next to the rejected ops, in queue order,
// and reports each outcome to counters and hooks.
func (b *Batch) merge(res []adapter.Result) []adapter.Result {
	out := make([]adapter.Result, len(b.ops))
	j := 0
	for i, op := range b.ops {
		if b.errs[i] != nil {
			out[i] = adapter.Result{Kind: op.Kind, Key: op.Key, Err: b.errs[i]}
			b.c.reject(op.Kind.String(), op.Key, b.errs[i])
			continue
		}
		if j < len(res) {
			out[i] = res[j]
		} else {
			out[i] = adapter.Result{Kind: op.Kind, Key: op.Key, Err: adapter.ErrNotSupported}
		}
		j++
		b.report(out[i])
	}
	return out
}

func (b *Batch) report(r adapter.Result) {
	if r.Err != nil {
		b.c.stats.Error(1)
		b.c.hooks.emit("error", func(h Hooks) { h.Error(r.Kind.String(), r.Key, r.Err) })
		return
	}
	switch r.Kind {
	case adapter.OpGet:
		b.c.track(r.Key, r.Entry != nil)
	case adapter.OpSet:
		if r.OK {
			b.c.wrote(r.Key)
		}
	case adapter.OpDel:
		if r.OK {
			b.c.deleted(r.Key)
		}
	}
}

// Pipeline is a Batch executed in as few round trips as the backend allows.
// Ops are not atomic; each result carries its own error.
type Pipeline struct {
	Batch
	a adapter.EnhancedAdapter
}

// Set queues like Batch.Set but returns the pipeline, so a chain can end
// in Exec. Get, Del and Expire do the same.
func (p *Pipeline) Set(key string, value any, opts ...CallOption) *Pipeline {
	p.Batch.Set(key, value, opts...)
	return p
}

func (p *Pipeline) Get(key string, opts ...CallOption) *Pipeline {
	p.Batch.Get(key, opts...)
	return p
}

func (p *Pipeline) Del(key string, opts ...CallOption) *Pipeline {
	p.Batch.Del(key, opts...)
	return p
}

func (p *Pipeline) Expire(key string, ttl time.Duration, opts ...CallOption) *Pipeline {
	p.Batch.Expire(key, ttl, opts...)
	return p
}

// Exec sends the queued ops and empties the pipeline.
func (p *Pipeline) Exec(ctx context.Context) ([]adapter.Result, error) {
	ops := p.valid()
	var inner adapter.Pipeline
	if pl, ok := p.a.(adapter.Pipeliner); ok {
		inner = pl.Pipeline()
	} else {
		inner = adapter.NewPipeline(func(ctx context.Context, ops []adapter.Op) ([]adapter.Result, error) {
			return adapter.RunOps(ctx, p.a, ops), nil
		})
	}
	for _, op := range ops {
		switch op.Kind {
		case adapter.OpGet:
			inner.Get(op.Key, op.Options)
		case adapter.OpSet:
			inner.Set(op.Key, op.Value, op.Options)
		case adapter.OpDel:
			inner.Del(op.Key, op.Options)
		case adapter.OpExpire:
			inner.Expire(op.Key, op.TTL, op.Options)
		}
	}

	var res []adapter.Result
	err := p.c.once(ctx, "pipeline", "", func(ctx context.Context) (err error) {
		res, err = inner.Exec(ctx)
		return err
	})
	if err != nil {
		p.reset()
		return nil, err
	}
	out := p.merge(res)
	p.reset()
	return out, nil
}

func (b *Batch) reset() {
	b.ops, b.errs = nil, nil
}
