package adapter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/unkn0wn-root/cachemgr/entry"
)

type OpKind uint8

const (
	OpGet OpKind = iota + 1
	OpSet
	OpDel
	OpExpire
)

func (k OpKind) String() string {
	switch k {
	case OpGet:
		return "get"
	case OpSet:
		return "set"
	case OpDel:
		return "del"
	case OpExpire:
		return "expire"
	default:
		return "unknown"
	}
}

type Op struct {
	Kind    OpKind
	Key     string
	Value   json.RawMessage // OpSet
	TTL     time.Duration   // OpExpire
	Options Options
}

// Result of one queued Op. Entry is set for hits of OpGet; OK reports
// success of writes, deletions and expirations. Err isolates a failure to
// its own operation.
type Result struct {
	Kind  OpKind
	Key   string
	Entry *entry.Entry
	OK    bool
	Err   error
}

// Pipeline accumulates operations and runs them in one batch.
// Exec returns one Result per queued op in submission order.
type Pipeline interface {
	Set(key string, value json.RawMessage, opts Options) Pipeline
	Get(key string, opts Options) Pipeline
	Del(key string, opts Options) Pipeline
	Expire(key string, ttl time.Duration, opts Options) Pipeline
	Len() int
	Exec(ctx context.Context) ([]Result, error)
}

// ExecFunc runs a batch for a Pipeline built with NewPipeline.
type ExecFunc func(ctx context.Context, ops []Op) ([]Result, error)

type batch struct {
	ops  []Op
	exec ExecFunc
}

// NewPipeline returns a Pipeline that hands its queued ops to exec.
func NewPipeline(exec ExecFunc) Pipeline {
	return &batch{exec: exec}
}

func (b *batch) Set(key string, value json.RawMessage, opts Options) Pipeline {
	b.ops = append(b.ops, Op{Kind: OpSet, Key: key, Value: value, Options: opts})
	return b
}

func (b *batch) Get(key string, opts Options) Pipeline {
	b.ops = append(b.ops, Op{Kind: OpGet, Key: key, Options: opts})
	return b
}

func (b *batch) Del(key string, opts Options) Pipeline {
	b.ops = append(b.ops, Op{Kind: OpDel, Key: key, Options: opts})
	return b
}

func (b *batch) Expire(key string, ttl time.Duration, opts Options) Pipeline {
	b.ops = append(b.ops, Op{Kind: OpExpire, Key: key, TTL: ttl, Options: opts})
	return b
}

func (b *batch) Len() int { return len(b.ops) }

// Exec drains the queue; the pipeline can be reused afterwards.
func (b *batch) Exec(ctx context.Context) ([]Result, error) {
	ops := b.ops
	b.ops = nil
	if len(ops) == 0 {
		return nil, nil
	}
	return b.exec(ctx, ops)
}

// RunOps executes ops one at a time against a, isolating failures per op.
// Adapters without a native batch primitive build their pipelines on it.
func RunOps(ctx context.Context, a EnhancedAdapter, ops []Op) []Result {
	out := make([]Result, len(ops))
	for i, op := range ops {
		r := Result{Kind: op.Kind, Key: op.Key}
		switch op.Kind {
		case OpGet:
			r.Entry, r.Err = a.Get(ctx, op.Key, op.Options)
			r.OK = r.Entry != nil
		case OpSet:
			r.OK, r.Err = a.Set(ctx, op.Key, op.Value, op.Options)
		case OpDel:
			r.OK, r.Err = a.Delete(ctx, op.Key, op.Options)
		case OpExpire:
			r.OK, r.Err = a.Expire(ctx, op.Key, op.TTL, op.Options)
		default:
			r.Err = ErrNotSupported
		}
		out[i] = r
	}
	return out
}
