package local

import (
	"context"

	"github.com/unkn0wn-root/cachemgr/adapter"
)

func (a *Adapter) Pipeline() adapter.Pipeline {
	return adapter.NewPipeline(func(ctx context.Context, ops []adapter.Op) ([]adapter.Result, error) {
		return adapter.RunOps(ctx, a, ops), nil
	})
}

// Transaction applies ops under the adapter write lock, so no other caller
// observes a partial batch. A failed op is reported in its Result; earlier
// ops are not rolled back.
func (a *Adapter) Transaction(ctx context.Context, ops []adapter.Op) ([]adapter.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]adapter.Result, len(ops))
	for i, op := range ops {
		r := adapter.Result{Kind: op.Kind, Key: op.Key}
		switch op.Kind {
		case adapter.OpGet:
			r.Entry, r.Err = a.get(ctx, op.Key, op.Options)
			r.OK = r.Entry != nil
		case adapter.OpSet:
			r.OK, r.Err = a.set(ctx, op.Key, op.Value, op.Options)
		case adapter.OpDel, adapter.OpExpire:
			ns, err := a.nsFor(op.Options)
			if err != nil {
				r.Err = err
				break
			}
			if op.Kind == adapter.OpDel {
				r.OK, r.Err = a.del(ctx, ns, op.Key, op.Options.Hash)
			} else {
				r.OK, r.Err = a.expire(ctx, ns, op.Key, op.Options.Hash, op.TTL)
			}
		default:
			r.Err = adapter.ErrNotSupported
		}
		out[i] = r
	}
	return out, nil
}
