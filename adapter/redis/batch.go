package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/cachemgr/adapter"
	"github.com/unkn0wn-root/cachemgr/entry"
)

// Pipeline batches Get/Set/Del into one round trip. Expire needs a read
// before its write, so each Expire runs on its own between batches.
func (a *Adapter) Pipeline() adapter.Pipeline {
	return adapter.NewPipeline(a.execPipeline)
}

func (a *Adapter) execPipeline(ctx context.Context, ops []adapter.Op) ([]adapter.Result, error) {
	out := make([]adapter.Result, len(ops))
	for i := 0; i < len(ops); {
		if ops[i].Kind == adapter.OpExpire {
			op := ops[i]
			out[i] = adapter.Result{Kind: op.Kind, Key: op.Key}
			out[i].OK, out[i].Err = a.Expire(ctx, op.Key, op.TTL, op.Options)
			i++
			continue
		}
		j := i
		for j < len(ops) && ops[j].Kind != adapter.OpExpire {
			j++
		}
		seg, res := ops[i:j], out[i:j]
		fins := make([]func(), len(seg))
		// per-command errors are read back from each cmd
		_, _ = a.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
			for k, op := range seg {
				fins[k] = a.queue(ctx, p, op, &res[k], nil)
			}
			return nil
		})
		for _, f := range fins {
			if f != nil {
				f()
			}
		}
		i = j
	}
	return out, nil
}

// Transaction applies ops in one MULTI/EXEC. Keys touched by Expire ops are
// WATCHed and read first; a conflicting writer causes a retry.
func (a *Adapter) Transaction(ctx context.Context, ops []adapter.Op) ([]adapter.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var watched []string
	for _, op := range ops {
		if op.Kind != adapter.OpExpire {
			continue
		}
		if ns, err := a.nsFor(op.Options); err == nil {
			watched = append(watched, a.physical(ns, op.Key, op.Options.Hash))
		}
	}

	var out []adapter.Result
	fn := func(tx *goredis.Tx) error {
		out = make([]adapter.Result, len(ops))
		plans, err := a.planTx(ctx, tx, ops)
		if err != nil {
			return err
		}
		fins := make([]func(), len(ops))
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			for i, op := range ops {
				fins[i] = a.queue(ctx, p, op, &out[i], plans[i])
			}
			return nil
		})
		if errors.Is(err, goredis.TxFailedErr) {
			return err
		}
		for _, f := range fins {
			if f != nil {
				f()
			}
		}
		return nil
	}
	if err := a.watch(ctx, fn, watched...); err != nil {
		return nil, err
	}
	return out, nil
}

// planTx resolves every Expire against the state left by the ops queued
// before it in the same transaction.
func (a *Adapter) planTx(ctx context.Context, tx *goredis.Tx, ops []adapter.Op) ([]*expirePlan, error) {
	plans := make([]*expirePlan, len(ops))
	type state struct{ e *entry.Entry } // e == nil: deleted
	known := make(map[string]state)
	now := time.Now()

	for i, op := range ops {
		ns, err := a.nsFor(op.Options)
		if err != nil {
			continue
		}
		phys := a.physical(ns, op.Key, op.Options.Hash)
		id := phys + "\x00" + op.Options.Hash
		switch op.Kind {
		case adapter.OpSet:
			if op.Options.Hash != "" && len(op.Options.Tags) > 0 {
				continue
			}
			e := entry.NewAt(now, op.Value, a.ttlFor(op.Options.TTL), op.Options.Metadata)
			known[id] = state{e: &e}
		case adapter.OpDel:
			known[id] = state{}
		case adapter.OpExpire:
			var plan expirePlan
			st, seen := known[id]
			switch {
			case seen && st.e == nil:
				// deleted earlier in this transaction
			case seen:
				plan, err = a.planExpire(ctx, tx, phys, op.Options.Hash, a.ttlFor(op.TTL), st.e)
			default:
				plan, err = a.planExpire(ctx, tx, phys, op.Options.Hash, a.ttlFor(op.TTL), nil)
			}
			if err != nil {
				return nil, err
			}
			plans[i] = &plan
			if plan.found && seen {
				next := st.e.WithTTL(now, plan.ttl)
				known[id] = state{e: &next}
			}
		}
	}
	return plans, nil
}

// queue adds op to p and returns a func that fills r once the batch ran.
// A nil func means r is already final.
func (a *Adapter) queue(ctx context.Context, p goredis.Pipeliner, op adapter.Op, r *adapter.Result, plan *expirePlan) func() {
	*r = adapter.Result{Kind: op.Kind, Key: op.Key}
	ns, err := a.nsFor(op.Options)
	if err != nil {
		r.Err = err
		return nil
	}
	field := op.Options.Hash
	phys := a.physical(ns, op.Key, field)

	switch op.Kind {
	case adapter.OpGet:
		var cmd *goredis.StringCmd
		if field != "" {
			cmd = p.HGet(ctx, phys, field)
		} else {
			cmd = p.Get(ctx, phys)
		}
		return func() {
			b, err := cmd.Bytes()
			r.Entry, r.Err = a.finishGet(ctx, b, err, phys, field)
			r.OK = r.Entry != nil
		}

	case adapter.OpSet:
		if field != "" && len(op.Options.Tags) > 0 {
			r.Err = adapter.ErrTaggedHash
			return nil
		}
		ttl := a.ttlFor(op.Options.TTL)
		b, err := a.codec.Encode(entry.NewAt(time.Now(), op.Value, ttl, op.Options.Metadata), op.Options.Compress)
		if err != nil {
			r.Err = err
			return nil
		}
		cmd := a.queueWrite(ctx, p, phys, field, b, ttl, op.Options.Tags)
		return func() {
			r.Err = cmd.Err()
			r.OK = r.Err == nil
			if r.OK {
				a.stats.Set(1)
			}
		}

	case adapter.OpDel:
		var cmd *goredis.IntCmd
		if field != "" {
			cmd = p.HDel(ctx, phys, field)
		} else {
			cmd = p.Del(ctx, phys)
		}
		return func() {
			n, err := cmd.Result()
			r.OK, r.Err = n > 0, err
			a.stats.Delete(n)
		}

	case adapter.OpExpire:
		if plan == nil {
			r.Err = adapter.ErrNotSupported
			return nil
		}
		if !plan.found {
			return nil
		}
		cmd := a.queueExpire(ctx, p, phys, field, *plan)
		return func() {
			r.Err = cmd.Err()
			r.OK = r.Err == nil
		}
	}
	r.Err = adapter.ErrNotSupported
	return nil
}
