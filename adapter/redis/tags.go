package redis

import (
	"context"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/cachemgr/internal/keys"
)

// tagScript adds a member to a tag set without ever shortening the set's
// lifetime: a permanent member (ARGV[2] <= 0) persists the set, otherwise
// the TTL only grows. A set without a TTL stays permanent.
var tagScript = goredis.NewScript(`
local cur = redis.call('PTTL', KEYS[1])
redis.call('SADD', KEYS[1], ARGV[1])
local ttl = tonumber(ARGV[2])
if ttl <= 0 then
	redis.call('PERSIST', KEYS[1])
elseif cur == -2 or (cur >= 0 and cur < ttl) then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
return 1
`)

func (a *Adapter) tagKeys(tags []string) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = a.keys.Tag(t)
	}
	return out
}

// FlushByTags deletes the union of the tagged keys and the tag sets.
// It returns the number of data keys removed.
func (a *Adapter) FlushByTags(ctx context.Context, tags []string) (int64, error) {
	if len(tags) == 0 {
		return 0, nil
	}
	tks := a.tagKeys(tags)
	members, err := a.rdb.SUnion(ctx, tks...).Result()
	if err != nil {
		return 0, err
	}
	var del *goredis.IntCmd
	_, err = a.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		if len(members) > 0 {
			del = p.Del(ctx, members...)
		}
		p.Del(ctx, tks...)
		return nil
	})
	if err != nil {
		a.stats.Error(1)
		return 0, err
	}
	if del == nil {
		return 0, nil
	}
	a.stats.Delete(del.Val())
	return del.Val(), nil
}

// KeysByTags returns "<namespace>:<key>" for live members of any tag.
// Members whose key is gone are removed from the tag sets best-effort.
func (a *Adapter) KeysByTags(ctx context.Context, tags []string) ([]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	tks := a.tagKeys(tags)
	members, err := a.rdb.SUnion(ctx, tks...).Result()
	if err != nil || len(members) == 0 {
		return nil, err
	}
	sort.Strings(members)
	cmds := make([]*goredis.IntCmd, len(members))
	if _, err := a.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for i, m := range members {
			cmds[i] = p.Exists(ctx, m)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	var (
		out  []string
		dead []any
	)
	for i, m := range members {
		if cmds[i].Val() == 0 {
			dead = append(dead, m)
			continue
		}
		ns, k, ok := a.keys.SplitData(m)
		if !ok {
			ns, k, ok = a.keys.SplitHash(m)
		}
		if ok {
			out = append(out, keys.Qualified(ns, k))
		}
	}
	sort.Strings(out)
	if len(dead) > 0 {
		_, _ = a.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
			for _, tk := range tks {
				p.SRem(ctx, tk, dead...)
			}
			return nil
		})
	}
	return out, nil
}
