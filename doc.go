// Package cachemgr is a caching façade over interchangeable key-value
// backends (in-process, Redis, memcached, no-op).
//
// The manager normalizes keys, validates values, retries failed backend
// calls with exponential backoff, records operation durations as an
// OpenTelemetry histogram and reports hits, misses, writes and failures to
// registered Hooks. Backends implement the adapter package contracts.
//
// Two APIs share one backend:
//
//	m, _ := cachemgr.NewEnhanced(redisAdapter, cachemgr.Options{})
//	_, _ = m.Set(ctx, "user:1", user, cachemgr.WithTTL(time.Minute), cachemgr.WithTags("users"))
//	u, ok, _ := cachemgr.GetAs[User](ctx, m, "user:1")
//	_, _ = m.FlushByTags(ctx, "users")
//
//	legacy := m.Legacy() // hash-keyed, non-failing API
//	_, _ = legacy.Save(ctx, "user:1", profile, "profile")
//	raw := legacy.Load(ctx, "user:1", time.Hour, "profile")
//
// Physical key layout (see internal/keys):
//
//	<prefix>:d:<namespace>:<key>   entries and counters
//	<prefix>:h:<namespace>:<key>   legacy hash structures, one field per hash
//	<prefix>:t:<tag>               tag index
//
// Keys are case-folded unless the manager is case-sensitive. The setting
// belongs to each manager instance.
package cachemgr
