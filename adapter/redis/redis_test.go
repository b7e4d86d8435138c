package redis

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/cachemgr/adapter"
	"github.com/unkn0wn-root/cachemgr/entry"
	"github.com/unkn0wn-root/cachemgr/internal/keys"
	"github.com/unkn0wn-root/cachemgr/internal/wire"
)

func newTestAdapter(t *testing.T, mut ...func(*Config)) (*Adapter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	cfg := Config{Client: client, CloseClient: true}
	for _, m := range mut {
		m(&cfg)
	}
	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a, mr
}

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestNewRequiresClient(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNilClient)
}

func TestSetGet(t *testing.T) {
	ctx := context.Background()
	a, mr := newTestAdapter(t)

	ok, err := a.Set(ctx, "user:1", raw(`{"name":"ada"}`), adapter.Options{Metadata: map[string]any{"v": "1"}})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("cache:d:default:user:1"))

	e, err := a.Get(ctx, "user:1", adapter.Options{})
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.JSONEq(t, `{"name":"ada"}`, string(e.Data))
	assert.Equal(t, "1", e.Metadata["v"])

	miss, err := a.Get(ctx, "missing", adapter.Options{})
	assert.NoError(t, err)
	assert.Nil(t, miss)

	st, err := a.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.Equal(t, int64(1), st.Sets)
	assert.Equal(t, int64(1), st.Keys)
}

func TestMGetKeepsOrder(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter(t)

	_, err := a.MSet(ctx, map[string]json.RawMessage{"a": raw(`1`), "c": raw(`3`)}, adapter.Options{})
	require.NoError(t, err)

	es, err := a.MGet(ctx, []string{"a", "b", "c"}, adapter.Options{})
	require.NoError(t, err)
	require.Len(t, es, 3)
	assert.Equal(t, "1", string(es[0].Data))
	assert.Nil(t, es[1])
	assert.Equal(t, "3", string(es[2].Data))
}

func TestTTLAndExpiry(t *testing.T) {
	ctx := context.Background()
	a, mr := newTestAdapter(t)

	_, err := a.Set(ctx, "short", raw(`1`), adapter.Options{TTL: time.Second})
	require.NoError(t, err)
	_, err = a.Set(ctx, "perm", raw(`1`), adapter.Options{TTL: adapter.NoExpiry})
	require.NoError(t, err)

	d, err := a.TTL(ctx, "short", adapter.Options{})
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	d, _ = a.TTL(ctx, "perm", adapter.Options{})
	assert.Equal(t, adapter.TTLPersistent, d)

	mr.FastForward(2 * time.Second)
	e, err := a.Get(ctx, "short", adapter.Options{})
	assert.NoError(t, err)
	assert.Nil(t, e)

	d, _ = a.TTL(ctx, "short", adapter.Options{})
	assert.Equal(t, adapter.TTLMissing, d)
}

func TestStaleEnvelopeEvictedInBackground(t *testing.T) {
	ctx := context.Background()
	a, mr := newTestAdapter(t)

	stale := entry.NewAt(time.Now().Add(-time.Hour), raw(`1`), time.Minute, nil)
	b, err := a.codec.Encode(stale, nil)
	require.NoError(t, err)
	require.NoError(t, mr.Set("cache:d:default:old", string(b)))

	e, err := a.Get(ctx, "old", adapter.Options{})
	assert.NoError(t, err)
	assert.Nil(t, e)

	a.bg.Wait()
	assert.False(t, mr.Exists("cache:d:default:old"))
}

func TestExpireRewritesEnvelope(t *testing.T) {
	ctx := context.Background()
	a, mr := newTestAdapter(t)

	_, err := a.Set(ctx, "k", raw(`1`), adapter.Options{TTL: time.Second})
	require.NoError(t, err)

	ok, err := a.Expire(ctx, "k", time.Hour, adapter.Options{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Hour, mr.TTL("cache:d:default:k"))

	e, _ := a.Get(ctx, "k", adapter.Options{})
	require.NotNil(t, e)
	assert.InDelta(t, time.Now().Add(time.Hour).UnixMilli(), e.ExpiresAt, 5000)

	ok, err = a.Expire(ctx, "missing", time.Hour, adapter.Options{})
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestIncrementAppliesTTLOnCreate(t *testing.T) {
	ctx := context.Background()
	a, mr := newTestAdapter(t)

	n, err := a.Increment(ctx, "hits", 5, adapter.Options{TTL: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, time.Minute, mr.TTL("cache:d:default:hits"))

	n, err = a.Increment(ctx, "hits", 1, adapter.Options{TTL: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
	assert.Equal(t, time.Minute, mr.TTL("cache:d:default:hits"))

	n, err = a.Decrement(ctx, "hits", 10, adapter.Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(-4), n)

	// counters are plain integers and still readable through Get
	e, err := a.Get(ctx, "hits", adapter.Options{})
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "-4", string(e.Data))

	// Expire on a counter must keep it an integer
	ok, err := a.Expire(ctx, "hits", time.Hour, adapter.Options{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Hour, mr.TTL("cache:d:default:hits"))
	n, err = a.Increment(ctx, "hits", 1, adapter.Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(-3), n)
}

func TestIncrementOnEnvelopeFails(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter(t)

	_, err := a.Set(ctx, "s", raw(`"text"`), adapter.Options{})
	require.NoError(t, err)
	_, err = a.Increment(ctx, "s", 1, adapter.Options{})
	assert.ErrorIs(t, err, adapter.ErrNotInteger)
}

func TestIncrementValueWrittenBySet(t *testing.T) {
	ctx := context.Background()
	a, mr := newTestAdapter(t)

	_, err := a.Set(ctx, "n", raw(`5`), adapter.Options{TTL: time.Minute, Metadata: map[string]any{"src": "set"}})
	require.NoError(t, err)

	n, err := a.Increment(ctx, "n", 1, adapter.Options{TTL: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
	assert.Equal(t, time.Minute, mr.TTL("cache:d:default:n"))

	n, err = a.Decrement(ctx, "n", 2, adapter.Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	e, err := a.Get(ctx, "n", adapter.Options{})
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "4", string(e.Data))
	assert.Equal(t, "set", e.Metadata["src"])
}

func TestTagsFlushAndList(t *testing.T) {
	ctx := context.Background()
	a, mr := newTestAdapter(t)

	_, err := a.Set(ctx, "a", raw(`1`), adapter.Options{Tags: []string{"x"}, TTL: time.Minute})
	require.NoError(t, err)
	_, err = a.Set(ctx, "b", raw(`2`), adapter.Options{Tags: []string{"x", "y"}, TTL: time.Minute})
	require.NoError(t, err)
	_, err = a.Set(ctx, "c", raw(`3`), adapter.Options{Tags: []string{"y"}, Namespace: "other", TTL: time.Minute})
	require.NoError(t, err)
	_, err = a.Set(ctx, "d", raw(`4`), adapter.Options{})
	require.NoError(t, err)

	assert.Equal(t, time.Minute, mr.TTL("cache:t:x"))

	got, err := a.KeysByTags(ctx, []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, []string{"default:a", "default:b", "other:c"}, got)

	n, err := a.FlushByTags(ctx, []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.False(t, mr.Exists("cache:t:x"))
	assert.False(t, mr.Exists("cache:t:y"))
	assert.True(t, mr.Exists("cache:d:default:d"))
}

func TestTagIndexNeverShrinks(t *testing.T) {
	ctx := context.Background()
	a, mr := newTestAdapter(t)

	set := func(key string, ttl time.Duration, tag string) {
		t.Helper()
		_, err := a.Set(ctx, key, raw(`1`), adapter.Options{Tags: []string{tag}, TTL: ttl})
		require.NoError(t, err)
	}
	set("long", time.Hour, "grp")
	set("short", time.Second, "grp")
	set("perm", adapter.NoExpiry, "keep")
	set("brief", time.Second, "keep")

	assert.Equal(t, time.Hour, mr.TTL("cache:t:grp"))
	assert.Equal(t, time.Duration(0), mr.TTL("cache:t:keep"))

	mr.FastForward(2 * time.Second)
	for _, tc := range []struct{ tag, survivor string }{{"grp", "long"}, {"keep", "perm"}} {
		n, err := a.FlushByTags(ctx, []string{tc.tag})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, tc.tag)
		assert.False(t, mr.Exists("cache:d:default:"+tc.survivor), tc.survivor)
	}
}

func TestTagsOnHashFieldRejected(t *testing.T) {
	ctx := context.Background()
	a, mr := newTestAdapter(t)

	_, err := a.Set(ctx, "k", raw(`1`), adapter.Options{Hash: "h1", Tags: []string{"grp"}})
	assert.ErrorIs(t, err, adapter.ErrTaggedHash)
	assert.False(t, mr.Exists("cache:h:default:k"))
	assert.False(t, mr.Exists("cache:t:grp"))

	res, err := a.Transaction(ctx, []adapter.Op{
		{Kind: adapter.OpSet, Key: "k", Value: raw(`1`), Options: adapter.Options{Hash: "h1", Tags: []string{"grp"}}},
		{Kind: adapter.OpSet, Key: "k", Value: raw(`2`), Options: adapter.Options{Hash: "h2"}},
	})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.ErrorIs(t, res[0].Err, adapter.ErrTaggedHash)
	assert.True(t, res[1].OK)
}

func TestRemoveReportsRemovedKeys(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter(t)

	_, err := a.MSet(ctx, map[string]json.RawMessage{"x": raw(`1`), "z": raw(`2`)}, adapter.Options{})
	require.NoError(t, err)
	removed, err := a.Remove(ctx, []string{"x", "y", "z", "x"}, adapter.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "z"}, removed)

	st, err := a.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Deletes)
}

func TestKeysByTagsPrunes(t *testing.T) {
	ctx := context.Background()
	a, mr := newTestAdapter(t)

	for _, k := range []string{"a", "b"} {
		_, err := a.Set(ctx, k, raw(`1`), adapter.Options{Tags: []string{"t"}})
		require.NoError(t, err)
	}
	mr.Del("cache:d:default:a")

	got, err := a.KeysByTags(ctx, []string{"t"})
	require.NoError(t, err)
	assert.Equal(t, []string{"default:b"}, got)

	members, err := mr.SMembers("cache:t:t")
	require.NoError(t, err)
	assert.Equal(t, []string{"cache:d:default:b"}, members)
}

func TestFlushNamespace(t *testing.T) {
	ctx := context.Background()
	a, mr := newTestAdapter(t)

	_, _ = a.Set(ctx, "k", raw(`1`), adapter.Options{Namespace: "users"})
	_, _ = a.Set(ctx, "k", raw(`1`), adapter.Options{Namespace: "users", Hash: "f"})
	_, _ = a.Set(ctx, "k", raw(`1`), adapter.Options{Namespace: "users2"})

	n, err := a.FlushNamespace(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.True(t, mr.Exists("cache:d:users2:k"))

	_, err = a.FlushNamespace(ctx, "a:b")
	assert.ErrorIs(t, err, keys.ErrInvalidNamespace)
}

func TestKeysAndSize(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAdapter(t, func(c *Config) { c.ScanCount = 1 })

	for _, k := range []string{"user:1", "user:2", "order:1"} {
		_, err := a.Set(ctx, k, raw(`1`), adapter.Options{})
		require.NoError(t, err)
	}
	ks, err := a.Keys(ctx, "user:*", adapter.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"user:1", "user:2"}, ks)

	size, err := a.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)

	ok, err := a.Clear(ctx, adapter.Options{})
	require.NoError(t, err)
	assert.True(t, ok)
	size, _ = a.Size(ctx)
	assert.Equal(t, int64(0), size)
}

func TestHashMode(t *testing.T) {
	ctx := context.Background()
	a, mr := newTestAdapter(t)

	_, err := a.Set(ctx, "user", raw(`1`), adapter.Options{Hash: "profile"})
	require.NoError(t, err)
	_, err = a.Set(ctx, "user", raw(`2`), adapter.Options{Hash: "prefs"})
	require.NoError(t, err)
	_, err = a.Set(ctx, "other", raw(`3`), adapter.Options{Hash: "prefs"})
	require.NoError(t, err)
	assert.True(t, mr.Exists("cache:h:default:user"))

	e, err := a.Get(ctx, "user", adapter.Options{Hash: "prefs"})
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "2", string(e.Data))

	fs, err := a.Fields(ctx, "user", adapter.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"prefs", "profile"}, fs)

	ks, err := a.Keys(ctx, "*", adapter.Options{Hash: "prefs"})
	require.NoError(t, err)
	assert.Equal(t, []string{"other", "user"}, ks)

	es, err := a.MGet(ctx, []string{"user", "none"}, adapter.Options{Hash: "profile"})
	require.NoError(t, err)
	assert.Equal(t, "1", string(es[0].Data))
	assert.Nil(t, es[1])

	_, err = a.Clear(ctx, adapter.Options{Hash: "prefs"})
	require.NoError(t, err)
	fs, _ = a.Fields(ctx, "user", adapter.Options{})
	assert.Equal(t, []string{"profile"}, fs)

	ok, err := a.Delete(ctx, "user", adapter.Options{Hash: "profile"})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = a.Delete(ctx, "user", adapter.Options{Hash: "profile"})
	assert.False(t, ok)
}

func TestCompression(t *testing.T) {
	ctx := context.Background()
	a, mr := newTestAdapter(t, func(c *Config) {
		c.Codec = entry.Codec{Compress: true, Threshold: 64}
	})
	big := `"` + strings.Repeat("z", 2048) + `"`
	_, err := a.Set(ctx, "big", raw(big), adapter.Options{})
	require.NoError(t, err)

	stored, err := mr.Get("cache:d:default:big")
	require.NoError(t, err)
	assert.True(t, wire.IsCompressed([]byte(stored)))
	assert.Less(t, len(stored), len(big))

	e, err := a.Get(ctx, "big", adapter.Options{})
	require.NoError(t, err)
	assert.Equal(t, big, string(e.Data))
}

func TestPipeline(t *testing.T) {
	ctx := context.Background()
	a, mr := newTestAdapter(t)

	res, err := a.Pipeline().
		Set("a", raw(`1`), adapter.Options{Tags: []string{"p"}}).
		Set("b", raw(`2`), adapter.Options{Namespace: "bad*ns"}).
		Expire("a", time.Minute, adapter.Options{}).
		Get("a", adapter.Options{}).
		Del("missing", adapter.Options{}).
		Exec(ctx)
	require.NoError(t, err)
	require.Len(t, res, 5)

	assert.True(t, res[0].OK)
	assert.Error(t, res[1].Err)
	assert.True(t, res[2].OK)
	require.NotNil(t, res[3].Entry)
	assert.Equal(t, "1", string(res[3].Entry.Data))
	assert.False(t, res[4].OK)
	assert.NoError(t, res[4].Err)

	assert.Equal(t, time.Minute, mr.TTL("cache:d:default:a"))
	assert.True(t, mr.Exists("cache:t:p"))
}

func TestTransaction(t *testing.T) {
	ctx := context.Background()
	a, mr := newTestAdapter(t)

	_, err := a.Set(ctx, "old", raw(`0`), adapter.Options{})
	require.NoError(t, err)

	res, err := a.Transaction(ctx, []adapter.Op{
		{Kind: adapter.OpSet, Key: "new", Value: raw(`1`)},
		{Kind: adapter.OpExpire, Key: "new", TTL: time.Minute},
		{Kind: adapter.OpDel, Key: "old"},
		{Kind: adapter.OpExpire, Key: "old", TTL: time.Minute},
		{Kind: adapter.OpGet, Key: "new"},
	})
	require.NoError(t, err)
	require.Len(t, res, 5)

	assert.True(t, res[0].OK)
	assert.True(t, res[1].OK)
	assert.True(t, res[2].OK)
	assert.False(t, res[3].OK, "expire after delete in the same transaction")
	require.NotNil(t, res[4].Entry)
	assert.NotZero(t, res[4].Entry.ExpiresAt)

	assert.Equal(t, time.Minute, mr.TTL("cache:d:default:new"))
	assert.False(t, mr.Exists("cache:d:default:old"))
}

func TestNamespaceAndName(t *testing.T) {
	a, _ := newTestAdapter(t, func(c *Config) { c.Prefix = "app" })
	require.NoError(t, a.SetNamespace("tenant"))
	assert.Equal(t, "tenant", a.Namespace())
	assert.Equal(t, "app:d:tenant:k", a.Name("k"))
	assert.Equal(t, "redis", a.Name(""))
	assert.ErrorIs(t, a.SetNamespace("x?y"), keys.ErrInvalidNamespace)
}

func TestIsAliveAndClose(t *testing.T) {
	ctx := context.Background()
	a, mr := newTestAdapter(t)
	assert.True(t, a.IsAlive(ctx))

	mr.Close()
	assert.False(t, a.IsAlive(ctx))
	assert.NoError(t, a.Close(ctx))
	assert.NoError(t, a.Close(ctx))
}
