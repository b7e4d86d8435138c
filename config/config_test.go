package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/cachemgr"
	"github.com/unkn0wn-root/cachemgr/adapter"
)

const sample = `
adapter: redis
namespace: app
default_ttl: 10m
slow_threshold: 5ms
retry:
  attempts: 5
  delay: 50ms
codec:
  serializer: msgpack
  compress: true
  threshold: 256
redis:
  addrs: [localhost:6379]
  scan_count: 500
`

func TestParse(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, AdapterRedis, cfg.Adapter)
	assert.Equal(t, 10*time.Minute, cfg.DefaultTTL)
	assert.Equal(t, 5, cfg.Retry.Attempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Retry.Delay)
	assert.Equal(t, []string{"localhost:6379"}, cfg.Redis.Addrs)

	opts := cfg.Options(Deps{})
	assert.Equal(t, "app", opts.Namespace)
	assert.Equal(t, 5, opts.MaxRetries)
	assert.Equal(t, 5*time.Millisecond, opts.SlowThreshold)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field":   "adapter: local\nbogus: 1\n",
		"unknown adapter": "adapter: etcd\n",
		"redis no addr":   "adapter: redis\n",
		"memcache no srv": "adapter: memcache\n",
		"bad serializer":  "codec:\n  serializer: xml\n",
		"bad provider":    "local:\n  provider: disk\n",
		"bad duration":    "default_ttl: soon\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(in))
			assert.Error(t, err)
		})
	}
}

func TestParseEmptyDefaultsToLocal(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)

	m, err := Build(context.Background(), cfg, Deps{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	assert.Equal(t, "local", m.Adapter().Name(""))
	assert.Equal(t, "default", m.Namespace())
}

func TestMergeEnv(t *testing.T) {
	env := map[string]string{
		"CACHEMGR_ADAPTER":          "memcache",
		"CACHEMGR_MEMCACHE_SERVERS": "a:11211, b:11211",
		"CACHEMGR_REDIS_PASSWORD":   "s3cret",
	}
	cfg := &Config{Adapter: AdapterLocal}
	cfg.mergeEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	assert.Equal(t, AdapterMemcache, cfg.Adapter)
	assert.Equal(t, []string{"a:11211", "b:11211"}, cfg.Memcache.Servers)
	assert.Equal(t, "s3cret", cfg.Redis.Password)
}

func TestLoadFromFileWithEnvOverride(t *testing.T) {
	mr := miniredis.RunT(t)
	path := filepath.Join(t.TempDir(), "cache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	t.Setenv("CACHEMGR_REDIS_ADDRS", mr.Addr())

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{mr.Addr()}, cfg.Redis.Addrs)

	ctx := context.Background()
	m, err := Build(ctx, cfg, Deps{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(ctx) })

	ok, err := m.Set(ctx, "greeting", "hello")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("cache:d:app:greeting"))

	ttl, err := m.TTL(ctx, "greeting")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, ttl)

	raw, err := m.Get(ctx, "GREETING")
	require.NoError(t, err)
	assert.JSONEq(t, `"hello"`, string(raw))
}

func TestBuildRedisURL(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &Config{Adapter: AdapterRedis, Prefix: "svc", Redis: RedisConfig{URL: "redis://" + mr.Addr() + "/0"}}
	require.NoError(t, cfg.Validate())

	ctx := context.Background()
	m, err := Build(ctx, cfg, Deps{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(ctx) })

	n, err := m.Increment(ctx, "visits", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.True(t, mr.Exists("svc:d:default:visits"))
}

func TestBuildMemcacheIsLegacyOnly(t *testing.T) {
	cfg := &Config{Adapter: AdapterMemcache, Memcache: MemcacheConfig{Servers: []string{"127.0.0.1:1"}}}
	ctx := context.Background()

	_, err := Build(ctx, cfg, Deps{})
	assert.ErrorIs(t, err, ErrNotEnhanced)

	lm, err := BuildLegacy(ctx, cfg, Deps{})
	require.NoError(t, err)
	assert.NoError(t, lm.Close(ctx))
}

func TestBuildLocalProviders(t *testing.T) {
	ctx := context.Background()
	for _, p := range []string{"memory", "ristretto", "bigcache"} {
		t.Run(p, func(t *testing.T) {
			cfg := &Config{Local: LocalConfig{Provider: p}, Codec: CodecConfig{Serializer: "cbor"}}
			m, err := Build(ctx, cfg, Deps{})
			require.NoError(t, err)
			t.Cleanup(func() { _ = m.Close(ctx) })

			ok, err := m.Set(ctx, "k", map[string]int{"n": 1}, cachemgr.WithTTL(adapter.NoExpiry))
			require.NoError(t, err)
			require.True(t, ok)
			raw, err := m.Get(ctx, "k")
			require.NoError(t, err)
			assert.JSONEq(t, `{"n":1}`, string(raw))
		})
	}
}

func TestBuildNoop(t *testing.T) {
	ctx := context.Background()
	m, err := Build(ctx, &Config{Adapter: AdapterNoop}, Deps{})
	require.NoError(t, err)

	ok, err := m.Set(ctx, "k", 1)
	require.NoError(t, err)
	assert.True(t, ok)
	raw, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, raw)
}
