// Package config builds cache managers from a YAML file.
//
//	adapter: redis
//	namespace: app
//	default_ttl: 10m
//	retry:
//	  attempts: 5
//	  delay: 50ms
//	codec:
//	  serializer: msgpack
//	  compress: true
//	redis:
//	  url: redis://localhost:6379/0
//
// Addresses and credentials may be overridden with CACHEMGR_* environment
// variables; the environment wins over the file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	AdapterLocal    = "local"
	AdapterRedis    = "redis"
	AdapterMemcache = "memcache"
	AdapterNoop     = "noop"
)

// Config mirrors cachemgr.Options plus backend construction parameters.
// Zero values fall through to the package defaults.
type Config struct {
	Adapter       string        `yaml:"adapter"` // local (default), redis, memcache, noop
	Prefix        string        `yaml:"prefix"`
	Namespace     string        `yaml:"namespace"`
	DefaultTTL    time.Duration `yaml:"default_ttl"`
	CaseSensitive bool          `yaml:"case_sensitive"`
	MaxKeyLength  int           `yaml:"max_key_length"`
	MaxValueSize  int           `yaml:"max_value_size"`
	SlowThreshold time.Duration `yaml:"slow_threshold"`

	Retry    RetryConfig    `yaml:"retry"`
	Codec    CodecConfig    `yaml:"codec"`
	Local    LocalConfig    `yaml:"local"`
	Redis    RedisConfig    `yaml:"redis"`
	Memcache MemcacheConfig `yaml:"memcache"`
}

type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
	Jitter   float64       `yaml:"jitter"`
	MaxDelay time.Duration `yaml:"max_delay"`
}

type CodecConfig struct {
	Serializer string `yaml:"serializer"` // json (default), msgpack, cbor, proto
	Compress   bool   `yaml:"compress"`
	Threshold  int    `yaml:"threshold"`
	MaxSize    int    `yaml:"max_size"`
}

type LocalConfig struct {
	Provider        string          `yaml:"provider"` // memory (default), ristretto, bigcache
	CleanupInterval time.Duration   `yaml:"cleanup_interval"`
	Ristretto       RistrettoConfig `yaml:"ristretto"`
	Bigcache        BigcacheConfig  `yaml:"bigcache"`
}

type RistrettoConfig struct {
	NumCounters int64 `yaml:"num_counters"`
	MaxCost     int64 `yaml:"max_cost"`
	BufferItems int64 `yaml:"buffer_items"`
}

type BigcacheConfig struct {
	LifeWindow         time.Duration `yaml:"life_window"`
	CleanWindow        time.Duration `yaml:"clean_window"`
	MaxEntriesInWindow int           `yaml:"max_entries_in_window"`
	MaxEntrySize       int           `yaml:"max_entry_size"`
	HardMaxCacheSizeMB int           `yaml:"hard_max_cache_size_mb"`
}

type RedisConfig struct {
	URL          string        `yaml:"url"`   // redis://... ; wins over Addrs
	Addrs        []string      `yaml:"addrs"` // more than one => cluster client
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ScanCount    int64         `yaml:"scan_count"`
	WatchRetries int           `yaml:"watch_retries"`
}

type MemcacheConfig struct {
	Servers []string      `yaml:"servers"`
	Timeout time.Duration `yaml:"timeout"`
}

var ErrUnknownAdapter = errors.New("config: unknown adapter")

// Load reads and validates a YAML file, then applies environment overrides.
func Load(path string) (*Config, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("config: open: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes YAML from r. Unknown fields are rejected.
func Parse(r io.Reader) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.mergeEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeEnv lets the environment override the file.
func (c *Config) mergeEnv(lookup func(string) (string, bool)) {
	str := func(name string, dst *string) {
		if v, ok := lookup("CACHEMGR_" + name); ok && v != "" {
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := lookup("CACHEMGR_" + name); ok && v != "" {
			*dst = splitList(v)
		}
	}
	str("ADAPTER", &c.Adapter)
	str("NAMESPACE", &c.Namespace)
	str("PREFIX", &c.Prefix)
	str("REDIS_URL", &c.Redis.URL)
	list("REDIS_ADDRS", &c.Redis.Addrs)
	str("REDIS_USERNAME", &c.Redis.Username)
	str("REDIS_PASSWORD", &c.Redis.Password)
	list("MEMCACHE_SERVERS", &c.Memcache.Servers)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks fields that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Adapter {
	case "", AdapterLocal, AdapterNoop:
	case AdapterRedis:
		if c.Redis.URL == "" && len(c.Redis.Addrs) == 0 {
			return errors.New("config: redis adapter needs redis.url or redis.addrs")
		}
	case AdapterMemcache:
		if len(c.Memcache.Servers) == 0 {
			return errors.New("config: memcache adapter needs memcache.servers")
		}
	default:
		return fmt.Errorf("%w %q", ErrUnknownAdapter, c.Adapter)
	}
	switch c.Codec.Serializer {
	case "", "json", "msgpack", "cbor", "proto":
	default:
		return fmt.Errorf("config: unknown serializer %q", c.Codec.Serializer)
	}
	switch c.Local.Provider {
	case "", "memory", "ristretto", "bigcache":
	default:
		return fmt.Errorf("config: unknown local provider %q", c.Local.Provider)
	}
	if c.Retry.Jitter > 1 {
		return fmt.Errorf("config: retry.jitter %v out of range", c.Retry.Jitter)
	}
	return nil
}
