// Package adapter defines the contract every cache backend satisfies.
//
// Adapter is the basic, hash-keyed contract. EnhancedAdapter adds namespaces,
// tags, counters and scoped flushes. Pipeliner and Transactor are optional
// capabilities discovered with a type assertion.
//
// TTL convention for every method taking Options.TTL or a ttl argument:
// > 0 expires after that duration, 0 uses the adapter default (none unless
// configured), < 0 (NoExpiry) stores a permanent entry.
package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/cachemgr/entry"
)

var (
	ErrNotSupported = errors.New("cachemgr: operation not supported by adapter")
	ErrNotInteger   = errors.New("cachemgr: value is not an integer")

	// ErrTaggedHash rejects tags on hash fields; tag sets index data keys.
	ErrTaggedHash = fmt.Errorf("%w: tags on hash fields", ErrNotSupported)
)

const (
	NoExpiry time.Duration = -1

	// values returned by EnhancedAdapter.TTL, mirroring PTTL
	TTLPersistent time.Duration = -1
	TTLMissing    time.Duration = -2
)

// Options carries per-call parameters. Zero values mean "adapter default".
type Options struct {
	Namespace string // "" => adapter's current namespace
	Hash      string // legacy sub-field; "" => plain entry
	TTL       time.Duration
	Tags      []string
	Compress  *bool // nil => adapter default
	Metadata  map[string]any
}

type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Sets    int64 `json:"sets"`
	Deletes int64 `json:"deletes"`
	Errors  int64 `json:"errors"`
	Keys    int64 `json:"keys"`
}

// Adapter is the basic backend contract. Get/MGet return nil entries on miss;
// misses are never errors.
type Adapter interface {
	Get(ctx context.Context, key string, opts Options) (*entry.Entry, error)
	Set(ctx context.Context, key string, value json.RawMessage, opts Options) (bool, error)
	MGet(ctx context.Context, keys []string, opts Options) ([]*entry.Entry, error)
	MSet(ctx context.Context, entries map[string]json.RawMessage, opts Options) (bool, error)
	Delete(ctx context.Context, key string, opts Options) (bool, error)
	DeleteMany(ctx context.Context, keys []string, opts Options) (bool, error)

	// Keys lists logical keys of the effective namespace matching pattern.
	// With opts.Hash set it lists primary keys holding that sub-field.
	Keys(ctx context.Context, pattern string, opts Options) ([]string, error)
	// Fields lists the legacy sub-field names stored under key.
	Fields(ctx context.Context, key string, opts Options) ([]string, error)
	// Clear wipes everything the adapter owns, or with opts.Hash set, that
	// sub-field from every hash structure.
	Clear(ctx context.Context, opts Options) (bool, error)

	IsAlive(ctx context.Context) bool
	Size(ctx context.Context) (int64, error)
	// Name returns the adapter name, or with a key, the physical key it maps to.
	Name(key string) string
	ExtendTTL(ctx context.Context, key string, ttl time.Duration, opts Options) (bool, error)
	Close(ctx context.Context) error
}

// EnhancedAdapter is the full contract used by the enhanced manager API.
type EnhancedAdapter interface {
	Adapter

	MDel(ctx context.Context, keys []string, opts Options) (int64, error)
	Exists(ctx context.Context, key string, opts Options) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration, opts Options) (bool, error)
	TTL(ctx context.Context, key string, opts Options) (time.Duration, error)
	// Increment/Decrement are atomic on the backend; opts.TTL applies only
	// when the counter is created.
	Increment(ctx context.Context, key string, delta int64, opts Options) (int64, error)
	Decrement(ctx context.Context, key string, delta int64, opts Options) (int64, error)

	FlushNamespace(ctx context.Context, ns string) (int64, error)
	FlushByTags(ctx context.Context, tags []string) (int64, error)
	KeysByNamespace(ctx context.Context, ns, pattern string) ([]string, error)
	// KeysByTags returns "<namespace>:<key>" names of live tagged entries.
	KeysByTags(ctx context.Context, tags []string) ([]string, error)
	Stats(ctx context.Context) (Stats, error)

	SetNamespace(ns string) error
	Namespace() string
}

// Pipeliner is implemented by adapters that can batch operations into one round trip.
type Pipeliner interface {
	Pipeline() Pipeline
}

// Remover is implemented by adapters that can report which keys a
// multi-key delete actually removed.
type Remover interface {
	Remove(ctx context.Context, keys []string, opts Options) ([]string, error)
}

// Transactor is implemented by adapters that can apply operations atomically.
type Transactor interface {
	Transaction(ctx context.Context, ops []Op) ([]Result, error)
}
