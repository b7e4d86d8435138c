package cachemgr

import (
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/unkn0wn-root/cachemgr/adapter"
)

// Options tune a manager. All fields are optional.
type Options struct {
	Logger Logger       // if nil, NopLogger is used
	Hooks  Hooks        // first listener; more via AddHooks
	Meter  metric.Meter // nil => no-op meter

	// MaxRetries counts every attempt including the first; 0 => 3, 1 disables retries.
	MaxRetries    int
	RetryDelay    time.Duration // first wait, doubled per attempt; 0 => 100ms
	RetryJitter   float64       // randomization factor; 0 => 0.1, <0 disables
	MaxRetryDelay time.Duration // 0 => 5s

	// DefaultTTL applies when a call passes no TTL; 0 => 1h, <0 => no expiry.
	DefaultTTL    time.Duration
	MaxKeyLength  int    // bytes; 0 => 512
	MaxValueSize  int    // encoded JSON bytes; 0 => 512 MiB
	Namespace     string // "" => "default"
	CaseSensitive bool   // default false: keys, patterns and tags are lower-cased

	// SlowThreshold limits duration samples to calls at least this slow; 0 => record all.
	SlowThreshold time.Duration
}

// CallOption adjusts a single call.
type CallOption func(*adapter.Options)

// WithTTL sets the entry lifetime. adapter.NoExpiry stores it permanently.
func WithTTL(ttl time.Duration) CallOption {
	return func(o *adapter.Options) { o.TTL = ttl }
}

// WithNamespace overrides the manager namespace for this call.
func WithNamespace(ns string) CallOption {
	return func(o *adapter.Options) { o.Namespace = ns }
}

// WithTags attaches tags to written entries.
func WithTags(tags ...string) CallOption {
	return func(o *adapter.Options) { o.Tags = append(o.Tags, tags...) }
}

// WithCompression opts this call in or out of compression. Compression still
// requires the adapter default and happens only above the codec threshold.
func WithCompression(on bool) CallOption {
	return func(o *adapter.Options) { o.Compress = &on }
}

// WithMetadata attaches scalar metadata to written entries.
func WithMetadata(md map[string]any) CallOption {
	return func(o *adapter.Options) { o.Metadata = md }
}

// WithHash addresses one field of a legacy hash structure.
func WithHash(hash string) CallOption {
	return func(o *adapter.Options) { o.Hash = hash }
}

// New returns the legacy manager over any adapter.
func New(a adapter.Adapter, opts Options) (*Manager, error) {
	c, err := newCore(a, opts)
	if err != nil {
		return nil, err
	}
	return &Manager{c: c}, nil
}

// NewEnhanced returns the full manager. Legacy() exposes the legacy API
// over the same backend, counters and hooks.
func NewEnhanced(a adapter.EnhancedAdapter, opts Options) (*EnhancedManager, error) {
	c, err := newCore(a, opts)
	if err != nil {
		return nil, err
	}
	if err := a.SetNamespace(c.Namespace()); err != nil {
		return nil, err
	}
	return &EnhancedManager{c: c, a: a, legacy: &Manager{c: c}}, nil
}
