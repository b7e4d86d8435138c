package cachemgr

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/cachemgr/adapter"
	"github.com/unkn0wn-root/cachemgr/internal/keys"
	"github.com/unkn0wn-root/cachemgr/internal/retry"
)

var ErrNilAdapter = errors.New("cachemgr: adapter must not be nil")

// core is shared by Manager and EnhancedManager. It owns normalization,
// retries, telemetry, counters and events; the two APIs differ only in how
// they surface failures.
type core struct {
	a      adapter.Adapter
	name   string
	log    Logger
	hooks  hookSet
	tel    telemetry
	policy retry.Policy
	norm   normalizer
	ns     atomic.Value // string

	defaultTTL   time.Duration
	maxValueSize int
	stats        adapter.Counters
}

func newCore(a adapter.Adapter, opts Options) (*core, error) {
	if a == nil {
		return nil, ErrNilAdapter
	}
	ns := coalesce(opts.Namespace, defaultNamespace)
	if err := keys.ValidateNamespace(ns); err != nil {
		return nil, err
	}

	jitter := coalesce(opts.RetryJitter, defaultRetryJitter)
	if jitter < 0 {
		jitter = 0
	}
	attempts := coalesce(opts.MaxRetries, defaultAttempts)
	if attempts < 1 {
		attempts = 1
	}
	ttl := coalesce(opts.DefaultTTL, defaultTTL)
	if ttl < 0 {
		ttl = adapter.NoExpiry
	}

	c := &core{
		a:    a,
		name: a.Name(""),
		log:  opts.Logger,
		policy: retry.Policy{
			Attempts:   attempts,
			BaseDelay:  coalesce(opts.RetryDelay, defaultRetryDelay),
			Multiplier: 2,
			Jitter:     jitter,
			MaxDelay:   coalesce(opts.MaxRetryDelay, defaultMaxRetryDelay),
		},
		defaultTTL:   ttl,
		maxValueSize: coalesce(opts.MaxValueSize, defaultMaxValueSize),
	}
	if c.log == nil {
		c.log = NopLogger{}
	}
	c.hooks.log = c.log
	c.hooks.add(opts.Hooks)
	c.norm.maxLen = coalesce(opts.MaxKeyLength, defaultMaxKeyLength)
	c.norm.caseSensitive.Store(opts.CaseSensitive)
	c.ns.Store(ns)

	tel, err := newTelemetry(opts.Meter, c.name, opts.SlowThreshold)
	if err != nil {
		return nil, err
	}
	c.tel = tel

	c.log.Debug("cache manager ready", Fields{
		"adapter":   c.name,
		"namespace": ns,
		"attempts":  attempts,
	})
	return c, nil
}

func (c *core) Namespace() string { return c.ns.Load().(string) }

func (c *core) setNamespace(ns string) error {
	if err := keys.ValidateNamespace(ns); err != nil {
		return &ValidationError{Op: "set_namespace", Key: ns, Reason: "invalid namespace", Err: err}
	}
	c.ns.Store(ns)
	return nil
}

// options resolves call options against manager defaults.
func (c *core) options(op string, opts []CallOption) (adapter.Options, error) {
	var o adapter.Options
	for _, f := range opts {
		if f != nil {
			f(&o)
		}
	}
	if o.Namespace == "" {
		o.Namespace = c.Namespace()
	} else if err := keys.ValidateNamespace(o.Namespace); err != nil {
		return o, &ValidationError{Op: op, Key: o.Namespace, Reason: "invalid namespace", Err: err}
	}
	if o.TTL == 0 {
		o.TTL = c.defaultTTL
	}
	if len(o.Tags) > 0 && o.Hash != "" {
		return o, &ValidationError{Op: op, Key: o.Hash, Reason: "tags cannot be combined with a hash field", Err: adapter.ErrTaggedHash}
	}
	if len(o.Tags) > 0 {
		tags, err := c.tags(op, o.Tags)
		if err != nil {
			return o, err
		}
		o.Tags = tags
	}
	if err := validateMetadata(op, o.Metadata); err != nil {
		return o, err
	}
	return o, nil
}

// prepare normalizes key and resolves opts. Failures are reported as
// rejected operations.
func (c *core) prepare(op, key string, opts []CallOption) (string, adapter.Options, error) {
	k, err := c.key(op, key)
	if err != nil {
		return "", adapter.Options{}, c.reject(op, key, err)
	}
	o, err := c.options(op, opts)
	if err != nil {
		return "", o, c.reject(op, key, err)
	}
	return k, o, nil
}

func (c *core) prepareMany(op string, in []string, opts []CallOption) ([]string, adapter.Options, error) {
	out := make([]string, len(in))
	for i, key := range in {
		k, err := c.key(op, key)
		if err != nil {
			return nil, adapter.Options{}, c.reject(op, key, err)
		}
		out[i] = k
	}
	o, err := c.options(op, opts)
	if err != nil {
		return nil, o, c.reject(op, "", err)
	}
	return out, o, nil
}

// run calls fn under the retry policy and records its duration. Permanent
// errors stop immediately. A final failure is logged, counted and reported
// to hooks exactly once.
func (c *core) run(ctx context.Context, op, key string, fn func(context.Context) error) error {
	return c.exec(ctx, c.policy, op, key, fn)
}

// once is run without retries, for operations that are not idempotent.
func (c *core) once(ctx context.Context, op, key string, fn func(context.Context) error) error {
	p := c.policy
	p.Attempts = 1
	return c.exec(ctx, p, op, key, fn)
}

func (c *core) exec(ctx context.Context, p retry.Policy, op, key string, fn func(context.Context) error) error {
	start := time.Now()
	attempts, err := p.Do(ctx, func() error {
		err := fn(ctx)
		if err != nil && permanent(err) {
			return retry.Permanent(err)
		}
		return err
	}, func(attempt int, err error, wait time.Duration) {
		c.log.Debug("cache operation failed, retrying", Fields{
			"op":      op,
			"key":     key,
			"adapter": c.name,
			"attempt": attempt,
			"wait":    wait,
			"err":     err,
		})
	})
	c.tel.observe(ctx, op, time.Since(start))
	if err == nil {
		return nil
	}

	c.stats.Error(1)
	c.log.Warn("cache operation failed", Fields{
		"op":       op,
		"key":      key,
		"adapter":  c.name,
		"attempts": attempts,
		"err":      err,
	})
	c.hooks.emit("error", func(h Hooks) { h.Error(op, key, err) })
	return &OperationError{Op: op, Key: key, Attempts: attempts, Err: err}
}

// reject reports an operation refused before reaching the backend.
func (c *core) reject(op, key string, err error) error {
	c.stats.Error(1)
	c.log.Debug("cache operation rejected", Fields{"op": op, "key": key, "err": err})
	c.hooks.emit("error", func(h Hooks) { h.Error(op, key, err) })
	return err
}

func (c *core) track(key string, hit bool) {
	c.stats.Track(hit)
	if hit {
		c.hooks.emit("hit", func(h Hooks) { h.Hit(key) })
	} else {
		c.hooks.emit("miss", func(h Hooks) { h.Miss(key) })
	}
}

func (c *core) wrote(key string) {
	c.stats.Set(1)
	c.hooks.emit("set", func(h Hooks) { h.Set(key) })
}

func (c *core) deleted(key string) {
	c.stats.Delete(1)
	c.hooks.emit("delete", func(h Hooks) { h.Delete(key) })
}

func (c *core) cleared(scope string) {
	c.hooks.emit("clear", func(h Hooks) { h.Clear(scope) })
}

// snapshot copies the manager counters with the backend's live key count,
// or -1 when the backend cannot count.
func (c *core) snapshot(ctx context.Context) (adapter.Stats, error) {
	n, err := c.a.Size(ctx)
	if errors.Is(err, adapter.ErrNotSupported) {
		return c.stats.Snapshot(-1), nil
	}
	if err != nil {
		return c.stats.Snapshot(-1), err
	}
	return c.stats.Snapshot(n), nil
}

func (c *core) close(ctx context.Context) error {
	if err := c.a.Close(ctx); err != nil {
		c.log.Warn("cache adapter close failed", Fields{"adapter": c.name, "err": err})
		return err
	}
	return nil
}
