package cachemgr

import "time"

const (
	defaultNamespace     = "default"
	defaultAttempts      = 3
	defaultRetryDelay    = 100 * time.Millisecond
	defaultRetryJitter   = 0.1
	defaultMaxRetryDelay = 5 * time.Second
	defaultTTL           = time.Hour
	defaultMaxKeyLength  = 512
	defaultMaxValueSize  = 512 << 20
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
