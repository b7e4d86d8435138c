// Package entry defines the envelope stored for every cache value and the
// codec that turns it into bytes: serialization, an optional size limit and
// threshold-based gzip compression behind an unambiguous marker.
package entry

import (
	"encoding/json"
	"time"
)

// Entry wraps a JSON-encoded value with its bookkeeping.
// Times are unix milliseconds; ExpiresAt == 0 means no logical expiry.
type Entry struct {
	Data      json.RawMessage `json:"data" msgpack:"data" cbor:"data"`
	CreatedAt int64           `json:"createdAt" msgpack:"createdAt" cbor:"createdAt"`
	ExpiresAt int64           `json:"expiresAt,omitempty" msgpack:"expiresAt,omitempty" cbor:"expiresAt,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty" msgpack:"metadata,omitempty" cbor:"metadata,omitempty"`
}

// New stamps data with the current time. ttl <= 0 produces a permanent entry.
func New(data json.RawMessage, ttl time.Duration, metadata map[string]any) Entry {
	return NewAt(time.Now(), data, ttl, metadata)
}

func NewAt(now time.Time, data json.RawMessage, ttl time.Duration, metadata map[string]any) Entry {
	e := Entry{Data: data, CreatedAt: now.UnixMilli(), Metadata: metadata}
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl).UnixMilli()
	}
	return e
}

// Expired reports whether the envelope says the value is gone at now.
func (e Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != 0 && now.UnixMilli() >= e.ExpiresAt
}

// TTL is the remaining lifetime; ok is false for permanent entries.
func (e Entry) TTL(now time.Time) (ttl time.Duration, ok bool) {
	if e.ExpiresAt == 0 {
		return 0, false
	}
	d := time.Duration(e.ExpiresAt-now.UnixMilli()) * time.Millisecond
	if d < 0 {
		d = 0
	}
	return d, true
}

// WithTTL returns a copy whose expiry is rebased on now. ttl <= 0 clears it.
func (e Entry) WithTTL(now time.Time, ttl time.Duration) Entry {
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl).UnixMilli()
	} else {
		e.ExpiresAt = 0
	}
	return e
}

// Created returns CreatedAt as a time.Time.
func (e Entry) Created() time.Time { return time.UnixMilli(e.CreatedAt) }

// Bare reports whether e was decoded from a plain JSON scalar rather than an
// envelope, e.g. a counter written by a backend-side increment.
func (e Entry) Bare() bool { return e.CreatedAt == 0 }
