package cachemgr

import (
	"context"
	"encoding/json"
	"time"
)

// GetAs reads key and decodes it into T. ok is false on a miss.
func GetAs[T any](ctx context.Context, m *EnhancedManager, key string, opts ...CallOption) (v T, ok bool, err error) {
	raw, err := m.Get(ctx, key, opts...)
	if err != nil || raw == nil {
		return v, false, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, err
	}
	return v, true, nil
}

// MGetAs decodes a batch read. The slice is in key order; nil marks a miss.
func MGetAs[T any](ctx context.Context, m *EnhancedManager, keys []string, opts ...CallOption) ([]*T, error) {
	raws, err := m.MGet(ctx, keys, opts...)
	if err != nil {
		return nil, err
	}
	out := make([]*T, len(raws))
	for i, raw := range raws {
		if raw == nil {
			continue
		}
		v := new(T)
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// LoadAs is Manager.Load decoded into T. A value that fails to decode is
// treated as absent.
func LoadAs[T any](ctx context.Context, m *Manager, key string, ttl time.Duration, hash string) (v T, ok bool) {
	raw := m.Load(ctx, key, ttl, hash)
	if raw == nil {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false
	}
	return v, true
}
