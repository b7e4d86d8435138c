package cachemgr

import (
	"strings"
	"sync/atomic"
)

// normalizer applies the per-manager key rules. The length limit is
// checked on the raw key, before case folding.
type normalizer struct {
	caseSensitive atomic.Bool
	maxLen        int
}

func (n *normalizer) normalize(s string) (string, error) {
	if n.maxLen > 0 && len(s) > n.maxLen {
		return "", &KeyTooLongError{Length: len(s), Max: n.maxLen}
	}
	if n.caseSensitive.Load() {
		return s, nil
	}
	return strings.ToLower(s), nil
}

func (c *core) key(op, key string) (string, error) {
	if key == "" {
		return "", &ValidationError{Op: op, Reason: "key must not be empty"}
	}
	k, err := c.norm.normalize(key)
	if err != nil {
		return "", &ValidationError{Op: op, Key: truncate(key, 64), Reason: "key too long", Err: err}
	}
	return k, nil
}

// tags normalizes tags like keys and drops duplicates.
func (c *core) tags(op string, in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, t := range in {
		if t == "" {
			return nil, &ValidationError{Op: op, Reason: "tag must not be empty"}
		}
		n, err := c.norm.normalize(t)
		if err != nil {
			return nil, &ValidationError{Op: op, Key: truncate(t, 64), Reason: "tag too long", Err: err}
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
