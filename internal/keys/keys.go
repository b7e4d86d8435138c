// Package keys owns the physical key layout shared by every adapter:
//
//	<prefix>:d:<ns>:<key>   data entries and counters
//	<prefix>:h:<ns>:<key>   legacy hash structures
//	<prefix>:t:<tag>        tag indices
//
// Namespaces never contain the separator, so the namespace segment ends at
// the first ':' after the kind marker and namespace patterns cannot overlap.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const Sep = ":"

const (
	kindData = "d"
	kindHash = "h"
	kindTag  = "t"
)

var (
	ErrEmptyNamespace   = errors.New("cachemgr: namespace is empty")
	ErrInvalidNamespace = errors.New("cachemgr: namespace contains a reserved character")
)

const reserved = Sep + `*?[]\`

// ValidateNamespace rejects namespaces that could make key patterns ambiguous.
func ValidateNamespace(ns string) error {
	if ns == "" {
		return ErrEmptyNamespace
	}
	if strings.ContainsAny(ns, reserved) {
		return fmt.Errorf("%w: %q", ErrInvalidNamespace, ns)
	}
	return nil
}

// Builder derives physical keys from logical ones.
type Builder struct {
	Prefix string
}

func (b Builder) Data(ns, key string) string { return b.join(kindData, ns) + Sep + key }
func (b Builder) Hash(ns, key string) string { return b.join(kindHash, ns) + Sep + key }
func (b Builder) Tag(tag string) string { return b.Prefix + Sep + kindTag + Sep + tag }

// DataPattern matches data keys of ns whose logical key matches pattern.
func (b Builder) DataPattern(ns, pattern string) string {
	return Escape(b.join(kindData, ns)+Sep) + pattern
}

func (b Builder) HashPattern(ns, pattern string) string {
	return Escape(b.join(kindHash, ns)+Sep) + pattern
}

// NamespacePatterns lists every pattern owned by ns (data first).
func (b Builder) NamespacePatterns(ns string) []string {
	return []string{b.DataPattern(ns, "*"), b.HashPattern(ns, "*")}
}

func (b Builder) AllPattern() string { return Escape(b.Prefix+Sep) + "*" }
func (b Builder) AllDataPattern() string { return Escape(b.Prefix+Sep+kindData+Sep) + "*" }
func (b Builder) AllHashPattern() string { return Escape(b.Prefix+Sep+kindHash+Sep) + "*" }
func (b Builder) AllTagPattern() string { return Escape(b.Prefix+Sep+kindTag+Sep) + "*" }
func (b Builder) join(kind, ns string) string { return b.Prefix + Sep + kind + Sep + ns }

// SplitData reverses Data.
func (b Builder) SplitData(physical string) (ns, key string, ok bool) {
	return b.split(kindData, physical)
}

// SplitHash reverses Hash.
func (b Builder) SplitHash(physical string) (ns, key string, ok bool) {
	return b.split(kindHash, physical)
}

func (b Builder) split(kind, physical string) (string, string, bool) {
	head := b.Prefix + Sep + kind + Sep
	if !strings.HasPrefix(physical, head) {
		return "", "", false
	}
	rest := physical[len(head):]
	i := strings.Index(rest, Sep)
	if i <= 0 {
		return "", "", false
	}
	return rest[:i], rest[i+len(Sep):], true
}

// Qualified renders a data key as "<ns>:<key>".
func Qualified(ns, key string) string { return ns + Sep + key }

// Escape quotes glob metacharacters so s matches itself literally.
func Escape(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s) + 4)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

// Compact returns key unchanged when it fits maxLen and has no whitespace or
// control bytes; otherwise a deterministic "<head>#<sha256 prefix>" form.
func Compact(key string, maxLen int) string {
	if len(key) <= maxLen && !hasUnsafe(key) {
		return key
	}
	sum := sha256.Sum256([]byte(key))
	digest := hex.EncodeToString(sum[:16])
	keep := maxLen - len(digest) - 1
	head := key
	if keep < 0 {
		keep = 0
	}
	if len(head) > keep {
		head = head[:keep]
	}
	head = strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return '_'
		}
		return r
	}, head)
	return head + "#" + digest
}

func hasUnsafe(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] <= ' ' || s[i] == 0x7f {
			return true
		}
	}
	return false
}
