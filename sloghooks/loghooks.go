// Package sloghooks reports cache events through log/slog.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/cachemgr"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	HitEvery  uint64
	MissEvery uint64
	SetEvery  uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	hitCtr  atomic.Uint64
	missCtr atomic.Uint64
	setCtr  atomic.Uint64
}

var _ cachemgr.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) Hit(key string) {
	if h.l == nil || !sample(h.opts.HitEvery, &h.hitCtr) {
		return
	}
	h.l.Debug("cachemgr.hit", "key", h.redact(key))
}

func (h *Hooks) Miss(key string) {
	if h.l == nil || !sample(h.opts.MissEvery, &h.missCtr) {
		return
	}
	h.l.Debug("cachemgr.miss", "key", h.redact(key))
}

func (h *Hooks) Set(key string) {
	if h.l == nil || !sample(h.opts.SetEvery, &h.setCtr) {
		return
	}
	h.l.Debug("cachemgr.set", "key", h.redact(key))
}

func (h *Hooks) Delete(key string) {
	if h.l == nil {
		return
	}
	h.l.Debug("cachemgr.delete", "key", h.redact(key))
}

func (h *Hooks) Clear(scope string) {
	if h.l == nil {
		return
	}
	h.l.Info("cachemgr.clear", "scope", scope)
}

func (h *Hooks) Error(op, key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("cachemgr.error",
		"op", op,
		"key", h.redact(key),
		"err", err)
}
