//go:build go1.21

package slog

import (
	"bytes"
	"errors"
	stdslog "log/slog"
	"strings"
	"testing"

	"github.com/unkn0wn-root/cachemgr"
)

func newBuffered(level stdslog.Level) (Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	h := stdslog.NewTextHandler(&buf, &stdslog.HandlerOptions{Level: level})
	return Logger{L: stdslog.New(h)}, &buf
}

func TestLogger(t *testing.T) {
	l, buf := newBuffered(stdslog.LevelDebug)

	l.Error("cache hook panicked", cachemgr.Fields{"event": "set"})

	out := buf.String()
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "event=set") {
		t.Fatalf("output = %q", out)
	}
}

func TestLoggerFieldsSortedAndErrorsFlattened(t *testing.T) {
	l, buf := newBuffered(stdslog.LevelDebug)

	l.Warn("cache operation failed", cachemgr.Fields{
		"op":       "get",
		"err":      errors.New("dial tcp: refused"),
		"attempts": 3,
	})

	out := buf.String()
	if !strings.Contains(out, `err="dial tcp: refused"`) {
		t.Fatalf("error not logged by message: %q", out)
	}
	a, e, o := strings.Index(out, "attempts="), strings.Index(out, "err="), strings.Index(out, "op=")
	if a < 0 || !(a < e && e < o) {
		t.Fatalf("fields not in key order: %q", out)
	}
}

func TestLoggerSkipsDisabledLevels(t *testing.T) {
	l, buf := newBuffered(stdslog.LevelWarn)

	l.Debug("cache operation failed, retrying", cachemgr.Fields{"attempt": 1})
	l.Info("cache manager ready", nil)
	if buf.Len() != 0 {
		t.Fatalf("disabled levels written: %q", buf.String())
	}
}
