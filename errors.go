package cachemgr

import (
	"context"
	"errors"
	"fmt"

	"github.com/unkn0wn-root/cachemgr/adapter"
	"github.com/unkn0wn-root/cachemgr/entry"
	"github.com/unkn0wn-root/cachemgr/internal/keys"
)

// ValidationError reports input rejected before any backend call.
// It is never retried.
type ValidationError struct {
	Op     string
	Key    string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("cachemgr: %s %q: %s", e.Op, e.Key, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// KeyTooLongError is wrapped by a ValidationError when a raw key exceeds
// Options.MaxKeyLength.
type KeyTooLongError struct {
	Length int
	Max    int
}

func (e *KeyTooLongError) Error() string {
	return fmt.Sprintf("key length %d exceeds maximum %d", e.Length, e.Max)
}

// OperationError is returned when a backend call still fails after retries.
type OperationError struct {
	Op       string
	Key      string
	Attempts int
	Err      error
}

func (e *OperationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("cachemgr: %s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("cachemgr: %s %q failed after %d attempt(s): %v", e.Op, e.Key, e.Attempts, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

var errNotAlive = errors.New("backend is not alive")

// permanent reports errors that a retry cannot fix.
func permanent(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, adapter.ErrNotSupported) ||
		errors.Is(err, adapter.ErrNotInteger) ||
		errors.Is(err, entry.ErrTooLarge) ||
		errors.Is(err, entry.ErrEncode) ||
		errors.Is(err, keys.ErrInvalidNamespace) ||
		errors.Is(err, keys.ErrEmptyNamespace) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func isValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
