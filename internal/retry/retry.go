// Package retry holds the backoff policy used around backend calls.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes a bounded exponential backoff with jitter.
// Attempts counts the first call, so Attempts=3 means at most two retries.
type Policy struct {
	Attempts   int
	BaseDelay  time.Duration
	Multiplier float64
	Jitter     float64 // randomization factor in [0,1]
	MaxDelay   time.Duration
}

// NewBackOff builds a fresh backoff.BackOff for one operation.
func (p Policy) NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.MaxInterval = p.MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()

	retries := p.Attempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithMaxRetries(b, uint64(retries))
}

// Delays returns the planned wait before each retry. Randomized when Jitter > 0.
func (p Policy) Delays() []time.Duration {
	b := p.NewBackOff()
	var out []time.Duration
	for {
		d := b.NextBackOff()
		if d == backoff.Stop {
			return out
		}
		out = append(out, d)
	}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a Permanent error, the policy is
// exhausted, or ctx ends. notify is called before every retry with the
// failed attempt's error. It returns the number of attempts made.
func (p Policy) Do(ctx context.Context, op func() error, notify func(attempt int, err error, wait time.Duration)) (int, error) {
	attempts := 0
	wrapped := func() error {
		attempts++
		return op()
	}
	var n backoff.Notify
	if notify != nil {
		n = func(err error, d time.Duration) { notify(attempts, err, d) }
	}
	err := backoff.RetryNotify(wrapped, backoff.WithContext(p.NewBackOff(), ctx), n)
	return attempts, err
}
