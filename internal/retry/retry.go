// Package retry implements the jittered-backoff envelope spec.md §7 assigns
// to every transient-I/O call site (Bitcoin RPC, DA dispatch, coordinator
// HTTP). It generalizes the retry loop the teacher hand-rolled in
// chain/mempool/client.go's doRequest into a reusable wrapper over
// cenkalti/backoff/v4.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Permanent marks an error as non-retryable — a permanent failure per
// spec.md §7 (e.g. insufficient funds) that should be surfaced immediately
// rather than retried. Mirrors backoff.Permanent but keeps the taxonomy
// name this codebase's error handling design uses.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Policy configures a retry envelope. The zero value makes a single attempt
// with no retries; DefaultPolicy gives the usual settings.
type Policy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy matches the teacher's mempool client defaults (3 retries,
// 1s base delay), the baseline used for the Bitcoin RPC client.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
	}
}

// Do runs fn under an exponential backoff schedule with jitter, stopping
// early on a Permanent error or context cancellation. It returns the last
// error encountered once MaxRetries is exhausted.
func Do(ctx context.Context, policy Policy, fn func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.InitialInterval
	eb.MaxInterval = policy.MaxInterval
	eb.MaxElapsedTime = 0 // bounded by MaxRetries, not wall-clock

	bo := backoff.WithContext(
		backoff.WithMaxRetries(eb, policy.MaxRetries), ctx,
	)

	var lastErr error
	err := backoff.Retry(func() error {
		lastErr = fn()
		return lastErr
	}, bo)

	if err == nil {
		return nil
	}

	var permErr *backoff.PermanentError
	if errors.As(err, &permErr) {
		return permErr.Unwrap()
	}

	return lastErr
}
