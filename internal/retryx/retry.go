// Package retryx wraps avast/retry-go with the bounded, per-attempt-timeout
// policy used for calls to OSF and for the provisioning transaction.
package retryx

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
)

// Policy bounds how often and how fast an operation is retried.
type Policy struct {
	// Attempts is the total number of tries, including the first. Zero means one.
	Attempts uint
	// Delay is the initial backoff; it doubles per attempt up to MaxDelay.
	Delay    time.Duration
	MaxDelay time.Duration
	// AttemptTimeout caps a single try. Zero leaves the parent context alone.
	AttemptTimeout time.Duration
}

// DefaultPolicy is used when configuration leaves the policy empty.
var DefaultPolicy = Policy{
	Attempts:       3,
	Delay:          200 * time.Millisecond,
	MaxDelay:       2 * time.Second,
	AttemptTimeout: 15 * time.Second,
}

// RetryIf decides whether an error is worth another attempt.
type RetryIf func(error) bool

// OnRetry is called after each failed attempt that will be retried.
// attempt is zero-based.
type OnRetry func(attempt uint, err error)

// Do runs fn until it succeeds, retryIf rejects the error, the attempt
// budget is spent or ctx is done. The last error is returned unwrapped so
// callers can match it with errors.Is / errors.As.
func Do[T any](ctx context.Context, p Policy, retryIf RetryIf, onRetry OnRetry, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}

	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(p.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	}
	if p.MaxDelay > 0 {
		opts = append(opts, retry.MaxDelay(p.MaxDelay))
	}
	if retryIf != nil {
		opts = append(opts, retry.RetryIf(retry.RetryIfFunc(retryIf)))
	}
	if onRetry != nil {
		opts = append(opts, retry.OnRetry(retry.OnRetryFunc(onRetry)))
	}

	return retry.DoWithData(func() (T, error) {
		actx := ctx
		if p.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
			defer cancel()
		}
		return fn(actx)
	}, opts...)
}
