package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/facechat/pkg/types"
)

// RetryPolicy bounds how a collaborator call is repeated.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first. Values
	// below 1 mean 1.
	MaxAttempts int

	// BaseDelay is the wait before the second attempt. It doubles per attempt.
	BaseDelay time.Duration

	// MaxDelay caps the wait between attempts.
	MaxDelay time.Duration

	// AttemptTimeout bounds each individual attempt. Zero leaves attempts
	// bounded only by the caller's context.
	AttemptTimeout time.Duration

	// Retryable decides whether an error is worth another attempt. Nil uses
	// [types.IsRetryable].
	Retryable func(error) bool
}

// DefaultRetryPolicy returns three attempts with 250 ms base backoff capped
// at 2 s and a 15 s per-attempt timeout.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      250 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		AttemptTimeout: 15 * time.Second,
	}
}

// delay returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// attempts are exhausted, or ctx is done. The error of the last attempt is
// returned unchanged so callers can still inspect it with errors.As.
func Retry[R any](ctx context.Context, policy RetryPolicy, op string, fn func(ctx context.Context) (R, error)) (R, error) {
	retryable := policy.Retryable
	if retryable == nil {
		retryable = types.IsRetryable
	}
	attempts := max(policy.MaxAttempts, 1)

	var (
		zero R
		err  error
	)
	for attempt := 1; ; attempt++ {
		var res R
		res, err = runAttempt(ctx, policy.AttemptTimeout, fn)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil || attempt >= attempts || !retryable(err) {
			return zero, err
		}

		wait := policy.delay(attempt)
		slog.Debug("retrying collaborator call",
			"op", op,
			"attempt", attempt,
			"wait", wait,
			"err", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
	}
}

func runAttempt[R any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (R, error)) (R, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(actx)
}
