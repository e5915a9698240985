// Package retry re-runs an operation that lost an optimistic concurrency race.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy bounds the number of attempts and the delay between them.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Attempts: 3, BaseDelay: 5 * time.Millisecond}
}

// Do calls fn until it succeeds, returns an error for which retryable is
// false, or the attempts run out. The last error is returned.
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func(attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(attempt); err == nil || !retryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		timer := time.NewTimer(jittered(p.BaseDelay, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// jittered returns a random delay in [0, base*2^attempt).
func jittered(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt > 16 {
		attempt = 16
	}
	limit := int64(base) << attempt
	return time.Duration(rand.Int64N(limit))
}
