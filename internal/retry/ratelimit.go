package retry

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited waits for a token from limiter before every attempt. Compose it
// inside a retrying policy with Chain so that retries are throttled too.
func RateLimited(limiter *rate.Limiter) Policy {
	return PolicyFunc(func(ctx context.Context, op Operation) error {
		if err := limiter.Wait(ctx); err != nil {
			return Permanent(err)
		}
		return op(ctx)
	})
}
