package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ExponentialConfig configures the Exponential policy.
type ExponentialConfig struct {
	// MaxAttempts bounds the total number of attempts, including the first.
	MaxAttempts int

	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// Exponential retries with exponentially growing, jittered delays. Faults
// marked with Permanent stop retrying immediately.
func Exponential(cfg ExponentialConfig) Policy {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	return PolicyFunc(func(ctx context.Context, op Operation) error {
		// backoff state is per execution; the policy itself is shared
		b := backoff.NewExponentialBackOff()
		if cfg.InitialInterval > 0 {
			b.InitialInterval = cfg.InitialInterval
		}
		if cfg.MaxInterval > 0 {
			b.MaxInterval = cfg.MaxInterval
		}
		if cfg.Multiplier > 1 {
			b.Multiplier = cfg.Multiplier
		}

		return retryWith(ctx, op, b, cfg.MaxAttempts, "attempt failed, backing off")
	})
}
