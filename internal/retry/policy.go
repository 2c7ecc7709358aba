package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// Policy governs how an operation is attempted. Implementations must be safe
// for concurrent use and keep no per-call state between executions.
type Policy interface {
	Execute(ctx context.Context, op Operation) error
}

// PolicyFunc adapts a function to the Policy interface.
type PolicyFunc func(ctx context.Context, op Operation) error

func (f PolicyFunc) Execute(ctx context.Context, op Operation) error {
	return f(ctx, op)
}

// NoOp attempts the operation exactly once.
var NoOp Policy = PolicyFunc(func(ctx context.Context, op Operation) error {
	return op(ctx)
})

// Chain composes policies so that each wraps every attempt of the next: the
// first policy is the outermost. Chain(Attempts(3, d), breaker) retries an
// operation that is gated by the breaker on every attempt.
func Chain(policies ...Policy) Policy {
	switch len(policies) {
	case 0:
		return NoOp
	case 1:
		return policies[0]
	}

	outer, inner := policies[0], Chain(policies[1:]...)
	return PolicyFunc(func(ctx context.Context, op Operation) error {
		return outer.Execute(ctx, func(ctx context.Context) error {
			return inner.Execute(ctx, op)
		})
	})
}

// Attempts runs the operation up to n times, waiting delay between attempts.
// It stops early on success, on a permanent fault, or when ctx is done. The
// final fault is returned unchanged.
func Attempts(n int, delay time.Duration) Policy {
	if n < 1 {
		n = 1
	}

	return PolicyFunc(func(ctx context.Context, op Operation) error {
		return retryWith(ctx, op, backoff.NewConstantBackOff(delay), n, "attempt failed, retrying")
	})
}

// retryWith drives op through backoff.Retry, translating Permanent faults in
// both directions. b must not be shared between executions.
func retryWith(ctx context.Context, op Operation, b backoff.BackOff, maxAttempts int, msg string) error {
	attempt := 0
	_, err := backoff.Retry(ctx,
		func() (struct{}, error) {
			attempt++
			err := op(ctx)
			if err != nil && IsPermanent(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Ctx(ctx).Debug().
				Err(err).
				Int("attempt", attempt).
				Int("max_attempts", maxAttempts).
				Dur("delay", next).
				Msg(msg)
		}),
	)

	// a permanent fault on the final attempt comes back still wrapped
	var stop *backoff.PermanentError
	if errors.As(err, &stop) {
		return stop.Unwrap()
	}
	return err
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }

func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not retryable. Policies stop at a permanent fault,
// and the Executor hands the unwrapped fault to its hook.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

func unwrapPermanent(err error) error {
	if p, ok := err.(*permanentError); ok {
		return p.err
	}
	return err
}
