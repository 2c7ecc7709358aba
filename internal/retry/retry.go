// Package retry runs operations under an injected resilience policy and
// funnels faults that escape the policy to an overridable hook.
//
// The Executor holds no retry logic of its own: fixed attempts, exponential
// backoff, circuit breaking and rate limiting are all Policy values, and
// callers choose (or compose) the one that suits the API they call.
package retry

import (
	"context"
)

// Operation is a unit of work run under a policy. It receives the context of
// the current attempt.
type Operation func(ctx context.Context) error

// ExceptionHandler receives a fault that escaped the policy. Returning the
// fault (or another error) propagates it to the caller; returning nil
// swallows it.
type ExceptionHandler func(ctx context.Context, err error) error

// Rethrow is the default ExceptionHandler: it returns the fault unchanged.
func Rethrow(_ context.Context, err error) error {
	return err
}

// Executor adapts call sites to a Policy.
type Executor struct {
	policy  Policy
	handler ExceptionHandler
}

type Option func(*Executor)

// WithExceptionHandler replaces the default Rethrow hook.
func WithExceptionHandler(handler ExceptionHandler) Option {
	return func(e *Executor) {
		if handler != nil {
			e.handler = handler
		}
	}
}

// New creates an Executor for policy. A nil policy runs operations once.
func New(policy Policy, opts ...Option) *Executor {
	if policy == nil {
		policy = NoOp
	}

	e := &Executor{
		policy:  policy,
		handler: Rethrow,
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Run executes op under the policy. A fault escaping the policy is returned
// through the exception hook.
func (e *Executor) Run(ctx context.Context, op Operation) error {
	err := e.policy.Execute(ctx, op)
	if err == nil {
		return nil
	}

	return e.handler(ctx, unwrapPermanent(err))
}

// Execute runs op under the executor's policy and returns its result. When
// the hook swallows a fault, the zero value of T is returned with a nil
// error.
func Execute[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error)) (T, error) {
	var result T

	err := e.policy.Execute(ctx, func(ctx context.Context) error {
		r, err := op(ctx)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		var zero T
		return zero, e.handler(ctx, unwrapPermanent(err))
	}

	return result, nil
}
