package retry

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned without attempting the operation while the
// breaker is open, or while a half-open breaker already has its probes in
// flight. Retrying policies treat it as permanent.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the state of a Breaker.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a Breaker. Zero values take defaults.
type BreakerConfig struct {
	// Name identifies the breaker in logs. Defaults to "upstream".
	Name string

	// FailureThreshold is the number of consecutive failures that opens the
	// breaker. Defaults to 5.
	FailureThreshold int

	// Cooldown is how long the breaker stays open before letting probes
	// through. Defaults to 60s.
	Cooldown time.Duration

	// SuccessThreshold is the number of successful probes that closes a
	// half-open breaker. It also bounds how many probes may be in flight at
	// once. Defaults to 1.
	SuccessThreshold int
}

// Breaker is a circuit breaker policy. A single Breaker should be shared by
// every call to the same upstream so that failures accumulate.
type Breaker struct {
	cb *gobreaker.CircuitBreaker[struct{}]
}

// CircuitBreaker creates a Breaker.
func CircuitBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "upstream"
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}

	threshold := uint32(cfg.FailureThreshold)

	return &Breaker{
		cb: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: uint32(cfg.SuccessThreshold),
			Timeout:     cfg.Cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			// cancellation says nothing about the health of the upstream
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				ev := log.Info()
				if to == gobreaker.StateOpen {
					ev = log.Warn().Dur("cooldown", cfg.Cooldown)
				}
				ev.Str("breaker", name).
					Stringer("from", from).
					Stringer("to", to).
					Msg("circuit breaker state changed")
			},
		}),
	}
}

// State reports the current state of the breaker.
func (b *Breaker) State() BreakerState {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

func (b *Breaker) Execute(ctx context.Context, op Operation) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, op(ctx)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Permanent(ErrCircuitOpen)
	}

	return err
}
