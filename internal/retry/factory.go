package retry

import (
	"fmt"

	"github.com/thomasreuvers/apiease/internal/config"
	"golang.org/x/time/rate"
)

// NewFromConfig builds the policy named by cfg. Circuit breaking and rate
// limiting are layered around the named policy when configured: the limiter
// gates each attempt, and the breaker sees each attempt's outcome.
func NewFromConfig(cfg config.RetryConfig) (Policy, error) {
	var base Policy

	switch cfg.Policy {
	case "", "none":
		base = NoOp
	case "attempts":
		base = Attempts(cfg.MaxAttempts, cfg.InitialInterval())
	case "exponential":
		base = Exponential(ExponentialConfig{
			MaxAttempts:     cfg.MaxAttempts,
			InitialInterval: cfg.InitialInterval(),
			MaxInterval:     cfg.MaxInterval(),
			Multiplier:      cfg.Multiplier,
		})
	default:
		return nil, fmt.Errorf("invalid retry policy %q: must be one of \"none\", \"attempts\" or \"exponential\"", cfg.Policy)
	}

	policies := []Policy{base}

	if cfg.RateLimitRPS > 0 {
		burst := max(cfg.RateLimitBurst, 1)
		policies = append(policies, RateLimited(rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)))
	}

	if cfg.CircuitFailures > 0 {
		policies = append(policies, CircuitBreaker(BreakerConfig{
			FailureThreshold: cfg.CircuitFailures,
			Cooldown:         cfg.CircuitCooldown(),
		}))
	}

	return Chain(policies...), nil
}
