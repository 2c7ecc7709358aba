package retry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thomasreuvers/apiease/internal/config"
	"github.com/thomasreuvers/apiease/internal/retry"
)

func TestNewFromConfig(t *testing.T) {
	cases := []struct {
		name          string
		cfg           config.RetryConfig
		expectedCalls int
		expectedErr   string
	}{
		{
			name:          "default is a single attempt",
			cfg:           config.RetryConfig{},
			expectedCalls: 1,
		},
		{
			name:          "none",
			cfg:           config.RetryConfig{Policy: "none", MaxAttempts: 3},
			expectedCalls: 1,
		},
		{
			name:          "attempts",
			cfg:           config.RetryConfig{Policy: "attempts", MaxAttempts: 3},
			expectedCalls: 3,
		},
		{
			name:          "exponential",
			cfg:           config.RetryConfig{Policy: "exponential", MaxAttempts: 2, InitialIntervalMillis: 1, MaxIntervalMillis: 2, Multiplier: 2},
			expectedCalls: 2,
		},
		{
			name:          "attempts with breaker",
			cfg:           config.RetryConfig{Policy: "attempts", MaxAttempts: 3, CircuitFailures: 2, CircuitCooldownSeconds: 30},
			expectedCalls: 2,
		},
		{
			name:          "attempts with limiter",
			cfg:           config.RetryConfig{Policy: "attempts", MaxAttempts: 2, RateLimitRPS: 1000, RateLimitBurst: 5},
			expectedCalls: 2,
		},
		{
			name:        "unknown policy",
			cfg:         config.RetryConfig{Policy: "forever"},
			expectedErr: `invalid retry policy "forever"`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			policy, err := retry.NewFromConfig(tc.cfg)
			if tc.expectedErr != "" {
				require.ErrorContains(t, err, tc.expectedErr)
				return
			}
			require.NoError(t, err)

			calls := 0
			fault := errors.New("fault")
			err = retry.New(policy).Run(context.Background(), func(context.Context) error {
				calls++
				return fault
			})

			assert.Error(t, err)
			assert.Equal(t, tc.expectedCalls, calls)
		})
	}
}
