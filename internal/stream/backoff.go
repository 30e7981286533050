package stream

import (
	"context"
	"math/rand"
	"time"
)

// BackoffConfig describes exponential retry delays. Attempts are 1-based.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	// Jitter scales each delay by a random factor in [0.5, 1.5).
	Jitter bool
}

// Delay returns the pause before retry number attempt. rng may be nil, in
// which case jitter uses the midpoint factor.
func (c BackoffConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	if c.InitialDelay <= 0 {
		return 0
	}
	mult := c.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(c.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= mult
		if c.MaxDelay > 0 && delay >= float64(c.MaxDelay) {
			delay = float64(c.MaxDelay)
			break
		}
	}
	if c.Jitter {
		factor := 1.0
		if rng != nil {
			factor = 0.5 + rng.Float64()
		}
		delay *= factor
	}
	return time.Duration(delay)
}

// Wait sleeps for Delay(attempt) or until ctx is done, returning ctx.Err()
// in the latter case.
func (c BackoffConfig) Wait(ctx context.Context, attempt int, rng *rand.Rand) error {
	timer := time.NewTimer(c.Delay(attempt, rng))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
