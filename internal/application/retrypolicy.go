package application

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy computes publish retry delays as base × 2^attempt, capped at max.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Delay returns the wait before the retry that follows attempt (zero based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	d := b.NextBackOff()
	for i := 0; i < attempt && d < p.MaxDelay; i++ {
		d = b.NextBackOff()
	}
	return d
}
