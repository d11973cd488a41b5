// Package backoff computes how long a transaction root waits before
// retrying a conflicted attempt.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Linear waits Base*k plus a uniform jitter in [0, Jitter) before retry k.
// A zero Linear never waits.
type Linear struct {
	Base   time.Duration
	Jitter time.Duration
}

// Delay returns the wait before the given 1-based retry. Results saturate
// at the largest time.Duration.
func (l Linear) Delay(retry int) time.Duration {
	var d time.Duration

	if l.Base > 0 && retry > 0 {
		if int64(l.Base) > math.MaxInt64/int64(retry) {
			return math.MaxInt64
		}

		d = l.Base * time.Duration(retry)
	}

	j := jitter(l.Jitter)
	if d > math.MaxInt64-j {
		return math.MaxInt64
	}

	return d + j
}

// jitter only spreads colliding retries apart, so it uses the runtime's
// auto-seeded generator.
func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}

	return time.Duration(rand.Int64N(int64(limit))) //nolint:gosec
}

// Sleep waits for d or until ctx is done, returning context.Cause(ctx) in
// the latter case. Non-positive durations return at once.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
