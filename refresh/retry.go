package refresh

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// Schedule returns the delays slept between attempts: maxRetries values
// starting at base and doubling (1s, 2s, 4s for 3 retries from 1s).
func Schedule(maxRetries int, base time.Duration) []time.Duration {
	if maxRetries <= 0 || base <= 0 {
		return nil
	}

	backoff := retry.WithMaxRetries(uint64(maxRetries), retry.NewExponential(base))
	delays := make([]time.Duration, 0, maxRetries)
	for {
		d, stop := backoff.Next()
		if stop {
			return delays
		}
		delays = append(delays, d)
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real-time SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
