package composer

import (
	"context"
	"fmt"
	"time"
)

// Backoff returns the wait before retry number attempt (1-based).
type Backoff interface {
	Delay(attempt int) time.Duration
}

// FixedBackoff waits the same duration before every retry.
type FixedBackoff struct {
	Wait time.Duration
}

func (b FixedBackoff) Delay(int) time.Duration {
	return b.Wait
}

// ExponentialBackoff doubles the wait on every retry up to Max.
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	d := b.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// NewBackoff builds a backoff from its configured name: "exponential" or
// anything else for fixed.
func NewBackoff(strategy string, delay, maxWait time.Duration) Backoff {
	if strategy == "exponential" {
		return ExponentialBackoff{Initial: delay, Max: maxWait}
	}
	return FixedBackoff{Wait: delay}
}

// RetryPolicy runs an operation at most 1+MaxRetries times.
type RetryPolicy struct {
	MaxRetries int
	Backoff    Backoff

	// sleep waits d or until ctx is done; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Do runs op until it succeeds, the retries are exhausted or ctx ends.
// onRetry, when set, is called before each wait.
func (p *RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error, onRetry func(attempt int, err error, wait time.Duration)) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if attempt > p.MaxRetries {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}
		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff.Delay(attempt)
		}
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
