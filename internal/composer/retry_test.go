package composer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoff_Delay(t *testing.T) {
	b := ExponentialBackoff{Initial: time.Second, Max: 5 * time.Second}
	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 4*time.Second, b.Delay(3))
	assert.Equal(t, 5*time.Second, b.Delay(4))
	assert.Equal(t, 5*time.Second, b.Delay(10))
}

func TestNewBackoff(t *testing.T) {
	assert.Equal(t, FixedBackoff{Wait: time.Second}, NewBackoff("fixed", time.Second, time.Minute))
	assert.Equal(t, ExponentialBackoff{Initial: time.Second, Max: time.Minute}, NewBackoff("exponential", time.Second, time.Minute))
}

func recordingPolicy(maxRetries int, backoff Backoff, waits *[]time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxRetries: maxRetries,
		Backoff:    backoff,
		sleep: func(ctx context.Context, d time.Duration) error {
			*waits = append(*waits, d)
			return nil
		},
	}
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	var waits []time.Duration
	p := recordingPolicy(3, ExponentialBackoff{Initial: time.Second, Max: time.Minute}, &waits)
	boom := errors.New("boom")

	attempts := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return boom
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 4, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, waits)
}

func TestRetryPolicy_SucceedsAfterRetry(t *testing.T) {
	var waits []time.Duration
	p := recordingPolicy(3, FixedBackoff{Wait: 10 * time.Second}, &waits)

	attempts := 0
	var retried []int
	err := p.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		retried = append(retried, attempt)
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, retried)
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second}, waits)
}

func TestRetryPolicy_NoRetries(t *testing.T) {
	p := RetryPolicy{}
	attempts := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("boom")
	}, nil)
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryPolicy_ContextCancelled(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, Backoff: FixedBackoff{Wait: time.Hour}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Do(ctx, func(ctx context.Context) error { return errors.New("boom") }, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
