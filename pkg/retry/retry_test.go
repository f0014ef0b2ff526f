package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstantBackoff(t *testing.T) {
	b := ConstantBackoff{}
	initial := 100 * time.Millisecond
	for attempt := 0; attempt < 5; attempt++ {
		assert.Equal(t, initial, b.Delay(attempt, initial))
	}
}

func TestLinearBackoff(t *testing.T) {
	b := LinearBackoff{}
	initial := 100 * time.Millisecond
	assert.Equal(t, 100*time.Millisecond, b.Delay(0, initial))
	assert.Equal(t, 200*time.Millisecond, b.Delay(1, initial))
	assert.Equal(t, 300*time.Millisecond, b.Delay(2, initial))
}

func TestExponentialBackoffDefaultMultiplier(t *testing.T) {
	b := ExponentialBackoff{}
	initial := 100 * time.Millisecond
	assert.Equal(t, 100*time.Millisecond, b.Delay(0, initial))
	assert.Equal(t, 200*time.Millisecond, b.Delay(1, initial))
	assert.Equal(t, 400*time.Millisecond, b.Delay(2, initial))
	assert.Equal(t, 800*time.Millisecond, b.Delay(3, initial))
}

func TestFibonacciBackoff(t *testing.T) {
	b := FibonacciBackoff{}
	initial := 100 * time.Millisecond
	assert.Equal(t, 100*time.Millisecond, b.Delay(0, initial))  // fib(1)=1
	assert.Equal(t, 100*time.Millisecond, b.Delay(1, initial))  // fib(2)=1
	assert.Equal(t, 200*time.Millisecond, b.Delay(2, initial))  // fib(3)=2
	assert.Equal(t, 300*time.Millisecond, b.Delay(3, initial))  // fib(4)=3
	assert.Equal(t, 500*time.Millisecond, b.Delay(4, initial))  // fib(5)=5
	assert.Equal(t, 800*time.Millisecond, b.Delay(5, initial))  // fib(6)=8
}

func TestPolynomialBackoff(t *testing.T) {
	b := PolynomialBackoff{Exponent: 2.0}
	initial := 100 * time.Millisecond
	assert.Equal(t, 100*time.Millisecond, b.Delay(0, initial))
	assert.Equal(t, 400*time.Millisecond, b.Delay(1, initial))
	assert.Equal(t, 900*time.Millisecond, b.Delay(2, initial))
}

func TestNoJitter(t *testing.T) {
	j := NoJitter{}
	d := 500 * time.Millisecond
	assert.Equal(t, d, j.Apply(d, 0))
}

func TestFullJitterBounds(t *testing.T) {
	j := FullJitter{}
	d := 500 * time.Millisecond
	for i := 0; i < 100; i++ {
		got := j.Apply(d, 0)
		assert.GreaterOrEqual(t, got, time.Duration(0))
		assert.Less(t, got, d)
	}
}

func TestEqualJitterBounds(t *testing.T) {
	j := EqualJitter{}
	d := 500 * time.Millisecond
	for i := 0; i < 100; i++ {
		got := j.Apply(d, 0)
		assert.GreaterOrEqual(t, got, d/2)
		assert.Less(t, got, d)
	}
}

func TestBoundedJitterBounds(t *testing.T) {
	j := BoundedJitter{Percentage: 0.1}
	d := 1000 * time.Millisecond
	for i := 0; i < 100; i++ {
		got := j.Apply(d, 0)
		assert.GreaterOrEqual(t, got, 900*time.Millisecond)
		assert.LessOrEqual(t, got, 1100*time.Millisecond)
	}
}

func TestIsTransientErrorMessage(t *testing.T) {
	transient := []string{
		"connection refused", "connection reset by peer", "operation timed out",
		"service unavailable", "rate limit exceeded", "ECONNRESET",
		"no route to host",
	}
	for _, msg := range transient {
		assert.True(t, IsTransientErrorMessage(msg), msg)
	}
	assert.False(t, IsTransientErrorMessage("invalid argument"))
	assert.False(t, IsTransientErrorMessage("permission denied"))
}

func TestDoSucceedsWithoutRetry(t *testing.T) {
	p := NewPolicy()
	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	p := NewPolicy(
		WithMaxRetries(5),
		WithInitialDelay(1*time.Millisecond),
		WithBackoff(ConstantBackoff{}),
		WithJitter(NoJitter{}),
	)
	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsMaxRetries(t *testing.T) {
	p := NewPolicy(
		WithMaxRetries(2),
		WithInitialDelay(1*time.Millisecond),
		WithBackoff(ConstantBackoff{}),
		WithJitter(NoJitter{}),
	)
	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		return errors.New("connection refused")
	})
	require.Error(t, err)
	var maxExceeded *MaxRetriesExceeded
	require.ErrorAs(t, err, &maxExceeded)
	assert.Equal(t, 3, calls) // initial attempt + 2 retries
	assert.Equal(t, 3, maxExceeded.Attempts)
}

func TestDoConditionRejectsRetry(t *testing.T) {
	p := NewPolicy(
		WithMaxRetries(5),
		WithCondition(func(err error) bool { return false }),
	)
	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		return errors.New("some permanent error")
	})
	require.Error(t, err)
	var notMet *ConditionNotMet
	require.ErrorAs(t, err, &notMet)
	assert.Equal(t, 1, calls)
}

func TestDoNonTransientErrorDoesNotRetry(t *testing.T) {
	p := NewPolicy(WithMaxRetries(5))
	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		return errors.New("permission denied")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRespectsTotalTimeout(t *testing.T) {
	p := NewPolicy(
		WithMaxRetries(100),
		WithInitialDelay(20*time.Millisecond),
		WithBackoff(ConstantBackoff{}),
		WithJitter(NoJitter{}),
		WithMaxTotalTime(30*time.Millisecond),
	)
	err := Do(context.Background(), p, func(ctx context.Context) error {
		return errors.New("connection reset")
	})
	require.Error(t, err)
	var totalTimeout *TotalTimeoutExceeded
	require.ErrorAs(t, err, &totalTimeout)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewPolicy()
	err := Do(ctx, p, func(ctx context.Context) error {
		return errors.New("connection refused")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestContextCanRetry(t *testing.T) {
	rc := &Context{MaxRetries: 3, StartTime: time.Now()}
	assert.True(t, rc.CanRetry())
	assert.Equal(t, 3, rc.RemainingRetries())
	rc.Attempt = 3
	assert.False(t, rc.CanRetry())
	assert.Equal(t, 0, rc.RemainingRetries())
}
