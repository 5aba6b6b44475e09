package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/namikmesic/genstream/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCall_SucceedsFirstTry(t *testing.T) {
	t.Parallel()

	calls := 0
	v, err := retry.Call(context.Background(), retry.Policy{MaxAttempts: 3, BaseDelay: time.Hour},
		func(context.Context) (string, error) {
			calls++
			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 1, calls)
}

func TestCall_RecoversAfterFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	v, err := retry.Call(context.Background(), retry.Policy{MaxAttempts: 4, BaseDelay: time.Millisecond},
		func(context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, errors.New("connection refused")
			}
			return 42, nil
		})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestCall_BackoffTimingAndFinalError(t *testing.T) {
	t.Parallel()

	finalErr := errors.New("attempt 3 failed")
	var stamps []time.Time
	_, err := retry.Call(context.Background(), retry.Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond},
		func(context.Context) (struct{}, error) {
			stamps = append(stamps, time.Now())
			if len(stamps) == 3 {
				return struct{}{}, finalErr
			}
			return struct{}{}, errors.New("transient")
		})

	require.Len(t, stamps, 3)
	assert.Same(t, finalErr, err)

	first := stamps[1].Sub(stamps[0])
	second := stamps[2].Sub(stamps[1])
	assert.GreaterOrEqual(t, first, 100*time.Millisecond)
	assert.Less(t, first, 200*time.Millisecond)
	assert.GreaterOrEqual(t, second, 200*time.Millisecond)
	assert.Less(t, second, 350*time.Millisecond)
}

func TestCall_SingleAttemptDoesNotSleep(t *testing.T) {
	t.Parallel()

	start := time.Now()
	err := retry.Do(context.Background(), retry.Policy{MaxAttempts: 1, BaseDelay: time.Hour},
		func(context.Context) error { return errors.New("nope") })

	require.EqualError(t, err, "nope")
	assert.Less(t, time.Since(start), time.Second)
}

func TestCall_InvalidPolicy(t *testing.T) {
	t.Parallel()

	for _, p := range []retry.Policy{
		{MaxAttempts: 0},
		{MaxAttempts: 2, BaseDelay: -time.Second},
	} {
		called := false
		err := retry.Do(context.Background(), p, func(context.Context) error {
			called = true
			return nil
		})
		require.ErrorIs(t, err, retry.ErrInvalidPolicy)
		assert.False(t, called)
	}
}

func TestCall_ContextCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retry.Do(ctx, retry.Policy{MaxAttempts: 5, BaseDelay: time.Hour},
		func(context.Context) error {
			calls++
			cancel()
			return errors.New("transient")
		})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestPolicy_Delay(t *testing.T) {
	t.Parallel()

	p := retry.Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 800*time.Millisecond, p.Delay(3))
	assert.Zero(t, retry.Policy{MaxAttempts: 2}.Delay(4))
}

func TestPolicy_DelaySaturates(t *testing.T) {
	t.Parallel()

	p := retry.Policy{MaxAttempts: 40, BaseDelay: 250 * time.Millisecond}
	assert.Equal(t, retry.MaxDelay, p.Delay(36))
	assert.Equal(t, retry.MaxDelay, p.Delay(63))
	assert.Equal(t, retry.MaxDelay, p.Delay(200))
	for attempt := 0; attempt < 70; attempt++ {
		assert.Positive(t, p.Delay(attempt), "attempt %d", attempt)
	}
	assert.Equal(t, 250*time.Millisecond<<30, p.Delay(30))
}
