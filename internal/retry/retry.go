// Package retry wraps single-shot calls with bounded retry and exponential
// backoff. Delays are deterministic: attempt i (zero-based) is followed by a
// wait of BaseDelay * 2^i, with no jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

// MaxDelay is the largest wait Delay returns.
const MaxDelay = time.Duration(math.MaxInt64)

// ErrInvalidPolicy is returned when a Policy cannot be used.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// Policy bounds a retried call. It is built per call site and never shared
// state between calls.
type Policy struct {
	MaxAttempts int           // total invocations, at least 1
	BaseDelay   time.Duration // wait after the first failure, doubled each time
}

func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts %d < 1", ErrInvalidPolicy, p.MaxAttempts)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("%w: negative base delay %s", ErrInvalidPolicy, p.BaseDelay)
	}
	return nil
}

// Delay returns the wait that follows the failure of the given zero-based
// attempt. It saturates at MaxDelay instead of overflowing.
func (p Policy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 || attempt < 0 {
		return 0
	}
	if attempt >= 63 || p.BaseDelay > MaxDelay>>attempt {
		return MaxDelay
	}
	return p.BaseDelay << attempt
}

// Call invokes op until it succeeds or the policy's attempts are used up. Every
// error is retried; the error of the last attempt is returned unchanged. If ctx
// is done while waiting between attempts, ctx.Err() is returned.
func Call[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.Validate(); err != nil {
		return zero, err
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if attempt == p.MaxAttempts-1 {
			break
		}

		delay := p.Delay(attempt)
		log.Debug().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", p.MaxAttempts).
			Dur("delay", delay).
			Msg("call failed, retrying")

		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

// Do is Call for operations that only return an error.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Call(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
