package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
)

const (
	defaultBreakerMaxFailures uint32 = 5
	defaultBreakerTimeout            = 30 * time.Second
	defaultBreakerInterval           = 60 * time.Second
)

var _ Generator = (*Breaker)(nil)

// Breaker fails generations fast once the wrapped generator has failed
// MaxFailures times in a row, until Timeout has passed.
type Breaker struct {
	inner   Generator
	breaker *gobreaker.CircuitBreaker[string]
}

func NewBreaker(inner Generator, maxFailures uint32, timeout time.Duration) *Breaker {
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	if timeout <= 0 {
		timeout = defaultBreakerTimeout
	}

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "backend:" + inner.Name(),
		MaxRequests: 1, // one probe while half-open
		Interval:    defaultBreakerInterval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
		IsSuccessful: func(err error) bool {
			// cancelled requests do not count against the backend
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &Breaker{inner: inner, breaker: cb}
}

func (b *Breaker) Generate(ctx context.Context, p Prompt, onText func(full string)) (string, error) {
	text, err := b.breaker.Execute(func() (string, error) {
		return b.inner.Generate(ctx, p, onText)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: %s circuit open", ErrUnavailable, b.inner.Name())
	}
	return text, err
}

func (b *Breaker) Name() string { return b.inner.Name() }

// State returns the breaker state for health reporting.
func (b *Breaker) State() string {
	return b.breaker.State().String()
}

// Inner returns the wrapped generator.
func (b *Breaker) Inner() Generator {
	return b.inner
}
