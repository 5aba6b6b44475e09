// Package backend produces the raw model text behind a generation. The
// generate package turns that text into frames.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/namikmesic/genstream/internal/config"
	"github.com/namikmesic/genstream/internal/retry"
)

// Kind selects what a generation produces.
type Kind string

const (
	KindFlashcards Kind = "flashcards"
	KindQuiz       Kind = "quiz"
	KindStudyBuddy Kind = "study-buddy"
)

// ErrUnavailable is returned while the backend's circuit is open.
var ErrUnavailable = errors.New("model backend unavailable")

// Prompt is one request to the model.
type Prompt struct {
	Kind  Kind
	Text  string
	Model string // empty uses the backend default
}

// Generator streams model output. onText receives the cumulative text each
// time it grows; the full text is also returned on success.
type Generator interface {
	Generate(ctx context.Context, p Prompt, onText func(full string)) (string, error)
	Name() string
}

// New builds the configured generator wrapped in a circuit breaker.
func New(cfg *config.Config) (*Breaker, error) {
	var gen Generator
	switch cfg.Backend {
	case "ollama":
		gen = NewOllama(cfg.OllamaBaseURL, cfg.OllamaModel, NewHTTPClient(), retry.Policy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond,
		})
	case "lorem":
		gen = NewLorem(time.Duration(cfg.LoremWordDelayMs) * time.Millisecond)
	default:
		return nil, fmt.Errorf("unknown backend %q (want: ollama, lorem)", cfg.Backend)
	}
	return NewBreaker(gen, uint32(cfg.BreakerMaxFailures), cfg.BreakerTimeout), nil
}
