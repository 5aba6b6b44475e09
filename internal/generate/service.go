package generate

import (
	"context"
	"errors"
	"time"

	"github.com/namikmesic/genstream/internal/backend"
	"github.com/namikmesic/genstream/internal/stream"
	"github.com/rs/zerolog/log"
)

// Sink receives the frames of one generation. *stream.Encoder satisfies it.
type Sink interface {
	Progress(fullContent string) error
	Complete(result stream.Result, cached bool) error
	Error(message string) error
}

var _ Sink = (*stream.Encoder)(nil)

// Outcome summarizes a finished generation.
type Outcome struct {
	Completed      bool
	Cached         bool
	ProgressFrames int
	ContentChars   int
	ErrorMessage   string
	Elapsed        time.Duration
}

// Service runs generations against one backend.
type Service struct {
	gen              backend.Generator
	cache            *Cache
	progressInterval time.Duration
}

// NewService creates a Service. cache may be nil to disable caching.
// Progress frames are sent at most once per progressInterval; zero sends one
// per backend update.
func NewService(gen backend.Generator, cache *Cache, progressInterval time.Duration) *Service {
	return &Service{gen: gen, cache: cache, progressInterval: progressInterval}
}

// Run streams one generation into sink and always ends it with exactly one
// terminal frame, unless the sink itself fails.
func (s *Service) Run(ctx context.Context, req Request, sink Sink) (out Outcome) {
	start := time.Now()
	defer func() { out.Elapsed = time.Since(start) }()

	key := CacheKey(req.Kind, req.Model, req.Input)
	if s.cache != nil {
		if result, ok := s.cache.Get(key); ok {
			log.Debug().Str("kind", string(req.Kind)).Msg("serving cached result")
			out.Cached = true
			out.Completed = sink.Complete(result, true) == nil
			return out
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var lastSent string
	var lastAt time.Time
	var sinkErr error
	sendProgress := func(full string) {
		if sinkErr != nil || len(full) <= len(lastSent) {
			return
		}
		if err := sink.Progress(full); err != nil {
			sinkErr = err
			cancel()
			return
		}
		lastSent, lastAt = full, time.Now()
		out.ProgressFrames++
	}

	text, err := s.gen.Generate(ctx, BuildPrompt(req), func(full string) {
		if time.Since(lastAt) < s.progressInterval {
			return
		}
		sendProgress(full)
	})
	out.ContentChars = len(text)

	if sinkErr != nil {
		out.ErrorMessage = "client disconnected"
		log.Debug().Err(sinkErr).Str("kind", string(req.Kind)).Msg("stopped generation, sink failed")
		return out
	}
	if err != nil {
		out.ErrorMessage = failureMessage(req.Kind, err)
		log.Error().Err(err).Str("kind", string(req.Kind)).Str("backend", s.gen.Name()).Msg("generation failed")
		_ = sink.Error(out.ErrorMessage)
		return out
	}

	// the last progress frame always carries the full text
	sendProgress(text)
	if sinkErr != nil {
		out.ErrorMessage = "client disconnected"
		return out
	}

	result, err := Extract(req.Kind, text)
	if err != nil {
		out.ErrorMessage = err.Error()
		log.Warn().Err(err).Str("kind", string(req.Kind)).Int("content_chars", len(text)).Msg("unusable model output")
		_ = sink.Error(out.ErrorMessage)
		return out
	}

	if s.cache != nil {
		s.cache.Put(key, result)
	}
	out.Completed = sink.Complete(result, false) == nil
	return out
}

// failureMessage is the error frame text for a backend failure.
func failureMessage(kind backend.Kind, err error) string {
	switch {
	case errors.Is(err, backend.ErrUnavailable):
		return backend.ErrUnavailable.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "generation timed out"
	}
	switch kind {
	case backend.KindFlashcards:
		return "Failed to generate flashcards"
	case backend.KindQuiz:
		return "Failed to generate quiz"
	}
	return "Failed to get study buddy response"
}
