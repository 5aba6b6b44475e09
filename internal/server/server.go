// Package server exposes the generation endpoints. Each POST validates its
// body, then answers with a stream of frames that ends in exactly one
// terminal frame.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/namikmesic/genstream/internal/backend"
	"github.com/namikmesic/genstream/internal/config"
	"github.com/namikmesic/genstream/internal/generate"
	"github.com/namikmesic/genstream/internal/jetstream"
	"github.com/namikmesic/genstream/internal/storage"
	"github.com/namikmesic/genstream/internal/stream"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 64 * 1024

// Enqueuer accepts database writes. *storage.BatchWriter satisfies it.
type Enqueuer interface {
	Enqueue(job storage.WriteJob)
}

type discardWriter struct{}

func (discardWriter) Enqueue(storage.WriteJob) {}

// Handler serves the generation API.
type Handler struct {
	service       *generate.Service
	backend       *backend.Breaker
	writer        Enqueuer
	publisher     Publisher
	maxInputChars int
	mux           *http.ServeMux
}

// NewHandler wires the routes. writer and publisher may be nil, in which
// case generations are served but not recorded. ctx bounds the rate
// limiter's background sweep.
func NewHandler(ctx context.Context, cfg *config.Config, service *generate.Service, gen *backend.Breaker, writer Enqueuer, publisher Publisher) *Handler {
	if writer == nil {
		writer = discardWriter{}
	}
	h := &Handler{
		service:       service,
		backend:       gen,
		writer:        writer,
		publisher:     publisher,
		maxInputChars: cfg.MaxInputChars,
		mux:           http.NewServeMux(),
	}

	limit := newRateLimiter(ctx, cfg.RateLimitPerMin, cfg.RateLimitBurst).middleware
	for _, kind := range []backend.Kind{backend.KindFlashcards, backend.KindQuiz, backend.KindStudyBuddy} {
		h.mux.Handle("POST /api/"+string(kind), limit(h.generation(kind)))
	}
	h.mux.HandleFunc("GET /healthz", h.health)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) generation(kind backend.Kind) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}

		req, err := generate.ParseRequest(kind, body, h.maxInputChars)
		if err != nil {
			var verr *generate.ValidationError
			if errors.As(err, &verr) {
				writeJSONError(w, http.StatusBadRequest, verr.Message)
				return
			}
			log.Error().Err(err).Str("kind", string(kind)).Msg("failed to parse request")
			writeJSONError(w, http.StatusInternalServerError, "failed to parse request")
			return
		}

		id := uuid.New()
		h.writer.Enqueue(storage.InsertGenerationJob(&storage.GenerationRecord{
			ID:         id,
			Timestamp:  start,
			Kind:       string(kind),
			Model:      req.Model,
			Backend:    h.backend.Name(),
			InputChars: len(req.Input),
			RemoteAddr: clientIP(r),
		}))

		setStreamHeaders(w.Header())
		w.Header().Set("X-Generation-Id", id.String())
		w.WriteHeader(http.StatusOK)

		fw := newFrameWriter(w, h.publisher, jetstream.ChunkSubject(id.String()))
		enc := stream.NewEncoder(fw)
		out := h.service.Run(r.Context(), req, enc)

		h.publishDone(id, start)

		ev := log.Info()
		if !out.Completed {
			ev = log.Warn().Str("error", out.ErrorMessage)
		}
		ev.Str("generation_id", id.String()).
			Str("kind", string(kind)).
			Bool("cached", out.Cached).
			Int("frames", enc.Frames()).
			Int("content_chars", out.ContentChars).
			Dur("duration", time.Since(start)).
			Msg("generation streamed")
	})
}

func (h *Handler) publishDone(id uuid.UUID, start time.Time) {
	if h.publisher == nil {
		return
	}
	done, _ := json.Marshal(jetstream.DoneMarker{
		StartedAt:  start.UnixNano(),
		DurationMs: time.Since(start).Milliseconds(),
	})
	if _, err := h.publisher.Publish(jetstream.DoneSubject(id.String()), done); err != nil {
		log.Warn().Err(err).Str("generation_id", id.String()).Msg("failed to publish done marker")
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
	Breaker string `json:"breaker"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Backend: h.backend.Name(),
		Breaker: h.backend.State(),
	}
	if resp.Breaker == "open" {
		resp.Status = "degraded"
	}
	if checker, ok := h.backend.Inner().(interface{ IsHealthy(context.Context) bool }); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if !checker.IsHealthy(ctx) {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
