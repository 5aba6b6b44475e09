package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GenerationRecord is written when a generation starts streaming.
type GenerationRecord struct {
	ID         uuid.UUID
	Timestamp  time.Time
	Kind       string
	Model      string
	Backend    string
	InputChars int
	RemoteAddr string
}

func InsertGenerationJob(r *GenerationRecord) WriteJob {
	return NamedJob("insert_generation", func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, `
			INSERT INTO generations (id, ts, kind, model, backend, input_chars, remote_addr)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (id) DO NOTHING`,
			r.ID, r.Timestamp, r.Kind, nilIfEmpty(r.Model), r.Backend, r.InputChars, nilIfEmpty(r.RemoteAddr),
		)
		return err
	})
}

// OutcomeRecord is the summary of a finished generation as seen on the wire.
type OutcomeRecord struct {
	ID             uuid.UUID
	State          string
	Cached         bool
	ProgressFrames int
	ContentChars   int
	DroppedLines   int
	ErrorMessage   string
	Duration       time.Duration
	FinishedAt     time.Time
}

func UpdateGenerationOutcomeJob(o *OutcomeRecord) WriteJob {
	return NamedJob("update_generation_outcome", func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, `
			UPDATE generations SET
				state = $2,
				cached = $3,
				progress_frames = $4,
				content_chars = $5,
				dropped_lines = $6,
				error_message = $7,
				duration_ms = $8,
				finished_at = $9
			WHERE id = $1`,
			o.ID, o.State, o.Cached, o.ProgressFrames, o.ContentChars, o.DroppedLines,
			nilIfEmpty(o.ErrorMessage), int(o.Duration.Milliseconds()), o.FinishedAt,
		)
		return err
	})
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
