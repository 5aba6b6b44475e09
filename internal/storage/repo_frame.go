package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/namikmesic/genstream/internal/stream"
)

// FrameRows converts frames into COPY rows for stream_frames. Frames whose
// data is not valid JSON are stored with a NULL data_json.
func FrameRows(generationID uuid.UUID, ts time.Time, frames []stream.Frame) [][]any {
	rows := make([][]any, len(frames))
	for i, f := range frames {
		var data any
		if json.Valid([]byte(f.Data)) {
			data = f.Data
		}
		typ := f.Type
		if typ == "" {
			typ = "malformed"
		}
		rows[i] = []any{ts, generationID, f.Index, typ, data, f.RawBytes}
	}
	return rows
}

// InsertFramesJob bulk-inserts the frames of one generation using COPY.
func InsertFramesJob(generationID uuid.UUID, ts time.Time, frames []stream.Frame) WriteJob {
	return NamedJob("insert_frames", func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.CopyFrom(ctx,
			pgx.Identifier{"stream_frames"},
			[]string{"ts", "generation_id", "frame_index", "frame_type", "data_json", "raw_bytes"},
			pgx.CopyFromRows(FrameRows(generationID, ts, frames)),
		)
		return err
	})
}
