package jetstream

import (
	"errors"
	"strings"
	"time"

	nats "github.com/nats-io/nats.go"
)

const (
	StreamName    = "GENSTREAM"
	SubjectPrefix = "genstream.gen."
	doneSuffix    = ".done"

	// AllGenerations matches the frame and done subjects of every generation.
	AllGenerations = SubjectPrefix + ">"
)

func EnsureStream(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"genstream.>"},
		Storage:   nats.FileStorage,
		MaxAge:    24 * time.Hour,
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) && !strings.Contains(err.Error(), "already exists") {
		return err
	}
	return nil
}

// ChunkSubject carries the raw frames of one generation.
func ChunkSubject(generationID string) string {
	return SubjectPrefix + generationID
}

// DoneSubject carries the end-of-stream marker of one generation.
func DoneSubject(generationID string) string {
	return SubjectPrefix + generationID + doneSuffix
}

// ParseSubject splits a subject published by ChunkSubject or DoneSubject.
func ParseSubject(subject string) (generationID string, done bool, ok bool) {
	rest, found := strings.CutPrefix(subject, SubjectPrefix)
	if !found || rest == "" {
		return "", false, false
	}
	if id, isDone := strings.CutSuffix(rest, doneSuffix); isDone {
		return id, true, id != ""
	}
	return rest, false, !strings.Contains(rest, ".")
}

// DoneMarker is the payload published on DoneSubject.
type DoneMarker struct {
	StartedAt  int64 `json:"ts"` // unix nanoseconds
	DurationMs int64 `json:"duration_ms"`
}
