package server

import (
	"net/http"

	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Publisher sends raw frames to JetStream. nats.JetStreamContext satisfies it.
type Publisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// frameWriter writes each frame to the client and publishes a copy for the
// recorder. A publish failure never breaks the client stream.
type frameWriter struct {
	w         http.ResponseWriter
	flusher   http.Flusher
	publisher Publisher
	subject   string
	failed    bool
}

func newFrameWriter(w http.ResponseWriter, publisher Publisher, subject string) *frameWriter {
	flusher, _ := w.(http.Flusher)
	return &frameWriter{w: w, flusher: flusher, publisher: publisher, subject: subject}
}

func (f *frameWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err != nil {
		return n, err
	}
	f.publish(p)
	return n, nil
}

func (f *frameWriter) Flush() {
	if f.flusher != nil {
		f.flusher.Flush()
	}
}

func (f *frameWriter) publish(p []byte) {
	if f.publisher == nil || f.failed {
		return
	}
	if _, err := f.publisher.Publish(f.subject, p); err != nil {
		// one warning per stream; the recording is incomplete from here on
		f.failed = true
		log.Warn().Err(err).Str("subject", f.subject).Msg("failed to publish frame")
	}
}
