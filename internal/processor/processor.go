// Package processor records generation streams. It consumes the frames the
// HTTP handlers publish to JetStream, decodes them the same way a client
// would, and stores the frames and a per-generation summary.
package processor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/namikmesic/genstream/internal/jetstream"
	"github.com/namikmesic/genstream/internal/storage"
	"github.com/namikmesic/genstream/internal/stream"
	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const (
	consumerName = "genstream-recorder"

	// DefaultIdleTimeout is how long a generation may go without a message
	// before it is recorded without a done marker.
	DefaultIdleTimeout = 10 * time.Minute
	sweepInterval      = time.Minute
)

// Enqueuer accepts database writes. *storage.BatchWriter satisfies it.
type Enqueuer interface {
	Enqueue(job storage.WriteJob)
}

type recording struct {
	parser    *stream.Parser
	frames    []stream.Frame
	startedAt time.Time
	lastSeen  time.Time
}

// Processor handles background recording of generation streams.
type Processor struct {
	writer      Enqueuer
	idleTimeout time.Duration
	now         func() time.Time

	mu     sync.Mutex
	active map[string]*recording
}

// Option configures a Processor.
type Option func(*Processor)

// WithIdleTimeout overrides DefaultIdleTimeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(p *Processor) { p.idleTimeout = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func New(writer Enqueuer, opts ...Option) *Processor {
	p := &Processor{
		writer:      writer,
		idleTimeout: DefaultIdleTimeout,
		now:         time.Now,
		active:      make(map[string]*recording),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// StartConsumer subscribes to every generation subject and blocks until ctx
// is done.
func (p *Processor) StartConsumer(ctx context.Context, js nats.JetStreamContext) error {
	sub, err := js.Subscribe(jetstream.AllGenerations, func(msg *nats.Msg) {
		p.HandleMessage(msg.Subject, msg.Data)
		if err := msg.Ack(); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("failed to ack frame message")
		}
	}, nats.Durable(consumerName), nats.ManualAck(), nats.DeliverAll())
	if err != nil {
		log.Error().Err(err).Msg("failed to subscribe to generation frames")
		return err
	}
	log.Info().Str("subject", jetstream.AllGenerations).Msg("frame recorder started")

	p.sweepIdle(ctx)

	if err := sub.Drain(); err != nil {
		log.Warn().Err(err).Msg("failed to drain frame subscription")
	}
	return nil
}

func (p *Processor) sweepIdle(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.ExpireIdle()
		case <-ctx.Done():
			return
		}
	}
}

// HandleMessage applies one JetStream message. Frame chunks are buffered per
// generation; the done marker flushes them to storage.
func (p *Processor) HandleMessage(subject string, data []byte) {
	id, done, ok := jetstream.ParseSubject(subject)
	if !ok {
		log.Debug().Str("subject", subject).Msg("ignoring unknown subject")
		return
	}

	if !done {
		p.mu.Lock()
		now := p.now()
		rec, exists := p.active[id]
		if !exists {
			rec = &recording{parser: stream.NewParser(), startedAt: now}
			p.active[id] = rec
		}
		rec.lastSeen = now
		rec.frames = append(rec.frames, rec.parser.FeedFrames(data)...)
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	rec := p.active[id]
	delete(p.active, id)
	p.mu.Unlock()

	var marker jetstream.DoneMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		log.Warn().Err(err).Str("generation_id", id).Msg("malformed done marker")
	}
	p.finish(id, rec, marker)
}

// ExpireIdle records every generation that has gone longer than the idle
// timeout without a message, as if its done marker had arrived. It returns
// how many were expired.
func (p *Processor) ExpireIdle() int {
	cutoff := p.now().Add(-p.idleTimeout)

	p.mu.Lock()
	stale := make(map[string]*recording)
	for id, rec := range p.active {
		if rec.lastSeen.Before(cutoff) {
			stale[id] = rec
			delete(p.active, id)
		}
	}
	p.mu.Unlock()

	for id, rec := range stale {
		log.Warn().Str("generation_id", id).Msg("no done marker, recording idle generation")
		p.finish(id, rec, jetstream.DoneMarker{
			StartedAt:  rec.startedAt.UnixNano(),
			DurationMs: rec.lastSeen.Sub(rec.startedAt).Milliseconds(),
		})
	}
	return len(stale)
}

// Pending returns how many generations have frames but no done marker yet.
func (p *Processor) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

func (p *Processor) finish(id string, rec *recording, marker jetstream.DoneMarker) {
	generationID, err := uuid.Parse(id)
	if err != nil {
		log.Warn().Str("generation_id", id).Msg("done marker for malformed generation id")
		return
	}

	ts := p.now()
	if marker.StartedAt > 0 {
		ts = time.Unix(0, marker.StartedAt)
	}

	var frames []stream.Frame
	dropped := 0
	if rec != nil {
		frames = append(rec.frames, rec.parser.Flush()...)
		dropped = rec.parser.Dropped()
	}
	sum := Summarize(frames)

	if len(frames) > 0 {
		p.writer.Enqueue(storage.InsertFramesJob(generationID, ts, frames))
	}
	p.writer.Enqueue(storage.UpdateGenerationOutcomeJob(&storage.OutcomeRecord{
		ID:             generationID,
		State:          sum.State,
		Cached:         sum.Cached,
		ProgressFrames: sum.ProgressFrames,
		ContentChars:   sum.ContentChars,
		DroppedLines:   dropped,
		ErrorMessage:   sum.ErrorMessage,
		Duration:       time.Duration(marker.DurationMs) * time.Millisecond,
		FinishedAt:     p.now(),
	}))

	log.Debug().
		Str("generation_id", id).
		Str("state", sum.State).
		Int("frames", len(frames)).
		Int("progress_frames", sum.ProgressFrames).
		Int("dropped_lines", dropped).
		Msg("generation recorded")
}
