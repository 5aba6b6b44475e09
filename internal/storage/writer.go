package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const (
	defaultFlushInterval = 100 * time.Millisecond
	flushTimeout         = 10 * time.Second
)

// WriteJob is one recording write. Name labels the job in logs and in
// Failures.
type WriteJob interface {
	Name() string
	Execute(ctx context.Context, pool *pgxpool.Pool) error
}

// WriteJobFunc adapts a function into a WriteJob named "unnamed".
type WriteJobFunc func(ctx context.Context, pool *pgxpool.Pool) error

func (f WriteJobFunc) Name() string { return "unnamed" }

func (f WriteJobFunc) Execute(ctx context.Context, pool *pgxpool.Pool) error {
	return f(ctx, pool)
}

type namedJob struct {
	name string
	WriteJobFunc
}

func (j namedJob) Name() string { return j.name }

// NamedJob wraps fn in a WriteJob reporting name.
func NamedJob(name string, fn WriteJobFunc) WriteJob {
	return namedJob{name: name, WriteJobFunc: fn}
}

// BatchWriter runs recording writes off the streaming path. Enqueue never
// blocks; a job that does not fit in the buffer is dropped and counted.
type BatchWriter struct {
	pool          *pgxpool.Pool
	queue         chan WriteJob
	batchSize     int
	flushInterval time.Duration
	done          sync.WaitGroup
	closeOnce     sync.Once

	dropped atomic.Int64

	mu       sync.Mutex
	failures map[string]int64
}

// NewBatchWriter starts a writer that runs queued jobs once batchSize of them
// are waiting or flushInterval has passed, whichever comes first.
func NewBatchWriter(pool *pgxpool.Pool, bufferSize, batchSize int, flushInterval time.Duration) *BatchWriter {
	if batchSize <= 0 {
		batchSize = 1
	}
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	w := &BatchWriter{
		pool:          pool,
		queue:         make(chan WriteJob, bufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		failures:      make(map[string]int64),
	}
	w.done.Add(1)
	go w.run()
	return w
}

func (w *BatchWriter) Enqueue(job WriteJob) {
	select {
	case w.queue <- job:
	default:
		w.dropped.Add(1)
		log.Warn().Str("job", job.Name()).Int("queued", len(w.queue)).Msg("recording queue full, dropping write")
	}
}

// Dropped returns how many jobs were discarded because the queue was full.
func (w *BatchWriter) Dropped() int64 { return w.dropped.Load() }

// Failed returns how many jobs returned an error.
func (w *BatchWriter) Failed() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var n int64
	for _, c := range w.failures {
		n += c
	}
	return n
}

// Failures returns the failed job count per job name.
func (w *BatchWriter) Failures() map[string]int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]int64, len(w.failures))
	for name, c := range w.failures {
		out[name] = c
	}
	return out
}

func (w *BatchWriter) run() {
	defer w.done.Done()

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	pending := make([]WriteJob, 0, w.batchSize)
	for {
		select {
		case job, ok := <-w.queue:
			if !ok {
				w.execute(pending)
				return
			}
			pending = append(pending, job)
			if len(pending) < w.batchSize {
				continue
			}
		case <-ticker.C:
		}
		w.execute(pending)
		pending = pending[:0]
	}
}

func (w *BatchWriter) execute(jobs []WriteJob) {
	if len(jobs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	for _, job := range jobs {
		if err := job.Execute(ctx, w.pool); err != nil {
			w.mu.Lock()
			w.failures[job.Name()]++
			w.mu.Unlock()
			log.Error().Err(err).Str("job", job.Name()).Msg("recording write failed")
		}
	}
}

// Shutdown runs whatever is still queued and stops the writer. It is safe to
// call more than once.
func (w *BatchWriter) Shutdown() {
	w.closeOnce.Do(func() { close(w.queue) })
	w.done.Wait()
}
