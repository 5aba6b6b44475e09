// Package session drives one generation request at a time and exposes its
// progress as a small state machine: Idle, Streaming, then Completed or Failed.
//
// Each Start opens one HTTP request whose body is read on its own goroutine.
// Start, Restart and Reset bump the session epoch; a read loop whose epoch is
// no longer current cannot change the session or notify the listener.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/namikmesic/genstream/internal/stream"
	"github.com/rs/zerolog/log"
)

const readBufferSize = 32 * 1024

// Client owns a single session. Use one Client per concurrent generation.
type Client struct {
	endpoint   string
	httpClient *http.Client
	listener   Listener
	transcript io.Writer

	// notifyMu serializes a transition with the delivery of its notification,
	// so a listener never sees an older epoch after a newer one.
	notifyMu sync.Mutex

	mu     sync.Mutex
	epoch  uint64
	snap   Snapshot
	cancel context.CancelFunc
	done   chan struct{} // closed when the current epoch ends
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithListener(l Listener) Option {
	return func(c *Client) { c.listener = l }
}

// WithTranscript copies the raw response body of every stream to w.
func WithTranscript(w io.Writer) Option {
	return func(c *Client) { c.transcript = w }
}

// New creates a Client that posts generation requests to endpoint.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		// No timeout: streams are long-lived. Callers bound them with ctx.
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start begins a generation. It returns ErrStreaming if one is already in
// flight, and an error if request cannot be encoded. Everything that goes
// wrong after that is reported through the session state.
func (c *Client) Start(ctx context.Context, request any) error {
	return c.start(ctx, request, false)
}

// Restart abandons any in-flight generation and starts a new one. The old
// read loop may keep running briefly but can no longer change the session.
func (c *Client) Restart(ctx context.Context, request any) error {
	return c.start(ctx, request, true)
}

func (c *Client) start(ctx context.Context, request any, supersede bool) error {
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if c.snap.State == StateStreaming && !supersede {
		c.mu.Unlock()
		return ErrStreaming
	}
	c.endEpochLocked()
	c.epoch++
	epoch := c.epoch
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.snap = Snapshot{
		Epoch:     epoch,
		State:     StateStreaming,
		StartedAt: time.Now(),
	}
	snap := c.snap
	c.mu.Unlock()

	log.Debug().Uint64("epoch", epoch).Str("endpoint", c.endpoint).Msg("generation started")
	c.notify(snap)

	go c.run(loopCtx, epoch, body)
	return nil
}

// Reset returns the session to Idle, abandoning any in-flight generation.
func (c *Client) Reset() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	c.endEpochLocked()
	c.epoch++
	c.snap = Snapshot{Epoch: c.epoch, State: StateIdle}
	snap := c.snap
	c.mu.Unlock()

	c.notify(snap)
}

// Wait blocks until the current generation reaches a terminal state or is
// superseded, then returns the session as it is at that moment.
func (c *Client) Wait(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return c.Snapshot(), ctx.Err()
		}
	}
	return c.Snapshot(), nil
}

func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

func (c *Client) State() State {
	return c.Snapshot().State
}

func (c *Client) Accumulated() string {
	return c.Snapshot().Accumulated
}

// Result returns the final result and whether it was served from cache. The
// result is nil unless the session completed.
func (c *Client) Result() (*stream.Result, bool) {
	s := c.Snapshot()
	return s.Result, s.Cached
}

func (c *Client) Err() error {
	return c.Snapshot().Err
}

// endEpochLocked cancels the current read loop and releases waiters.
func (c *Client) endEpochLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
}

func (c *Client) notify(s Snapshot) {
	if c.listener != nil {
		c.listener(s)
	}
}

// transition applies mutate if epoch is still current and streaming. mutate
// reports whether it changed anything worth a notification. The return value
// is false once the epoch is stale, telling the read loop to stop.
func (c *Client) transition(epoch uint64, mutate func(s *Snapshot) bool) bool {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if epoch != c.epoch || c.snap.State != StateStreaming {
		c.mu.Unlock()
		return false
	}
	if !mutate(&c.snap) {
		c.mu.Unlock()
		return true
	}
	if c.snap.Terminal() {
		c.endEpochLocked()
	}
	snap := c.snap
	c.mu.Unlock()

	if snap.Terminal() {
		ev := log.Debug().
			Uint64("epoch", epoch).
			Str("state", snap.State.String()).
			Int("content_chars", len(snap.Accumulated)).
			Dur("elapsed", time.Since(snap.StartedAt))
		if snap.Err != nil {
			ev = ev.Str("error", snap.Err.Error())
		}
		ev.Msg("generation finished")
	}
	c.notify(snap)
	return true
}

func (c *Client) fail(epoch uint64, err error) {
	c.transition(epoch, func(s *Snapshot) bool {
		s.State = StateFailed
		s.Err = err
		return true
	})
}

// run owns the connection for one epoch and closes it on every exit path.
func (c *Client) run(ctx context.Context, epoch uint64, body []byte) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		c.fail(epoch, fmt.Errorf("create request: %w", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.failTransport(ctx, epoch, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.fail(epoch, statusError(resp))
		return
	}

	c.read(ctx, epoch, stream.TeeBody(resp.Body, c.transcript))
}

func (c *Client) read(ctx context.Context, epoch uint64, body io.Reader) {
	parser := stream.NewParser()
	buf := make([]byte, readBufferSize)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			if stop := c.apply(epoch, parser.Feed(buf[:n])); stop {
				return
			}
		}
		if err == nil {
			continue
		}

		if errors.Is(err, io.EOF) {
			if stop := c.apply(epoch, stream.Events(parser.Flush())); stop {
				return
			}
			log.Warn().
				Uint64("epoch", epoch).
				Int("dropped_frames", parser.Dropped()).
				Msg("stream closed without a terminal frame")
			c.fail(epoch, ErrIncompleteStream)
			return
		}

		c.failTransport(ctx, epoch, err)
		return
	}
}

// apply folds one decoded batch into the session. Only the last progress in
// a batch is observable, so the batch produces at most one notification. It
// returns true when the read loop should stop.
func (c *Client) apply(epoch uint64, events []stream.Event) bool {
	var progress *string
	var terminal stream.Event

scan:
	for _, ev := range events {
		switch e := ev.(type) {
		case stream.Progress:
			content := e.FullContent
			progress = &content
		case stream.Complete, stream.Error:
			terminal = e
			break scan
		}
	}

	if progress == nil && terminal == nil {
		return !c.current(epoch)
	}

	current := c.transition(epoch, func(s *Snapshot) bool {
		changed := false
		if progress != nil && len(*progress) > len(s.Accumulated) {
			s.Accumulated = *progress
			changed = true
		}
		switch e := terminal.(type) {
		case stream.Complete:
			result := e.Result
			s.State = StateCompleted
			s.Result = &result
			s.Cached = e.Cached
			changed = true
		case stream.Error:
			s.State = StateFailed
			s.Err = &BackendError{Message: e.Message}
			changed = true
		}
		return changed
	})
	return !current || terminal != nil
}

func (c *Client) current(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return epoch == c.epoch
}

func (c *Client) failTransport(ctx context.Context, epoch uint64, err error) {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		c.fail(epoch, ErrTimeout)
	case errors.Is(ctx.Err(), context.Canceled):
		// Supersession cancels too; transition drops it when the epoch is stale.
		c.fail(epoch, ErrCanceled)
	default:
		log.Warn().Err(err).Uint64("epoch", epoch).Msg("generation stream transport error")
		c.fail(epoch, ErrTransport)
	}
}

// statusError builds the failure for a non-200 response, preferring the
// server's {"error": "..."} message.
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		msg = body.Error
	}
	return &StatusError{Code: resp.StatusCode, Message: msg}
}
