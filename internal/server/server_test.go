package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/namikmesic/genstream/internal/backend"
	"github.com/namikmesic/genstream/internal/config"
	"github.com/namikmesic/genstream/internal/generate"
	"github.com/namikmesic/genstream/internal/jetstream"
	"github.com/namikmesic/genstream/internal/server"
	"github.com/namikmesic/genstream/internal/session"
	"github.com/namikmesic/genstream/internal/storage"
	"github.com/namikmesic/genstream/internal/stream"
	nats "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs map[string][][]byte
	err  error
}

func (p *fakePublisher) Publish(subj string, data []byte, _ ...nats.PubOpt) (*nats.PubAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if p.msgs == nil {
		p.msgs = make(map[string][][]byte)
	}
	p.msgs[subj] = append(p.msgs[subj], append([]byte(nil), data...))
	return &nats.PubAck{Stream: jetstream.StreamName}, nil
}

func (p *fakePublisher) subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for s := range p.msgs {
		out = append(out, s)
	}
	return out
}

type countingWriter struct {
	mu   sync.Mutex
	jobs int
}

func (c *countingWriter) Enqueue(storage.WriteJob) {
	c.mu.Lock()
	c.jobs++
	c.mu.Unlock()
}

func (c *countingWriter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobs
}

func (p *fakePublisher) messages(subj string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.msgs[subj]
}

func testConfig() *config.Config {
	return &config.Config{
		MaxInputChars:   generate.DefaultMaxInputChars,
		RateLimitPerMin: 600,
		RateLimitBurst:  50,
	}
}

func newTestServer(t *testing.T, cfg *config.Config, gen backend.Generator, pub server.Publisher, w server.Enqueuer) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	breaker := backend.NewBreaker(gen, 0, 0)
	svc := generate.NewService(breaker, generate.NewCache(0, 0), 0)
	srv := httptest.NewServer(server.NewHandler(ctx, cfg, svc, breaker, w, pub))
	t.Cleanup(srv.Close)
	return srv
}

func generateOnce(t *testing.T, url string, body any) session.Snapshot {
	t.Helper()
	client := session.New(url)
	require.NoError(t, client.Start(context.Background(), body))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := client.Wait(ctx)
	require.NoError(t, err)
	return snap
}

func TestHandler_StreamsFlashcardsToClient(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	writer := &countingWriter{}
	srv := newTestServer(t, testConfig(), backend.NewLorem(time.Millisecond), pub, writer)

	var progress []string
	client := session.New(srv.URL+"/api/flashcards", session.WithListener(func(s session.Snapshot) {
		if s.State == session.StateStreaming && s.Accumulated != "" {
			progress = append(progress, s.Accumulated)
		}
	}))
	require.NoError(t, client.Start(context.Background(), map[string]string{
		"notes": "The mitochondria is the powerhouse of the cell.",
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := client.Wait(ctx)
	require.NoError(t, err)

	require.Equal(t, session.StateCompleted, snap.State, snap.ErrorMessage())
	require.NotNil(t, snap.Result)
	assert.Len(t, snap.Result.Flashcards, 5)
	assert.False(t, snap.Cached)
	assert.NotEmpty(t, progress)
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, len(progress[i]), len(progress[i-1]))
	}

	assert.Equal(t, 1, writer.count())
	// the done marker is published after the terminal frame reaches the client
	require.Eventually(t, func() bool { return len(pub.subjects()) == 2 }, time.Second, 5*time.Millisecond)
	subjects := pub.subjects()

	var chunk string
	for _, s := range subjects {
		if !strings.HasSuffix(s, ".done") {
			chunk = s
		}
	}
	var published []stream.Event
	for _, msg := range pub.messages(chunk) {
		published = append(published, stream.Decode(string(msg))...)
	}
	require.NotEmpty(t, published)
	assert.IsType(t, stream.Complete{}, published[len(published)-1])
}

func TestHandler_SecondRequestIsCached(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, testConfig(), backend.NewLorem(0), nil, nil)
	body := map[string]string{"question": "What is photosynthesis?"}

	first := generateOnce(t, srv.URL+"/api/study-buddy", body)
	second := generateOnce(t, srv.URL+"/api/study-buddy", body)

	require.Equal(t, session.StateCompleted, first.State)
	require.Equal(t, session.StateCompleted, second.State)
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, *first.Result.Answer, *second.Result.Answer)
	assert.Empty(t, second.Accumulated)
}

func TestHandler_ValidationError(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, testConfig(), backend.NewLorem(0), nil, nil)

	snap := generateOnce(t, srv.URL+"/api/quiz", map[string]string{"text": "short"})

	require.Equal(t, session.StateFailed, snap.State)
	var serr *session.StatusError
	require.ErrorAs(t, snap.Err, &serr)
	assert.Equal(t, http.StatusBadRequest, serr.Code)
	assert.Equal(t, "text must be at least 20 characters", serr.Message)
}

type failingGenerator struct{}

func (failingGenerator) Name() string { return "failing" }

func (failingGenerator) Generate(_ context.Context, _ backend.Prompt, onText func(string)) (string, error) {
	onText("partial")
	return "partial", errors.New("model crashed")
}

func TestHandler_BackendErrorFrame(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, testConfig(), failingGenerator{}, &fakePublisher{err: errors.New("nats down")}, nil)

	snap := generateOnce(t, srv.URL+"/api/study-buddy", map[string]string{"question": "Why is the sky blue?"})

	require.Equal(t, session.StateFailed, snap.State)
	var berr *session.BackendError
	require.ErrorAs(t, snap.Err, &berr)
	assert.Equal(t, "Failed to get study buddy response", berr.Message)
	assert.Equal(t, "partial", snap.Accumulated)
}

func TestHandler_StreamHeaders(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, testConfig(), backend.NewLorem(0), nil, nil)

	resp, err := http.Post(srv.URL+"/api/study-buddy", "application/json", strings.NewReader(`{"question":"What is DNA?"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))
	assert.NotEmpty(t, resp.Header.Get("X-Generation-Id"))
}

func TestHandler_MethodAndRoute(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, testConfig(), backend.NewLorem(0), nil, nil)

	resp, err := http.Get(srv.URL + "/api/quiz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/poems", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_RateLimit(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.RateLimitPerMin = 1
	cfg.RateLimitBurst = 2
	srv := newTestServer(t, cfg, backend.NewLorem(0), nil, nil)

	var codes []int
	for i := 0; i < 3; i++ {
		resp, err := http.Post(srv.URL+"/api/quiz", "application/json", strings.NewReader(`{"text":"x"}`))
		require.NoError(t, err)
		codes = append(codes, resp.StatusCode)
		resp.Body.Close()
	}
	assert.Equal(t, []int{http.StatusBadRequest, http.StatusBadRequest, http.StatusTooManyRequests}, codes)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandler_Health(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, testConfig(), backend.NewLorem(0), nil, nil)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, map[string]string{"status": "ok", "backend": "lorem", "breaker": "closed"}, body)
}
