package stream_test

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/namikmesic/genstream/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func TestTeeBody_CopiesEverythingRead(t *testing.T) {
	t.Parallel()

	body := &closeTracker{Reader: strings.NewReader("data: {\"type\":\"progress\",\"fullContent\":\"a\"}\n\n")}
	var transcript bytes.Buffer

	rc := stream.TeeBody(body, &transcript)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	assert.Equal(t, string(got), transcript.String())
	assert.True(t, body.closed)
}

func TestTeeBody_NilWriter(t *testing.T) {
	t.Parallel()

	body := &closeTracker{Reader: strings.NewReader("x")}
	assert.Same(t, body, stream.TeeBody(body, nil))
}
