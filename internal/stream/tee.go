package stream

import (
	"io"
)

// TeeReadCloser copies everything read from a response body into a
// transcript writer. Closing it closes the body only; the transcript belongs
// to the caller.
type TeeReadCloser struct {
	reader io.Reader
	body   io.ReadCloser
}

// TeeBody wraps body so that every byte the reader consumes is also written
// to w. A nil w returns body unchanged.
func TeeBody(body io.ReadCloser, w io.Writer) io.ReadCloser {
	if w == nil {
		return body
	}
	return &TeeReadCloser{
		reader: io.TeeReader(body, w),
		body:   body,
	}
}

func (t *TeeReadCloser) Read(p []byte) (int, error) {
	return t.reader.Read(p)
}

func (t *TeeReadCloser) Close() error {
	return t.body.Close()
}
