package stream

import (
	"fmt"
	"io"
	"net/http"
)

// Encoder writes frames to a response body. Each frame goes out in a single
// Write, followed by a flush when the writer supports it, so that a frame is
// never split by the server side.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
	frames  int
}

func NewEncoder(w io.Writer) *Encoder {
	flusher, _ := w.(http.Flusher)
	return &Encoder{w: w, flusher: flusher}
}

func (e *Encoder) Progress(fullContent string) error {
	return e.Write(Progress{FullContent: fullContent})
}

func (e *Encoder) Complete(result Result, cached bool) error {
	return e.Write(Complete{Result: result, Cached: cached})
}

func (e *Encoder) Error(message string) error {
	return e.Write(Error{Message: message})
}

// Write encodes and sends one event.
func (e *Encoder) Write(ev Event) error {
	frame, err := Encode(ev)
	if err != nil {
		return err
	}
	if _, err := e.w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	e.frames++
	return nil
}

// Frames returns the number of frames written.
func (e *Encoder) Frames() int {
	return e.frames
}
