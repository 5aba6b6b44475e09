package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/namikmesic/genstream/internal/stream"
)

// State is the observable lifecycle of one generation.
type State int

const (
	StateIdle      State = iota // no request outstanding
	StateStreaming              // request open, progress may arrive
	StateCompleted              // terminal: result recorded
	StateFailed                 // terminal: error recorded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transitions can happen without a new
// Start or a Reset.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

var (
	// ErrStreaming is returned by Start while a generation is in flight.
	ErrStreaming = errors.New("generation already in progress")

	// ErrIncompleteStream means the body closed before a terminal frame.
	ErrIncompleteStream = errors.New("stream ended unexpectedly")

	// ErrTransport covers connection resets, DNS failures and other read errors.
	ErrTransport = errors.New("network error while streaming")

	// ErrTimeout means the caller's deadline expired mid-stream.
	ErrTimeout = errors.New("generation timed out")

	// ErrCanceled means the caller's context was cancelled mid-stream.
	ErrCanceled = errors.New("generation canceled")
)

// BackendError carries the message of an error frame verbatim.
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string {
	return e.Message
}

// StatusError is reported when the server rejects the request before
// streaming, e.g. a validation failure.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("generation request failed with status %d", e.Code)
	}
	return fmt.Sprintf("generation request failed with status %d: %s", e.Code, e.Message)
}

// Snapshot is a copy of the session at one point in time.
type Snapshot struct {
	Epoch       uint64 // increments on every Start, Restart and Reset
	State       State
	Accumulated string
	StartedAt   time.Time
	Result      *stream.Result // set in StateCompleted
	Cached      bool
	Err         error // set in StateFailed
}

// ErrorMessage returns the human-readable cause of a failed session.
func (s Snapshot) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

func (s Snapshot) Terminal() bool {
	return s.State.Terminal()
}

// Listener receives every transition in order. It runs synchronously on the
// goroutine that caused the transition; it may call the read accessors but
// must not call Start, Restart or Reset.
type Listener func(Snapshot)
