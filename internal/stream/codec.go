package stream

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DataPrefix marks a line that carries a frame. Every other line is ignored.
const DataPrefix = "data: "

// Decode turns one chunk of body text into the events it contains, in order.
// It keeps no state between calls: a line cut off by the chunk boundary simply
// fails to decode and is dropped, as are lines with malformed JSON or an
// unknown type. Callers that read from a network body should use a Parser,
// which holds the partial line until the rest arrives.
func Decode(chunk string) []Event {
	var events []Event
	for _, line := range strings.Split(chunk, "\n") {
		if ev, ok := DecodeLine(line); ok {
			events = append(events, ev)
		}
	}
	return events
}

// DecodeLine decodes a single line. ok is false for anything that is not a
// well-formed data frame of a known type.
func DecodeLine(line string) (ev Event, ok bool) {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, DataPrefix) {
		return nil, false
	}
	ev, _, ok = decodeData(line[len(DataPrefix):])
	return ev, ok
}

// decodeData parses the JSON after the data prefix. typ is returned even when
// the type is unknown so that recorders can keep it.
func decodeData(data string) (ev Event, typ string, ok bool) {
	var f wireFrame
	if err := json.Unmarshal([]byte(data), &f); err != nil {
		return nil, "", false
	}

	switch f.Type {
	case TypeProgress:
		var content string
		if f.FullContent != nil {
			content = *f.FullContent
		}
		return Progress{FullContent: content}, f.Type, true
	case TypeComplete:
		var cached bool
		if f.Cached != nil {
			cached = *f.Cached
		}
		return Complete{
			Result: Result{Flashcards: f.Flashcards, Quiz: f.Quiz, Answer: f.Answer},
			Cached: cached,
		}, f.Type, true
	case TypeError:
		msg := "generation failed"
		if f.Error != nil && *f.Error != "" {
			msg = *f.Error
		}
		return Error{Message: msg}, f.Type, true
	}
	return nil, f.Type, false
}

// Encode renders ev as one frame, including the blank line that follows it.
func Encode(ev Event) ([]byte, error) {
	var f wireFrame
	switch e := ev.(type) {
	case Progress:
		content := e.FullContent
		f = wireFrame{Type: TypeProgress, FullContent: &content}
	case Complete:
		cached := e.Cached
		f = wireFrame{
			Type:       TypeComplete,
			Flashcards: e.Result.Flashcards,
			Quiz:       e.Result.Quiz,
			Answer:     e.Result.Answer,
			Cached:     &cached,
		}
	case Error:
		msg := e.Message
		f = wireFrame{Type: TypeError, Error: &msg}
	default:
		return nil, fmt.Errorf("encode frame: unsupported event %T", ev)
	}

	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	out := make([]byte, 0, len(DataPrefix)+len(data)+2)
	out = append(out, DataPrefix...)
	out = append(out, data...)
	out = append(out, '\n', '\n')
	return out, nil
}
