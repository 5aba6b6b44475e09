// Package generate turns a validated request into one stream of frames:
// prompt the backend, forward its growing text as progress, then parse the
// final text into a result.
package generate

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/namikmesic/genstream/internal/backend"
)

const (
	DefaultMaxInputChars = 4000
	minMaterialChars     = 20
)

// Request is one validated generation request.
type Request struct {
	Kind  backend.Kind
	Input string
	Model string // empty uses the backend default
}

// ValidationError is a request the server rejects before streaming.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

type requestBody struct {
	Notes    string `json:"notes"`
	Text     string `json:"text"`
	Question string `json:"question"`
	Model    string `json:"model"`
}

// InputField names the body field that carries the input for kind.
func InputField(kind backend.Kind) string {
	switch kind {
	case backend.KindFlashcards:
		return "notes"
	case backend.KindQuiz:
		return "text"
	case backend.KindStudyBuddy:
		return "question"
	}
	return ""
}

// ParseRequest decodes and sanitizes a request body for kind. maxChars caps
// the input length; zero uses DefaultMaxInputChars.
func ParseRequest(kind backend.Kind, body []byte, maxChars int) (Request, error) {
	field := InputField(kind)
	if field == "" {
		return Request{}, invalid("unsupported generation kind %q", kind)
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxInputChars
	}

	var rb requestBody
	if err := json.Unmarshal(body, &rb); err != nil {
		return Request{}, invalid("request body must be a JSON object")
	}

	var raw string
	switch kind {
	case backend.KindFlashcards:
		raw = rb.Notes
	case backend.KindQuiz:
		raw = rb.Text
	case backend.KindStudyBuddy:
		raw = rb.Question
	}

	input := Sanitize(raw, maxChars)
	if input == "" {
		return Request{}, invalid("%s is required", field)
	}
	if kind != backend.KindStudyBuddy && utf8.RuneCountInString(input) < minMaterialChars {
		return Request{}, invalid("%s must be at least %d characters", field, minMaterialChars)
	}

	return Request{
		Kind:  kind,
		Input: input,
		Model: Sanitize(rb.Model, 100),
	}, nil
}

// Sanitize trims s, removes angle brackets and caps it at maxChars runes.
func Sanitize(s string, maxChars int) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		if r == '<' || r == '>' {
			return -1
		}
		return r
	}, s)
	if utf8.RuneCountInString(s) > maxChars {
		s = string([]rune(s)[:maxChars])
	}
	return strings.TrimSpace(s)
}
