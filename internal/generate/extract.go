package generate

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/namikmesic/genstream/internal/backend"
	"github.com/namikmesic/genstream/internal/stream"
)

const maxFallbackLines = 6

var (
	ErrNoFlashcards = errors.New("could not parse flashcards from model output")
	ErrNoQuiz       = errors.New("could not parse quiz from model output")
	ErrEmptyAnswer  = errors.New("model returned an empty answer")
)

var listMarker = regexp.MustCompile(`^[0-9.\-*\s]+`)

// Extract parses the final model text for kind into a result.
func Extract(kind backend.Kind, text string) (stream.Result, error) {
	switch kind {
	case backend.KindFlashcards:
		cards := extractFlashcards(text)
		if len(cards) == 0 {
			return stream.Result{}, ErrNoFlashcards
		}
		return stream.Result{Flashcards: cards}, nil

	case backend.KindQuiz:
		quiz := extractQuiz(text)
		if len(quiz) == 0 {
			return stream.Result{}, ErrNoQuiz
		}
		return stream.Result{Quiz: quiz}, nil

	case backend.KindStudyBuddy:
		answer := strings.TrimSpace(text)
		if answer == "" {
			return stream.Result{}, ErrEmptyAnswer
		}
		return stream.Result{Answer: &answer}, nil
	}
	return stream.Result{}, invalid("unsupported generation kind %q", kind)
}

// jsonObject returns the text from the first '{' to the last '}'.
func jsonObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func extractFlashcards(text string) []stream.Flashcard {
	if obj, ok := jsonObject(text); ok {
		var doc struct {
			Flashcards []stream.Flashcard `json:"flashcards"`
		}
		if err := json.Unmarshal([]byte(obj), &doc); err == nil && len(doc.Flashcards) > 0 {
			cards := make([]stream.Flashcard, 0, len(doc.Flashcards))
			for _, c := range doc.Flashcards {
				front, back := strings.TrimSpace(c.Front), strings.TrimSpace(c.Back)
				if front == "" && back == "" {
					continue
				}
				if front == "" {
					front = "Question"
				}
				if back == "" {
					back = "Answer"
				}
				cards = append(cards, stream.Flashcard{Front: front, Back: back})
			}
			return cards
		}
	}
	return flashcardsFromLines(text)
}

// flashcardsFromLines pairs consecutive non-empty lines as front and back.
func flashcardsFromLines(text string) []stream.Flashcard {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}

	var cards []stream.Flashcard
	limit := min(len(lines), maxFallbackLines)
	for i := 0; i+1 < limit; i += 2 {
		front := strings.TrimSpace(listMarker.ReplaceAllString(lines[i], ""))
		back := strings.TrimSpace(listMarker.ReplaceAllString(lines[i+1], ""))
		if front == "" || back == "" {
			continue
		}
		cards = append(cards, stream.Flashcard{Front: front, Back: back})
	}
	return cards
}

func extractQuiz(text string) []stream.QuizQuestion {
	obj, ok := jsonObject(text)
	if !ok {
		return nil
	}
	var doc struct {
		Quiz []stream.QuizQuestion `json:"quiz"`
	}
	if err := json.Unmarshal([]byte(obj), &doc); err != nil {
		return nil
	}

	quiz := make([]stream.QuizQuestion, 0, len(doc.Quiz))
	for _, q := range doc.Quiz {
		if strings.TrimSpace(q.Question) == "" || len(q.Options) < 2 {
			continue
		}
		if q.Correct < 0 || q.Correct >= len(q.Options) {
			continue
		}
		quiz = append(quiz, q)
	}
	return quiz
}
