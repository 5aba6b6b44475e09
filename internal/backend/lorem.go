package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	loremgen "github.com/bozaro/golorem"
)

var _ Generator = (*Lorem)(nil)

// Lorem is an offline generator for development and tests. It writes
// lorem ipsum shaped like the requested kind and streams it word by word.
type Lorem struct {
	mu        sync.Mutex // golorem's generator is not safe for concurrent use
	generator *loremgen.Lorem
	wordDelay time.Duration
}

func NewLorem(wordDelay time.Duration) *Lorem {
	return &Lorem{
		generator: loremgen.New(),
		wordDelay: wordDelay,
	}
}

func (l *Lorem) Name() string { return "lorem" }

func (l *Lorem) Generate(ctx context.Context, p Prompt, onText func(full string)) (string, error) {
	doc, err := l.document(p.Kind)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for _, word := range strings.SplitAfter(doc, " ") {
		if l.wordDelay > 0 {
			select {
			case <-time.After(l.wordDelay):
			case <-ctx.Done():
				return text.String(), ctx.Err()
			}
		} else if err := ctx.Err(); err != nil {
			return text.String(), err
		}

		text.WriteString(word)
		if onText != nil {
			onText(text.String())
		}
	}
	return text.String(), nil
}

func (l *Lorem) document(kind Kind) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch kind {
	case KindFlashcards:
		type card struct {
			Front string `json:"front"`
			Back  string `json:"back"`
		}
		cards := make([]card, 5)
		for i := range cards {
			cards[i] = card{
				Front: strings.TrimSuffix(l.generator.Sentence(3, 8), ".") + "?",
				Back:  l.generator.Sentence(5, 12),
			}
		}
		return marshalDoc(map[string]any{"flashcards": cards})

	case KindQuiz:
		type question struct {
			Question    string   `json:"question"`
			Options     []string `json:"options"`
			Correct     int      `json:"correct"`
			Explanation string   `json:"explanation"`
		}
		quiz := make([]question, 4)
		for i := range quiz {
			options := make([]string, 4)
			for j := range options {
				options[j] = l.generator.Word(4, 10)
			}
			quiz[i] = question{
				Question:    strings.TrimSuffix(l.generator.Sentence(5, 10), ".") + "?",
				Options:     options,
				Correct:     i % len(options),
				Explanation: l.generator.Sentence(6, 14),
			}
		}
		return marshalDoc(map[string]any{"quiz": quiz})

	case KindStudyBuddy:
		paragraphs := make([]string, 3)
		for i := range paragraphs {
			paragraphs[i] = l.generator.Paragraph(2, 4)
		}
		return strings.Join(paragraphs, "\n\n"), nil
	}
	return "", fmt.Errorf("lorem: unsupported kind %q", kind)
}

func marshalDoc(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("lorem: %w", err)
	}
	return string(b), nil
}
