package stream

// Frame types carried in the "type" field of a data line.
const (
	TypeProgress = "progress"
	TypeComplete = "complete"
	TypeError    = "error"
)

// Event is one decoded frame. The unexported marker keeps the set closed to
// Progress, Complete and Error.
type Event interface {
	event()
}

// Progress carries the cumulative text generated so far, not a delta.
type Progress struct {
	FullContent string
}

// Complete is the terminal success event.
type Complete struct {
	Result Result
	Cached bool // served from the backend's result cache
}

// Error is the terminal failure event. Message is the backend's text verbatim.
type Error struct {
	Message string
}

func (Progress) event() {}
func (Complete) event() {}
func (Error) event() {}

var (
	_ Event = Progress{}
	_ Event = Complete{}
	_ Event = Error{}
)

// IsTerminal reports whether ev ends a stream.
func IsTerminal(ev Event) bool {
	switch ev.(type) {
	case Complete, Error:
		return true
	}
	return false
}

// Result is the structured output of a generation. Exactly one of the fields
// is populated, depending on the endpoint that produced it.
type Result struct {
	Flashcards []Flashcard    `json:"flashcards,omitempty"`
	Quiz       []QuizQuestion `json:"quiz,omitempty"`
	Answer     *string        `json:"answer,omitempty"`
}

type Flashcard struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

type QuizQuestion struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	Correct     int      `json:"correct"` // index into Options
	Explanation string   `json:"explanation"`
}

// wireFrame is the JSON object after the "data: " prefix.
type wireFrame struct {
	Type        string         `json:"type"`
	FullContent *string        `json:"fullContent,omitempty"`
	Flashcards  []Flashcard    `json:"flashcards,omitempty"`
	Quiz        []QuizQuestion `json:"quiz,omitempty"`
	Answer      *string        `json:"answer,omitempty"`
	Cached      *bool          `json:"cached,omitempty"`
	Error       *string        `json:"error,omitempty"`
}
