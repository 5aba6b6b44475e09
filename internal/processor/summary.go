package processor

import "github.com/namikmesic/genstream/internal/stream"

// Terminal states recorded for a generation.
const (
	StateCompleted  = "completed"
	StateFailed     = "failed"
	StateIncomplete = "incomplete" // no terminal frame was sent
)

// Summary is what a client would have observed from a recorded stream.
type Summary struct {
	State          string
	Cached         bool
	ProgressFrames int
	ContentChars   int
	ErrorMessage   string
}

// Summarize folds frames the way the session client does: progress only
// grows, and nothing after the first terminal frame counts.
func Summarize(frames []stream.Frame) Summary {
	sum := Summary{State: StateIncomplete}
	for _, f := range frames {
		switch ev := f.Event.(type) {
		case stream.Progress:
			sum.ProgressFrames++
			if len(ev.FullContent) > sum.ContentChars {
				sum.ContentChars = len(ev.FullContent)
			}
		case stream.Complete:
			sum.State = StateCompleted
			sum.Cached = ev.Cached
			return sum
		case stream.Error:
			sum.State = StateFailed
			sum.ErrorMessage = ev.Message
			return sum
		}
	}
	return sum
}
