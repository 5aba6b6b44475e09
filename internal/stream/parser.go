package stream

import (
	"bytes"
	"strings"

	"github.com/rs/zerolog/log"
)

// Frame is one data line as it appeared on the wire.
type Frame struct {
	Index    int    // ordinal within this stream, starting at 1
	Type     string // value of the "type" field, empty if the JSON did not parse
	Data     string // raw JSON after the data prefix
	RawBytes int    // byte length of the line including its newline
	Event    Event  // nil when the frame was dropped
}

// Parser maintains state across chunks to handle partial lines. A Parser
// belongs to a single stream and is not safe for concurrent use.
type Parser struct {
	buffer     []byte
	frameIndex int
	dropped    int
}

func NewParser() *Parser {
	return &Parser{}
}

// Feed processes raw bytes from the body and returns the events of every line
// completed by this chunk.
func (p *Parser) Feed(chunk []byte) []Event {
	return Events(p.FeedFrames(chunk))
}

// FeedFrames is Feed for callers that also need the raw frames.
func (p *Parser) FeedFrames(chunk []byte) []Frame {
	p.buffer = append(p.buffer, chunk...)
	var frames []Frame

	for {
		idx := bytes.IndexByte(p.buffer, '\n')
		if idx == -1 {
			break
		}

		line := string(p.buffer[:idx])
		p.buffer = p.buffer[idx+1:]

		if f, ok := p.frame(line, len(line)+1); ok {
			frames = append(frames, f)
		}
	}

	return frames
}

// Flush decodes a final line that was never terminated by a newline. Call it
// once the body has hit EOF.
func (p *Parser) Flush() []Frame {
	if len(p.buffer) == 0 {
		return nil
	}
	line := string(p.buffer)
	p.buffer = nil
	if f, ok := p.frame(line, len(line)); ok {
		return []Frame{f}
	}
	return nil
}

// Dropped returns how many data lines failed to decode so far.
func (p *Parser) Dropped() int {
	return p.dropped
}

func (p *Parser) frame(line string, rawBytes int) (Frame, bool) {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, DataPrefix) {
		// blank separators, comments, event: fields
		return Frame{}, false
	}

	data := line[len(DataPrefix):]
	p.frameIndex++
	ev, typ, ok := decodeData(data)
	if !ok {
		p.dropped++
		log.Debug().
			Int("frame_index", p.frameIndex).
			Str("type", typ).
			Int("bytes", rawBytes).
			Msg("dropping undecodable frame")
	}

	return Frame{
		Index:    p.frameIndex,
		Type:     typ,
		Data:     data,
		RawBytes: rawBytes,
		Event:    ev,
	}, true
}

// Events extracts the decoded events from frames, skipping dropped ones.
func Events(frames []Frame) []Event {
	var events []Event
	for _, f := range frames {
		if f.Event != nil {
			events = append(events, f.Event)
		}
	}
	return events
}
