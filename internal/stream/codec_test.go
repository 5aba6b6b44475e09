package stream_test

import (
	"testing"

	"github.com/namikmesic/genstream/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_MalformedLineBetweenProgressFrames(t *testing.T) {
	t.Parallel()

	chunk := "data: {\"type\":\"progress\",\"fullContent\":\"Pho\"}\n" +
		"data: {\"type\":\"progress\",\"fullCont\n" +
		"data: {\"type\":\"progress\",\"fullContent\":\"Photosyn\"}\n"

	events := stream.Decode(chunk)

	require.Len(t, events, 2)
	assert.Equal(t, stream.Progress{FullContent: "Pho"}, events[0])
	assert.Equal(t, stream.Progress{FullContent: "Photosyn"}, events[1])
}

func TestDecode_IgnoresNonDataLines(t *testing.T) {
	t.Parallel()

	chunk := ": keep-alive\n\nevent: progress\nid: 7\n" +
		"data: {\"type\":\"progress\",\"fullContent\":\"a\"}\n\n" +
		"data:{\"type\":\"progress\",\"fullContent\":\"no space\"}\n"

	events := stream.Decode(chunk)

	require.Len(t, events, 1)
	assert.Equal(t, stream.Progress{FullContent: "a"}, events[0])
}

func TestDecode_UnknownTypeDropped(t *testing.T) {
	t.Parallel()

	chunk := "data: {\"type\":\"heartbeat\"}\n" +
		"data: {\"fullContent\":\"missing type\"}\n" +
		"data: {\"type\":\"error\",\"error\":\"model overloaded\"}\n"

	events := stream.Decode(chunk)

	require.Len(t, events, 1)
	assert.Equal(t, stream.Error{Message: "model overloaded"}, events[0])
}

func TestDecode_CompleteVariants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		line  string
		check func(t *testing.T, c stream.Complete)
	}{
		{
			name: "flashcards",
			line: `data: {"type":"complete","flashcards":[{"front":"ATP","back":"Energy currency"}],"cached":false}`,
			check: func(t *testing.T, c stream.Complete) {
				require.Len(t, c.Result.Flashcards, 1)
				assert.Equal(t, stream.Flashcard{Front: "ATP", Back: "Energy currency"}, c.Result.Flashcards[0])
				assert.False(t, c.Cached)
			},
		},
		{
			name: "quiz",
			line: `data: {"type":"complete","quiz":[{"question":"2+2?","options":["3","4"],"correct":1,"explanation":"math"}],"cached":true}`,
			check: func(t *testing.T, c stream.Complete) {
				require.Len(t, c.Result.Quiz, 1)
				assert.Equal(t, 1, c.Result.Quiz[0].Correct)
				assert.Equal(t, []string{"3", "4"}, c.Result.Quiz[0].Options)
				assert.True(t, c.Cached)
			},
		},
		{
			name: "answer without cached field",
			line: `data: {"type":"complete","answer":"Mitochondria."}`,
			check: func(t *testing.T, c stream.Complete) {
				require.NotNil(t, c.Result.Answer)
				assert.Equal(t, "Mitochondria.", *c.Result.Answer)
				assert.False(t, c.Cached)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ev, ok := stream.DecodeLine(tt.line)
			require.True(t, ok)
			c, isComplete := ev.(stream.Complete)
			require.True(t, isComplete, "got %T", ev)
			tt.check(t, c)
		})
	}
}

func TestDecode_ErrorWithoutMessage(t *testing.T) {
	t.Parallel()

	ev, ok := stream.DecodeLine(`data: {"type":"error"}`)
	require.True(t, ok)
	assert.Equal(t, stream.Error{Message: "generation failed"}, ev)
}

func TestDecode_CRLF(t *testing.T) {
	t.Parallel()

	events := stream.Decode("data: {\"type\":\"progress\",\"fullContent\":\"x\"}\r\n\r\n")
	require.Len(t, events, 1)
	assert.Equal(t, stream.Progress{FullContent: "x"}, events[0])
}

func TestEncode_DecodesBack(t *testing.T) {
	t.Parallel()

	answer := "Because of Rayleigh scattering."
	var body []byte
	for _, ev := range []stream.Event{
		stream.Progress{FullContent: "Because"},
		stream.Progress{FullContent: "Because of Rayleigh"},
		stream.Complete{Result: stream.Result{Answer: &answer}},
	} {
		frame, err := stream.Encode(ev)
		require.NoError(t, err)
		body = append(body, frame...)
	}

	events := stream.Decode(string(body))
	require.Len(t, events, 3)
	assert.Equal(t, stream.Progress{FullContent: "Because"}, events[0])
	assert.Equal(t, stream.Progress{FullContent: "Because of Rayleigh"}, events[1])
	c := events[2].(stream.Complete)
	assert.Equal(t, answer, *c.Result.Answer)
	assert.True(t, stream.IsTerminal(c))
	assert.False(t, stream.IsTerminal(events[0]))
}

func TestEncode_CompleteAlwaysCarriesCached(t *testing.T) {
	t.Parallel()

	frame, err := stream.Encode(stream.Complete{Result: stream.Result{
		Flashcards: []stream.Flashcard{{Front: "f", Back: "b"}},
	}})
	require.NoError(t, err)
	assert.Equal(t,
		"data: {\"type\":\"complete\",\"flashcards\":[{\"front\":\"f\",\"back\":\"b\"}],\"cached\":false}\n\n",
		string(frame))
}
