package generate

import (
	"fmt"

	"github.com/namikmesic/genstream/internal/backend"
)

const flashcardsPrompt = `You are an expert educational content creator. Create high-quality flashcards from the following notes that will help students learn effectively.

INSTRUCTIONS:
- Generate 5-8 flashcards covering the most important concepts
- Create diverse question types: definitions, explanations, examples, and applications
- Make questions clear, specific, and educational
- Keep answers concise but complete (1-3 sentences max)
- Focus on understanding, not just memorization

Return ONLY valid JSON in exactly this format with no extra text:

{"flashcards":[{"front":"Question text","back":"Answer text"}]}

STUDY MATERIAL:
%s

JSON Response:`

const quizPrompt = `You are an expert quiz creator and educator. Create a multiple choice quiz from the following text that tests comprehension and critical thinking.

INSTRUCTIONS:
- Generate 4-6 multiple choice questions
- Create 4 options per question with plausible distractors
- Avoid "all of the above" or "none of the above" options
- "correct" is the zero-based index of the right option
- Include an explanation that teaches why the answer is correct

OUTPUT FORMAT (JSON only, no other text):
{"quiz":[{"question":"Question?","options":["A","B","C","D"],"correct":0,"explanation":"Why A is right"}]}

SOURCE MATERIAL:
%s

Generate the JSON now:`

const studyBuddyPrompt = `You are an enthusiastic and knowledgeable AI study buddy. Help the student learn by giving a clear, engaging explanation.

INSTRUCTIONS:
- Start with a direct answer to the question
- Break down complex concepts into digestible parts
- Provide examples or analogies when helpful
- Keep the response focused but thorough (2-4 paragraphs)
- End with encouragement or next steps for learning

Student's Question: %s

Provide a helpful, educational response:`

// BuildPrompt renders the model prompt for a request.
func BuildPrompt(req Request) backend.Prompt {
	var tmpl string
	switch req.Kind {
	case backend.KindFlashcards:
		tmpl = flashcardsPrompt
	case backend.KindQuiz:
		tmpl = quizPrompt
	default:
		tmpl = studyBuddyPrompt
	}
	return backend.Prompt{
		Kind:  req.Kind,
		Text:  fmt.Sprintf(tmpl, req.Input),
		Model: req.Model,
	}
}
