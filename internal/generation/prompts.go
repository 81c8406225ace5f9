package generation

const (
	SummaryPoints  = 5
	RelatedTopics  = 5
	QuizQuestions  = 10
	OptionsPerItem = 4
	MinDifficulty  = 1
	MaxDifficulty  = 3
)

const summaryInstruction = `You summarize lecture transcripts into study notes.

Extract exactly 5 distinct key points from the input text. Each point covers a different important aspect of the content and is clear and self-contained. Also name exactly 5 related topics that best represent the core ideas of the input.

Respond with ONLY a JSON object of this exact shape and nothing else:
{
  "summary": ["Point 1", "Point 2", "Point 3", "Point 4", "Point 5"],
  "related_topics": ["Topic 1", "Topic 2", "Topic 3", "Topic 4", "Topic 5"]
}

No markdown, no code fences, no explanation before or after the JSON.`

const quizInstruction = `You write multiple-choice quizzes from lecture transcripts.

Generate 10 questions about the input text. Mix difficulties: easy (1), medium (2) and hard (3). Keep every question and option short so the whole reply stays under 1500 characters.

Each question object has:
- "question": the question text
- "options": exactly 4 answer options
- "correct_answer": 0-based index of the correct option (0 to 3)
- "difficulty": 1, 2 or 3

Respond with ONLY a JSON object of this exact shape and nothing else:
{
  "questions": [
    {"question": "...", "options": ["...", "...", "...", "..."], "correct_answer": 0, "difficulty": 1}
  ]
}

No markdown, no code fences, no explanation before or after the JSON.`
