package generation

import (
	"errors"
	"fmt"
	"strings"
)

// Task selects the schema the backend is instructed to emit.
type Task string

const (
	TaskSummarize Task = "summarize"
	TaskQuiz      Task = "quiz"
)

func (t Task) Instruction() string {
	switch t {
	case TaskSummarize:
		return summaryInstruction
	case TaskQuiz:
		return quizInstruction
	default:
		return ""
	}
}

type Reason string

const (
	ReasonTransport Reason = "transport"
	ReasonParse     Reason = "parse"
	ReasonInvalid   Reason = "invalid"
)

// Error is returned for every generation failure; there is no partial success.
type Error struct {
	Task   Task
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s generation failed (%s): %v", e.Task, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrNoQuestions is reported by QuizResult.Validate for an empty question list.
var ErrNoQuestions = errors.New("quiz contains no questions")

type SummaryResult struct {
	Summary       []string `json:"summary"`
	RelatedTopics []string `json:"related_topics"`
}

type QuestionItem struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correct_answer"`
	Difficulty    int      `json:"difficulty"`
	Subtopics     []string `json:"subtopics,omitempty"`
}

type QuizResult struct {
	Questions []QuestionItem `json:"questions"`
}

// Validate is the structural predicate a summary must pass before it is final.
func (r SummaryResult) Validate() error {
	if err := checkList("summary", r.Summary, SummaryPoints); err != nil {
		return err
	}
	return checkList("related_topics", r.RelatedTopics, RelatedTopics)
}

// Validate is the structural predicate a quiz must pass before it is final.
func (r QuizResult) Validate() error {
	if len(r.Questions) == 0 {
		return ErrNoQuestions
	}
	return nil
}

func checkList(field string, values []string, want int) error {
	if len(values) != want {
		return fmt.Errorf("%s has %d entries, want %d", field, len(values), want)
	}
	for i, v := range values {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s[%d] is blank", field, i)
		}
	}
	return nil
}

// wire types use pointers so absent required fields are distinguishable from zero.
type wireSummary struct {
	Summary       []string `json:"summary"`
	RelatedTopics []string `json:"related_topics"`
}

type wireQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer *int     `json:"correct_answer"`
	Difficulty    *int     `json:"difficulty"`
	Subtopics     []string `json:"subtopics"`
}

type wireQuiz struct {
	Questions []wireQuestion `json:"questions"`
}

func (w wireSummary) result() (SummaryResult, error) {
	r := SummaryResult{Summary: w.Summary, RelatedTopics: w.RelatedTopics}
	if err := r.Validate(); err != nil {
		return SummaryResult{}, err
	}
	return r, nil
}

func (w wireQuiz) result() (QuizResult, error) {
	if w.Questions == nil {
		return QuizResult{}, errors.New("questions field is missing")
	}
	out := QuizResult{Questions: make([]QuestionItem, 0, len(w.Questions))}
	for i, q := range w.Questions {
		item, err := q.item()
		if err != nil {
			return QuizResult{}, fmt.Errorf("questions[%d]: %w", i, err)
		}
		out.Questions = append(out.Questions, item)
	}
	return out, nil
}

func (q wireQuestion) item() (QuestionItem, error) {
	if strings.TrimSpace(q.Question) == "" {
		return QuestionItem{}, errors.New("question is blank")
	}
	if len(q.Options) != OptionsPerItem {
		return QuestionItem{}, fmt.Errorf("has %d options, want %d", len(q.Options), OptionsPerItem)
	}
	if q.CorrectAnswer == nil {
		return QuestionItem{}, errors.New("correct_answer is missing")
	}
	if *q.CorrectAnswer < 0 || *q.CorrectAnswer >= OptionsPerItem {
		return QuestionItem{}, fmt.Errorf("correct_answer %d out of range [0,%d)", *q.CorrectAnswer, OptionsPerItem)
	}
	if q.Difficulty == nil {
		return QuestionItem{}, errors.New("difficulty is missing")
	}
	if *q.Difficulty < MinDifficulty || *q.Difficulty > MaxDifficulty {
		return QuestionItem{}, fmt.Errorf("difficulty %d out of range [%d,%d]", *q.Difficulty, MinDifficulty, MaxDifficulty)
	}
	return QuestionItem{
		Question:      q.Question,
		Options:       q.Options,
		CorrectAnswer: *q.CorrectAnswer,
		Difficulty:    *q.Difficulty,
		Subtopics:     q.Subtopics,
	}, nil
}
