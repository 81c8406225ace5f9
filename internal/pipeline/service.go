package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"lectern/internal/audio"
	"lectern/internal/generation"
	"lectern/internal/handoff"
	"lectern/internal/retry"
)

const (
	DefaultClassID        = 1
	DefaultQuizStatus     = 2
	DefaultQuizDifficulty = 1

	StageConditioning  = "conditioning"
	StageTranscription = "transcription"
	StageSummary       = "summary"
	StageQuiz          = "quiz"
)

type Conditioner interface {
	Condition(rec audio.Recording) (audio.Waveform, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, w audio.Waveform) (string, error)
}

type Generator interface {
	Summarize(ctx context.Context, text string) (generation.SummaryResult, error)
	Quiz(ctx context.Context, text string) (generation.QuizResult, error)
}

type Store interface {
	SaveSummary(ctx context.Context, p handoff.SummaryPayload) (json.RawMessage, error)
	SaveQuiz(ctx context.Context, p handoff.QuizPayload) (json.RawMessage, error)
}

type Metrics interface {
	ObserveStage(stage string, duration time.Duration, ok bool)
	ObserveGenerationAttempt(task string, ok bool)
	IncGenerationExhausted(task string)
}

type Options struct {
	QuizMaxAttempts int
	RetryBackoff    time.Duration
	Logger          *slog.Logger
	Metrics         Metrics
}

// Meta is the caller-supplied context a transcript is filed under.
type Meta struct {
	Topic          string
	Heading        string
	SubjectID      string
	TeacherID      string
	ClassID        int
	QuizStatus     int
	QuizDifficulty int
}

func (m Meta) withDefaults() Meta {
	m.Topic = strings.TrimSpace(m.Topic)
	m.Heading = strings.TrimSpace(m.Heading)
	if m.Heading == "" {
		m.Heading = m.Topic
	}
	if m.ClassID == 0 {
		m.ClassID = DefaultClassID
	}
	if m.QuizStatus == 0 {
		m.QuizStatus = DefaultQuizStatus
	}
	if m.QuizDifficulty == 0 {
		m.QuizDifficulty = DefaultQuizDifficulty
	}
	return m
}

type Transcript struct {
	Text string
	Meta Meta
}

type ProcessInput struct {
	Recording audio.Recording
	Meta      Meta
}

type Timings struct {
	Conditioning  time.Duration
	Transcription time.Duration
	Summary       time.Duration
	Quiz          time.Duration
	Total         time.Duration
}

type SummaryOutcome struct {
	Result generation.SummaryResult
	Record json.RawMessage
}

type QuizOutcome struct {
	Result   generation.QuizResult
	Record   json.RawMessage
	Attempts int
}

// ProcessResult holds whatever the pipeline completed. Summary and Quiz are nil
// when their branch failed.
type ProcessResult struct {
	Transcript Transcript
	Summary    *SummaryOutcome
	Quiz       *QuizOutcome
	Timings    Timings
}

type Service struct {
	conditioner Conditioner
	transcriber Transcriber
	generator   Generator
	store       Store
	opts        Options
	logger      *slog.Logger
}

func New(conditioner Conditioner, transcriber Transcriber, generator Generator, store Store, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.QuizMaxAttempts <= 0 {
		opts.QuizMaxAttempts = retry.DefaultMaxAttempts
	}
	return &Service{
		conditioner: conditioner,
		transcriber: transcriber,
		generator:   generator,
		store:       store,
		opts:        opts,
		logger:      logger,
	}
}

// Process runs conditioning and transcription, then the summary and quiz branches
// over the same transcript. A conditioning or transcription failure aborts. The two
// branches are independent; if either fails the first failure is returned together
// with the result of whatever did complete.
func (s *Service) Process(ctx context.Context, in ProcessInput) (ProcessResult, error) {
	started := time.Now()
	var result ProcessResult

	transcript, err := s.transcribe(ctx, in.Recording, in.Meta, &result.Timings)
	if err != nil {
		return ProcessResult{}, err
	}
	result.Transcript = transcript

	branchStarted := time.Now()
	summary, summaryErr := s.Summarize(ctx, transcript)
	result.Timings.Summary = time.Since(branchStarted)
	if summaryErr == nil {
		result.Summary = &summary
	}

	branchStarted = time.Now()
	quiz, quizErr := s.Quiz(ctx, transcript)
	result.Timings.Quiz = time.Since(branchStarted)
	if quizErr == nil {
		result.Quiz = &quiz
	}

	result.Timings.Total = time.Since(started)
	if summaryErr != nil {
		return result, summaryErr
	}
	return result, quizErr
}

// Transcribe conditions a recording and runs the speech model over it.
func (s *Service) Transcribe(ctx context.Context, rec audio.Recording, meta Meta) (Transcript, error) {
	var timings Timings
	return s.transcribe(ctx, rec, meta, &timings)
}

func (s *Service) transcribe(ctx context.Context, rec audio.Recording, meta Meta, timings *Timings) (Transcript, error) {
	stageStarted := time.Now()
	waveform, err := s.conditioner.Condition(rec)
	timings.Conditioning = time.Since(stageStarted)
	s.observeStage(StageConditioning, timings.Conditioning, err)
	if err != nil {
		return Transcript{}, wrap(err)
	}
	s.logger.Debug("recording conditioned",
		"file", rec.Name,
		"sample_rate", waveform.SampleRate,
		"duration_s", waveform.Duration(),
	)

	stageStarted = time.Now()
	text, err := s.transcriber.Transcribe(ctx, waveform)
	timings.Transcription = time.Since(stageStarted)
	s.observeStage(StageTranscription, timings.Transcription, err)
	if err != nil {
		return Transcript{}, wrap(err)
	}
	if text == "" {
		s.logger.Warn("empty transcript", "file", rec.Name)
	}

	return Transcript{Text: text, Meta: meta.withDefaults()}, nil
}

// Summarize generates a summary once and hands it to the store.
func (s *Service) Summarize(ctx context.Context, t Transcript) (SummaryOutcome, error) {
	started := time.Now()
	outcome, err := s.summarize(ctx, t)
	s.observeStage(StageSummary, time.Since(started), err)
	if err != nil {
		s.logger.Error("summary branch failed", "error", err)
		return SummaryOutcome{}, wrap(err)
	}
	return outcome, nil
}

func (s *Service) summarize(ctx context.Context, t Transcript) (SummaryOutcome, error) {
	meta := t.Meta.withDefaults()

	result, err := s.generator.Summarize(ctx, t.Text)
	s.observeAttempt(generation.TaskSummarize, err)
	if err != nil {
		return SummaryOutcome{}, err
	}

	record, err := s.store.SaveSummary(ctx, handoff.SummaryPayload{
		Heading:    meta.Heading,
		Transcript: t.Text,
		Summary:    result.Summary,
		Topics:     result.RelatedTopics,
		ClassID:    meta.ClassID,
		TeacherID:  meta.TeacherID,
	})
	if err != nil {
		return SummaryOutcome{}, err
	}
	return SummaryOutcome{Result: result, Record: record}, nil
}

// Quiz generates a quiz with bounded retries and hands it to the store.
func (s *Service) Quiz(ctx context.Context, t Transcript) (QuizOutcome, error) {
	started := time.Now()
	outcome, err := s.quiz(ctx, t)
	s.observeStage(StageQuiz, time.Since(started), err)
	if err != nil {
		s.logger.Error("quiz branch failed", "error", err)
		return QuizOutcome{}, wrap(err)
	}
	return outcome, nil
}

func (s *Service) quiz(ctx context.Context, t Transcript) (QuizOutcome, error) {
	meta := t.Meta.withDefaults()

	attempts := 0
	policy := retry.Policy{
		MaxAttempts: s.opts.QuizMaxAttempts,
		Backoff:     s.opts.RetryBackoff,
		OnFailure: func(attempt int, err error) {
			s.observeAttempt(generation.TaskQuiz, err)
			s.logger.Warn("quiz attempt failed", "attempt", attempt, "max_attempts", s.opts.QuizMaxAttempts, "error", err)
		},
	}
	result, err := retry.Produce(ctx, policy, func(ctx context.Context) (generation.QuizResult, error) {
		attempts++
		return s.generator.Quiz(ctx, t.Text)
	}, generation.QuizResult.Validate)
	if err != nil {
		if s.opts.Metrics != nil && KindOf(err) == KindGenerationExhausted {
			s.opts.Metrics.IncGenerationExhausted(string(generation.TaskQuiz))
		}
		return QuizOutcome{}, err
	}
	s.observeAttempt(generation.TaskQuiz, nil)

	questions := make([]handoff.QuizQuestion, 0, len(result.Questions))
	for _, q := range result.Questions {
		subtopics := q.Subtopics
		if subtopics == nil {
			subtopics = []string{}
		}
		questions = append(questions, handoff.QuizQuestion{
			Question:      q.Question,
			Options:       q.Options,
			Subtopics:     subtopics,
			Difficulty:    q.Difficulty,
			CorrectAnswer: q.CorrectAnswer,
		})
	}

	record, err := s.store.SaveQuiz(ctx, handoff.QuizPayload{
		Heading:    meta.Heading,
		Topic:      meta.Topic,
		Difficulty: meta.QuizDifficulty,
		ClassID:    meta.ClassID,
		Status:     meta.QuizStatus,
		Questions:  questions,
	})
	if err != nil {
		return QuizOutcome{}, err
	}
	return QuizOutcome{Result: result, Record: record, Attempts: attempts}, nil
}

func (s *Service) observeStage(stage string, d time.Duration, err error) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveStage(stage, d, err == nil)
	}
}

func (s *Service) observeAttempt(task generation.Task, err error) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveGenerationAttempt(string(task), err == nil)
	}
}
