package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"lectern/internal/upstream/openai"
)

type ChatClient interface {
	ChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type Generator struct {
	client ChatClient
	opts   Options
}

func New(client ChatClient, opts Options) *Generator {
	opts.Model = strings.TrimSpace(opts.Model)
	return &Generator{client: client, opts: opts}
}

// Summarize returns exactly five key points and five related topics for text.
func (g *Generator) Summarize(ctx context.Context, text string) (SummaryResult, error) {
	var wire wireSummary
	if err := g.generate(ctx, TaskSummarize, text, &wire); err != nil {
		return SummaryResult{}, err
	}
	result, err := wire.result()
	if err != nil {
		return SummaryResult{}, &Error{Task: TaskSummarize, Reason: ReasonInvalid, Err: err}
	}
	return result, nil
}

// Quiz returns the parsed, range-checked question list. An empty list is not an
// error here; QuizResult.Validate rejects it.
func (g *Generator) Quiz(ctx context.Context, text string) (QuizResult, error) {
	var wire wireQuiz
	if err := g.generate(ctx, TaskQuiz, text, &wire); err != nil {
		return QuizResult{}, err
	}
	result, err := wire.result()
	if err != nil {
		return QuizResult{}, &Error{Task: TaskQuiz, Reason: ReasonInvalid, Err: err}
	}
	return result, nil
}

func (g *Generator) generate(ctx context.Context, task Task, text string, out any) error {
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}

	resp, err := g.client.ChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.opts.Model,
		Temperature: g.opts.Temperature,
		MaxTokens:   g.opts.MaxTokens,
		Messages: []openai.ChatMessage{
			{Role: "system", Content: task.Instruction()},
			{Role: "user", Content: text},
		},
		ResponseFormat: openai.JSONObject,
	})
	if err != nil {
		return &Error{Task: task, Reason: ReasonTransport, Err: err}
	}

	if err := decodeStrict(resp.Content, out); err != nil {
		return &Error{Task: task, Reason: ReasonParse, Err: err}
	}
	return nil
}

// decodeStrict accepts a reply only if it is exactly one JSON object with no
// unknown fields. Surrounding whitespace is the only tolerated extra.
func decodeStrict(content string, out any) error {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "{") {
		return errors.New("reply is not a bare JSON object")
	}

	dec := json.NewDecoder(strings.NewReader(content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		return errors.New("unexpected content after JSON object")
	}
	return nil
}
