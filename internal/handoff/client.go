package handoff

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	TargetSummary = "summary"
	TargetQuiz    = "quiz"

	requestIDHeader = "X-Request-Id"
	maxBodyBytes    = 4096
)

type ObserverFunc func(target string, status int, duration time.Duration)

type Option func(*Client)

func WithObserver(observer ObserverFunc) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

// Error reports a handoff that did not end in 201 Created. StatusCode is zero when
// the store could not be reached at all.
type Error struct {
	Target     string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s handoff failed: %v", e.Target, e.Err)
	}
	return fmt.Sprintf("%s handoff rejected with status %d", e.Target, e.StatusCode)
}

func (e *Error) Unwrap() error { return e.Err }

type SummaryPayload struct {
	Heading    string   `json:"heading"`
	Transcript string   `json:"transcript"`
	Summary    []string `json:"summary"`
	Topics     []string `json:"topics"`
	ClassID    int      `json:"class_id"`
	TeacherID  string   `json:"teacher_id"`
}

type QuizQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	Subtopics     []string `json:"subtopics"`
	Difficulty    int      `json:"difficulty"`
	CorrectAnswer int      `json:"correct_answer"`
}

type QuizPayload struct {
	Heading    string         `json:"heading"`
	Topic      string         `json:"topic"`
	Difficulty int            `json:"difficulty"`
	ClassID    int            `json:"class_id"`
	Status     int            `json:"status"`
	Questions  []QuizQuestion `json:"questions"`
}

// Client forwards finished artifacts to the external store.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	observer   ObserverFunc
}

func New(baseURL string, httpClient *http.Client, timeout time.Duration, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
		timeout:    timeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Client) SaveSummary(ctx context.Context, p SummaryPayload) (json.RawMessage, error) {
	return c.post(ctx, TargetSummary, p)
}

func (c *Client) SaveQuiz(ctx context.Context, p QuizPayload) (json.RawMessage, error) {
	return c.post(ctx, TargetQuiz, p)
}

func (c *Client) post(ctx context.Context, target string, payload any) (json.RawMessage, error) {
	started := time.Now()
	statusCode := 0
	defer func() { c.observe(target, statusCode, time.Since(started)) }()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Target: target, Err: err}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+target, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Target: target, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(requestIDHeader, uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Target: target, Err: err}
	}
	defer resp.Body.Close()
	statusCode = resp.StatusCode

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Target: target, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusCreated {
		return nil, &Error{Target: target, StatusCode: resp.StatusCode, Body: truncateBody(string(respBody))}
	}
	return asJSON(respBody), nil
}

func (c *Client) observe(target string, status int, duration time.Duration) {
	if c.observer != nil {
		c.observer(target, status, duration)
	}
}

// asJSON passes a JSON reply through and quotes anything else.
func asJSON(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(string(trimmed))
	return quoted
}

func truncateBody(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxBodyBytes {
		return s
	}
	return s[:maxBodyBytes] + "..."
}
