package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lectern/internal/audio"
	"lectern/internal/config"
	"lectern/internal/generation"
	"lectern/internal/handoff"
	"lectern/internal/model"
	"lectern/internal/pipeline"
	"lectern/internal/retry"
)

type stubPipeline struct {
	result     pipeline.ProcessResult
	transcript pipeline.Transcript
	summary    pipeline.SummaryOutcome
	quiz       pipeline.QuizOutcome
	err        error

	input     pipeline.ProcessInput
	recording audio.Recording
	received  pipeline.Transcript
}

func (s *stubPipeline) Process(_ context.Context, in pipeline.ProcessInput) (pipeline.ProcessResult, error) {
	s.input = in
	return s.result, s.err
}

func (s *stubPipeline) Transcribe(_ context.Context, rec audio.Recording, _ pipeline.Meta) (pipeline.Transcript, error) {
	s.recording = rec
	return s.transcript, s.err
}

func (s *stubPipeline) Summarize(_ context.Context, t pipeline.Transcript) (pipeline.SummaryOutcome, error) {
	s.received = t
	return s.summary, s.err
}

func (s *stubPipeline) Quiz(_ context.Context, t pipeline.Transcript) (pipeline.QuizOutcome, error) {
	s.received = t
	return s.quiz, s.err
}

type stubUpstream struct{ err error }

func (s stubUpstream) CheckModels(context.Context) error { return s.err }

func newTestHandler(t *testing.T, pipe *stubPipeline, cfg config.Config) http.Handler {
	t.Helper()
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 1024 * 1024
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(cfg, logger, Dependencies{Pipeline: pipe, Upstream: stubUpstream{}})
}

func lectureRequest(t *testing.T, fields map[string]string, fileName string, audioBytes []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if fileName != "" {
		part, _ := mw.CreateFormFile("audio", fileName)
		_, _ = part.Write(audioBytes)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/lectures", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func validLectureFields() map[string]string {
	return map[string]string{"subject_id": "phy-101", "faculty_id": "t-7", "topic": "Optics"}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) model.ErrorResponse {
	t.Helper()
	var resp model.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, w.Body.String())
	}
	return resp
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(t, &stubPipeline{}, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok":true`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected a generated request id")
	}
}

func TestLectureHandlerRunsPipeline(t *testing.T) {
	pipe := &stubPipeline{result: pipeline.ProcessResult{
		Transcript: pipeline.Transcript{Text: "light bends"},
		Summary: &pipeline.SummaryOutcome{
			Result: generation.SummaryResult{Summary: []string{"a", "b", "c", "d", "e"}, RelatedTopics: []string{"1", "2", "3", "4", "5"}},
			Record: json.RawMessage(`{"id":1}`),
		},
		Quiz: &pipeline.QuizOutcome{
			Result: generation.QuizResult{Questions: []generation.QuestionItem{
				{Question: "q", Options: []string{"w", "x", "y", "z"}, CorrectAnswer: 2, Difficulty: 3},
			}},
			Record:   json.RawMessage(`{"id":2}`),
			Attempts: 3,
		},
		Timings: pipeline.Timings{Total: 1500 * time.Millisecond},
	}}
	h := newTestHandler(t, pipe, config.Config{})

	fields := validLectureFields()
	fields["class_id"] = "4"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, lectureRequest(t, fields, "lecture.wav", []byte("riff")))

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if got := pipe.input.Recording; got.Name != "lecture.wav" || string(got.Data) != "riff" {
		t.Fatalf("unexpected recording: %q %q", got.Name, got.Data)
	}
	meta := pipe.input.Meta
	if meta.Topic != "Optics" || meta.SubjectID != "phy-101" || meta.TeacherID != "t-7" || meta.ClassID != 4 {
		t.Fatalf("unexpected meta: %+v", meta)
	}

	var resp model.LectureResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Transcript != "light bends" || len(resp.Summary.Summary) != 5 || resp.Quiz.Attempts != 3 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Quiz.Questions[0].CorrectAnswer != 2 || string(resp.QuizResponse) != `{"id":2}` {
		t.Fatalf("unexpected quiz in response: %+v", resp.Quiz)
	}
	if resp.TimingsMS.Total != 1500 {
		t.Fatalf("unexpected timings: %+v", resp.TimingsMS)
	}
}

func TestLectureHandlerRejectsIncompleteForms(t *testing.T) {
	cases := map[string]*http.Request{
		"missing topic": lectureRequest(t, map[string]string{"subject_id": "s", "faculty_id": "f"}, "a.wav", []byte("x")),
		"missing audio": lectureRequest(t, validLectureFields(), "", nil),
		"bad class_id":  lectureRequest(t, map[string]string{"subject_id": "s", "faculty_id": "f", "topic": "t", "class_id": "two"}, "a.wav", []byte("x")),
	}
	for name, req := range cases {
		pipe := &stubPipeline{}
		w := httptest.NewRecorder()
		newTestHandler(t, pipe, config.Config{}).ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: unexpected status %d body=%s", name, w.Code, w.Body.String())
		}
		if pipe.input.Recording.Data != nil {
			t.Fatalf("%s: pipeline should not run", name)
		}
	}
}

func TestLectureHandlerRejectsOversizedUploads(t *testing.T) {
	h := newTestHandler(t, &stubPipeline{}, config.Config{MaxUploadBytes: 512})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, lectureRequest(t, validLectureFields(), "big.wav", bytes.Repeat([]byte{1}, 4096)))

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
}

func TestLectureHandlerMapsPipelineErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"format", &pipeline.Error{Kind: pipeline.KindUnsupportedFormat, Err: audio.ErrUnsupportedFormat}, http.StatusUnsupportedMediaType, "unsupported_format"},
		{"signal", &pipeline.Error{Kind: pipeline.KindSignalProcessing, Err: audio.ErrSilent}, http.StatusUnprocessableEntity, "signal_processing_failed"},
		{"transcription", &pipeline.Error{Kind: pipeline.KindTranscription, Err: errors.New("boom")}, http.StatusBadGateway, "transcription_failed"},
		{"generation", &pipeline.Error{Kind: pipeline.KindGeneration, Err: errors.New("boom")}, http.StatusBadGateway, "generation_failed"},
		{"exhausted", &pipeline.Error{Kind: pipeline.KindGenerationExhausted, Err: &retry.ExhaustedError{Attempts: 10, Last: generation.ErrNoQuestions}}, http.StatusBadGateway, "generation_exhausted"},
		{"handoff", &pipeline.Error{Kind: pipeline.KindHandoff, Err: &handoff.Error{Target: handoff.TargetQuiz, StatusCode: 500, Body: "db down"}}, http.StatusBadGateway, "handoff_failed"},
		{"deadline", &pipeline.Error{Kind: pipeline.KindTranscription, Err: fmt.Errorf("call: %w", context.DeadlineExceeded)}, http.StatusGatewayTimeout, "transcription_failed"},
		{"unknown", errors.New("surprise"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		h := newTestHandler(t, &stubPipeline{err: tc.err}, config.Config{})
		w := httptest.NewRecorder()
		h.ServeHTTP(w, lectureRequest(t, validLectureFields(), "a.wav", []byte("x")))

		if w.Code != tc.status {
			t.Fatalf("%s: unexpected status %d body=%s", tc.name, w.Code, w.Body.String())
		}
		if resp := decodeError(t, w); resp.Error.Code != tc.code || resp.RequestID == "" {
			t.Fatalf("%s: unexpected error body: %+v", tc.name, resp)
		}
	}
}

func TestLectureErrorDetailsReportAttemptsAndStoreReply(t *testing.T) {
	pipe := &stubPipeline{
		result: pipeline.ProcessResult{Summary: &pipeline.SummaryOutcome{}},
		err:    &pipeline.Error{Kind: pipeline.KindGenerationExhausted, Err: &retry.ExhaustedError{Attempts: 10, Last: generation.ErrNoQuestions}},
	}
	w := httptest.NewRecorder()
	newTestHandler(t, pipe, config.Config{}).ServeHTTP(w, lectureRequest(t, validLectureFields(), "a.wav", []byte("x")))

	details := decodeError(t, w).Error.Details
	if details["attempts"] != float64(10) {
		t.Fatalf("unexpected attempts detail: %v", details)
	}
	if saved, _ := details["saved"].([]any); len(saved) != 1 || saved[0] != handoff.TargetSummary {
		t.Fatalf("unexpected saved detail: %v", details["saved"])
	}

	pipe.err = &pipeline.Error{Kind: pipeline.KindHandoff, Err: &handoff.Error{Target: handoff.TargetSummary, StatusCode: 409, Body: "duplicate"}}
	w = httptest.NewRecorder()
	newTestHandler(t, pipe, config.Config{}).ServeHTTP(w, lectureRequest(t, validLectureFields(), "a.wav", []byte("x")))

	details = decodeError(t, w).Error.Details
	if details["store_status"] != float64(409) || details["store_body"] != "duplicate" {
		t.Fatalf("unexpected store details: %v", details)
	}
}

func TestTranscriptionsHandlerMultipart(t *testing.T) {
	pipe := &stubPipeline{transcript: pipeline.Transcript{Text: "hello"}}
	h := newTestHandler(t, pipe, config.Config{})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("audio", "sample.wav")
	_, _ = part.Write([]byte("audio-bytes"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/transcriptions", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if string(pipe.recording.Data) != "audio-bytes" || pipe.recording.Name != "sample.wav" {
		t.Fatalf("unexpected recording: %+v", pipe.recording)
	}
	if !strings.Contains(w.Body.String(), `"text":"hello"`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestSummaryHandlerRelaysStoreReply(t *testing.T) {
	pipe := &stubPipeline{summary: pipeline.SummaryOutcome{Record: json.RawMessage(`{"id":42}`)}}
	h := newTestHandler(t, pipe, config.Config{})

	req := httptest.NewRequest(http.MethodPost, "/v1/summaries", strings.NewReader(`{"transcript":"text","class_id":3,"teacher_id":"t-1","heading":"Waves"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if strings.TrimSpace(w.Body.String()) != `{"id":42}` {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
	got := pipe.received
	if got.Text != "text" || got.Meta.ClassID != 3 || got.Meta.TeacherID != "t-1" || got.Meta.Heading != "Waves" {
		t.Fatalf("unexpected transcript: %+v", got)
	}
}

func TestQuizHandlerPassesMetaAndValidatesBody(t *testing.T) {
	pipe := &stubPipeline{quiz: pipeline.QuizOutcome{Record: json.RawMessage(`{"ok":true}`)}}
	h := newTestHandler(t, pipe, config.Config{})

	req := httptest.NewRequest(http.MethodPost, "/v1/quizzes", strings.NewReader(`{"transcript":"text","topic":"Optics","status":1,"difficulty":2}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if m := pipe.received.Meta; m.Topic != "Optics" || m.QuizStatus != 1 || m.QuizDifficulty != 2 {
		t.Fatalf("unexpected meta: %+v", m)
	}

	for _, body := range []string{`{"transcript":""}`, `{"transcript":"x","extra":1}`, `{"transcript":"x"}{}`, `not json`} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/quizzes", strings.NewReader(body)))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: unexpected status %d", body, w.Code)
		}
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	h := newTestHandler(t, &stubPipeline{}, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	if w.Header().Get("X-Request-Id") != "abc-123" || decodeError(t, w).RequestID != "abc-123" {
		t.Fatalf("request id not echoed: %s", w.Body.String())
	}
}

func TestReadyz(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	failing := stubUpstream{err: io.EOF}

	h := NewServer(config.Config{}, logger, Dependencies{Pipeline: &stubPipeline{}, Upstream: failing})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("without a key readyz should skip the upstream check, got %d", w.Code)
	}

	h = NewServer(config.Config{UpstreamAPIKey: "k"}, logger, Dependencies{Pipeline: &stubPipeline{}, Upstream: failing})
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
}
