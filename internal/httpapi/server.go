package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lectern/internal/audio"
	"lectern/internal/config"
	"lectern/internal/generation"
	"lectern/internal/handoff"
	"lectern/internal/model"
	"lectern/internal/pipeline"
	"lectern/internal/retry"
	"lectern/internal/upstream/openai"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type PipelineService interface {
	Process(ctx context.Context, in pipeline.ProcessInput) (pipeline.ProcessResult, error)
	Transcribe(ctx context.Context, rec audio.Recording, meta pipeline.Meta) (pipeline.Transcript, error)
	Summarize(ctx context.Context, t pipeline.Transcript) (pipeline.SummaryOutcome, error)
	Quiz(ctx context.Context, t pipeline.Transcript) (pipeline.QuizOutcome, error)
}

type UpstreamChecker interface {
	CheckModels(ctx context.Context) error
}

type MetricsObserver interface {
	ObserveHTTP(route, method string, status int, duration time.Duration)
}

type Dependencies struct {
	Pipeline       PipelineService
	Upstream       UpstreamChecker
	Metrics        MetricsObserver
	MetricsHandler http.Handler
}

type server struct {
	cfg          config.Config
	logger       *slog.Logger
	pipeline     PipelineService
	upstream     UpstreamChecker
	metrics      MetricsObserver
	metricsRoute http.Handler
}

type ctxKey string

const (
	requestIDHeader  = "X-Request-Id"
	requestIDContext = ctxKey("request_id")
	maxJSONBodyBytes = 4 << 20
	audioField       = "audio"
)

var errMissingAudio = errors.New("multipart field 'audio' is required")

func NewServer(cfg config.Config, logger *slog.Logger, deps Dependencies) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Pipeline == nil || deps.Upstream == nil {
		panic("httpapi: pipeline and upstream dependencies are required")
	}

	s := &server{
		cfg:          cfg,
		logger:       logger,
		pipeline:     deps.Pipeline,
		upstream:     deps.Upstream,
		metrics:      deps.Metrics,
		metricsRoute: deps.MetricsHandler,
	}

	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, "not_found", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if s.metricsRoute != nil {
		r.Handle("/metrics", s.metricsRoute)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/lectures", s.handleLecture)
		r.Post("/transcriptions", s.handleTranscription)
		r.Post("/summaries", s.handleSummary)
		r.Post("/quizzes", s.handleQuiz)
	})

	return r
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.HealthResponse{OK: true})
}

func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.cfg.UpstreamAPIKey == "" {
		writeJSON(w, http.StatusOK, model.ReadyResponse{OK: true, ServiceName: "lectern"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.upstream.CheckModels(ctx); err != nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "not_ready", "upstream check failed", detailsForError(err))
		return
	}
	writeJSON(w, http.StatusOK, model.ReadyResponse{OK: true, ServiceName: "lectern"})
}

func (s *server) handleLecture(w http.ResponseWriter, r *http.Request) {
	rec, form, err := s.readMultipartAudio(w, r)
	defer cleanupMultipartForm(form)
	if err != nil {
		s.handleMultipartReadError(w, r, err)
		return
	}

	meta := pipeline.Meta{
		Topic:     strings.TrimSpace(r.FormValue("topic")),
		SubjectID: strings.TrimSpace(r.FormValue("subject_id")),
		TeacherID: strings.TrimSpace(r.FormValue("faculty_id")),
	}
	if meta.Topic == "" || meta.SubjectID == "" || meta.TeacherID == "" {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "subject_id, faculty_id and topic are required", nil)
		return
	}
	if meta.ClassID, err = parseOptionalInt(r.FormValue("class_id")); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "class_id must be an integer", nil)
		return
	}

	result, err := s.pipeline.Process(r.Context(), pipeline.ProcessInput{Recording: rec, Meta: meta})
	if err != nil {
		details := detailsForError(err)
		details["saved"] = savedArtifacts(result)
		s.writeMappedError(w, r, err, details)
		return
	}

	writeJSON(w, http.StatusOK, model.LectureResponse{
		SubjectID:       meta.SubjectID,
		FacultyID:       meta.TeacherID,
		Topic:           meta.Topic,
		Transcript:      result.Transcript.Text,
		Summary:         toModelSummary(result.Summary.Result),
		Quiz:            toModelQuiz(result.Quiz.Result, result.Quiz.Attempts),
		SummaryResponse: result.Summary.Record,
		QuizResponse:    result.Quiz.Record,
		TimingsMS: model.LectureTimings{
			Conditioning:  result.Timings.Conditioning.Milliseconds(),
			Transcription: result.Timings.Transcription.Milliseconds(),
			Summary:       result.Timings.Summary.Milliseconds(),
			Quiz:          result.Timings.Quiz.Milliseconds(),
			Total:         result.Timings.Total.Milliseconds(),
		},
	})
}

func (s *server) handleTranscription(w http.ResponseWriter, r *http.Request) {
	rec, form, err := s.readMultipartAudio(w, r)
	defer cleanupMultipartForm(form)
	if err != nil {
		s.handleMultipartReadError(w, r, err)
		return
	}

	transcript, err := s.pipeline.Transcribe(r.Context(), rec, pipeline.Meta{Topic: r.FormValue("topic")})
	if err != nil {
		s.writeMappedError(w, r, err, detailsForError(err))
		return
	}
	writeJSON(w, http.StatusOK, model.TranscriptionResponse{Text: transcript.Text})
}

func (s *server) handleSummary(w http.ResponseWriter, r *http.Request) {
	var req model.SummaryRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Transcript) == "" {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "transcript is required", nil)
		return
	}

	outcome, err := s.pipeline.Summarize(r.Context(), pipeline.Transcript{
		Text: req.Transcript,
		Meta: pipeline.Meta{Heading: req.Heading, TeacherID: req.TeacherID, ClassID: req.ClassID},
	})
	if err != nil {
		s.writeMappedError(w, r, err, detailsForError(err))
		return
	}
	writeRecord(w, outcome.Record)
}

func (s *server) handleQuiz(w http.ResponseWriter, r *http.Request) {
	var req model.QuizRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Transcript) == "" {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "transcript is required", nil)
		return
	}

	outcome, err := s.pipeline.Quiz(r.Context(), pipeline.Transcript{
		Text: req.Transcript,
		Meta: pipeline.Meta{
			Topic:          req.Topic,
			Heading:        req.Heading,
			ClassID:        req.ClassID,
			QuizStatus:     req.Status,
			QuizDifficulty: req.Difficulty,
		},
	})
	if err != nil {
		s.writeMappedError(w, r, err, detailsForError(err))
		return
	}
	writeRecord(w, outcome.Record)
}

func (s *server) readMultipartAudio(w http.ResponseWriter, r *http.Request) (audio.Recording, *multipart.Form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(minInt64(s.cfg.MaxUploadBytes, 8<<20)); err != nil {
		return audio.Recording{}, nil, err
	}
	file, header, err := r.FormFile(audioField)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			err = errMissingAudio
		}
		return audio.Recording{}, r.MultipartForm, err
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return audio.Recording{}, r.MultipartForm, err
	}
	return audio.Recording{Name: header.Filename, Data: data}, r.MultipartForm, nil
}

func (s *server) handleMultipartReadError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		s.writeError(w, r, http.StatusRequestEntityTooLarge, "request_too_large", fmt.Sprintf("request exceeds %d bytes", s.cfg.MaxUploadBytes), nil)
		return
	}
	if errors.Is(err, errMissingAudio) {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", errMissingAudio.Error(), nil)
		return
	}
	s.writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid multipart form data", nil)
}

func (s *server) decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	defer func() { _ = r.Body.Close() }()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	err := decoder.Decode(target)
	if err == nil {
		err = ensureBodyFullyConsumed(decoder)
	}
	if err == nil {
		return true
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		s.writeError(w, r, http.StatusRequestEntityTooLarge, "request_too_large", "JSON body too large", nil)
		return false
	}
	s.writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body", nil)
	return false
}

func (s *server) writeMappedError(w http.ResponseWriter, r *http.Request, err error, details map[string]any) {
	status := http.StatusInternalServerError
	code := "internal_error"
	message := "request failed"

	switch pipeline.KindOf(err) {
	case pipeline.KindUnsupportedFormat:
		status = http.StatusUnsupportedMediaType
		code = "unsupported_format"
		message = "only .wav recordings are supported"
	case pipeline.KindSignalProcessing:
		status = http.StatusUnprocessableEntity
		code = "signal_processing_failed"
		message = "recording could not be conditioned"
	case pipeline.KindTranscription:
		status = http.StatusBadGateway
		code = "transcription_failed"
		message = "transcription failed"
	case pipeline.KindGeneration:
		status = http.StatusBadGateway
		code = "generation_failed"
		message = "structured generation failed"
	case pipeline.KindGenerationExhausted:
		status = http.StatusBadGateway
		code = "generation_exhausted"
		message = "no valid result within the attempt budget"
	case pipeline.KindHandoff:
		status = http.StatusBadGateway
		code = "handoff_failed"
		message = "artifact generated but the store did not accept it"
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		status = 499
	}

	s.logger.Warn("request failed",
		"request_id", requestIDFromContext(r.Context()),
		"code", code,
		"error", err,
	)
	s.writeError(w, r, status, code, message, details)
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	if rid := requestIDFromContext(r.Context()); rid != "" {
		w.Header().Set(requestIDHeader, rid)
	}
	writeJSON(w, status, model.ErrorResponse{
		Error:     model.APIError{Code: code, Message: message, Details: details},
		RequestID: requestIDFromContext(r.Context()),
	})
}

func (s *server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), requestIDContext, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		duration := time.Since(started)
		if s.metrics != nil {
			s.metrics.ObserveHTTP(route, r.Method, status, duration)
		}

		s.logger.Info("http_request",
			"request_id", requestIDFromContext(r.Context()),
			"method", r.Method,
			"route", route,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", duration.Milliseconds(),
		)
	})
}

func (s *server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", "request_id", requestIDFromContext(r.Context()), "panic", rec)
				s.writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// writeRecord relays the store's reply with the store's success status.
func writeRecord(w http.ResponseWriter, record json.RawMessage) {
	if len(record) == 0 {
		record = json.RawMessage(`{}`)
	}
	writeJSON(w, http.StatusCreated, record)
}

func ensureBodyFullyConsumed(decoder *json.Decoder) error {
	var extra any
	if err := decoder.Decode(&extra); err != io.EOF {
		if err == nil {
			return fmt.Errorf("multiple JSON values")
		}
		return err
	}
	return nil
}

func parseOptionalInt(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	return strconv.Atoi(value)
}

func cleanupMultipartForm(form *multipart.Form) {
	if form != nil {
		_ = form.RemoveAll()
	}
}

func requestIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(requestIDContext).(string)
	return value
}

func savedArtifacts(result pipeline.ProcessResult) []string {
	saved := []string{}
	if result.Summary != nil {
		saved = append(saved, handoff.TargetSummary)
	}
	if result.Quiz != nil {
		saved = append(saved, handoff.TargetQuiz)
	}
	return saved
}

func toModelSummary(r generation.SummaryResult) model.Summary {
	return model.Summary{Summary: r.Summary, RelatedTopics: r.RelatedTopics}
}

func toModelQuiz(r generation.QuizResult, attempts int) model.Quiz {
	questions := make([]model.Question, 0, len(r.Questions))
	for _, q := range r.Questions {
		questions = append(questions, model.Question{
			Question:      q.Question,
			Options:       q.Options,
			CorrectAnswer: q.CorrectAnswer,
			Difficulty:    q.Difficulty,
			Subtopics:     q.Subtopics,
		})
	}
	return model.Quiz{Questions: questions, Attempts: attempts}
}

func detailsForError(err error) map[string]any {
	details := map[string]any{}
	if err == nil {
		return details
	}
	details["error"] = err.Error()
	if kind := pipeline.KindOf(err); kind != "" {
		details["kind"] = string(kind)
	}

	var (
		upstreamErr  *openai.Error
		handoffErr   *handoff.Error
		exhaustedErr *retry.ExhaustedError
	)
	if errors.As(err, &upstreamErr) {
		details["upstream_status"] = upstreamErr.StatusCode
		if upstreamErr.Body != "" {
			details["upstream_body"] = upstreamErr.Body
		}
	}
	if errors.As(err, &handoffErr) {
		details["store_status"] = handoffErr.StatusCode
		if handoffErr.Body != "" {
			details["store_body"] = handoffErr.Body
		}
	}
	if errors.As(err, &exhaustedErr) {
		details["attempts"] = exhaustedErr.Attempts
	}
	return details
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
