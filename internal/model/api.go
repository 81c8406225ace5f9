package model

import "encoding/json"

type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error     APIError `json:"error"`
	RequestID string   `json:"request_id,omitempty"`
}

type HealthResponse struct {
	OK bool `json:"ok"`
}

type ReadyResponse struct {
	OK          bool   `json:"ok"`
	ServiceName string `json:"service_name,omitempty"`
}

type TranscriptionResponse struct {
	Text string `json:"text"`
}

type SummaryRequest struct {
	Transcript string `json:"transcript"`
	ClassID    int    `json:"class_id,omitempty"`
	TeacherID  string `json:"teacher_id,omitempty"`
	Heading    string `json:"heading,omitempty"`
}

type QuizRequest struct {
	Transcript string `json:"transcript"`
	Heading    string `json:"heading,omitempty"`
	Topic      string `json:"topic,omitempty"`
	ClassID    int    `json:"class_id,omitempty"`
	Status     int    `json:"status,omitempty"`
	Difficulty int    `json:"difficulty,omitempty"`
}

type Summary struct {
	Summary       []string `json:"summary"`
	RelatedTopics []string `json:"related_topics"`
}

type Question struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correct_answer"`
	Difficulty    int      `json:"difficulty"`
	Subtopics     []string `json:"subtopics,omitempty"`
}

type Quiz struct {
	Questions []Question `json:"questions"`
	Attempts  int        `json:"attempts"`
}

type LectureTimings struct {
	Conditioning  int64 `json:"conditioning"`
	Transcription int64 `json:"transcription"`
	Summary       int64 `json:"summary"`
	Quiz          int64 `json:"quiz"`
	Total         int64 `json:"total"`
}

type LectureResponse struct {
	SubjectID       string          `json:"subject_id"`
	FacultyID       string          `json:"faculty_id"`
	Topic           string          `json:"topic"`
	Transcript      string          `json:"transcript"`
	Summary         Summary         `json:"summary"`
	Quiz            Quiz            `json:"quiz"`
	SummaryResponse json.RawMessage `json:"summary_response,omitempty"`
	QuizResponse    json.RawMessage `json:"quiz_response,omitempty"`
	TimingsMS       LectureTimings  `json:"timings_ms"`
}
