package transcription

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"lectern/internal/audio"
)

const uploadFileName = "lecture.wav"

type Client interface {
	Transcribe(ctx context.Context, file io.Reader, fileName, model string) (string, error)
}

// Error wraps any failure to obtain a transcript from the speech model.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transcription failed: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Service struct {
	client  Client
	model   string
	timeout time.Duration
}

func New(client Client, model string, timeout time.Duration) *Service {
	return &Service{
		client:  client,
		model:   strings.TrimSpace(model),
		timeout: timeout,
	}
}

// Transcribe runs the speech model once over a conditioned waveform. An empty
// transcript is returned as-is.
func (s *Service) Transcribe(ctx context.Context, w audio.Waveform) (string, error) {
	data, err := audio.EncodeWAV(w)
	if err != nil {
		return "", &Error{Err: err}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	text, err := s.client.Transcribe(ctx, bytes.NewReader(data), uploadFileName, s.model)
	if err != nil {
		return "", &Error{Err: err}
	}
	return strings.TrimSpace(text), nil
}
