package pipeline

import (
	"errors"
	"fmt"

	"lectern/internal/audio"
	"lectern/internal/generation"
	"lectern/internal/handoff"
	"lectern/internal/retry"
	"lectern/internal/transcription"
)

// Kind classifies the stage a pipeline failure originated in.
type Kind string

const (
	KindUnsupportedFormat   Kind = "unsupported_format"
	KindSignalProcessing    Kind = "signal_processing"
	KindTranscription       Kind = "transcription"
	KindGeneration          Kind = "generation"
	KindGenerationExhausted Kind = "generation_exhausted"
	KindHandoff             Kind = "handoff"
	KindInternal            Kind = "internal"
)

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the Kind of err, or "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pipeErr *Error
	if errors.As(err, &pipeErr) {
		return pipeErr.Kind
	}
	return classify(err)
}

func classify(err error) Kind {
	var (
		procErr      *audio.ProcessingError
		trErr        *transcription.Error
		exhaustedErr *retry.ExhaustedError
		genErr       *generation.Error
		handoffErr   *handoff.Error
	)
	switch {
	case errors.Is(err, audio.ErrUnsupportedFormat):
		return KindUnsupportedFormat
	case errors.As(err, &procErr):
		return KindSignalProcessing
	case errors.As(err, &trErr):
		return KindTranscription
	case errors.As(err, &exhaustedErr):
		return KindGenerationExhausted
	case errors.As(err, &genErr):
		return KindGeneration
	case errors.As(err, &handoffErr):
		return KindHandoff
	default:
		return KindInternal
	}
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	var pipeErr *Error
	if errors.As(err, &pipeErr) {
		return err
	}
	return &Error{Kind: classify(err), Err: err}
}
