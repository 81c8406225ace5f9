package audio

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
)

const (
	DefaultSampleRate = 16000
	DefaultLowHz      = 80.0
	DefaultHighHz     = 8000.0

	// designated speech-bearing channel for multi-channel recordings
	speechChannel = 0
	filterOrder   = 4

	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrSilent            = errors.New("recording is silent")
)

// ProcessingError reports a failure inside the filter, resample or normalize steps.
type ProcessingError struct {
	Op  string
	Err error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("signal processing failed during %s: %v", e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// Recording is an uploaded audio file. The extension of Name is the declared format.
type Recording struct {
	Name string
	Data []byte
}

// Waveform is a conditioned single-channel signal with samples in [-1, 1].
type Waveform struct {
	Samples    []float64
	SampleRate int
}

func (w Waveform) Duration() float64 {
	if w.SampleRate <= 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate)
}

type Options struct {
	SampleRate int
	LowHz      float64
	HighHz     float64
}

type Conditioner struct {
	sampleRate int
	lowHz      float64
	highHz     float64
}

func New(opts Options) *Conditioner {
	c := &Conditioner{
		sampleRate: opts.SampleRate,
		lowHz:      opts.LowHz,
		highHz:     opts.HighHz,
	}
	if c.sampleRate <= 0 {
		c.sampleRate = DefaultSampleRate
	}
	if c.lowHz <= 0 {
		c.lowHz = DefaultLowHz
	}
	if c.highHz <= 0 {
		c.highHz = DefaultHighHz
	}
	return c
}

func (c *Conditioner) SampleRate() int { return c.sampleRate }

// Condition turns a WAV recording into a mono, band-limited, peak-normalized waveform
// at the conditioner's sample rate. The result depends only on the input bytes.
func (c *Conditioner) Condition(rec Recording) (Waveform, error) {
	if !strings.EqualFold(filepath.Ext(rec.Name), ".wav") {
		return Waveform{}, fmt.Errorf("%w: %q is not a .wav file", ErrUnsupportedFormat, rec.Name)
	}

	samples, sourceRate, err := decodeChannel(rec.Data, speechChannel)
	if err != nil {
		return Waveform{}, err
	}

	samples = resample(samples, sourceRate, c.sampleRate)

	sections, err := designBandPass(c.sampleRate, c.lowHz, c.highHz, filterOrder)
	if err != nil {
		return Waveform{}, &ProcessingError{Op: "filter design", Err: err}
	}
	for _, section := range sections {
		section.apply(samples)
	}

	if err := normalize(samples); err != nil {
		return Waveform{}, &ProcessingError{Op: "normalize", Err: err}
	}

	return Waveform{Samples: samples, SampleRate: c.sampleRate}, nil
}

// decodeChannel returns one channel of an integer PCM WAV stream scaled to [-1, 1].
func decodeChannel(data []byte, channel int) ([]float64, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("%w: not a RIFF/WAVE stream", ErrUnsupportedFormat)
	}
	if dec.WavAudioFormat != wavFormatPCM && dec.WavAudioFormat != wavFormatExtensible {
		return nil, 0, fmt.Errorf("%w: wav codec %d is not integer PCM", ErrUnsupportedFormat, dec.WavAudioFormat)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return nil, 0, fmt.Errorf("%w: missing channel count or sample rate", ErrUnsupportedFormat)
	}

	channels := buf.Format.NumChannels
	frames := len(buf.Data) / channels
	if frames == 0 {
		return nil, 0, fmt.Errorf("%w: no audio frames", ErrUnsupportedFormat)
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth <= 0 || bitDepth > 32 {
		return nil, 0, fmt.Errorf("%w: bit depth %d", ErrUnsupportedFormat, bitDepth)
	}
	fullScale := float64(int64(1) << (bitDepth - 1))
	offset := 0
	if bitDepth == 8 {
		// 8-bit WAV is unsigned
		offset = 128
	}

	out := make([]float64, frames)
	for i := range out {
		out[i] = float64(buf.Data[i*channels+channel]-offset) / fullScale
	}
	return out, buf.Format.SampleRate, nil
}

func normalize(samples []float64) error {
	peak := 0.0
	for _, s := range samples {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return errors.New("non-finite sample")
		}
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return ErrSilent
	}
	for i := range samples {
		samples[i] /= peak
	}
	return nil
}
