package audio

import (
	"errors"
	"math"
	"testing"
)

// synthWAV renders an interleaved 16-bit PCM WAV where channel c of frame i is fn(c, t).
func synthWAV(t *testing.T, sampleRate, channels int, seconds float64, fn func(ch int, t float64) float64) []byte {
	t.Helper()
	frames := int(seconds * float64(sampleRate))
	data := make([]int, frames*channels)
	for i := 0; i < frames; i++ {
		ts := float64(i) / float64(sampleRate)
		for c := 0; c < channels; c++ {
			v := math.Max(-1, math.Min(1, fn(c, ts)))
			data[i*channels+c] = int(math.Round(v * 32767))
		}
	}
	out, err := encodeInterleaved(data, sampleRate, channels, 16)
	if err != nil {
		t.Fatalf("encodeInterleaved() error = %v", err)
	}
	return out
}

func speech(t float64) float64 {
	return 0.3*math.Sin(2*math.Pi*220*t) + 0.2*math.Sin(2*math.Pi*1000*t) + 0.1*math.Sin(2*math.Pi*3100*t)
}

func peakAbs(samples []float64) float64 {
	peak := 0.0
	for _, s := range samples {
		peak = math.Max(peak, math.Abs(s))
	}
	return peak
}

func TestConditionCanonicalRateAndMono(t *testing.T) {
	c := New(Options{})
	for _, rate := range []int{8000, 16000, 22050, 44100, 48000} {
		for _, channels := range []int{1, 2, 4} {
			data := synthWAV(t, rate, channels, 0.5, func(_ int, ts float64) float64 { return speech(ts) })

			w, err := c.Condition(Recording{Name: "lecture.wav", Data: data})
			if err != nil {
				t.Fatalf("rate=%d channels=%d: Condition() error = %v", rate, channels, err)
			}
			if w.SampleRate != DefaultSampleRate {
				t.Fatalf("rate=%d channels=%d: unexpected sample rate %d", rate, channels, w.SampleRate)
			}
			wantLen := DefaultSampleRate / 2
			if d := len(w.Samples) - wantLen; d < -1 || d > 1 {
				t.Fatalf("rate=%d channels=%d: got %d samples, want ~%d", rate, channels, len(w.Samples), wantLen)
			}
			if p := peakAbs(w.Samples); math.Abs(p-1) > 1e-9 {
				t.Fatalf("rate=%d channels=%d: peak = %v, want 1", rate, channels, p)
			}
		}
	}
}

func TestConditionSilentRecordingFails(t *testing.T) {
	data := synthWAV(t, 44100, 2, 0.25, func(int, float64) float64 { return 0 })

	_, err := New(Options{}).Condition(Recording{Name: "silent.wav", Data: data})
	var procErr *ProcessingError
	if !errors.As(err, &procErr) {
		t.Fatalf("expected *ProcessingError, got %v", err)
	}
	if !errors.Is(err, ErrSilent) {
		t.Fatalf("expected ErrSilent, got %v", err)
	}
}

func TestConditionUsesFirstChannelNotMix(t *testing.T) {
	// Only channel 1 carries signal; a mix-down would be non-silent.
	data := synthWAV(t, 16000, 2, 0.25, func(ch int, ts float64) float64 {
		if ch == 1 {
			return speech(ts)
		}
		return 0
	})

	_, err := New(Options{}).Condition(Recording{Name: "stereo.wav", Data: data})
	if !errors.Is(err, ErrSilent) {
		t.Fatalf("expected channel 0 to be selected and found silent, got %v", err)
	}
}

func TestConditionRejectsUnsupportedFormats(t *testing.T) {
	valid := synthWAV(t, 16000, 1, 0.1, func(_ int, ts float64) float64 { return speech(ts) })
	cases := map[string]Recording{
		"mp3 extension": {Name: "lecture.mp3", Data: valid},
		"no extension":  {Name: "lecture", Data: valid},
		"not riff":      {Name: "lecture.wav", Data: []byte("ID3\x03definitely not a wave file")},
		"empty":         {Name: "lecture.wav"},
	}
	for name, rec := range cases {
		if _, err := New(Options{}).Condition(rec); !errors.Is(err, ErrUnsupportedFormat) {
			t.Fatalf("%s: expected ErrUnsupportedFormat, got %v", name, err)
		}
	}
}

func TestConditionAcceptsUppercaseExtension(t *testing.T) {
	data := synthWAV(t, 16000, 1, 0.1, func(_ int, ts float64) float64 { return speech(ts) })
	if _, err := New(Options{}).Condition(Recording{Name: "LECTURE.WAV", Data: data}); err != nil {
		t.Fatalf("Condition() error = %v", err)
	}
}

func TestConditionIsDeterministic(t *testing.T) {
	data := synthWAV(t, 44100, 2, 0.3, func(ch int, ts float64) float64 { return speech(ts) * float64(ch+1) / 3 })
	c := New(Options{})

	a, err := c.Condition(Recording{Name: "a.wav", Data: data})
	if err != nil {
		t.Fatalf("Condition() error = %v", err)
	}
	b, err := c.Condition(Recording{Name: "a.wav", Data: data})
	if err != nil {
		t.Fatalf("Condition() error = %v", err)
	}
	if len(a.Samples) != len(b.Samples) {
		t.Fatalf("length mismatch %d vs %d", len(a.Samples), len(b.Samples))
	}
	for i := range a.Samples {
		if a.Samples[i] != b.Samples[i] {
			t.Fatalf("sample %d differs: %v vs %v", i, a.Samples[i], b.Samples[i])
		}
	}
}

func TestConditionSilentThenSpeech(t *testing.T) {
	data := synthWAV(t, 44100, 2, 10, func(ch int, ts float64) float64 {
		if ts < 5 {
			return 0
		}
		if ch == 1 {
			return 0.05 * math.Sin(2*math.Pi*60*ts)
		}
		return speech(ts)
	})

	w, err := New(Options{}).Condition(Recording{Name: "lecture.wav", Data: data})
	if err != nil {
		t.Fatalf("Condition() error = %v", err)
	}
	if w.SampleRate != 16000 {
		t.Fatalf("unexpected sample rate %d", w.SampleRate)
	}
	if math.Abs(w.Duration()-10) > 0.01 {
		t.Fatalf("unexpected duration %v", w.Duration())
	}
	if p := peakAbs(w.Samples); math.Abs(p-1) > 1e-9 {
		t.Fatalf("peak = %v, want 1", p)
	}
	if p := peakAbs(w.Samples[:4*16000]); p > 1e-6 {
		t.Fatalf("leading silence should stay silent, peak = %v", p)
	}
}

func TestEncodeWAVRoundTrip(t *testing.T) {
	w := Waveform{SampleRate: 16000, Samples: make([]float64, 1600)}
	for i := range w.Samples {
		w.Samples[i] = math.Sin(2 * math.Pi * 440 * float64(i) / 16000)
	}
	data, err := EncodeWAV(w)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}

	samples, rate, err := decodeChannel(data, 0)
	if err != nil {
		t.Fatalf("decodeChannel() error = %v", err)
	}
	if rate != 16000 || len(samples) != len(w.Samples) {
		t.Fatalf("unexpected decode: rate=%d len=%d", rate, len(samples))
	}
	for i := range samples {
		if math.Abs(samples[i]-w.Samples[i]) > 1e-3 {
			t.Fatalf("sample %d: got %v want %v", i, samples[i], w.Samples[i])
		}
	}
}
