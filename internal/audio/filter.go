package audio

import (
	"fmt"
	"math"
)

// nyquistMargin keeps the high cutoff strictly below the Nyquist frequency.
const nyquistMargin = 0.49

// biquad is a second-order IIR section in transposed direct form II,
// coefficients normalized so a0 == 1.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

func (q biquad) apply(x []float64) {
	var z1, z2 float64
	for i, in := range x {
		out := q.b0*in + z1
		z1 = q.b1*in - q.a1*out + z2
		z2 = q.b2*in - q.a2*out
		x[i] = out
	}
}

// designBandPass builds a Butterworth high-pass at low followed by a Butterworth
// low-pass at high, each of the given even order.
func designBandPass(sampleRate int, low, high float64, order int) ([]biquad, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if order <= 0 || order%2 != 0 {
		return nil, fmt.Errorf("filter order must be a positive even number, got %d", order)
	}

	nyquist := float64(sampleRate) / 2
	high = math.Min(high, nyquistMargin*float64(sampleRate))
	if !(low > 0 && low < high && high < nyquist) {
		return nil, fmt.Errorf("invalid band-pass frequencies: low=%.1fHz high=%.1fHz nyquist=%.1fHz", low, high, nyquist)
	}

	qs := butterworthQ(order)
	sections := make([]biquad, 0, len(qs)*2)
	for _, q := range qs {
		sections = append(sections, highPass(sampleRate, low, q))
	}
	for _, q := range qs {
		sections = append(sections, lowPass(sampleRate, high, q))
	}
	return sections, nil
}

// butterworthQ returns the quality factor of each biquad in a Butterworth cascade.
func butterworthQ(order int) []float64 {
	qs := make([]float64, order/2)
	for k := range qs {
		theta := float64(2*k+1) * math.Pi / float64(2*order)
		qs[k] = 1 / (2 * math.Cos(theta))
	}
	return qs
}

func lowPass(sampleRate int, cutoff, q float64) biquad {
	w0 := 2 * math.Pi * cutoff / float64(sampleRate)
	cos, alpha := math.Cos(w0), math.Sin(w0)/(2*q)
	a0 := 1 + alpha
	return biquad{
		b0: (1 - cos) / 2 / a0,
		b1: (1 - cos) / a0,
		b2: (1 - cos) / 2 / a0,
		a1: -2 * cos / a0,
		a2: (1 - alpha) / a0,
	}
}

func highPass(sampleRate int, cutoff, q float64) biquad {
	w0 := 2 * math.Pi * cutoff / float64(sampleRate)
	cos, alpha := math.Cos(w0), math.Sin(w0)/(2*q)
	a0 := 1 + alpha
	return biquad{
		b0: (1 + cos) / 2 / a0,
		b1: -(1 + cos) / a0,
		b2: (1 + cos) / 2 / a0,
		a1: -2 * cos / a0,
		a2: (1 - alpha) / a0,
	}
}
