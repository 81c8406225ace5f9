package audio

import "math"

// sincZeroCrossings is the half-width of the interpolation kernel in zero crossings.
const sincZeroCrossings = 16

// resample converts between sample rates with a Hann-windowed sinc kernel. When
// downsampling the kernel cutoff drops to the target Nyquist frequency.
func resample(in []float64, from, to int) []float64 {
	if from == to || len(in) == 0 {
		out := make([]float64, len(in))
		copy(out, in)
		return out
	}

	ratio := float64(to) / float64(from)
	n := int(math.Round(float64(len(in)) * ratio))
	if n < 1 {
		n = 1
	}
	cutoff := math.Min(1, ratio)
	halfWidth := sincZeroCrossings / cutoff

	out := make([]float64, n)
	for i := range out {
		center := float64(i) / ratio
		lo := int(math.Ceil(center - halfWidth))
		hi := int(math.Floor(center + halfWidth))
		if lo < 0 {
			lo = 0
		}
		if hi > len(in)-1 {
			hi = len(in) - 1
		}

		var acc float64
		for j := lo; j <= hi; j++ {
			x := center - float64(j)
			window := 0.5 * (1 + math.Cos(math.Pi*x/halfWidth))
			acc += in[j] * cutoff * sinc(cutoff*x) * window
		}
		out[i] = acc
	}
	return out
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}
