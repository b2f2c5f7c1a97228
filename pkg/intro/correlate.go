package intro

import "math"

// Envelope is RMS energy of consecutive frames, a partial last frame
// is dropped.
func Envelope(samples []int16, frameSize int) []float64 {
	if frameSize <= 0 {
		return nil
	}

	frames := len(samples) / frameSize
	env := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for _, s := range samples[i*frameSize : (i+1)*frameSize] {
			v := float64(s)
			sum += v * v
		}
		env[i] = math.Sqrt(sum / float64(frameSize))
	}

	return env
}

// Smooth is a centered moving average, the window shrinks at the edges.
func Smooth(env []float64, window int) []float64 {
	if window <= 1 || len(env) == 0 {
		out := make([]float64, len(env))
		copy(out, env)
		return out
	}

	half := window / 2
	out := make([]float64, len(env))
	for i := range env {
		lo, hi := i-half, i+half
		if window%2 == 0 {
			hi--
		}
		if lo < 0 {
			lo = 0
		}
		if hi >= len(env) {
			hi = len(env) - 1
		}

		var sum float64
		for _, v := range env[lo : hi+1] {
			sum += v
		}
		out[i] = sum / float64(hi-lo+1)
	}

	return out
}

// Pearson correlation coefficient of two equally long series, zero when
// either has no variance.
func Pearson(a, b []float64) float64 {
	n := len(a)
	if n == 0 || n != len(b) {
		return 0
	}

	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}

	if varA == 0 || varB == 0 {
		return 0
	}

	return cov / math.Sqrt(varA*varB)
}

// Correlate slides reference over target and returns the frame offset
// with the highest Pearson score. Offset is -1 when the target is
// shorter than the reference.
func Correlate(target, reference []float64) (offset int, score float64) {
	n := len(reference)
	if n == 0 || len(target) < n {
		return -1, 0
	}

	// normalize reference once
	var meanR float64
	for _, v := range reference {
		meanR += v
	}
	meanR /= float64(n)

	ref := make([]float64, n)
	var varR float64
	for i, v := range reference {
		ref[i] = v - meanR
		varR += ref[i] * ref[i]
	}
	if varR == 0 {
		return -1, 0
	}

	offset, score = -1, math.Inf(-1)
	for off := 0; off+n <= len(target); off++ {
		window := target[off : off+n]

		var mean float64
		for _, v := range window {
			mean += v
		}
		mean /= float64(n)

		var cov, variance float64
		for i, r := range ref {
			d := window[i] - mean
			cov += d * r
			variance += d * d
		}

		// flat window, e.g. digital silence
		if variance == 0 {
			if offset < 0 {
				offset, score = off, 0
			}
			continue
		}

		s := cov / math.Sqrt(variance*varR)
		if s > score {
			offset, score = off, s
		}
	}

	if math.IsInf(score, -1) {
		score = 0
	}

	return offset, score
}
