package audio

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// HammingWindow returns an n-point Hamming window.
func HammingWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// SpectrumAnalyzer computes magnitude spectra over a fixed number of bins
// covering [0, sampleRate/2]. It is not safe for concurrent use.
type SpectrumAnalyzer struct {
	bins   int
	fft    *fourier.FFT
	window []float64
	frame  []float64
	coeffs []complex128
}

// NewSpectrumAnalyzer returns an analyzer producing bins magnitudes from 2*bins samples.
func NewSpectrumAnalyzer(bins int) *SpectrumAnalyzer {
	n := 2 * bins
	return &SpectrumAnalyzer{
		bins:   bins,
		fft:    fourier.NewFFT(n),
		window: HammingWindow(n),
		frame:  make([]float64, n),
		coeffs: make([]complex128, n/2+1),
	}
}

// Bins returns the number of magnitudes produced per snapshot.
func (a *SpectrumAnalyzer) Bins() int {
	return a.bins
}

// Magnitudes windows the most recent 2*Bins() samples and returns their magnitude spectrum.
func (a *SpectrumAnalyzer) Magnitudes(samples []float32) ([]float64, error) {
	n := len(a.frame)
	if len(samples) < n {
		return nil, ErrInsufficientBuffer
	}
	samples = samples[len(samples)-n:]
	for i, s := range samples {
		a.frame[i] = float64(s) * a.window[i]
	}

	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)

	out := make([]float64, a.bins)
	scale := 2 / float64(n)
	for i := range out {
		out[i] = cmplx.Abs(a.coeffs[i]) * scale
	}
	return out, nil
}

// SpeechBandRatio returns the share of spectral energy between minHz and maxHz.
// Bin indices are floor(freq / binWidth) with the upper index clamped to the
// last bin. The ratio is 0 when the spectrum carries no energy.
func SpeechBandRatio(spectrum []float64, sampleRate int, minHz, maxHz float64) (float64, error) {
	if len(spectrum) == 0 || sampleRate <= 0 {
		return 0, ErrInvalidSpectrum
	}

	binWidth := float64(sampleRate) / 2 / float64(len(spectrum))
	minBin := int(math.Floor(minHz / binWidth))
	maxBin := min(int(math.Floor(maxHz/binWidth)), len(spectrum)-1)

	var speech, total float64
	for i, m := range spectrum {
		e := m * m
		total += e
		if i >= minBin && i <= maxBin {
			speech += e
		}
	}

	if total == 0 {
		return 0, nil
	}
	return speech / total, nil
}

// SpectrumBars averages spectrum into n equal bars scaled to 0-100.
func SpectrumBars(spectrum []float64, n int) []int {
	if n <= 0 {
		return nil
	}
	step := len(spectrum) / n
	if step == 0 {
		return nil
	}

	bars := make([]int, n)
	for i := range bars {
		var sum float64
		for _, m := range spectrum[i*step : (i+1)*step] {
			sum += m
		}
		bars[i] = int(math.Round(sum / float64(step) * 100))
	}
	return bars
}
