package uscope

import (
	"math/cmplx"
	"sort"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

// SpectrumAnalyzer estimates power spectra with Welch's method: Hann
// windowed segments with 50% overlap, averaged.
type SpectrumAnalyzer struct {
	SampleRate float64
	FFTSize    int
	Window     []float64
	segment    []float64
}

func NewSpectrumAnalyzer(sampleRate float64, fftSize int) *SpectrumAnalyzer {
	return &SpectrumAnalyzer{
		SampleRate: sampleRate,
		FFTSize:    fftSize,
		Window:     window.Hann(fftSize),
		segment:    make([]float64, fftSize),
	}
}

// Span returns the number of samples covering segments overlapping windows.
func (sa *SpectrumAnalyzer) Span(segments int) int {
	return sa.FFTSize + (segments-1)*sa.step()
}

func (sa *SpectrumAnalyzer) step() int {
	return sa.FFTSize - sa.FFTSize/2
}

// BinWidth returns the frequency resolution in Hz.
func (sa *SpectrumAnalyzer) BinWidth() float64 {
	return sa.SampleRate / float64(sa.FFTSize)
}

// Segments calls fn with every windowed segment of samples.
func (sa *SpectrumAnalyzer) Segments(samples []float64, fn func(windowed []float64)) int {
	n := 0
	for i := 0; i+sa.FFTSize <= len(samples); i += sa.step() {
		for j, v := range samples[i : i+sa.FFTSize] {
			sa.segment[j] = v * sa.Window[j]
		}
		fn(sa.segment)
		n++
	}
	return n
}

// Welch returns the averaged power |X(k)|² for bins 0..FFTSize/2, or nil
// when samples is shorter than one segment.
func (sa *SpectrumAnalyzer) Welch(samples []float64) []float64 {
	psd := make([]float64, sa.FFTSize/2+1)
	n := sa.Segments(samples, func(seg []float64) {
		spectrum := fft.FFTReal(seg)
		for k := range psd {
			mag := cmplx.Abs(spectrum[k])
			psd[k] += mag * mag
		}
	})
	if n == 0 {
		return nil
	}
	for k := range psd {
		psd[k] /= float64(n)
	}
	return psd
}

// Peak finds the strongest bin of psd in [minFreq, maxFreq) and refines its
// frequency by parabolic interpolation.
func (sa *SpectrumAnalyzer) Peak(psd []float64, minFreq, maxFreq float64) (freq, power float64) {
	binWidth := sa.BinWidth()
	start := max(int(minFreq/binWidth), 0)
	end := min(int(maxFreq/binWidth), len(psd))

	peak := -1
	for i := start; i < end; i++ {
		if peak < 0 || psd[i] > psd[peak] {
			peak = i
		}
	}
	if peak < 0 {
		return 0, 0
	}

	freq = float64(peak) * binWidth
	if peak > 0 && peak < len(psd)-1 {
		alpha, beta, gamma := psd[peak-1], psd[peak], psd[peak+1]
		if denom := alpha - 2*beta + gamma; denom != 0 {
			p := 0.5 * (alpha - gamma) / denom
			freq = (float64(peak) + p) * binWidth
		}
	}
	return freq, psd[peak]
}

// NoiseFloor returns the median bin power, which ignores narrow peaks.
func NoiseFloor(psd []float64) float64 {
	if len(psd) == 0 {
		return 0
	}
	sorted := append([]float64(nil), psd...)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2]
}
