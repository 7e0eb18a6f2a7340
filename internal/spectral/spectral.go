// Package spectral turns selected CSI amplitude rows into an averaged power
// spectrum. It owns the two numeric steps between normalisation and peak
// picking: deriving an effective sample rate from capture timestamps, and
// the per-row Hann window + real FFT whose power is averaged across rows.
package spectral

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// ErrIrregularSampling reports frame timestamps too uneven to assign the
// series a single sample rate. The FFT assumes uniform spacing; analysing
// wildly irregular captures would report confident nonsense.
var ErrIrregularSampling = errors.New("irregular sampling")

// SpectrumSample is one frequency bin of an averaged power spectrum.
type SpectrumSample struct {
	Frequency float64 `json:"frequency"` // Hz
	Power     float64 `json:"power"`
}

// SampleRate derives the effective sample rate in Hz from frame timestamps.
// Every gap must sit within tolerance of the mean gap (tolerance 0.5 accepts
// gaps between half and one-and-a-half times the mean). A zero or negative
// mean gap, or fewer than two timestamps, is irregular by definition.
func SampleRate(timestamps []float64, tolerance float64) (float64, error) {
	n := len(timestamps)
	if n < 2 {
		return 0, fmt.Errorf("%d timestamps cannot define a rate: %w", n, ErrIrregularSampling)
	}

	mean := (timestamps[n-1] - timestamps[0]) / float64(n-1)
	if mean <= 0 {
		return 0, fmt.Errorf("mean frame gap %.6fs: %w", mean, ErrIrregularSampling)
	}

	lo, hi := (1-tolerance)*mean, (1+tolerance)*mean
	for i := 1; i < n; i++ {
		gap := timestamps[i] - timestamps[i-1]
		if gap < lo || gap > hi {
			return 0, fmt.Errorf("frame gap %d is %.6fs, mean %.6fs: %w", i, gap, mean, ErrIrregularSampling)
		}
	}

	return 1 / mean, nil
}

// PowerSpectrum computes the averaged power spectrum of the rows: Hann
// window per row, real FFT, power as squared magnitude, then a mean across
// rows per bin. Individual subcarriers are noisy but respiration moves them
// coherently, so averaging suppresses independent noise while the shared
// peak survives. The DC bin is dropped; samples come back ordered by
// ascending frequency with resolution sampleRate/len(row).
func PowerSpectrum(rows [][]float64, sampleRate float64) ([]SpectrumSample, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("no rows to analyse")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate %.6f must be positive", sampleRate)
	}
	n := len(rows[0])
	if n < 2 {
		return nil, fmt.Errorf("rows of %d samples have no positive-frequency bins", n)
	}
	for i, row := range rows {
		if len(row) != n {
			return nil, fmt.Errorf("row %d has %d samples, row 0 has %d", i, len(row), n)
		}
	}

	fft := fourier.NewFFT(n)
	coeffs := make([]complex128, n/2+1)
	power := make([]float64, n/2+1)
	buf := make([]float64, n)

	for _, row := range rows {
		// Window a copy; callers keep their rows.
		copy(buf, row)
		window.Hann(buf)
		fft.Coefficients(coeffs, buf)
		for i, c := range coeffs {
			power[i] += real(c)*real(c) + imag(c)*imag(c)
		}
	}

	samples := make([]SpectrumSample, 0, len(power)-1)
	for i := 1; i < len(power); i++ {
		samples = append(samples, SpectrumSample{
			Frequency: fft.Freq(i) * sampleRate,
			Power:     power[i] / float64(len(rows)),
		})
	}
	return samples, nil
}
