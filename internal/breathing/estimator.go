package breathing

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/breathing.report/internal/config"
	"github.com/banshee-data/breathing.report/internal/spectral"
	"github.com/banshee-data/breathing.report/internal/units"
)

var (
	// ErrNoPeakDetected reports a spectrum with no usable power inside the
	// breathing band; surfaced to callers as "cannot compute a reliable rate".
	ErrNoPeakDetected = errors.New("no peak detected in breathing band")

	// ErrEmptyInput reports a statistical request with zero rate samples.
	ErrEmptyInput = errors.New("no rate samples")
)

// Estimator converts spectra and rate windows into AnalysisResults. It holds
// the tunables that decide what counts as breathing: the band to search, the
// minimum peak power, and the plausible physiological range.
type Estimator struct {
	Band         units.Band // breathing band, Hz
	MinPeakPower float64
	PlausibleMin float64 // BPM
	PlausibleMax float64 // BPM
}

// NewEstimator builds an Estimator from the process configuration.
func NewEstimator(cfg *config.AnalysisConfig) *Estimator {
	return &Estimator{
		Band:         cfg.GetBreathingBand(),
		MinPeakPower: cfg.GetMinPeakPower(),
		PlausibleMin: cfg.GetPlausibleMinBPM(),
		PlausibleMax: cfg.GetPlausibleMaxBPM(),
	}
}

// RateFromSpectrum restricts the spectrum to the breathing band and picks
// the strongest bin. Ties break toward the lower frequency: when two bins
// carry equal power, the slower rate is the conservative call. sampleCount
// is the frame count the spectrum was computed from and becomes the
// result's SampleCount.
func (e *Estimator) RateFromSpectrum(spectrum []spectral.SpectrumSample, sampleCount int) (*AnalysisResult, error) {
	best := -1
	for i, s := range spectrum {
		if !e.Band.Contains(s.Frequency) {
			continue
		}
		if best == -1 || s.Power > spectrum[best].Power {
			best = i
		}
	}
	if best == -1 {
		return nil, fmt.Errorf("no bins inside [%.3f, %.3f] Hz: %w", e.Band.MinHz, e.Band.MaxHz, ErrNoPeakDetected)
	}
	peak := spectrum[best]
	if peak.Power <= e.MinPeakPower {
		return nil, fmt.Errorf("strongest in-band bin %.3f Hz has power %.3g, need more than %.3g: %w",
			peak.Frequency, peak.Power, e.MinPeakPower, ErrNoPeakDetected)
	}

	bpm := units.HzToBPM(peak.Frequency)
	return &AnalysisResult{
		BreathingRateBPM: bpm,
		MinRate:          bpm,
		MaxRate:          bpm,
		SampleCount:      sampleCount,
		LowConfidence:    !e.plausible(bpm),
		PeakFrequencyHz:  peak.Frequency,
		PeakPower:        peak.Power,
		PinStatus:        PinUnpinned,
	}, nil
}

// Statistics summarises an ordered window of instantaneous BPM readings:
// mean becomes the rate, min and max bound it, the count is recorded.
func (e *Estimator) Statistics(rates []float64) (*AnalysisResult, error) {
	if len(rates) == 0 {
		return nil, fmt.Errorf("statistics over zero readings: %w", ErrEmptyInput)
	}

	minRate, maxRate := rates[0], rates[0]
	for _, r := range rates[1:] {
		if r < minRate {
			minRate = r
		}
		if r > maxRate {
			maxRate = r
		}
	}
	mean := stat.Mean(rates, nil)

	return &AnalysisResult{
		BreathingRateBPM: mean,
		MinRate:          minRate,
		MaxRate:          maxRate,
		SampleCount:      len(rates),
		LowConfidence:    !e.plausible(mean),
		PinStatus:        PinUnpinned,
	}, nil
}

func (e *Estimator) plausible(bpm float64) bool {
	return bpm >= e.PlausibleMin && bpm <= e.PlausibleMax
}
