package breathing

import (
	"context"
	"math"

	"github.com/banshee-data/breathing.report/internal/config"
	"github.com/banshee-data/breathing.report/internal/csi"
	"github.com/banshee-data/breathing.report/internal/spectral"
)

// Analyzer runs the full capture pipeline: parse, sample-rate check,
// subcarrier selection, spectrum, peak estimate. One Analyzer serves all
// requests; it holds only configuration, so concurrent analyses never share
// mutable state.
type Analyzer struct {
	cfg       *config.AnalysisConfig
	estimator *Estimator
}

// NewAnalyzer builds an Analyzer from the process configuration.
func NewAnalyzer(cfg *config.AnalysisConfig) *Analyzer {
	return &Analyzer{cfg: cfg, estimator: NewEstimator(cfg)}
}

// Estimator exposes the analyzer's estimator for callers that already have
// a spectrum in hand.
func (a *Analyzer) Estimator() *Estimator {
	return a.estimator
}

// AnalyzeCapture runs capture bytes through the pipeline and returns a
// result annotated with the capture metadata. The context is consulted
// between stages so an abandoned request stops before the expensive steps;
// a cancelled analysis leaves no trace anywhere.
func (a *Analyzer) AnalyzeCapture(ctx context.Context, capture []byte, meta *CaptureMetadata) (*AnalysisResult, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}

	series, err := csi.ParseCapture(capture, meta.DeviceID, meta.ChannelWidth, a.cfg.GetMinFrames())
	if err != nil {
		return nil, err
	}

	rate, err := spectral.SampleRate(series.Timestamps(), a.cfg.GetSamplingTolerance())
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	selection, err := csi.SelectAndNormalize(series, csi.SelectOptions{
		TopK:       a.cfg.GetTopSubcarriers(),
		MinSamples: a.cfg.GetMinSamples(),
		Selected:   meta.SelectedSubcarriers,
	})
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	spectrum, err := spectral.PowerSpectrum(selection.Rows, rate)
	if err != nil {
		return nil, err
	}

	result, err := a.estimator.RateFromSpectrum(spectrum, len(series.Frames))
	if err != nil {
		return nil, err
	}

	result.DeviceID = series.DeviceID
	result.ChannelWidth = series.ChannelWidth
	result.Location = meta.Location
	result.SelectedSubcarriers = selection.Indices
	result.CreatedAt = meta.Timestamp
	result.CollectionDuration = meta.CollectionDuration
	if result.CollectionDuration == 0 {
		// Metadata omitted the duration; the capture itself knows.
		result.CollectionDuration = int(math.Round(series.Duration()))
	}
	return result, nil
}

// AnalyzeRates runs the statistical path over pre-aggregated readings.
func (a *Analyzer) AnalyzeRates(deviceID string, rates []float64) (*AnalysisResult, error) {
	result, err := a.estimator.Statistics(rates)
	if err != nil {
		return nil, err
	}
	result.DeviceID = deviceID
	return result, nil
}
