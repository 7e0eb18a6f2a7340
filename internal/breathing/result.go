// Package breathing holds the breathing-rate domain: the analysis result
// model, the spectral and statistical rate estimators, and the Analyzer that
// runs a capture through the full pipeline.
package breathing

import (
	"fmt"
	"strings"

	"github.com/banshee-data/breathing.report/internal/units"
)

// PinStatus tracks how far a result artifact has travelled into the
// content-addressed store.
type PinStatus string

const (
	// PinUnpinned means no upload was attempted (store disabled or not yet queued).
	PinUnpinned PinStatus = "unpinned"
	// PinPending means an upload is in flight or queued for retry.
	PinPending PinStatus = "pending"
	// PinPinned means the content store confirmed the pin; the record is final.
	PinPinned PinStatus = "pinned"
	// PinFailed means upload retries were exhausted; the reconciler owns it now.
	PinFailed PinStatus = "failed"
)

// IsValid reports whether s is one of the four lifecycle states.
func (s PinStatus) IsValid() bool {
	switch s {
	case PinUnpinned, PinPending, PinPinned, PinFailed:
		return true
	}
	return false
}

// AnalysisResult is the durable record of one breathing-rate analysis. The
// spectral path produces a single rate (min = max = rate); the statistical
// path summarises a window of readings. Either way SampleCount is at least 1.
type AnalysisResult struct {
	ID               string  `json:"id"`
	DeviceID         string  `json:"device_id"`
	CreatedAt        int64   `json:"created_at"` // unix seconds
	BreathingRateBPM float64 `json:"breathing_rate_bpm"`
	MinRate          float64 `json:"min_rate"`
	MaxRate          float64 `json:"max_rate"`
	SampleCount      int     `json:"sample_count"`

	// LowConfidence flags a rate outside the plausible physiological range.
	// Such results are recorded, never rejected; the flag travels with them.
	LowConfidence bool `json:"low_confidence"`

	PeakFrequencyHz     float64 `json:"peak_frequency_hz,omitempty"`
	PeakPower           float64 `json:"peak_power,omitempty"`
	ChannelWidth        string  `json:"channel_width,omitempty"`
	Location            string  `json:"location,omitempty"`
	CollectionDuration  int     `json:"collection_duration,omitempty"` // seconds
	SelectedSubcarriers []int   `json:"selected_subcarriers,omitempty"`

	ContentDigest string    `json:"content_digest,omitempty"`
	PinStatus     PinStatus `json:"pin_status"`
}

// CaptureMetadata is the typed form of the metadata JSON that accompanies a
// capture upload. It is validated at the API boundary so the pipeline only
// ever sees well-formed values.
type CaptureMetadata struct {
	DeviceID string `json:"device_id"`

	// ChannelWidth declares the capture's width. When set it must match what
	// the frames carry; when empty the wire width stands alone.
	ChannelWidth string `json:"channel_width,omitempty"`

	Location           string `json:"location,omitempty"`
	CollectionDuration int    `json:"collection_duration,omitempty"` // seconds

	// Timestamp is the sensor's claim of when collection happened, unix
	// seconds. When set it becomes the result's CreatedAt, which lets old
	// captures backfill with their historical time.
	Timestamp int64 `json:"timestamp,omitempty"`

	// SelectedSubcarriers carries a hardware-side selection that overrides
	// server-side variance ranking.
	SelectedSubcarriers []int `json:"selected_subcarriers,omitempty"`
}

// Validate checks the metadata for boundary errors: a device id is required,
// and a declared channel width must be one the wire format knows.
func (m *CaptureMetadata) Validate() error {
	if strings.TrimSpace(m.DeviceID) == "" {
		return fmt.Errorf("metadata is missing device_id")
	}
	if m.ChannelWidth != "" && !units.IsValidWidth(m.ChannelWidth) {
		return fmt.Errorf("unknown channel_width %q, expected one of %s", m.ChannelWidth, units.ValidWidthsString())
	}
	if m.CollectionDuration < 0 {
		return fmt.Errorf("collection_duration must be non-negative, got %d", m.CollectionDuration)
	}
	if m.Timestamp < 0 {
		return fmt.Errorf("timestamp must be non-negative, got %d", m.Timestamp)
	}
	return nil
}
