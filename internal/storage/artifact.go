package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/banshee-data/breathing.report/internal/breathing"
)

// artifactContent is the canonical on-disk form of an analysis result. It
// carries only the measurement fields: id, created_at and pin_status are
// index metadata, and including them would make equal measurements hash
// differently.
type artifactContent struct {
	DeviceID            string  `json:"device_id"`
	BreathingRateBPM    float64 `json:"breathing_rate_bpm"`
	MinRate             float64 `json:"min_rate"`
	MaxRate             float64 `json:"max_rate"`
	SampleCount         int     `json:"sample_count"`
	LowConfidence       bool    `json:"low_confidence"`
	PeakFrequencyHz     float64 `json:"peak_frequency_hz"`
	PeakPower           float64 `json:"peak_power"`
	ChannelWidth        string  `json:"channel_width,omitempty"`
	Location            string  `json:"location,omitempty"`
	CollectionDuration  int     `json:"collection_duration,omitempty"`
	SelectedSubcarriers []int   `json:"selected_subcarriers,omitempty"`
}

// EncodeArtifact renders a result as its canonical JSON artifact and returns
// the bytes together with their sha256 hex digest. Field order follows the
// struct, indentation is fixed at two spaces and the file ends with a
// newline, so encoding the same measurements always yields the same bytes
// and the digest doubles as a deduplication key.
func EncodeArtifact(result *breathing.AnalysisResult) ([]byte, string, error) {
	if result == nil {
		return nil, "", fmt.Errorf("cannot encode nil result")
	}
	content := artifactContent{
		DeviceID:            result.DeviceID,
		BreathingRateBPM:    result.BreathingRateBPM,
		MinRate:             result.MinRate,
		MaxRate:             result.MaxRate,
		SampleCount:         result.SampleCount,
		LowConfidence:       result.LowConfidence,
		PeakFrequencyHz:     result.PeakFrequencyHz,
		PeakPower:           result.PeakPower,
		ChannelWidth:        result.ChannelWidth,
		Location:            result.Location,
		CollectionDuration:  result.CollectionDuration,
		SelectedSubcarriers: result.SelectedSubcarriers,
	}
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode artifact: %w", err)
	}
	data = append(data, '\n')
	return data, HashArtifact(data), nil
}

// HashArtifact returns the sha256 hex digest of artifact bytes.
func HashArtifact(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
