package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/breathing.report/internal/units"
)

// DefaultConfigPath is the path to the canonical analysis defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/analysis.defaults.json"

// AnalysisConfig represents the root configuration for the breathing
// analysis pipeline and the result-storage layer. All fields are pointers
// so that a partial JSON file overrides only what it names; the Get*
// accessors supply defaults for everything else.
type AnalysisConfig struct {
	// Pipeline params
	TopSubcarriers    *int     `json:"top_subcarriers,omitempty"`
	MinFrames         *int     `json:"min_frames,omitempty"`
	MinSamples        *int     `json:"min_samples,omitempty"`
	BreathingMinFreq  *float64 `json:"breathing_min_freq,omitempty"`
	BreathingMaxFreq  *float64 `json:"breathing_max_freq,omitempty"`
	MinPeakPower      *float64 `json:"min_peak_power,omitempty"`
	SamplingTolerance *float64 `json:"sampling_tolerance,omitempty"`
	PlausibleMinBPM   *float64 `json:"plausible_min_bpm,omitempty"`
	PlausibleMaxBPM   *float64 `json:"plausible_max_bpm,omitempty"`

	// Storage params
	ArtifactDir    *string `json:"artifact_dir,omitempty"`
	CASEnabled     *bool   `json:"cas_enabled,omitempty"`
	CASURL         *string `json:"cas_url,omitempty"`
	CASTimeout     *string `json:"cas_timeout,omitempty"` // duration string like "10s"
	UploadAttempts *int    `json:"upload_attempts,omitempty"`
	RetryBase      *string `json:"retry_base,omitempty"` // duration string like "250ms"

	// Reconciler params
	ReconcileInterval *string `json:"reconcile_interval,omitempty"` // duration string like "5m"
	ReconcileGrace    *string `json:"reconcile_grace,omitempty"`    // duration string like "1m"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyAnalysisConfig returns an AnalysisConfig with all fields set to nil.
// The Get* accessors turn it into a fully-defaulted configuration, so an
// empty config is always safe to use.
func EmptyAnalysisConfig() *AnalysisConfig {
	return &AnalysisConfig{}
}

// LoadAnalysisConfig loads an AnalysisConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file retain their default
// values, so partial configs are safe.
func LoadAnalysisConfig(path string) (*AnalysisConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyAnalysisConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *AnalysisConfig) Validate() error {
	if c.TopSubcarriers != nil && *c.TopSubcarriers < 1 {
		return fmt.Errorf("top_subcarriers must be at least 1, got %d", *c.TopSubcarriers)
	}
	if c.MinFrames != nil && *c.MinFrames < 1 {
		return fmt.Errorf("min_frames must be at least 1, got %d", *c.MinFrames)
	}
	if c.MinSamples != nil && *c.MinSamples < 2 {
		return fmt.Errorf("min_samples must be at least 2, got %d", *c.MinSamples)
	}
	if c.MinPeakPower != nil && *c.MinPeakPower < 0 {
		return fmt.Errorf("min_peak_power must be non-negative, got %g", *c.MinPeakPower)
	}
	if c.SamplingTolerance != nil {
		if *c.SamplingTolerance <= 0 || *c.SamplingTolerance >= 1 {
			return fmt.Errorf("sampling_tolerance must be between 0 and 1 exclusive, got %f", *c.SamplingTolerance)
		}
	}
	if c.UploadAttempts != nil && *c.UploadAttempts < 1 {
		return fmt.Errorf("upload_attempts must be at least 1, got %d", *c.UploadAttempts)
	}

	// The band and plausible range cross two fields, so validate the
	// effective values rather than only the ones that are set.
	if err := c.GetBreathingBand().Validate(); err != nil {
		return fmt.Errorf("invalid breathing band: %w", err)
	}
	if min, max := c.GetPlausibleMinBPM(), c.GetPlausibleMaxBPM(); min >= max {
		return fmt.Errorf("plausible_min_bpm %f must be below plausible_max_bpm %f", min, max)
	}

	// Validate duration strings can be parsed if set.
	for name, field := range map[string]*string{
		"cas_timeout":        c.CASTimeout,
		"retry_base":         c.RetryBase,
		"reconcile_interval": c.ReconcileInterval,
		"reconcile_grace":    c.ReconcileGrace,
	} {
		if field != nil && *field != "" {
			if _, err := time.ParseDuration(*field); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *field, err)
			}
		}
	}

	return nil
}

// GetTopSubcarriers returns the top_subcarriers value or the default.
func (c *AnalysisConfig) GetTopSubcarriers() int {
	if c.TopSubcarriers == nil {
		return 5 // default
	}
	return *c.TopSubcarriers
}

// GetMinFrames returns the min_frames value or the default.
func (c *AnalysisConfig) GetMinFrames() int {
	if c.MinFrames == nil {
		return 16 // default
	}
	return *c.MinFrames
}

// GetMinSamples returns the min_samples value or the default, which scales
// with the number of selected subcarriers.
func (c *AnalysisConfig) GetMinSamples() int {
	if c.MinSamples == nil {
		return 2 * c.GetTopSubcarriers()
	}
	return *c.MinSamples
}

// GetBreathingMinFreq returns the breathing_min_freq value or the default.
func (c *AnalysisConfig) GetBreathingMinFreq() float64 {
	if c.BreathingMinFreq == nil {
		return 0.2 // default, 12 BPM
	}
	return *c.BreathingMinFreq
}

// GetBreathingMaxFreq returns the breathing_max_freq value or the default.
func (c *AnalysisConfig) GetBreathingMaxFreq() float64 {
	if c.BreathingMaxFreq == nil {
		return 0.33 // default, ~20 BPM
	}
	return *c.BreathingMaxFreq
}

// GetBreathingBand returns the configured breathing band in Hz.
func (c *AnalysisConfig) GetBreathingBand() units.Band {
	return units.Band{MinHz: c.GetBreathingMinFreq(), MaxHz: c.GetBreathingMaxFreq()}
}

// GetMinPeakPower returns the min_peak_power value or the default.
func (c *AnalysisConfig) GetMinPeakPower() float64 {
	if c.MinPeakPower == nil {
		return 1e-9 // default
	}
	return *c.MinPeakPower
}

// GetSamplingTolerance returns the sampling_tolerance value or the default.
func (c *AnalysisConfig) GetSamplingTolerance() float64 {
	if c.SamplingTolerance == nil {
		return 0.5 // default: gaps within ±50% of the mean
	}
	return *c.SamplingTolerance
}

// GetPlausibleMinBPM returns the plausible_min_bpm value or the default.
func (c *AnalysisConfig) GetPlausibleMinBPM() float64 {
	if c.PlausibleMinBPM == nil {
		return 6.0
	}
	return *c.PlausibleMinBPM
}

// GetPlausibleMaxBPM returns the plausible_max_bpm value or the default.
func (c *AnalysisConfig) GetPlausibleMaxBPM() float64 {
	if c.PlausibleMaxBPM == nil {
		return 30.0
	}
	return *c.PlausibleMaxBPM
}

// GetArtifactDir returns the artifact_dir value or the default.
func (c *AnalysisConfig) GetArtifactDir() string {
	if c.ArtifactDir == nil || *c.ArtifactDir == "" {
		return "artifacts" // default
	}
	return *c.ArtifactDir
}

// GetCASEnabled returns the cas_enabled value or the default.
func (c *AnalysisConfig) GetCASEnabled() bool {
	if c.CASEnabled == nil {
		return true // default
	}
	return *c.CASEnabled
}

// GetCASURL returns the cas_url value or the default.
func (c *AnalysisConfig) GetCASURL() string {
	if c.CASURL == nil || *c.CASURL == "" {
		return "http://127.0.0.1:5001" // default: local Kubo RPC port
	}
	return *c.CASURL
}

// GetCASTimeout parses and returns the CASTimeout as a time.Duration.
func (c *AnalysisConfig) GetCASTimeout() time.Duration {
	if c.CASTimeout == nil || *c.CASTimeout == "" {
		return 10 * time.Second // default
	}
	d, err := time.ParseDuration(*c.CASTimeout)
	if err != nil {
		return 10 * time.Second // default on parse error
	}
	return d
}

// GetUploadAttempts returns the upload_attempts value or the default.
func (c *AnalysisConfig) GetUploadAttempts() int {
	if c.UploadAttempts == nil {
		return 3 // default
	}
	return *c.UploadAttempts
}

// GetRetryBase parses and returns the RetryBase as a time.Duration.
func (c *AnalysisConfig) GetRetryBase() time.Duration {
	if c.RetryBase == nil || *c.RetryBase == "" {
		return 250 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.RetryBase)
	if err != nil {
		return 250 * time.Millisecond // default on parse error
	}
	return d
}

// GetReconcileInterval parses and returns the ReconcileInterval as a time.Duration.
func (c *AnalysisConfig) GetReconcileInterval() time.Duration {
	if c.ReconcileInterval == nil || *c.ReconcileInterval == "" {
		return 5 * time.Minute // default
	}
	d, err := time.ParseDuration(*c.ReconcileInterval)
	if err != nil {
		return 5 * time.Minute // default on parse error
	}
	return d
}

// GetReconcileGrace parses and returns the ReconcileGrace as a time.Duration.
func (c *AnalysisConfig) GetReconcileGrace() time.Duration {
	if c.ReconcileGrace == nil || *c.ReconcileGrace == "" {
		return 1 * time.Minute // default
	}
	d, err := time.ParseDuration(*c.ReconcileGrace)
	if err != nil {
		return 1 * time.Minute // default on parse error
	}
	return d
}
