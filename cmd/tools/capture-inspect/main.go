// capture-inspect parses a CSI pcap from disk and prints what the analysis
// pipeline would see: frame and subcarrier counts, capture duration, the
// effective sample rate, the subcarriers variance ranking would select, and
// the breathing peak if one stands out. It runs the same stages as the
// upload endpoint but stops short of persistence, so a capture can be
// checked before a sensor ever talks to a server.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/breathing.report/internal/breathing"
	"github.com/banshee-data/breathing.report/internal/config"
	"github.com/banshee-data/breathing.report/internal/csi"
	"github.com/banshee-data/breathing.report/internal/spectral"
)

// Config holds command-line configuration.
type Config struct {
	PCAPFile   string
	DeviceID   string
	Width      string
	ConfigPath string
	OutputDir  string
	ExportJSON bool
}

// InspectResult is everything the summary prints, in exportable form.
type InspectResult struct {
	File                string  `json:"file"`
	DeviceID            string  `json:"device_id"`
	ChannelWidth        string  `json:"channel_width"`
	Frames              int     `json:"frames"`
	Subcarriers         int     `json:"subcarriers"`
	SequenceFirst       uint16  `json:"sequence_first"`
	SequenceLast        uint16  `json:"sequence_last"`
	DurationSecs        float64 `json:"duration_secs"`
	SampleRateHz        float64 `json:"sample_rate_hz,omitempty"`
	SamplingNote        string  `json:"sampling_note,omitempty"`
	SelectedSubcarriers []int   `json:"selected_subcarriers,omitempty"`
	BreathingRateBPM    float64 `json:"breathing_rate_bpm,omitempty"`
	PeakFrequencyHz     float64 `json:"peak_frequency_hz,omitempty"`
	PeakPower           float64 `json:"peak_power,omitempty"`
	LowConfidence       bool    `json:"low_confidence,omitempty"`
	PeakNote            string  `json:"peak_note,omitempty"`
}

func main() {
	cfg := parseFlags()

	if cfg.PCAPFile == "" {
		fmt.Fprintln(os.Stderr, "Error: pcap file is required")
		flag.Usage()
		os.Exit(1)
	}

	if _, err := os.Stat(cfg.PCAPFile); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error: pcap file not found: %s\n", cfg.PCAPFile)
		os.Exit(1)
	}

	tuning, err := loadTuning(cfg.ConfigPath)
	if err != nil {
		log.Fatalf("Failed to load tuning config: %v", err)
	}

	result, err := inspect(cfg, tuning)
	if err != nil {
		log.Fatalf("Inspection failed: %v", err)
	}

	printSummary(result)

	if cfg.ExportJSON {
		if err := exportJSON(cfg, result); err != nil {
			log.Fatalf("Export failed: %v", err)
		}
	}
}

func parseFlags() Config {
	config := Config{}

	flag.StringVar(&config.PCAPFile, "pcap", "", "Path to CSI pcap capture (required)")
	flag.StringVar(&config.DeviceID, "device", "offline", "Device ID to stamp on the series")
	flag.StringVar(&config.Width, "width", "", "Declared channel width; empty trusts the capture")
	flag.StringVar(&config.ConfigPath, "config", "", "Analysis tuning JSON (optional)")
	flag.StringVar(&config.OutputDir, "output", ".", "Output directory for JSON export")
	flag.BoolVar(&config.ExportJSON, "json", false, "Export the summary to JSON")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "CSI Capture Inspection Tool\n\n")
		fmt.Fprintf(os.Stderr, "This tool runs a pcap through the breathing-rate pipeline without a server:\n")
		fmt.Fprintf(os.Stderr, "  1. Decode CSI frames from UDP datagrams\n")
		fmt.Fprintf(os.Stderr, "  2. Derive the effective sample rate from record timestamps\n")
		fmt.Fprintf(os.Stderr, "  3. Rank data subcarriers by amplitude variance, keep the top K\n")
		fmt.Fprintf(os.Stderr, "  4. Average the per-subcarrier power spectra and pick the breathing peak\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -pcap bedroom.pcap\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -pcap bedroom.pcap -width 80MHz -json -output ./results\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -pcap bedroom.pcap -config config/analysis.defaults.json\n", os.Args[0])
	}

	flag.Parse()
	return config
}

func loadTuning(path string) (*config.AnalysisConfig, error) {
	if path == "" {
		return config.EmptyAnalysisConfig(), nil
	}
	return config.LoadAnalysisConfig(path)
}

// inspect runs as much of the pipeline as the capture supports. Irregular
// sampling and a missing breathing peak are findings, not failures: the tool
// reports them in the summary and still prints everything learned up to that
// point. Only an unreadable or malformed capture aborts the run.
func inspect(cfg Config, tuning *config.AnalysisConfig) (*InspectResult, error) {
	data, err := os.ReadFile(cfg.PCAPFile)
	if err != nil {
		return nil, fmt.Errorf("read capture: %w", err)
	}

	series, err := csi.ParseCapture(data, cfg.DeviceID, cfg.Width, tuning.GetMinFrames())
	if err != nil {
		return nil, fmt.Errorf("parse capture: %w", err)
	}

	result := &InspectResult{
		File:          cfg.PCAPFile,
		DeviceID:      series.DeviceID,
		ChannelWidth:  series.ChannelWidth,
		Frames:        len(series.Frames),
		Subcarriers:   series.SubcarrierCount(),
		SequenceFirst: series.FirstSequence,
		SequenceLast:  series.LastSequence,
		DurationSecs:  series.Duration(),
	}

	selection, err := csi.SelectAndNormalize(series, csi.SelectOptions{
		TopK:       tuning.GetTopSubcarriers(),
		MinSamples: tuning.GetMinSamples(),
	})
	if err != nil {
		return nil, fmt.Errorf("select subcarriers: %w", err)
	}
	result.SelectedSubcarriers = selection.Indices

	rate, err := spectral.SampleRate(series.Timestamps(), tuning.GetSamplingTolerance())
	if err != nil {
		result.SamplingNote = err.Error()
		return result, nil
	}
	result.SampleRateHz = rate

	spectrum, err := spectral.PowerSpectrum(selection.Rows, rate)
	if err != nil {
		return nil, fmt.Errorf("compute spectrum: %w", err)
	}

	estimate, err := breathing.NewEstimator(tuning).RateFromSpectrum(spectrum, len(series.Frames))
	if errors.Is(err, breathing.ErrNoPeakDetected) {
		result.PeakNote = err.Error()
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("estimate rate: %w", err)
	}

	result.BreathingRateBPM = estimate.BreathingRateBPM
	result.PeakFrequencyHz = estimate.PeakFrequencyHz
	result.PeakPower = estimate.PeakPower
	result.LowConfidence = estimate.LowConfidence
	return result, nil
}

func printSummary(result *InspectResult) {
	fmt.Println("\n========== CSI Capture Summary ==========")
	fmt.Printf("File: %s\n", result.File)
	fmt.Printf("Device: %s (%s)\n", result.DeviceID, result.ChannelWidth)
	fmt.Printf("Frames: %d (sequence %d..%d)\n", result.Frames, result.SequenceFirst, result.SequenceLast)
	fmt.Printf("Subcarriers: %d on the wire\n", result.Subcarriers)
	fmt.Printf("Duration: %.1f seconds\n", result.DurationSecs)
	if result.SamplingNote != "" {
		fmt.Printf("Sample rate: unusable (%s)\n", result.SamplingNote)
	} else {
		fmt.Printf("Sample rate: %.2f Hz\n", result.SampleRateHz)
	}
	fmt.Printf("Selected subcarriers: %v\n", result.SelectedSubcarriers)
	fmt.Println()
	switch {
	case result.SamplingNote != "":
		fmt.Println("Breathing rate: not computed (irregular sampling)")
	case result.PeakNote != "":
		fmt.Printf("Breathing rate: none (%s)\n", result.PeakNote)
	default:
		fmt.Printf("Breathing rate: %.2f BPM (peak %.3f Hz, power %.3g)\n",
			result.BreathingRateBPM, result.PeakFrequencyHz, result.PeakPower)
		if result.LowConfidence {
			fmt.Println("  rate is outside the plausible range; flagged low confidence")
		}
	}
	fmt.Println("==========================================")
}

func exportJSON(cfg Config, result *InspectResult) error {
	if cfg.OutputDir != "" {
		if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	baseName := strings.TrimSuffix(filepath.Base(cfg.PCAPFile), filepath.Ext(cfg.PCAPFile))
	jsonPath := filepath.Join(cfg.OutputDir, baseName+"_inspect.json")
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("JSON marshal: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0644); err != nil {
		return fmt.Errorf("write JSON: %w", err)
	}
	fmt.Printf("JSON results: %s\n", jsonPath)
	return nil
}
