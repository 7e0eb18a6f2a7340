// spectrum-plot runs a CSI pcap through the analysis pipeline and renders
// the averaged power spectrum to a PNG with the breathing band shaded.
// When tuning the band edges or the peak power floor it is much easier to
// look at the spectrum than to infer its shape from accepted and rejected
// uploads.
package main

import (
	"errors"
	"flag"
	"fmt"
	"image/color"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/breathing.report/internal/breathing"
	"github.com/banshee-data/breathing.report/internal/config"
	"github.com/banshee-data/breathing.report/internal/csi"
	"github.com/banshee-data/breathing.report/internal/spectral"
	"github.com/banshee-data/breathing.report/internal/units"
)

// Config holds command-line configuration.
type Config struct {
	PCAPFile   string
	DeviceID   string
	Width      string
	ConfigPath string
	OutputDir  string
	MaxFreq    float64
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

	if cfg.OutputDir != "" {
		if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
			log.Fatalf("Failed to create output directory: %v", err)
		}
	}

	if err := run(cfg, tuning); err != nil {
		log.Fatalf("Plot failed: %v", err)
	}
}

func parseFlags() Config {
	config := Config{}

	flag.StringVar(&config.PCAPFile, "pcap", "", "Path to CSI pcap capture (required)")
	flag.StringVar(&config.DeviceID, "device", "offline", "Device ID to stamp on the series")
	flag.StringVar(&config.Width, "width", "", "Declared channel width; empty trusts the capture")
	flag.StringVar(&config.ConfigPath, "config", "", "Analysis tuning JSON (optional)")
	flag.StringVar(&config.OutputDir, "output", ".", "Output directory for the PNG")
	flag.Float64Var(&config.MaxFreq, "fmax", 2.0, "Upper frequency bound of the plot in Hz (0 plots to Nyquist)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "CSI Spectrum Plotting Tool\n\n")
		fmt.Fprintf(os.Stderr, "This tool renders the averaged power spectrum the estimator sees:\n")
		fmt.Fprintf(os.Stderr, "  1. Decode CSI frames and select the top-variance subcarriers\n")
		fmt.Fprintf(os.Stderr, "  2. Average the per-subcarrier power spectra\n")
		fmt.Fprintf(os.Stderr, "  3. Plot power against frequency with the breathing band shaded\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -pcap bedroom.pcap\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -pcap bedroom.pcap -fmax 1.0 -output ./plots\n", os.Args[0])
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

func run(cfg Config, tuning *config.AnalysisConfig) error {
	data, err := os.ReadFile(cfg.PCAPFile)
	if err != nil {
		return fmt.Errorf("read capture: %w", err)
	}

	series, err := csi.ParseCapture(data, cfg.DeviceID, cfg.Width, tuning.GetMinFrames())
	if err != nil {
		return fmt.Errorf("parse capture: %w", err)
	}

	rate, err := spectral.SampleRate(series.Timestamps(), tuning.GetSamplingTolerance())
	if err != nil {
		return fmt.Errorf("derive sample rate: %w", err)
	}

	selection, err := csi.SelectAndNormalize(series, csi.SelectOptions{
		TopK:       tuning.GetTopSubcarriers(),
		MinSamples: tuning.GetMinSamples(),
	})
	if err != nil {
		return fmt.Errorf("select subcarriers: %w", err)
	}

	spectrum, err := spectral.PowerSpectrum(selection.Rows, rate)
	if err != nil {
		return fmt.Errorf("compute spectrum: %w", err)
	}

	// A spectrum with no breathing peak is still worth looking at; that is
	// usually exactly the capture being debugged.
	estimate, err := breathing.NewEstimator(tuning).RateFromSpectrum(spectrum, len(series.Frames))
	if err != nil && !errors.Is(err, breathing.ErrNoPeakDetected) {
		return fmt.Errorf("estimate rate: %w", err)
	}

	baseName := strings.TrimSuffix(filepath.Base(cfg.PCAPFile), filepath.Ext(cfg.PCAPFile))
	pngPath := filepath.Join(cfg.OutputDir, baseName+"_spectrum.png")

	title := fmt.Sprintf("Averaged CSI Power Spectrum (%s, %.1f Hz)", series.DeviceID, rate)
	if err := renderSpectrum(pngPath, title, spectrum, tuning.GetBreathingBand(), estimate, cfg.MaxFreq); err != nil {
		return err
	}

	if estimate != nil {
		fmt.Printf("Breathing peak: %.2f BPM at %.3f Hz (power %.3g)\n",
			estimate.BreathingRateBPM, estimate.PeakFrequencyHz, estimate.PeakPower)
	} else {
		fmt.Printf("No breathing peak: %v\n", err)
	}
	fmt.Printf("Spectrum plot: %s\n", pngPath)
	return nil
}

// renderSpectrum draws the band polygon first so the spectrum line and the
// peak marker paint over it. estimate may be nil when no peak cleared the
// power floor; the plot then carries just the spectrum and the band.
func renderSpectrum(path, title string, spectrum []spectral.SpectrumSample, band units.Band, estimate *breathing.AnalysisResult, maxFreq float64) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Frequency (Hz)"
	p.Y.Label.Text = "Power"

	pts := make(plotter.XYs, 0, len(spectrum))
	maxPower := 0.0
	for _, s := range spectrum {
		if maxFreq > 0 && s.Frequency > maxFreq {
			continue
		}
		pts = append(pts, plotter.XY{X: s.Frequency, Y: s.Power})
		if s.Power > maxPower {
			maxPower = s.Power
		}
	}
	if len(pts) == 0 {
		return fmt.Errorf("no spectrum bins at or below %.2f Hz", maxFreq)
	}

	bandPoly, err := plotter.NewPolygon(plotter.XYs{
		{X: band.MinHz, Y: 0},
		{X: band.MaxHz, Y: 0},
		{X: band.MaxHz, Y: maxPower * 1.05},
		{X: band.MinHz, Y: maxPower * 1.05},
	})
	if err != nil {
		return fmt.Errorf("band polygon: %w", err)
	}
	bandPoly.Color = color.NRGBA{R: 129, G: 199, B: 132, A: 56}
	bandPoly.LineStyle.Color = color.NRGBA{R: 129, G: 199, B: 132, A: 112}
	p.Add(bandPoly)
	p.Legend.Add(fmt.Sprintf("breathing band %.2f-%.2f Hz", band.MinHz, band.MaxHz), bandPoly)

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("spectrum line: %w", err)
	}
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("averaged power", line)

	if estimate != nil {
		peak, err := plotter.NewScatter(plotter.XYs{{X: estimate.PeakFrequencyHz, Y: estimate.PeakPower}})
		if err != nil {
			return fmt.Errorf("peak marker: %w", err)
		}
		peak.GlyphStyle.Radius = vg.Points(3)
		peak.GlyphStyle.Color = color.NRGBA{R: 229, G: 57, B: 53, A: 255}
		p.Add(peak)
		p.Legend.Add(fmt.Sprintf("peak %.2f BPM", estimate.BreathingRateBPM), peak)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	p.X.Min = 0
	p.Y.Min = 0

	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save spectrum plot: %w", err)
	}
	return nil
}
