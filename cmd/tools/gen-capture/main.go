// Command gen-capture writes a synthetic CSI pcap with a known breathing
// signal injected, for exercising capture-inspect, spectrum-plot, and the
// upload endpoint without sensor hardware.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/banshee-data/breathing.report/internal/testutil"
	"github.com/banshee-data/breathing.report/internal/units"
)

func main() {
	output := flag.String("o", "sample.pcap", "output path")
	frames := flag.Int("n", 256, "number of CSI frames")
	rate := flag.Float64("rate", 10, "frames per second")
	bpm := flag.Float64("bpm", 15, "breathing rate to inject, 0 for a still room")
	width := flag.String("width", units.Width80MHz, "channel width (20MHz or 80MHz)")
	noise := flag.Float64("noise", 1, "uniform noise amplitude")
	seed := flag.Int64("seed", 1, "rng seed")
	chatter := flag.Int("chatter", 0, "unrelated datagrams to interleave")
	flag.Parse()

	var code byte
	switch *width {
	case units.Width20MHz:
		code = 0
	case units.Width80MHz:
		code = 2
	default:
		log.Fatalf("unsupported width %q, want 20MHz or 80MHz", *width)
	}

	data, err := testutil.RenderCapture(testutil.CaptureSpec{
		WidthCode:          code,
		Frames:             *frames,
		SampleRate:         *rate,
		BreathingHz:        units.BPMToHz(*bpm),
		Noise:              *noise,
		Seed:               *seed,
		UnrelatedDatagrams: *chatter,
	})
	if err != nil {
		log.Fatalf("render capture: %v", err)
	}
	if err := os.WriteFile(*output, data, 0644); err != nil {
		log.Fatalf("write capture: %v", err)
	}
	log.Printf("✓ Created: %s (%d frames at %.1f Hz, %.2f BPM)", *output, *frames, *rate, *bpm)
}
