// Package units provides shared constants, conversions, and validation for
// frequencies, breathing rates, and channel widths.
package units

import "fmt"

// SecondsPerMinute converts between per-second and per-minute rates.
const SecondsPerMinute = 60.0

// HzToBPM converts a frequency in hertz to breaths per minute.
func HzToBPM(hz float64) float64 {
	return hz * SecondsPerMinute
}

// BPMToHz converts a breaths-per-minute rate to hertz.
func BPMToHz(bpm float64) float64 {
	return bpm / SecondsPerMinute
}

// Band is an inclusive frequency interval in hertz.
type Band struct {
	MinHz float64
	MaxHz float64
}

// Contains reports whether hz falls inside the band, bounds included.
func (b Band) Contains(hz float64) bool {
	return hz >= b.MinHz && hz <= b.MaxHz
}

// Validate checks that the band is well-formed: non-negative lower edge and
// a strictly higher upper edge.
func (b Band) Validate() error {
	if b.MinHz < 0 {
		return fmt.Errorf("band lower edge must be non-negative, got %g", b.MinHz)
	}
	if b.MaxHz <= b.MinHz {
		return fmt.Errorf("band upper edge %g must exceed lower edge %g", b.MaxHz, b.MinHz)
	}
	return nil
}

// BPMBand returns the band's edges converted to breaths per minute.
func (b Band) BPMBand() (minBPM, maxBPM float64) {
	return HzToBPM(b.MinHz), HzToBPM(b.MaxHz)
}
