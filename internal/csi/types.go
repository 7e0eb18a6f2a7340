// Package csi extracts WiFi channel-state-information series from pcap
// captures and prepares them for spectral analysis: frame decoding,
// guard/pilot removal, variance-based subcarrier selection, and
// detrend/DC normalisation. Parsing is a pure transform over the capture
// bytes; nothing in this package touches the wall clock or any store.
package csi

// CaptureFrame is one CSI observation: the complex channel response across
// every wire subcarrier at a single capture instant.
type CaptureFrame struct {
	Timestamp   float64 // pcap record time, seconds; non-decreasing within a series
	Subcarriers []complex128
	DeviceID    string
}

// CsiSeries is the ordered frame sequence extracted from one capture upload,
// together with the capture metadata the wire carried. A series is owned by
// the request that parsed it and is discarded once a spectrum has been
// produced from it.
type CsiSeries struct {
	DeviceID      string
	ChannelWidth  string
	FirstSequence uint16
	LastSequence  uint16
	Frames        []CaptureFrame
}

// SubcarrierCount returns the wire subcarrier count of the series, which is
// constant across frames by construction.
func (s *CsiSeries) SubcarrierCount() int {
	if len(s.Frames) == 0 {
		return 0
	}
	return len(s.Frames[0].Subcarriers)
}

// Timestamps returns the per-frame capture timestamps in series order.
func (s *CsiSeries) Timestamps() []float64 {
	ts := make([]float64, len(s.Frames))
	for i, f := range s.Frames {
		ts[i] = f.Timestamp
	}
	return ts
}

// Duration returns the capture span in seconds, zero for series with fewer
// than two frames.
func (s *CsiSeries) Duration() float64 {
	if len(s.Frames) < 2 {
		return 0
	}
	return s.Frames[len(s.Frames)-1].Timestamp - s.Frames[0].Timestamp
}
