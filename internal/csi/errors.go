package csi

import "errors"

// Sentinel error kinds for capture parsing and subcarrier selection.
// Call sites wrap these with fmt.Errorf("...: %w", ...) so callers can
// match the kind with errors.Is while keeping the specific context.
var (
	// ErrMalformedCapture reports an unreadable pcap container, a truncated
	// frame payload, a subcarrier count that changes mid-series, or a
	// capture with fewer than the configured minimum frame count.
	ErrMalformedCapture = errors.New("malformed capture")

	// ErrUnsupportedLayout reports a channel-width code that has no
	// guard/pilot layout table (40MHz is recognised on the wire but not
	// supported for analysis).
	ErrUnsupportedLayout = errors.New("unsupported channel layout")

	// ErrEmptyCapture reports a capture that parsed cleanly but contained
	// no CSI frames at all.
	ErrEmptyCapture = errors.New("no csi frames in capture")

	// ErrNonMonotonicTimestamps reports pcap record timestamps that
	// decrease within one series.
	ErrNonMonotonicTimestamps = errors.New("non-monotonic frame timestamps")

	// ErrInsufficientSamples reports a series too short for spectral
	// analysis after parsing succeeded.
	ErrInsufficientSamples = errors.New("insufficient samples")
)
