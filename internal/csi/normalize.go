package csi

import (
	"math/cmplx"

	"gonum.org/v1/gonum/stat"
)

// amplitudeRow extracts the amplitude magnitude over time for one wire
// position. Phase is discarded: commodity sensors have no carrier sync, so
// phase is dominated by oscillator drift while amplitude still tracks the
// body's effect on each path.
func amplitudeRow(series *CsiSeries, pos int) []float64 {
	row := make([]float64, len(series.Frames))
	for t, frame := range series.Frames {
		row[t] = cmplx.Abs(frame.Subcarriers[pos])
	}
	return row
}

// detrend removes the least-squares linear trend from row in place, then
// removes the residual mean. Slow amplitude drift (gain settling, posture
// shifts) otherwise leaks power into the same low bins the breathing band
// occupies. The regression already centres the data; the explicit mean pass
// afterwards guards against rounding residue.
func detrend(row []float64) {
	n := len(row)
	if n < 2 {
		return
	}
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	alpha, beta := stat.LinearRegression(xs, row, nil, false)
	for i := range row {
		row[i] -= alpha + beta*xs[i]
	}
	mean := stat.Mean(row, nil)
	for i := range row {
		row[i] -= mean
	}
}
