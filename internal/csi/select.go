package csi

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// SelectOptions control how subcarriers are chosen for analysis.
type SelectOptions struct {
	TopK       int   // subcarriers to keep when ranking by variance
	MinSamples int   // minimum frames required for a usable series
	Selected   []int // hardware-selected subcarrier indices; overrides ranking when non-empty
}

// Selection is the analysis-ready view of a series: one detrended, zero-mean
// amplitude row per selected subcarrier.
type Selection struct {
	Indices []int       // selected subcarrier indices, ascending
	Rows    [][]float64 // len(Indices) rows, one sample per frame
}

// SelectAndNormalize reduces a series to the subcarriers that matter.
// Guard bands, pilots, and the DC null are dropped via the width's layout
// table, the remaining data subcarriers are ranked by amplitude variance
// across the series, and the top K survive. Chest motion modulates path
// geometry, so the subcarriers that move the most are the ones carrying
// the breathing signal. Ranking ties break toward the lower subcarrier
// index, which keeps selection stable across reruns of the same series.
//
// Each surviving row is detrended and mean-removed in place, ready for
// windowing and the FFT.
func SelectAndNormalize(series *CsiSeries, opts SelectOptions) (*Selection, error) {
	layout, err := LayoutFor(series.ChannelWidth)
	if err != nil {
		return nil, err
	}

	frameCount := len(series.Frames)
	if frameCount < opts.MinSamples {
		return nil, fmt.Errorf("series has %d frames, need at least %d: %w",
			frameCount, opts.MinSamples, ErrInsufficientSamples)
	}

	var indices []int
	if len(opts.Selected) > 0 {
		indices, err = validateSelected(layout, opts.Selected)
		if err != nil {
			return nil, err
		}
	} else {
		indices = rankByVariance(series, layout, opts.TopK)
	}

	rows := make([][]float64, len(indices))
	for i, idx := range indices {
		pos, _ := layout.PositionOf(idx)
		row := amplitudeRow(series, pos)
		detrend(row)
		rows[i] = row
	}
	return &Selection{Indices: indices, Rows: rows}, nil
}

type subcarrierVariance struct {
	index    int
	variance float64
}

func rankByVariance(series *CsiSeries, layout *Layout, topK int) []int {
	candidates := layout.DataIndices()
	ranked := make([]subcarrierVariance, 0, len(candidates))
	for _, idx := range candidates {
		pos, _ := layout.PositionOf(idx)
		ranked = append(ranked, subcarrierVariance{
			index:    idx,
			variance: stat.Variance(amplitudeRow(series, pos), nil),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].variance != ranked[j].variance {
			return ranked[i].variance > ranked[j].variance
		}
		return ranked[i].index < ranked[j].index
	})

	if topK > len(ranked) {
		topK = len(ranked)
	}
	indices := make([]int, topK)
	for i := 0; i < topK; i++ {
		indices[i] = ranked[i].index
	}
	sort.Ints(indices)
	return indices
}

// validateSelected checks a hardware-provided selection against the layout:
// every index must be a data subcarrier for the series' width. Duplicates
// collapse; order is normalised to ascending.
func validateSelected(layout *Layout, selected []int) ([]int, error) {
	seen := make(map[int]bool)
	indices := make([]int, 0, len(selected))
	for _, idx := range selected {
		if _, ok := layout.PositionOf(idx); !ok {
			return nil, fmt.Errorf("selected subcarrier %d is not a %s data subcarrier", idx, layout.Width)
		}
		if seen[idx] {
			continue
		}
		seen[idx] = true
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices, nil
}
