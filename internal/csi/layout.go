package csi

import (
	"fmt"

	"github.com/banshee-data/breathing.report/internal/units"
)

// Layout describes the subcarrier arrangement for one channel width: which
// wire positions carry data and which are guard bands, pilots, or the DC
// null. Only data subcarriers are analysed; everything else reflects the
// OFDM frame structure rather than the channel.
type Layout struct {
	Width           string
	SubcarrierCount int // subcarriers on the wire per frame
	MinIndex        int // lowest subcarrier index (indices run MinIndex..MinIndex+SubcarrierCount-1)

	dataIndices []int       // subcarrier indices kept for analysis, ascending
	dataSet     map[int]int // subcarrier index -> wire position
}

type indexRange struct{ lo, hi int }

// 20MHz: 64 subcarriers, indices -32..31. Edge guards, DC null, four pilots.
var layout20 = buildLayout(units.Width20MHz, 64, -32,
	[]indexRange{{-32, -26}, {27, 32}},
	[]int{0},
	[]int{-21, -7, 7, 21},
)

// 80MHz: 245 subcarriers, indices -122..122. Guard bands repeat every 15
// subcarriers across the bonded channel; eight of the sixteen pilots fall
// inside guard ranges and are listed for completeness.
var layout80 = buildLayout(units.Width80MHz, 245, -122,
	[]indexRange{
		{-122, -117}, {-107, -102}, {-92, -87}, {-77, -72}, {-62, -57},
		{-47, -42}, {-32, -27}, {-17, -12}, {-2, 3}, {12, 17},
		{27, 32}, {42, 47}, {57, 62}, {72, 77}, {87, 92},
		{102, 107}, {117, 122},
	},
	nil,
	[]int{-103, -75, -39, -11, -89, -61, -25, 3, -53, -17, 19, 55, 33, 69, 105, 119},
)

func buildLayout(width string, count, minIndex int, guards []indexRange, nulls, pilots []int) *Layout {
	drop := make(map[int]bool)
	for _, g := range guards {
		for idx := g.lo; idx <= g.hi; idx++ {
			drop[idx] = true
		}
	}
	for _, idx := range nulls {
		drop[idx] = true
	}
	for _, idx := range pilots {
		drop[idx] = true
	}

	l := &Layout{
		Width:           width,
		SubcarrierCount: count,
		MinIndex:        minIndex,
		dataSet:         make(map[int]int),
	}
	for idx := minIndex; idx < minIndex+count; idx++ {
		if drop[idx] {
			continue
		}
		l.dataSet[idx] = idx - minIndex
		l.dataIndices = append(l.dataIndices, idx)
	}
	return l
}

// LayoutFor returns the layout table for a channel width label. Widths with
// no table (40MHz, or anything unrecognised) fail with ErrUnsupportedLayout.
func LayoutFor(width string) (*Layout, error) {
	switch width {
	case units.Width20MHz:
		return layout20, nil
	case units.Width80MHz:
		return layout80, nil
	}
	return nil, fmt.Errorf("no layout table for channel width %q: %w", width, ErrUnsupportedLayout)
}

// DataIndices returns the subcarrier indices that carry data, ascending.
// The returned slice is shared; callers must not modify it.
func (l *Layout) DataIndices() []int {
	return l.dataIndices
}

// DataCount returns the number of data subcarriers for this width.
func (l *Layout) DataCount() int {
	return len(l.dataIndices)
}

// PositionOf returns the wire position of a subcarrier index, and whether
// that index is a data subcarrier in this layout.
func (l *Layout) PositionOf(index int) (int, bool) {
	pos, ok := l.dataSet[index]
	return pos, ok
}
