package ui

import (
	"math"
	"strings"
)

var bars = []rune("▁▂▃▄▅▆▇█")

// Waveform is one render of the audio overview.
type Waveform struct {
	// Columns are peak magnitudes in [0, 1], one per terminal column.
	Columns []float64
	// Markers are the columns topic boundaries fall in.
	Markers []int
	// Cursor is the playhead column, or -1 to hide it.
	Cursor int
}

// Bar renders the peaks as block characters without styling.
func Bar(columns []float64) string {
	var b strings.Builder
	for _, c := range columns {
		b.WriteRune(barFor(c))
	}
	return b.String()
}

func barFor(v float64) rune {
	if math.IsNaN(v) || v <= 0 {
		return bars[0]
	}
	if v >= 1 {
		return bars[len(bars)-1]
	}
	return bars[int(v*float64(len(bars)-1)+0.5)]
}

// RenderWaveform draws two lines: the bars with the playhead, and a marker
// row with ▲ under every topic boundary.
func RenderWaveform(w Waveform) string {
	if len(w.Columns) == 0 {
		return DimStyle.Render("  waveform not ready") + "\n"
	}

	var top strings.Builder
	for i, c := range w.Columns {
		switch {
		case i == w.Cursor:
			top.WriteString(PlayheadStyle.Render("┃"))
		case w.Cursor >= 0 && i < w.Cursor:
			top.WriteString(PlayedStyle.Render(string(barFor(c))))
		default:
			top.WriteString(UnplayedStyle.Render(string(barFor(c))))
		}
	}

	return top.String() + "\n" + MarkerRow(len(w.Columns), w.Markers)
}

// MarkerRow renders width columns with a styled ▲ at each marker column.
func MarkerRow(width int, markers []int) string {
	row := make([]bool, width)
	for _, m := range markers {
		if m >= 0 && m < width {
			row[m] = true
		}
	}
	var b strings.Builder
	for _, set := range row {
		if set {
			b.WriteString(MarkerStyle.Render("▲"))
		} else {
			b.WriteByte(' ')
		}
	}
	return b.String()
}
