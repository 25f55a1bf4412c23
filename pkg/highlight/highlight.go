// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package highlight computes which fuel map cells the ECU is currently
// interpolating between and how to colour them.
package highlight

import (
	"fmt"
	"strings"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/Thermoquad/cuxstat/pkg/ecu"
)

// maxWeight is the largest interpolation weight reported for an axis
const maxWeight = 15

// Mode selects how the active cell is drawn
type Mode int

const (
	Soft Mode = iota
	Hard
)

func (m Mode) String() string {
	if m == Hard {
		return "hard"
	}
	return "soft"
}

// ParseMode parses "soft" or "hard"; the empty string is Soft
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "soft":
		return Soft, nil
	case "hard":
		return Hard, nil
	}
	return Soft, fmt.Errorf("unknown highlight mode %q", s)
}

// Cell is one highlighted fuel map cell. Factor scales the cell's base
// colour: 0 is fully highlighted, 1 leaves the colour untouched. Solid
// cells are drawn with a marker instead of a blend.
type Cell struct {
	Row    int
	Col    int
	Factor float64
	Solid  bool
}

// ActiveCells returns the highlighted cells for a fuel map position
func ActiveCells(pos ecu.FuelMapPosition, soft bool) []Cell {
	if !soft {
		row := pos.Row
		if pos.RowWeight >= 8 {
			row++
		}
		col := pos.Col
		if pos.ColWeight >= 8 {
			col++
		}
		return []Cell{{
			Row:   min(row, ecu.FuelMapRows-1),
			Col:   min(col, ecu.FuelMapCols-1),
			Solid: true,
		}}
	}

	cells := make([]Cell, 0, 4)
	for dr := 0; dr <= 1; dr++ {
		for dc := 0; dc <= 1; dc++ {
			r, c := pos.Row+dr, pos.Col+dc
			if r < 0 || r >= ecu.FuelMapRows || c < 0 || c >= ecu.FuelMapCols {
				continue
			}
			cells = append(cells, Cell{
				Row:    r,
				Col:    c,
				Factor: 1 - share(pos.RowWeight, dr == 1)*share(pos.ColWeight, dc == 1),
			})
		}
	}
	return cells
}

// share is the portion of an axis attributed to the near or far cell
func share(weight int, far bool) float64 {
	w := float64(max(0, min(weight, maxWeight))) / maxWeight
	if far {
		return w
	}
	return 1 - w
}

// Factors indexes the active cells by row and column
func Factors(cells []Cell) map[[2]int]Cell {
	out := make(map[[2]int]Cell, len(cells))
	for _, c := range cells {
		out[[2]int{c.Row, c.Col}] = c
	}
	return out
}

// CellColor maps a fuel map byte onto a blue (low) to red (high) hue ramp
func CellColor(b byte) colorful.Color {
	hue := 240 * (1 - float64(b)/255)
	return colorful.Hsv(hue, 0.75, 0.95)
}

// Shade multiplies each channel of c by factor
func Shade(c colorful.Color, factor float64) colorful.Color {
	factor = max(0, min(factor, 1))
	return colorful.Color{R: c.R * factor, G: c.G * factor, B: c.B * factor}
}

// Luma returns the BT.601 brightness of c on a 0-255 scale
func Luma(c colorful.Color) float64 {
	r, g, b := c.RGB255()
	return 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
}

var (
	lightText = colorful.Color{R: 1, G: 1, B: 1}
	darkText  = colorful.Color{}
)

// TextColor picks light text on dark backgrounds and dark text otherwise
func TextColor(bg colorful.Color) colorful.Color {
	if Luma(bg) <= 128 {
		return lightText
	}
	return darkText
}

// Colors returns the background and text colour of a cell holding b, shaded
// by factor
func Colors(b byte, factor float64) (bg, fg colorful.Color) {
	bg = Shade(CellColor(b), factor)
	return bg, TextColor(bg)
}
