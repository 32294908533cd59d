// Package chart renders estimates as terminal text: a braille line chart of
// one region's R(t) with its credible band, and a ranked summary table of
// the latest estimates across regions. Output is plain strings, suitable for
// stdout or a Telegram code block; no terminal state is touched.
package chart

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/epimetrics/rtwatch/internal/models"
)

const (
	defaultHeight = 12
	minWidth      = 16
	axisGutter    = " ┤"
)

// brailleDots maps (x offset 0-1, y offset 0-3) inside one character cell to
// its dot bit in the braille block (U+2800 + mask).
var brailleDots = [2][4]uint8{
	{0x01, 0x02, 0x04, 0x40},
	{0x08, 0x10, 0x20, 0x80},
}

// Render draws one region's estimates: the mode as a solid line, the low and
// high bounds as dotted lines, and a dashed reference at R = 1. width and
// height are in character cells; non-positive values pick defaults. The
// estimates must be date-ordered for one region.
func Render(region string, estimates []models.Estimate, width, height int) string {
	if len(estimates) == 0 {
		return fmt.Sprintf("no estimates for %s\n", region)
	}
	if height <= 0 {
		height = defaultHeight
	}
	if width < minWidth {
		width = minWidth
	}

	modes := make([]float64, len(estimates))
	lows := make([]float64, len(estimates))
	highs := make([]float64, len(estimates))
	for i, e := range estimates {
		modes[i] = e.Mode
		lows[i] = e.Low
		highs[i] = e.High
	}

	// One shared scale for all series so the band reads as a band. The
	// reference line at 1 must always be visible.
	minVal := math.Min(1, minOf(lows))
	maxVal := math.Max(1, maxOf(highs))
	if maxVal-minVal < 1e-9 {
		minVal--
		maxVal++
	}

	canvas := newCanvas(width, height)
	canvas.plot(resample(lows, width), minVal, maxVal, dotted)
	canvas.plot(resample(highs, width), minVal, maxVal, dotted)
	canvas.plot(constant(1, width), minVal, maxVal, dashed)
	canvas.plot(resample(modes, width), minVal, maxVal, solid)

	var b strings.Builder
	first := estimates[0].Date.Format(models.DateLayout)
	last := estimates[len(estimates)-1].Date.Format(models.DateLayout)
	fmt.Fprintf(&b, "R(t) %s  %s … %s\n", region, first, last)

	labels := axisLabels(minVal, maxVal, height)
	gutter := 0
	for _, l := range labels {
		if len(l) > gutter {
			gutter = len(l)
		}
	}
	for y := 0; y < height; y++ {
		fmt.Fprintf(&b, "%*s%s", gutter, labels[y], axisGutter)
		for x := 0; x < width; x++ {
			b.WriteRune(rune(0x2800 + int(canvas.cells[y][x])))
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "%*s  mode ⣿  band ⡂  R=1 ⠤\n", gutter, "")
	return b.String()
}

type style int

const (
	solid style = iota
	dotted
	dashed
)

func (s style) draws(x int) bool {
	switch s {
	case dotted:
		return x%4 == 0
	case dashed:
		return x%6 < 3
	default:
		return true
	}
}

type canvas struct {
	width, height int
	cells         [][]uint8
}

func newCanvas(width, height int) *canvas {
	cells := make([][]uint8, height)
	for y := range cells {
		cells[y] = make([]uint8, width)
	}
	return &canvas{width: width, height: height, cells: cells}
}

// plot draws a series over the dot grid (2 columns and 4 rows of dots per
// cell), connecting consecutive samples with line segments.
func (c *canvas) plot(values []float64, minVal, maxVal float64, st style) {
	prevX, prevY := -1, -1
	for i, v := range values {
		if math.IsNaN(v) {
			prevX, prevY = -1, -1
			continue
		}
		x := i * 2 * c.width / len(values)
		y := c.dotRow(v, minVal, maxVal)
		if prevX >= 0 {
			line(prevX, prevY, x, y, func(px, py int) {
				if st.draws(px) {
					c.set(px, py)
				}
			})
		} else if st.draws(x) {
			c.set(x, y)
		}
		prevX, prevY = x, y
	}
}

func (c *canvas) dotRow(v, minVal, maxVal float64) int {
	rows := c.height * 4
	frac := (v - minVal) / (maxVal - minVal)
	row := int(math.Round(float64(rows-1) * (1 - frac)))
	if row < 0 {
		row = 0
	}
	if row >= rows {
		row = rows - 1
	}
	return row
}

func (c *canvas) set(x, y int) {
	cx, cy := x/2, y/4
	if cy < 0 || cy >= c.height || cx < 0 || cx >= c.width {
		return
	}
	c.cells[cy][cx] |= brailleDots[x%2][y%4]
}

// line visits every dot on the segment from (x0, y0) to (x1, y1).
func line(x0, y0, x1, y1 int, visit func(x, y int)) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx := 1
	if x0 > x1 {
		sx = -1
	}
	sy := 1
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	for {
		visit(x0, y0)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// resample stretches or shrinks values to exactly width samples, averaging
// when shrinking and linearly interpolating when stretching.
func resample(values []float64, width int) []float64 {
	if len(values) == 0 || width <= 0 {
		return nil
	}
	if len(values) == width {
		out := make([]float64, width)
		copy(out, values)
		return out
	}
	out := make([]float64, width)
	if len(values) > width {
		for i := range out {
			start := i * len(values) / width
			end := (i + 1) * len(values) / width
			if end <= start {
				end = start + 1
			}
			var sum float64
			for _, v := range values[start:end] {
				sum += v
			}
			out[i] = sum / float64(end-start)
		}
		return out
	}
	for i := range out {
		pos := float64(i) * float64(len(values)-1) / float64(width-1)
		lo := int(pos)
		hi := lo + 1
		if hi >= len(values) {
			out[i] = values[len(values)-1]
			continue
		}
		frac := pos - float64(lo)
		out[i] = values[lo]*(1-frac) + values[hi]*frac
	}
	return out
}

func constant(v float64, width int) []float64 {
	out := make([]float64, width)
	for i := range out {
		out[i] = v
	}
	return out
}

func axisLabels(minVal, maxVal float64, height int) []string {
	labels := make([]string, height)
	if height == 0 {
		return labels
	}
	labels[0] = fmt.Sprintf("%.2f", maxVal)
	labels[height-1] = fmt.Sprintf("%.2f", minVal)
	if height > 2 {
		labels[height/2] = fmt.Sprintf("%.2f", (minVal+maxVal)/2)
	}
	return labels
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// Summary renders the latest estimate per region as an aligned table sorted
// by the interval's upper bound descending, the ordering used for the daily
// report: regions with the worst plausible R(t) first. topN <= 0 keeps all
// regions.
func Summary(latest []models.Estimate, topN int) string {
	if len(latest) == 0 {
		return "no estimates\n"
	}

	rows := make([]models.Estimate, len(latest))
	copy(rows, latest)
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].High != rows[j].High {
			return rows[i].High > rows[j].High
		}
		return rows[i].Region < rows[j].Region
	})
	if topN > 0 && topN < len(rows) {
		rows = rows[:topN]
	}

	nameWidth := len("region")
	for _, r := range rows {
		if len(r.Region) > nameWidth {
			nameWidth = len(r.Region)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-*s  %5s  %s\n", nameWidth, "region", "R(t)", "95% interval")
	for _, r := range rows {
		marker := " "
		if r.Low > 1 {
			marker = "!"
		}
		fmt.Fprintf(&b, "%-*s  %5.2f  [%.2f, %.2f] %s\n", nameWidth, r.Region, r.Mode, r.Low, r.High, marker)
	}
	return b.String()
}
