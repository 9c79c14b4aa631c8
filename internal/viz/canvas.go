package viz

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/san-kum/dynbranch/internal/branch"
	"github.com/san-kum/dynbranch/internal/indexing"
)

// Braille cells hold 2x4 dots:
// 1 4
// 2 5
// 3 6
// 7 8
var dotBits = [4][2]rune{
	{0x1, 0x8},
	{0x2, 0x10},
	{0x4, 0x20},
	{0x40, 0x80},
}

const brailleBlank = 0x2800

// Canvas is a braille dot grid of Cols x Rows cells, addressed in dots
// (2*Cols wide, 4*Rows high) with y growing downward.
type Canvas struct {
	Cols, Rows int
	cells      [][]rune
}

func NewCanvas(cols, rows int) *Canvas {
	c := &Canvas{Cols: cols, Rows: rows, cells: make([][]rune, rows)}
	for i := range c.cells {
		c.cells[i] = make([]rune, cols)
	}
	c.Clear()
	return c
}

func (c *Canvas) DotsWide() int { return c.Cols * 2 }
func (c *Canvas) DotsHigh() int { return c.Rows * 4 }

// Set marks one dot. Dots outside the canvas are ignored.
func (c *Canvas) Set(x, y int) {
	if x < 0 || y < 0 || x >= c.DotsWide() || y >= c.DotsHigh() {
		return
	}
	c.cells[y/4][x/2] |= dotBits[y%4][x%2]
}

func (c *Canvas) Clear() {
	for i := range c.cells {
		for j := range c.cells[i] {
			c.cells[i][j] = brailleBlank
		}
	}
}

// Line draws a Bresenham line between two dots.
func (c *Canvas) Line(x0, y0, x1, y1 int) {
	dx, dy := absInt(x1-x0), absInt(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx - dy
	for {
		c.Set(x0, y0)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 > -dy {
			e -= dy
			x0 += sx
		}
		if e2 < dx {
			e += dx
			y0 += sy
		}
	}
}

func (c *Canvas) String() string {
	var b strings.Builder
	for _, row := range c.cells {
		b.WriteString(string(row))
		b.WriteByte('\n')
	}
	return b.String()
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// ParamAxis selects the second continuation parameter as the vertical axis
// of a Diagram.
const ParamAxis = -1

var ErrNothingToPlot = errors.New("viz: no plottable points")

// Diagram draws component (or ParamAxis) against the continuation
// parameter, joining consecutive points in logical order. Points without a
// finite value are skipped and break the line.
func Diagram(b *branch.Branch, component, cols, rows int) (string, error) {
	pts := indexing.Traverse(&b.Data)
	xs := make([]float64, len(pts))
	ys := make([]float64, len(pts))
	for i, p := range pts {
		xs[i] = p.ParamValue
		ys[i] = axisValue(p, component)
	}
	xlo, xhi, ok := finiteRange(xs, ys)
	if !ok {
		return "", ErrNothingToPlot
	}
	ylo, yhi, _ := finiteRange(ys, xs)

	c := NewCanvas(max(cols, 4), max(rows, 2))
	sx := scaler(xlo, xhi, c.DotsWide()-1, false)
	sy := scaler(ylo, yhi, c.DotsHigh()-1, true)
	prevOK := false
	var px, py int
	for i := range pts {
		if !finite(xs[i]) || !finite(ys[i]) {
			prevOK = false
			continue
		}
		x, y := sx(xs[i]), sy(ys[i])
		if prevOK {
			c.Line(px, py, x, y)
		} else {
			c.Set(x, y)
		}
		px, py, prevOK = x, y, true
	}

	caption := fmt.Sprintf("%s ∈ [%s, %s]   %s ∈ [%s, %s]",
		b.ParameterName, fmtAxis(xlo), fmtAxis(xhi), axisName(component), fmtAxis(ylo), fmtAxis(yhi))
	return c.String() + Subtle.Render(caption), nil
}

func axisValue(p branch.Point, component int) float64 {
	if component == ParamAxis {
		if p.Param2Value == nil {
			return math.NaN()
		}
		return *p.Param2Value
	}
	if component < 0 || component >= len(p.State) {
		return math.NaN()
	}
	return p.State[component]
}

func axisName(component int) string {
	if component == ParamAxis {
		return "param2"
	}
	return fmt.Sprintf("x[%d]", component)
}

// finiteRange is the range of vs over the entries where both vs and other
// are finite.
func finiteRange(vs, other []float64) (lo, hi float64, ok bool) {
	for i, v := range vs {
		if !finite(v) || !finite(other[i]) {
			continue
		}
		if !ok {
			lo, hi, ok = v, v, true
			continue
		}
		lo, hi = min(lo, v), max(hi, v)
	}
	return lo, hi, ok
}

func scaler(lo, hi float64, span int, invert bool) func(float64) int {
	return func(v float64) int {
		t := 0.5
		if hi > lo {
			t = (v - lo) / (hi - lo)
		}
		if invert {
			t = 1 - t
		}
		return int(math.Round(t * float64(span)))
	}
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func fmtAxis(v float64) string { return fmt.Sprintf("%.4g", v) }
