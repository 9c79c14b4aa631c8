package viz

import (
	"fmt"
	"math"

	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/dynbranch/internal/branch"
	"github.com/san-kum/dynbranch/internal/indexing"
)

type PlotOptions struct {
	Component int
	Width     int
	Height    int
}

func DefaultPlotOptions() PlotOptions {
	return PlotOptions{Height: 12}
}

// PlotBranch plots one state component over logical index. Stable points
// and the rest are drawn as two series so stability changes stand out.
func PlotBranch(b *branch.Branch, opts PlotOptions) (string, error) {
	pts := indexing.Traverse(&b.Data)
	if len(pts) < 2 {
		return "", ErrNothingToPlot
	}
	if opts.Height <= 0 {
		opts.Height = DefaultPlotOptions().Height
	}

	stable := make([]float64, len(pts))
	other := make([]float64, len(pts))
	var nStable, nOther int
	for i, p := range pts {
		v := axisValue(p, opts.Component)
		stable[i], other[i] = math.NaN(), math.NaN()
		if !finite(v) {
			continue
		}
		if p.Stability == branch.Stable {
			stable[i] = v
			nStable++
		} else {
			other[i] = v
			nOther++
		}
	}
	if nStable+nOther == 0 {
		return "", ErrNothingToPlot
	}

	var series [][]float64
	var colors []asciigraph.AnsiColor
	if nStable > 0 {
		series = append(series, stable)
		colors = append(colors, asciigraph.Green)
	}
	if nOther > 0 {
		series = append(series, other)
		colors = append(colors, asciigraph.Red)
	}

	first, last := pts[0].ParamValue, pts[len(pts)-1].ParamValue
	graphOpts := []asciigraph.Option{
		asciigraph.Height(opts.Height),
		asciigraph.Caption(fmt.Sprintf("%s %s  (%s %.4g → %.4g)", b.Name, axisName(opts.Component), b.ParameterName, first, last)),
		asciigraph.SeriesColors(colors...),
	}
	if opts.Width > 0 {
		graphOpts = append(graphOpts, asciigraph.Width(opts.Width))
	}
	return asciigraph.PlotMany(series, graphOpts...), nil
}

// ParamTrace is a one-line sparkline of the continuation parameter.
func ParamTrace(b *branch.Branch, width int) string {
	pts := indexing.Traverse(&b.Data)
	vals := make([]float64, 0, len(pts))
	for _, p := range pts {
		if finite(p.ParamValue) {
			vals = append(vals, p.ParamValue)
		}
	}
	return SparklineChart(vals, width)
}
