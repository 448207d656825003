// Package report renders solve-quality diagnostics: an HTML chart of mean
// reprojection error per frame, and a PNG scatter of the per-pair residuals
// of a single solve.
package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// RenderFrameErrors writes an HTML line chart of mean reprojection error
// per frame for one image match.
func RenderFrameErrors(w io.Writer, image string, frames []int, errorsPx []float64) error {
	if len(frames) != len(errorsPx) {
		return fmt.Errorf("mismatched series: %d frames vs %d errors", len(frames), len(errorsPx))
	}

	x := make([]string, len(frames))
	y := make([]opts.LineData, len(frames))
	for i, f := range frames {
		x[i] = fmt.Sprintf("%d", f)
		y[i] = opts.LineData{Value: errorsPx[i]}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Reprojection Error", Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Reprojection error per frame", Subtitle: fmt.Sprintf("image=%s frames=%d", image, len(frames))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Frame"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Mean error (px)"}),
	)
	line.SetXAxis(x)
	line.AddSeries("mean error", y, charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(false)}))

	return line.Render(w)
}

// residualPlot builds the scatter of per-pair residual pixel distances of
// one solve against their pair index.
func residualPlot(residuals []float64, frame int) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Per-pair reprojection residuals (frame %d)", frame)
	p.X.Label.Text = "Pair index"
	p.Y.Label.Text = "Residual (px)"

	pts := make(plotter.XYs, len(residuals))
	for i, r := range residuals {
		pts[i] = plotter.XY{X: float64(i), Y: r}
	}

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, fmt.Errorf("failed to build scatter: %w", err)
	}
	scatter.Radius = vg.Points(3)
	p.Add(scatter)
	p.Add(plotter.NewGrid())
	return p, nil
}

// WriteResidualScatter renders the residual scatter as a PNG stream.
func WriteResidualScatter(w io.Writer, residuals []float64, frame int) error {
	p, err := residualPlot(residuals, frame)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(10*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render residual plot: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write residual plot: %w", err)
	}
	return nil
}

// SaveResidualScatter writes the residual scatter to a PNG file.
func SaveResidualScatter(residuals []float64, frame int, path string) error {
	p, err := residualPlot(residuals, frame)
	if err != nil {
		return err
	}
	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save residual plot: %w", err)
	}
	return nil
}
