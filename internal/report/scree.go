package report

import (
	"bytes"
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/meshpca/internal/monitoring"
	"github.com/banshee-data/meshpca/internal/pca"
)

// ScreePlotFile is the file name of the scree plot inside the report dir.
const ScreePlotFile = "scree.png"

// componentLabels returns PC1..PCn.
func componentLabels(n int) []string {
	labels := make([]string, n)
	for i := range labels {
		labels[i] = fmt.Sprintf("PC%d", i+1)
	}
	return labels
}

// WriteScreePlot renders the explained variance ratio per component as
// bars with the cumulative ratio overlaid, and writes it as PNG.
func (w *Writer) WriteScreePlot(r *pca.Result) (string, error) {
	if r == nil || len(r.ExplainedVarianceRatio) == 0 {
		return "", fmt.Errorf("no explained variance to plot")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Explained variance (%d samples, %d features)", r.Samples, r.Features)
	p.X.Label.Text = "Component"
	p.Y.Label.Text = "Explained variance ratio"
	p.Y.Min = 0
	p.Y.Max = 1

	bars, err := plotter.NewBarChart(plotter.Values(r.ExplainedVarianceRatio), vg.Points(20))
	if err != nil {
		return "", fmt.Errorf("scree bars: %w", err)
	}
	bars.Color = plotutil.Color(0)
	p.Add(bars)
	p.Legend.Add("ratio", bars)

	cum := r.CumulativeRatio()
	pts := make(plotter.XYs, len(cum))
	for i, v := range cum {
		pts[i] = plotter.XY{X: float64(i), Y: v}
	}
	line, marks, err := plotter.NewLinePoints(pts)
	if err != nil {
		return "", fmt.Errorf("scree cumulative line: %w", err)
	}
	line.Color = plotutil.Color(1)
	line.Width = vg.Points(1)
	marks.Color = plotutil.Color(1)
	p.Add(line, marks)
	p.Legend.Add("cumulative", line, marks)

	p.NominalX(componentLabels(len(r.ExplainedVarianceRatio))...)
	p.Legend.Top = true
	p.Legend.Left = false

	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return "", fmt.Errorf("render scree plot: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return "", fmt.Errorf("encode scree plot: %w", err)
	}

	path, err := w.path(ScreePlotFile)
	if err != nil {
		return "", err
	}
	if err := w.FS.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("write scree plot: %w", err)
	}
	monitoring.Logf("report: wrote scree plot %s", path)
	return path, nil
}
