package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/meshpca/internal/db"
	"github.com/banshee-data/meshpca/internal/monitoring"
)

// HTMLReportFile returns the report file name for a run.
func HTMLReportFile(runID string) string {
	if runID == "" {
		return "report.html"
	}
	return "report_" + runID + ".html"
}

// WriteHTMLReport renders a page with the original and balanced point count
// of each entity and the explained variance of the fit.
func (w *Writer) WriteHTMLReport(run *db.Run) (string, error) {
	if run == nil {
		return "", fmt.Errorf("nil run")
	}
	if len(run.Entities) == 0 {
		return "", fmt.Errorf("run %s has no entities", run.RunID)
	}

	page := components.NewPage()
	page.PageTitle = "Point set PCA"
	page.AddCharts(countsChart(run), varianceChart(run))

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}

	path, err := w.path(HTMLReportFile(run.RunID))
	if err != nil {
		return "", err
	}
	if err := w.FS.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	monitoring.Logf("report: wrote %s", path)
	return path, nil
}

func countsChart(run *db.Run) *charts.Bar {
	names := make([]string, len(run.Entities))
	original := make([]opts.BarData, len(run.Entities))
	balanced := make([]opts.BarData, len(run.Entities))
	for i, e := range run.Entities {
		names[i] = e.Name
		original[i] = opts.BarData{Value: e.OriginalCount}
		balanced[i] = opts.BarData{Value: e.BalancedCount}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Point counts",
			Subtitle: fmt.Sprintf("run=%s policy=%s source=%s", run.RunID, run.Policy, run.Source),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).
		AddSeries("original", original).
		AddSeries("balanced", balanced,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}

func varianceChart(run *db.Run) *charts.Bar {
	labels := componentLabels(len(run.ExplainedVarianceRatio))
	ratio := make([]opts.BarData, len(run.ExplainedVarianceRatio))
	for i, v := range run.ExplainedVarianceRatio {
		ratio[i] = opts.BarData{Value: v}
	}
	cumulative := make([]opts.LineData, len(run.ExplainedVarianceRatio))
	sum := 0.0
	for i, v := range run.ExplainedVarianceRatio {
		sum += v
		cumulative[i] = opts.LineData{Value: sum}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title: "Explained variance ratio",
			Subtitle: fmt.Sprintf("samples=%d features=%d finished=%s",
				run.Samples, run.Features, time.Unix(0, run.FinishedAtNs).UTC().Format(time.RFC3339)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1}),
	)
	bar.SetXAxis(labels).AddSeries("ratio", ratio)

	line := charts.NewLine()
	line.SetXAxis(labels).AddSeries("cumulative", cumulative)
	bar.Overlap(line)
	return bar
}
