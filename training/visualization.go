package training

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// RenderHistory writes an HTML page with loss and accuracy curves for a
// training run. The input is the per-epoch history from ReadMetrics or an
// in-memory run.
func RenderHistory(history []EpochMetrics, path string) error {
	if len(history) == 0 {
		return fmt.Errorf("no history to render")
	}

	epochs := make([]string, len(history))
	trainLoss := make([]opts.LineData, len(history))
	valLoss := make([]opts.LineData, len(history))
	trainAcc := make([]opts.LineData, len(history))
	valAcc := make([]opts.LineData, len(history))
	lr := make([]opts.LineData, len(history))
	for i, m := range history {
		epochs[i] = fmt.Sprintf("%d", m.Epoch)
		trainLoss[i] = opts.LineData{Value: m.TrainLoss}
		valLoss[i] = opts.LineData{Value: m.ValLoss}
		trainAcc[i] = opts.LineData{Value: m.TrainAcc}
		valAcc[i] = opts.LineData{Value: m.ValAcc}
		lr[i] = opts.LineData{Value: m.LearningRate}
	}

	lossChart := newHistoryLine("Loss", epochs)
	lossChart.AddSeries("train", trainLoss)
	lossChart.AddSeries("validation", valLoss)

	accChart := newHistoryLine("Accuracy", epochs)
	accChart.AddSeries("train", trainAcc)
	accChart.AddSeries("validation", valAcc)

	lrChart := newHistoryLine("Learning Rate", epochs)
	lrChart.AddSeries("lr", lr)

	page := components.NewPage()
	page.SetPageTitle("Training History")
	page.AddCharts(lossChart, accChart, lrChart)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create plot directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create plot file: %w", err)
	}
	defer file.Close()

	if err := page.Render(file); err != nil {
		return fmt.Errorf("failed to render history page: %w", err)
	}
	return nil
}

func newHistoryLine(title string, epochs []string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "epoch"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(epochs)
	return line
}
