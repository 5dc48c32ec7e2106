package training

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// EpochMetrics is one row of the training history. The JSON names match the
// CSV header so both surfaces speak the same schema.
type EpochMetrics struct {
	Epoch        int     `json:"epoch"`
	TrainLoss    float64 `json:"train_loss"`
	TrainAcc     float64 `json:"train_acc"`
	ValLoss      float64 `json:"val_loss"`
	ValAcc       float64 `json:"val_acc"`
	LearningRate float64 `json:"learning_rate"`
}

var metricsHeader = []string{
	"epoch", "train_loss", "train_acc", "val_loss", "val_acc", "learning_rate",
}

// MetricsWriter appends epoch metrics to a CSV file, flushing and syncing
// after every row so history survives a crash mid-run.
type MetricsWriter struct {
	file   *os.File
	writer *csv.Writer
}

// NewMetricsWriter opens (or creates) the metrics file at path. A fresh file
// gets the header row; an existing one is appended to, which is what a
// resumed run wants.
func NewMetricsWriter(path string) (*MetricsWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create metrics directory: %w", err)
	}

	info, err := os.Stat(path)
	fresh := os.IsNotExist(err) || (err == nil && info.Size() == 0)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics file: %w", err)
	}

	w := &MetricsWriter{file: file, writer: csv.NewWriter(file)}
	if fresh {
		if err := w.writer.Write(metricsHeader); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write metrics header: %w", err)
		}
		w.writer.Flush()
	}
	return w, nil
}

// Record appends one epoch row and syncs it to disk.
func (w *MetricsWriter) Record(m EpochMetrics) error {
	row := []string{
		strconv.Itoa(m.Epoch),
		formatMetric(m.TrainLoss),
		formatMetric(m.TrainAcc),
		formatMetric(m.ValLoss),
		formatMetric(m.ValAcc),
		strconv.FormatFloat(m.LearningRate, 'g', -1, 64),
	}
	if err := w.writer.Write(row); err != nil {
		return fmt.Errorf("failed to write metrics row: %w", err)
	}
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		return fmt.Errorf("failed to flush metrics: %w", err)
	}
	return w.file.Sync()
}

// Close closes the underlying file.
func (w *MetricsWriter) Close() error {
	w.writer.Flush()
	return w.file.Close()
}

func formatMetric(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// ReadMetrics loads a history CSV written by MetricsWriter.
func ReadMetrics(path string) ([]EpochMetrics, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = len(metricsHeader)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse metrics file: %w", err)
	}

	var history []EpochMetrics
	for i, row := range rows {
		if i == 0 && row[0] == metricsHeader[0] {
			continue
		}
		m, err := parseMetricsRow(row)
		if err != nil {
			return nil, fmt.Errorf("metrics row %d: %w", i+1, err)
		}
		history = append(history, m)
	}
	return history, nil
}

func parseMetricsRow(row []string) (EpochMetrics, error) {
	var m EpochMetrics
	epoch, err := strconv.Atoi(row[0])
	if err != nil {
		return m, fmt.Errorf("bad epoch %q: %w", row[0], err)
	}
	m.Epoch = epoch

	fields := []*float64{&m.TrainLoss, &m.TrainAcc, &m.ValLoss, &m.ValAcc, &m.LearningRate}
	for i, dst := range fields {
		v, err := strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return m, fmt.Errorf("bad %s %q: %w", metricsHeader[i+1], row[i+1], err)
		}
		*dst = v
	}
	return m, nil
}
