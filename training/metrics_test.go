package training

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics", "history.csv")

	w, err := NewMetricsWriter(path)
	require.NoError(t, err)

	rows := []EpochMetrics{
		{Epoch: 1, TrainLoss: 1.5, TrainAcc: 0.4, ValLoss: 1.4, ValAcc: 0.45, LearningRate: 1e-3},
		{Epoch: 2, TrainLoss: 1.1, TrainAcc: 0.6, ValLoss: 1.2, ValAcc: 0.55, LearningRate: 5e-4},
	}
	for _, m := range rows {
		require.NoError(t, w.Record(m))
	}
	require.NoError(t, w.Close())

	history, err := ReadMetrics(path)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].Epoch)
	assert.InDelta(t, 1.5, history[0].TrainLoss, 1e-6)
	assert.InDelta(t, 5e-4, history[1].LearningRate, 1e-12)
}

func TestMetricsAppendOnReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")

	w, err := NewMetricsWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Record(EpochMetrics{Epoch: 1, TrainLoss: 1}))
	require.NoError(t, w.Close())

	w, err = NewMetricsWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Record(EpochMetrics{Epoch: 2, TrainLoss: 0.5}))
	require.NoError(t, w.Close())

	history, err := ReadMetrics(path)
	require.NoError(t, err)
	require.Len(t, history, 2)

	// Header written only once.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(raw), "epoch,"))
}

func TestMetricsRowsSurviveWithoutClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")

	w, err := NewMetricsWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Record(EpochMetrics{Epoch: 1, TrainLoss: 2}))

	// Row is on disk before Close, so a crash cannot lose it.
	history, err := ReadMetrics(path)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	w.Close()
}

func TestReadMetricsMissingFile(t *testing.T) {
	_, err := ReadMetrics(filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}

func TestReadMetricsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	require.NoError(t, os.WriteFile(path, []byte("epoch,train_loss,train_acc,val_loss,val_acc,learning_rate\nx,1,1,1,1,1\n"), 0o644))

	_, err := ReadMetrics(path)
	assert.Error(t, err)
}
