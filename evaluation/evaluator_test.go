package evaluation

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retinalab/drgrade/dataset"
	"github.com/retinalab/drgrade/preprocessing"
)

// constantModel ignores its input and always returns the same logits.
type constantModel struct {
	logits []float32
}

func (m *constantModel) NumClasses() int { return len(m.logits) }

func (m *constantModel) Forward(inputs []float32, shape []int) ([][]float32, error) {
	out := make([][]float32, shape[0])
	for i := range out {
		row := make([]float32, len(m.logits))
		copy(row, m.logits)
		out[i] = row
	}
	return out, nil
}

// pickyModel only accepts tensors whose first value matches expect, modeling
// variants that break a fragile engine.
type pickyModel struct {
	expect float32
	logits []float32
}

func (m *pickyModel) NumClasses() int { return len(m.logits) }

func (m *pickyModel) Forward(inputs []float32, shape []int) ([][]float32, error) {
	if inputs[0] != m.expect {
		return nil, fmt.Errorf("unexpected input")
	}
	return [][]float32{m.logits}, nil
}

// argmaxModel reads the class out of the tensor's first five values.
type argmaxModel struct{}

func (m *argmaxModel) NumClasses() int { return 5 }

func (m *argmaxModel) Forward(inputs []float32, shape []int) ([][]float32, error) {
	features := len(inputs) / shape[0]
	out := make([][]float32, shape[0])
	for i := range out {
		row := make([]float32, 5)
		copy(row, inputs[i*features:i*features+5])
		out[i] = row
	}
	return out, nil
}

func rampTensor(size int) []float32 {
	data := make([]float32, 3*size*size)
	for i := range data {
		data[i] = float32(i)
	}
	return data
}

func TestPredictWithoutVariants(t *testing.T) {
	m := &constantModel{logits: []float32{0.1, 0.9, 0.2, 0.3, 0.4}}
	e := NewEvaluator(m, nil, 2)

	logits, err := e.Predict(rampTensor(2))
	require.NoError(t, err)
	assert.Equal(t, m.logits, logits)

	class, err := e.PredictClass(rampTensor(2))
	require.NoError(t, err)
	assert.Equal(t, 1, class)
}

func TestPredictTTAWithConstantModel(t *testing.T) {
	// Identical logits for every variant: the weighted average is the logits
	// themselves, regardless of the weight distribution.
	m := &constantModel{logits: []float32{1, 3, 2, 0, -1}}
	e := NewEvaluator(m, preprocessing.TTAVariants(4), 4)

	logits, err := e.Predict(rampTensor(4))
	require.NoError(t, err)
	require.Len(t, logits, 5)
	for j := range logits {
		assert.InDelta(t, m.logits[j], logits[j], 1e-5)
	}
}

func TestPredictDropsFailingVariants(t *testing.T) {
	data := rampTensor(4)
	// Variants that perturb the first element fail; the combination
	// renormalizes over the survivors instead of zero-filling.
	m := &pickyModel{expect: data[0], logits: []float32{5, 1, 0, 0, 0}}
	e := NewEvaluator(m, preprocessing.TTAVariants(4), 4)

	logits, err := e.Predict(data)
	require.NoError(t, err)
	for j := range logits {
		assert.InDelta(t, m.logits[j], logits[j], 1e-5)
	}
}

func TestPredictAllVariantsFail(t *testing.T) {
	m := &pickyModel{expect: -12345, logits: []float32{1, 0, 0, 0, 0}}
	e := NewEvaluator(m, preprocessing.TTAVariants(4), 4)

	_, err := e.Predict(rampTensor(4))
	assert.ErrorIs(t, err, ErrNoVariants)
}

// classSource serves samples whose tensors encode their own label.
type classSource struct {
	n      int
	failAt int
}

func (s *classSource) Len() int            { return s.n }
func (s *classSource) SampleSize() int     { return 3 * 2 * 2 }
func (s *classSource) Label(i int) int     { return i % 5 }
func (s *classSource) Deterministic() bool { return true }

func (s *classSource) Sample(i int) (*dataset.Sample, error) {
	if i == s.failAt {
		return nil, fmt.Errorf("synthetic failure")
	}
	data := make([]float32, s.SampleSize())
	data[i%5] = 1
	return &dataset.Sample{Data: data, Label: i % 5}, nil
}

func TestEvaluatePerfectModel(t *testing.T) {
	e := NewEvaluator(&argmaxModel{}, nil, 2)
	src := &classSource{n: 10, failAt: -1}

	report, err := e.Evaluate(context.Background(), src, false)
	require.NoError(t, err)
	assert.Equal(t, 10, report.Total)
	assert.Equal(t, 1.0, report.Accuracy())
	assert.Zero(t, report.Skipped)
}

func TestEvaluateSkipsBadSamples(t *testing.T) {
	e := NewEvaluator(&argmaxModel{}, nil, 2)
	src := &classSource{n: 10, failAt: 3}

	report, err := e.Evaluate(context.Background(), src, false)
	require.NoError(t, err)
	assert.Equal(t, 9, report.Total)
	assert.Equal(t, 1, report.Skipped)
}

func TestEvaluateCancelled(t *testing.T) {
	e := NewEvaluator(&argmaxModel{}, nil, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Evaluate(ctx, &classSource{n: 10, failAt: -1}, false)
	assert.ErrorIs(t, err, context.Canceled)
}
