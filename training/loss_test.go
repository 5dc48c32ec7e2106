package training

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// numericalLossGrad computes dL/dlogits by central finite differences.
func numericalLossGrad(loss Loss, logits [][]float32, labels []int32) [][]float32 {
	const eps = 1e-3
	grad := make([][]float32, len(logits))
	for i := range logits {
		grad[i] = make([]float32, len(logits[i]))
		for j := range logits[i] {
			orig := logits[i][j]
			logits[i][j] = orig + eps
			plus := loss.Forward(logits, labels)
			logits[i][j] = orig - eps
			minus := loss.Forward(logits, labels)
			logits[i][j] = orig
			grad[i][j] = float32((plus - minus) / (2 * eps))
		}
	}
	return grad
}

func assertGradsClose(t *testing.T, want, got [][]float32, tol float64) {
	t.Helper()
	require.Equal(t, len(want), len(got))
	for i := range want {
		for j := range want[i] {
			assert.InDelta(t, want[i][j], got[i][j], tol, "grad[%d][%d]", i, j)
		}
	}
}

func TestCrossEntropyUniformLogits(t *testing.T) {
	loss := NewWeightedCrossEntropy(nil)
	logits := [][]float32{{0, 0, 0, 0, 0}}

	got := loss.Forward(logits, []int32{2})
	assert.InDelta(t, math.Log(5), got, 1e-6)
}

func TestCrossEntropyConfidentCorrect(t *testing.T) {
	loss := NewWeightedCrossEntropy(nil)
	logits := [][]float32{{10, -10, -10}}

	assert.Less(t, loss.Forward(logits, []int32{0}), 1e-4)
	assert.Greater(t, loss.Forward(logits, []int32{1}), 10.0)
}

func TestCrossEntropyWeighting(t *testing.T) {
	weights := []float64{1, 3, 1, 1, 1}
	loss := NewWeightedCrossEntropy(weights)
	logits := [][]float32{
		{1, 0, 0, 0, 0},
		{1, 0, 0, 0, 0},
	}

	// Weighted mean: (w0*l0 + w1*l1) / (w0 + w1).
	l0 := NewWeightedCrossEntropy(nil).Forward(logits[:1], []int32{0})
	l1 := NewWeightedCrossEntropy(nil).Forward(logits[1:], []int32{1})
	want := (1*l0 + 3*l1) / 4
	assert.InDelta(t, want, loss.Forward(logits, []int32{0, 1}), 1e-6)
}

func TestCrossEntropyGradient(t *testing.T) {
	loss := NewWeightedCrossEntropy([]float64{1, 2, 0.5, 1, 1})
	logits := [][]float32{
		{0.5, -0.2, 1.1, 0.0, -0.7},
		{-1.0, 0.3, 0.2, 0.9, 0.1},
		{0.0, 0.0, 0.0, 2.0, -2.0},
	}
	labels := []int32{1, 3, 4}

	analytic := loss.Backward(logits, labels)
	numeric := numericalLossGrad(loss, logits, labels)
	assertGradsClose(t, numeric, analytic, 1e-4)
}

func TestCrossEntropyGradientRowsSumToZero(t *testing.T) {
	loss := NewWeightedCrossEntropy(nil)
	logits := [][]float32{{0.3, -0.4, 0.9, 0.1, -0.2}}

	grad := loss.Backward(logits, []int32{2})
	var sum float64
	for _, g := range grad[0] {
		sum += float64(g)
	}
	assert.InDelta(t, 0, sum, 1e-6)
}

func TestFocalLossDownWeightsEasyExamples(t *testing.T) {
	focal := NewFocalLoss(2, nil)
	ce := NewWeightedCrossEntropy(nil)

	easy := [][]float32{{5, 0, 0, 0, 0}}
	hard := [][]float32{{0.1, 0, 0, 0, 0}}
	labels := []int32{0}

	// Focal shrinks the easy example far more than the hard one.
	easyRatio := focal.Forward(easy, labels) / ce.Forward(easy, labels)
	hardRatio := focal.Forward(hard, labels) / ce.Forward(hard, labels)
	assert.Less(t, easyRatio, hardRatio)
	assert.Less(t, easyRatio, 0.01)
}

func TestFocalLossGradient(t *testing.T) {
	loss := NewFocalLoss(2, []float64{1, 0.5, 2, 1, 1})
	logits := [][]float32{
		{0.2, -0.3, 0.8, 0.0, -0.5},
		{1.2, 0.1, -0.4, 0.3, 0.0},
	}
	labels := []int32{2, 0}

	analytic := loss.Backward(logits, labels)
	numeric := numericalLossGrad(loss, logits, labels)
	assertGradsClose(t, numeric, analytic, 1e-4)
}

func TestFocalLossDefaultGamma(t *testing.T) {
	assert.Equal(t, 2.0, NewFocalLoss(0, nil).Gamma)
	assert.Equal(t, 3.0, NewFocalLoss(3, nil).Gamma)
}

func TestSoftmaxStability(t *testing.T) {
	// Large logits must not overflow.
	p := Softmax([]float32{1000, 1000, 999})
	var sum float64
	for _, v := range p {
		assert.False(t, math.IsNaN(v))
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.InDelta(t, p[0], p[1], 1e-9)
	assert.Less(t, p[2], p[0])
}
