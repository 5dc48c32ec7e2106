package training

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retinalab/drgrade/model"
)

func testParams() []*model.Parameter {
	return []*model.Parameter{
		{
			Name:  "fc.weight",
			Shape: []int{2, 2},
			Data:  []float32{1, 2, 3, 4},
			Grad:  []float32{0.1, 0.2, 0.3, 0.4},
		},
		{
			Name:  "fc.bias",
			Shape: []int{2},
			Data:  []float32{0.5, -0.5},
			Grad:  []float32{-0.1, 0.1},
		},
	}
}

func TestSGDStep(t *testing.T) {
	params := testParams()
	opt := NewSGD(params, 0.1, 0, 0)

	require.NoError(t, opt.Step())
	assert.InDelta(t, 1-0.1*0.1, params[0].Data[0], 1e-6)
	assert.InDelta(t, 0.5+0.1*0.1, params[1].Data[0], 1e-6)
}

func TestSGDMomentumAccumulates(t *testing.T) {
	params := testParams()
	plain := NewSGD(testParams(), 0.1, 0, 0)
	momentum := NewSGD(params, 0.1, 0.9, 0)

	// Same gradient twice: momentum moves further on the second step.
	require.NoError(t, plain.Step())
	require.NoError(t, plain.Step())
	require.NoError(t, momentum.Step())
	require.NoError(t, momentum.Step())

	plainMoved := 1 - plain.params[0].Data[0]
	momentumMoved := 1 - params[0].Data[0]
	assert.Greater(t, float64(momentumMoved), float64(plainMoved))
}

func TestSGDWeightDecayShrinksWeights(t *testing.T) {
	params := testParams()
	params[0].Grad = []float32{0, 0, 0, 0}
	params[1].Grad = []float32{0, 0}
	opt := NewSGD(params, 0.1, 0, 0.5)

	require.NoError(t, opt.Step())
	assert.Less(t, params[0].Data[0], float32(1))
}

func TestAdamWFirstStepIsScaledLR(t *testing.T) {
	params := testParams()
	opt := NewAdamW(params, 0.01, 0)

	require.NoError(t, opt.Step())
	// With bias correction the first update is roughly lr * sign(grad).
	assert.InDelta(t, 1-0.01, params[0].Data[0], 1e-3)
	assert.InDelta(t, 0.5+0.01, params[1].Data[0], 1e-3)
}

func TestAdamWDecoupledWeightDecay(t *testing.T) {
	params := testParams()
	params[0].Grad = []float32{0, 0, 0, 0}
	params[1].Grad = []float32{0, 0}
	opt := NewAdamW(params, 0.01, 0.1)

	require.NoError(t, opt.Step())
	// Zero gradients: only the decay term moves the weights.
	assert.InDelta(t, 1*(1-0.01*0.1), params[0].Data[0], 1e-6)
}

func TestOptimizerZeroGrad(t *testing.T) {
	params := testParams()
	opt := NewAdamW(params, 0.01, 0)

	opt.ZeroGrad()
	for _, p := range params {
		for _, g := range p.Grad {
			assert.Zero(t, g)
		}
	}
}

func TestOptimizerLR(t *testing.T) {
	opt := NewSGD(testParams(), 0.1, 0, 0)
	assert.Equal(t, 0.1, opt.GetLR())
	opt.SetLR(0.01)
	assert.Equal(t, 0.01, opt.GetLR())
}

func TestAdamWStateRoundTrip(t *testing.T) {
	params := testParams()
	opt := NewAdamW(params, 0.01, 0.05)
	require.NoError(t, opt.Step())
	require.NoError(t, opt.Step())

	state := opt.State()
	assert.Equal(t, "AdamW", state.Type)
	assert.Equal(t, 2.0, state.Parameters["step"])
	require.Len(t, state.Slots, 4)

	restored := NewAdamW(testParams(), 0.01, 0.05)
	require.NoError(t, restored.LoadState(state))
	assert.Equal(t, opt.step, restored.step)
	assert.Equal(t, opt.m, restored.m)
	assert.Equal(t, opt.v, restored.v)
}

func TestSGDStateRoundTrip(t *testing.T) {
	params := testParams()
	opt := NewSGD(params, 0.1, 0.9, 0)
	require.NoError(t, opt.Step())

	state := opt.State()
	assert.Equal(t, "SGD", state.Type)

	restored := NewSGD(testParams(), 0.1, 0.9, 0)
	require.NoError(t, restored.LoadState(state))
	assert.Equal(t, opt.velocities, restored.velocities)
}

func TestLoadStateTypeMismatch(t *testing.T) {
	sgd := NewSGD(testParams(), 0.1, 0, 0)
	adam := NewAdamW(testParams(), 0.01, 0)

	assert.Error(t, sgd.LoadState(adam.State()))
	assert.Error(t, adam.LoadState(sgd.State()))
}

func TestClipGradNorm(t *testing.T) {
	params := []*model.Parameter{{
		Name: "w",
		Data: []float32{0, 0},
		Grad: []float32{3, 4},
	}}

	norm := ClipGradNorm(params, 1)
	assert.InDelta(t, 5.0, norm, 1e-6)

	clipped := math.Sqrt(float64(params[0].Grad[0]*params[0].Grad[0] + params[0].Grad[1]*params[0].Grad[1]))
	assert.InDelta(t, 1.0, clipped, 1e-3)
}

func TestClipGradNormBelowThreshold(t *testing.T) {
	params := []*model.Parameter{{
		Name: "w",
		Data: []float32{0},
		Grad: []float32{0.5},
	}}

	norm := ClipGradNorm(params, 1)
	assert.InDelta(t, 0.5, norm, 1e-6)
	assert.Equal(t, float32(0.5), params[0].Grad[0])
}
