package training

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/retinalab/drgrade/model"
)

func TestGradScalerDisabledPassthrough(t *testing.T) {
	s := NewGradScaler(false)
	assert.Equal(t, 1.0, s.Scale())

	grad := [][]float32{{1, 2}}
	s.ScaleGrad(grad)
	assert.Equal(t, [][]float32{{1, 2}}, grad)

	params := []*model.Parameter{{Grad: []float32{3}}}
	assert.True(t, s.Unscale(params))
	assert.Equal(t, float32(3), params[0].Grad[0])
}

func TestGradScalerScaleUnscaleRoundTrip(t *testing.T) {
	s := NewGradScaler(true)

	grad := [][]float32{{1, -2}}
	s.ScaleGrad(grad)
	assert.Equal(t, float32(65536), grad[0][0])

	params := []*model.Parameter{{Grad: []float32{grad[0][0], grad[0][1]}}}
	assert.True(t, s.Unscale(params))
	assert.InDelta(t, 1, params[0].Grad[0], 1e-6)
	assert.InDelta(t, -2, params[0].Grad[1], 1e-6)
}

func TestGradScalerBacksOffOnOverflow(t *testing.T) {
	s := NewGradScaler(true)
	before := s.Scale()

	params := []*model.Parameter{{Grad: []float32{float32(math.Inf(1))}}}
	assert.False(t, s.Unscale(params))
	s.Update()
	assert.Equal(t, before/2, s.Scale())
}

func TestGradScalerGrowsAfterCleanRun(t *testing.T) {
	s := NewGradScaler(true)
	s.growthInterval = 3
	before := s.Scale()

	params := []*model.Parameter{{Grad: []float32{1}}}
	for i := 0; i < 3; i++ {
		assert.True(t, s.Unscale(params))
		s.Update()
		params[0].Grad[0] = 1
	}
	assert.Equal(t, before*2, s.Scale())
}

func TestGradScalerFloorsAtOne(t *testing.T) {
	s := NewGradScaler(true)
	s.scale = 1

	params := []*model.Parameter{{Grad: []float32{float32(math.NaN())}}}
	assert.False(t, s.Unscale(params))
	s.Update()
	assert.Equal(t, 1.0, s.Scale())
}
