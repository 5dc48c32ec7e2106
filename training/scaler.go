package training

import (
	"math"

	"github.com/retinalab/drgrade/model"
)

// GradScaler implements dynamic loss scaling for mixed-precision style
// training: gradients are computed against scaled logit gradients, unscaled
// before the optimizer step, and the scale backs off when non-finite values
// appear.
type GradScaler struct {
	scale          float64
	growthFactor   float64
	backoffFactor  float64
	growthInterval int
	goodSteps      int
	enabled        bool
	foundInf       bool
}

// NewGradScaler creates a scaler with the standard dynamic-scaling schedule.
// A disabled scaler passes gradients through untouched.
func NewGradScaler(enabled bool) *GradScaler {
	return &GradScaler{
		scale:          65536,
		growthFactor:   2,
		backoffFactor:  0.5,
		growthInterval: 2000,
		enabled:        enabled,
	}
}

// Scale returns the current loss scale factor.
func (s *GradScaler) Scale() float64 {
	if !s.enabled {
		return 1
	}
	return s.scale
}

// ScaleGrad multiplies a logit gradient in place by the current scale.
func (s *GradScaler) ScaleGrad(gradLogits [][]float32) {
	if !s.enabled {
		return
	}
	factor := float32(s.scale)
	for _, row := range gradLogits {
		for j := range row {
			row[j] *= factor
		}
	}
}

// Unscale divides parameter gradients by the scale and reports whether they
// are all finite. On a non-finite gradient the caller skips the optimizer
// step and Update backs the scale off.
func (s *GradScaler) Unscale(params []*model.Parameter) bool {
	if !s.enabled {
		return true
	}
	inv := float32(1 / s.scale)
	finite := true
	for _, p := range params {
		for j := range p.Grad {
			g := p.Grad[j] * inv
			p.Grad[j] = g
			if math.IsNaN(float64(g)) || math.IsInf(float64(g), 0) {
				finite = false
			}
		}
	}
	s.foundInf = !finite
	return finite
}

// Update adjusts the scale after a step: halve on overflow, double after a
// run of clean steps.
func (s *GradScaler) Update() {
	if !s.enabled {
		return
	}
	if s.foundInf {
		s.scale *= s.backoffFactor
		if s.scale < 1 {
			s.scale = 1
		}
		s.goodSteps = 0
		s.foundInf = false
		return
	}
	s.goodSteps++
	if s.goodSteps >= s.growthInterval {
		s.scale *= s.growthFactor
		s.goodSteps = 0
	}
}
