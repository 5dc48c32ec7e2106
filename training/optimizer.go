package training

import (
	"fmt"
	"math"

	"github.com/retinalab/drgrade/checkpoints"
	"github.com/retinalab/drgrade/model"
)

// Optimizer updates model parameters from their accumulated gradients.
type Optimizer interface {
	Step() error
	ZeroGrad()
	GetLR() float64
	SetLR(lr float64)

	// State and LoadState round-trip slot tensors through checkpoints.
	State() *checkpoints.OptimizerState
	LoadState(state *checkpoints.OptimizerState) error
}

// SGD implements stochastic gradient descent with classical momentum and L2
// weight decay.
type SGD struct {
	params       []*model.Parameter
	learningRate float64
	momentum     float64
	weightDecay  float64
	velocities   [][]float32
}

// NewSGD creates an SGD optimizer over the model's parameters.
func NewSGD(params []*model.Parameter, lr, momentum, weightDecay float64) *SGD {
	velocities := make([][]float32, len(params))
	for i, p := range params {
		velocities[i] = make([]float32, len(p.Data))
	}
	return &SGD{
		params:       params,
		learningRate: lr,
		momentum:     momentum,
		weightDecay:  weightDecay,
		velocities:   velocities,
	}
}

// Step applies one SGD update.
func (s *SGD) Step() error {
	lr := float32(s.learningRate)
	mom := float32(s.momentum)
	wd := float32(s.weightDecay)

	for i, p := range s.params {
		v := s.velocities[i]
		for j := range p.Data {
			g := p.Grad[j]
			if wd > 0 {
				g += wd * p.Data[j]
			}
			if mom > 0 {
				v[j] = mom*v[j] + g
				g = v[j]
			}
			p.Data[j] -= lr * g
		}
	}
	return nil
}

// ZeroGrad clears gradients on all parameters.
func (s *SGD) ZeroGrad() { zeroGrads(s.params) }

// GetLR returns the current learning rate.
func (s *SGD) GetLR() float64 { return s.learningRate }

// SetLR sets the learning rate.
func (s *SGD) SetLR(lr float64) { s.learningRate = lr }

// State exports momentum buffers.
func (s *SGD) State() *checkpoints.OptimizerState {
	state := &checkpoints.OptimizerState{
		Type: "SGD",
		Parameters: map[string]float64{
			"lr":           s.learningRate,
			"momentum":     s.momentum,
			"weight_decay": s.weightDecay,
		},
	}
	for i, p := range s.params {
		state.Slots = append(state.Slots, slotTensor(p, "momentum", s.velocities[i]))
	}
	return state
}

// LoadState restores momentum buffers.
func (s *SGD) LoadState(state *checkpoints.OptimizerState) error {
	if state.Type != "SGD" {
		return fmt.Errorf("optimizer type mismatch: checkpoint %q, optimizer SGD", state.Type)
	}
	return loadSlots(state.Slots, s.params, map[string][][]float32{"momentum": s.velocities})
}

// AdamW implements Adam with decoupled weight decay.
type AdamW struct {
	params       []*model.Parameter
	learningRate float64
	beta1        float64
	beta2        float64
	epsilon      float64
	weightDecay  float64

	m    [][]float32
	v    [][]float32
	step int
}

// NewAdamW creates an AdamW optimizer with the usual defaults for zero-value
// betas/epsilon.
func NewAdamW(params []*model.Parameter, lr, weightDecay float64) *AdamW {
	m := make([][]float32, len(params))
	v := make([][]float32, len(params))
	for i, p := range params {
		m[i] = make([]float32, len(p.Data))
		v[i] = make([]float32, len(p.Data))
	}
	return &AdamW{
		params:       params,
		learningRate: lr,
		beta1:        0.9,
		beta2:        0.999,
		epsilon:      1e-8,
		weightDecay:  weightDecay,
		m:            m,
		v:            v,
	}
}

// Step applies one AdamW update with bias correction.
func (a *AdamW) Step() error {
	a.step++
	bc1 := 1 - math.Pow(a.beta1, float64(a.step))
	bc2 := 1 - math.Pow(a.beta2, float64(a.step))
	stepSize := a.learningRate / bc1

	for i, p := range a.params {
		m, v := a.m[i], a.v[i]
		for j := range p.Data {
			g := float64(p.Grad[j])

			// Decoupled weight decay.
			if a.weightDecay > 0 {
				p.Data[j] -= float32(a.learningRate * a.weightDecay * float64(p.Data[j]))
			}

			mj := a.beta1*float64(m[j]) + (1-a.beta1)*g
			vj := a.beta2*float64(v[j]) + (1-a.beta2)*g*g
			m[j] = float32(mj)
			v[j] = float32(vj)

			denom := math.Sqrt(vj/bc2) + a.epsilon
			p.Data[j] -= float32(stepSize * mj / denom)
		}
	}
	return nil
}

// ZeroGrad clears gradients on all parameters.
func (a *AdamW) ZeroGrad() { zeroGrads(a.params) }

// GetLR returns the current learning rate.
func (a *AdamW) GetLR() float64 { return a.learningRate }

// SetLR sets the learning rate.
func (a *AdamW) SetLR(lr float64) { a.learningRate = lr }

// State exports moment buffers and the step counter.
func (a *AdamW) State() *checkpoints.OptimizerState {
	state := &checkpoints.OptimizerState{
		Type: "AdamW",
		Parameters: map[string]float64{
			"lr":           a.learningRate,
			"beta1":        a.beta1,
			"beta2":        a.beta2,
			"epsilon":      a.epsilon,
			"weight_decay": a.weightDecay,
			"step":         float64(a.step),
		},
	}
	for i, p := range a.params {
		state.Slots = append(state.Slots, slotTensor(p, "m", a.m[i]))
		state.Slots = append(state.Slots, slotTensor(p, "v", a.v[i]))
	}
	return state
}

// LoadState restores moment buffers and the step counter.
func (a *AdamW) LoadState(state *checkpoints.OptimizerState) error {
	if state.Type != "AdamW" {
		return fmt.Errorf("optimizer type mismatch: checkpoint %q, optimizer AdamW", state.Type)
	}
	if step, ok := state.Parameters["step"]; ok {
		a.step = int(step)
	}
	return loadSlots(state.Slots, a.params, map[string][][]float32{"m": a.m, "v": a.v})
}

// ClipGradNorm scales gradients so their global L2 norm does not exceed
// maxNorm, and returns the pre-clip norm.
func ClipGradNorm(params []*model.Parameter, maxNorm float64) float64 {
	var sumSquares float64
	for _, p := range params {
		for _, g := range p.Grad {
			sumSquares += float64(g) * float64(g)
		}
	}
	total := math.Sqrt(sumSquares)
	if maxNorm <= 0 || total <= maxNorm {
		return total
	}

	scale := float32(maxNorm / (total + 1e-6))
	for _, p := range params {
		for j := range p.Grad {
			p.Grad[j] *= scale
		}
	}
	return total
}

func zeroGrads(params []*model.Parameter) {
	for _, p := range params {
		for j := range p.Grad {
			p.Grad[j] = 0
		}
	}
}

func slotTensor(p *model.Parameter, slot string, data []float32) checkpoints.WeightTensor {
	out := make([]float32, len(data))
	copy(out, data)
	return checkpoints.WeightTensor{
		Name:  p.Name + "." + slot,
		Shape: p.Shape,
		Data:  out,
	}
}

func loadSlots(slots []checkpoints.WeightTensor, params []*model.Parameter, buffers map[string][][]float32) error {
	byName := make(map[string][]float32, len(slots))
	for _, s := range slots {
		byName[s.Name] = s.Data
	}
	for slot, bufs := range buffers {
		for i, p := range params {
			data, ok := byName[p.Name+"."+slot]
			if !ok {
				return fmt.Errorf("checkpoint is missing optimizer slot %q", p.Name+"."+slot)
			}
			if len(data) != len(bufs[i]) {
				return fmt.Errorf("optimizer slot %q size mismatch: checkpoint %d, optimizer %d",
					p.Name+"."+slot, len(data), len(bufs[i]))
			}
			copy(bufs[i], data)
		}
	}
	return nil
}
