package model

import (
	"fmt"
	"math"
	"math/rand"
)

// MLPClassifier is a one-hidden-layer network with ReLU activation:
// inputDim -> hidden -> numClasses. Enough capacity to learn non-linear
// structure while keeping exact, closed-form gradients.
type MLPClassifier struct {
	inputDim   int
	hiddenDim  int
	numClasses int

	w1 *Parameter // [hidden, inputDim]
	b1 *Parameter // [hidden]
	w2 *Parameter // [numClasses, hidden]
	b2 *Parameter // [numClasses]

	lastInputs []float32
	lastHidden []float32 // post-ReLU activations, [n, hidden]
	lastN      int
}

// NewMLPClassifier creates a seeded two-layer classifier.
func NewMLPClassifier(inputDim, hiddenDim, numClasses int, seed int64) (*MLPClassifier, error) {
	if inputDim <= 0 || hiddenDim <= 0 || numClasses <= 0 {
		return nil, fmt.Errorf("invalid dimensions %d/%d/%d", inputDim, hiddenDim, numClasses)
	}
	rng := rand.New(rand.NewSource(seed))

	newParam := func(name string, rows, cols int) *Parameter {
		p := &Parameter{
			Name:  name,
			Shape: []int{rows, cols},
			Data:  make([]float32, rows*cols),
			Grad:  make([]float32, rows*cols),
		}
		limit := float32(math.Sqrt(6.0 / float64(rows+cols)))
		for i := range p.Data {
			p.Data[i] = (rng.Float32()*2 - 1) * limit
		}
		return p
	}
	newBias := func(name string, n int) *Parameter {
		return &Parameter{
			Name:  name,
			Shape: []int{n},
			Data:  make([]float32, n),
			Grad:  make([]float32, n),
		}
	}

	return &MLPClassifier{
		inputDim:   inputDim,
		hiddenDim:  hiddenDim,
		numClasses: numClasses,
		w1:         newParam("hidden.weight", hiddenDim, inputDim),
		b1:         newBias("hidden.bias", hiddenDim),
		w2:         newParam("fc.weight", numClasses, hiddenDim),
		b2:         newBias("fc.bias", numClasses),
	}, nil
}

// NumClasses returns the logit width.
func (m *MLPClassifier) NumClasses() int { return m.numClasses }

// Forward computes logits without retaining state.
func (m *MLPClassifier) Forward(inputs []float32, shape []int) ([][]float32, error) {
	n, err := m.checkShape(inputs, shape)
	if err != nil {
		return nil, err
	}
	logits, _ := m.forward(inputs, n)
	return logits, nil
}

// TrainForward computes logits and retains activations for Backward.
func (m *MLPClassifier) TrainForward(inputs []float32, shape []int) ([][]float32, error) {
	n, err := m.checkShape(inputs, shape)
	if err != nil {
		return nil, err
	}
	logits, hidden := m.forward(inputs, n)
	m.lastInputs = inputs
	m.lastHidden = hidden
	m.lastN = n
	return logits, nil
}

func (m *MLPClassifier) forward(inputs []float32, n int) ([][]float32, []float32) {
	hidden := make([]float32, n*m.hiddenDim)
	logits := make([][]float32, n)

	for i := 0; i < n; i++ {
		x := inputs[i*m.inputDim : (i+1)*m.inputDim]
		h := hidden[i*m.hiddenDim : (i+1)*m.hiddenDim]
		for j := 0; j < m.hiddenDim; j++ {
			w := m.w1.Data[j*m.inputDim : (j+1)*m.inputDim]
			sum := m.b1.Data[j]
			for d, v := range x {
				sum += w[d] * v
			}
			if sum < 0 {
				sum = 0
			}
			h[j] = sum
		}

		row := make([]float32, m.numClasses)
		for k := 0; k < m.numClasses; k++ {
			w := m.w2.Data[k*m.hiddenDim : (k+1)*m.hiddenDim]
			sum := m.b2.Data[k]
			for j, v := range h {
				sum += w[j] * v
			}
			row[k] = sum
		}
		logits[i] = row
	}
	return logits, hidden
}

// Backward propagates dL/dlogits through both layers.
func (m *MLPClassifier) Backward(gradLogits [][]float32) error {
	if m.lastInputs == nil {
		return fmt.Errorf("backward called before TrainForward")
	}
	if len(gradLogits) != m.lastN {
		return fmt.Errorf("gradient batch size %d does not match forward batch %d", len(gradLogits), m.lastN)
	}

	dh := make([]float32, m.hiddenDim)
	for i, g := range gradLogits {
		x := m.lastInputs[i*m.inputDim : (i+1)*m.inputDim]
		h := m.lastHidden[i*m.hiddenDim : (i+1)*m.hiddenDim]

		// Output layer gradients and backprop into hidden.
		zero(dh)
		for k := 0; k < m.numClasses; k++ {
			gk := g[k]
			if gk == 0 {
				continue
			}
			w := m.w2.Data[k*m.hiddenDim : (k+1)*m.hiddenDim]
			wGrad := m.w2.Grad[k*m.hiddenDim : (k+1)*m.hiddenDim]
			for j, hv := range h {
				wGrad[j] += gk * hv
				dh[j] += gk * w[j]
			}
			m.b2.Grad[k] += gk
		}

		// ReLU mask, then hidden layer gradients.
		for j := 0; j < m.hiddenDim; j++ {
			if h[j] <= 0 || dh[j] == 0 {
				continue
			}
			gj := dh[j]
			wGrad := m.w1.Grad[j*m.inputDim : (j+1)*m.inputDim]
			for d, v := range x {
				wGrad[d] += gj * v
			}
			m.b1.Grad[j] += gj
		}
	}

	m.lastInputs = nil
	m.lastHidden = nil
	return nil
}

// Parameters exposes all four tensors.
func (m *MLPClassifier) Parameters() []*Parameter {
	return []*Parameter{m.w1, m.b1, m.w2, m.b2}
}

// ZeroGrad clears the accumulated gradients.
func (m *MLPClassifier) ZeroGrad() {
	for _, p := range m.Parameters() {
		zero(p.Grad)
	}
}

func (m *MLPClassifier) checkShape(inputs []float32, shape []int) (int, error) {
	n, features := batchSize(shape)
	if features != m.inputDim {
		return 0, fmt.Errorf("input features %d do not match model dimension %d", features, m.inputDim)
	}
	if len(inputs) != n*features {
		return 0, fmt.Errorf("input length %d does not match shape %v", len(inputs), shape)
	}
	return n, nil
}
