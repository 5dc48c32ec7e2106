package model

import (
	"fmt"
	"math"
	"math/rand"
)

// LinearClassifier is softmax regression over flattened pixels: a single
// dense layer from inputDim features to numClasses logits. It is the
// baseline engine and the workhorse of the pipeline's tests.
type LinearClassifier struct {
	inputDim   int
	numClasses int

	weight *Parameter // [numClasses, inputDim]
	bias   *Parameter // [numClasses]

	// Activations retained between TrainForward and Backward.
	lastInputs []float32
	lastN      int
}

// NewLinearClassifier creates a classifier with Xavier-uniform weights drawn
// from the seeded source.
func NewLinearClassifier(inputDim, numClasses int, seed int64) (*LinearClassifier, error) {
	if inputDim <= 0 || numClasses <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d", inputDim, numClasses)
	}

	rng := rand.New(rand.NewSource(seed))
	limit := float32(math.Sqrt(6.0 / float64(inputDim+numClasses)))

	weight := &Parameter{
		Name:  "fc.weight",
		Shape: []int{numClasses, inputDim},
		Data:  make([]float32, numClasses*inputDim),
		Grad:  make([]float32, numClasses*inputDim),
	}
	for i := range weight.Data {
		weight.Data[i] = (rng.Float32()*2 - 1) * limit
	}

	bias := &Parameter{
		Name:  "fc.bias",
		Shape: []int{numClasses},
		Data:  make([]float32, numClasses),
		Grad:  make([]float32, numClasses),
	}

	return &LinearClassifier{
		inputDim:   inputDim,
		numClasses: numClasses,
		weight:     weight,
		bias:       bias,
	}, nil
}

// NumClasses returns the logit width.
func (m *LinearClassifier) NumClasses() int { return m.numClasses }

// Forward computes logits without retaining state.
func (m *LinearClassifier) Forward(inputs []float32, shape []int) ([][]float32, error) {
	n, features, err := m.checkShape(inputs, shape)
	if err != nil {
		return nil, err
	}
	return m.forward(inputs, n, features), nil
}

// TrainForward computes logits and retains the inputs for Backward.
func (m *LinearClassifier) TrainForward(inputs []float32, shape []int) ([][]float32, error) {
	n, features, err := m.checkShape(inputs, shape)
	if err != nil {
		return nil, err
	}
	m.lastInputs = inputs
	m.lastN = n
	return m.forward(inputs, n, features), nil
}

func (m *LinearClassifier) forward(inputs []float32, n, features int) [][]float32 {
	logits := make([][]float32, n)
	for i := 0; i < n; i++ {
		x := inputs[i*features : (i+1)*features]
		row := make([]float32, m.numClasses)
		for k := 0; k < m.numClasses; k++ {
			w := m.weight.Data[k*features : (k+1)*features]
			sum := m.bias.Data[k]
			for d, v := range x {
				sum += w[d] * v
			}
			row[k] = sum
		}
		logits[i] = row
	}
	return logits
}

// Backward accumulates dW += dlogit ⊗ x and db += dlogit for the retained
// batch.
func (m *LinearClassifier) Backward(gradLogits [][]float32) error {
	if m.lastInputs == nil {
		return fmt.Errorf("backward called before TrainForward")
	}
	if len(gradLogits) != m.lastN {
		return fmt.Errorf("gradient batch size %d does not match forward batch %d", len(gradLogits), m.lastN)
	}

	features := m.inputDim
	for i, g := range gradLogits {
		x := m.lastInputs[i*features : (i+1)*features]
		for k := 0; k < m.numClasses; k++ {
			gk := g[k]
			if gk == 0 {
				continue
			}
			wGrad := m.weight.Grad[k*features : (k+1)*features]
			for d, v := range x {
				wGrad[d] += gk * v
			}
			m.bias.Grad[k] += gk
		}
	}
	m.lastInputs = nil
	return nil
}

// Parameters exposes the weight and bias tensors.
func (m *LinearClassifier) Parameters() []*Parameter {
	return []*Parameter{m.weight, m.bias}
}

// ZeroGrad clears the accumulated gradients.
func (m *LinearClassifier) ZeroGrad() {
	zero(m.weight.Grad)
	zero(m.bias.Grad)
}

func (m *LinearClassifier) checkShape(inputs []float32, shape []int) (n, features int, err error) {
	n, features = batchSize(shape)
	if features != m.inputDim {
		return 0, 0, fmt.Errorf("input features %d do not match model dimension %d", features, m.inputDim)
	}
	if len(inputs) != n*features {
		return 0, 0, fmt.Errorf("input length %d does not match shape %v", len(inputs), shape)
	}
	return n, features, nil
}

func zero(s []float32) {
	for i := range s {
		s[i] = 0
	}
}
