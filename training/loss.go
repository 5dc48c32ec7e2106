package training

import "math"

// Loss computes a scalar batch loss from logits and its gradient with
// respect to the logits. Engines never see the loss; the orchestrator hands
// them the logit gradient and they propagate it.
type Loss interface {
	Name() string
	Forward(logits [][]float32, labels []int32) float64
	Backward(logits [][]float32, labels []int32) [][]float32
}

// WeightedCrossEntropy is class-weighted cross-entropy with mean reduction:
// L = sum_i w[y_i] * -log p_i[y_i] / sum_i w[y_i]. A nil weight table means
// uniform weights.
type WeightedCrossEntropy struct {
	Weights []float64
}

// NewWeightedCrossEntropy creates the loss; weights may be nil.
func NewWeightedCrossEntropy(weights []float64) *WeightedCrossEntropy {
	return &WeightedCrossEntropy{Weights: weights}
}

func (l *WeightedCrossEntropy) Name() string { return "WeightedCrossEntropy" }

func (l *WeightedCrossEntropy) weight(class int32) float64 {
	if l.Weights == nil {
		return 1
	}
	return l.Weights[class]
}

// Forward returns the weighted mean negative log-likelihood.
func (l *WeightedCrossEntropy) Forward(logits [][]float32, labels []int32) float64 {
	var total, weightSum float64
	for i, row := range logits {
		p := softmax(row)
		w := l.weight(labels[i])
		total += w * -math.Log(math.Max(p[labels[i]], 1e-12))
		weightSum += w
	}
	if weightSum == 0 {
		return 0
	}
	return total / weightSum
}

// Backward returns dL/dlogits: w[y]*(softmax - onehot) / sum of weights.
func (l *WeightedCrossEntropy) Backward(logits [][]float32, labels []int32) [][]float32 {
	var weightSum float64
	for _, y := range labels {
		weightSum += l.weight(y)
	}
	if weightSum == 0 {
		weightSum = 1
	}

	grad := make([][]float32, len(logits))
	for i, row := range logits {
		p := softmax(row)
		w := l.weight(labels[i]) / weightSum
		g := make([]float32, len(row))
		for j := range row {
			g[j] = float32(w * p[j])
		}
		g[labels[i]] -= float32(w)
		grad[i] = g
	}
	return grad
}

// FocalLoss down-weights easy examples: L = alpha[y]*(1-pt)^gamma * -log pt,
// mean-reduced over the batch. Alpha doubles as the class-weight table and
// may be nil.
type FocalLoss struct {
	Gamma float64
	Alpha []float64
}

// NewFocalLoss creates a focal loss with the given focusing parameter.
func NewFocalLoss(gamma float64, alpha []float64) *FocalLoss {
	if gamma <= 0 {
		gamma = 2
	}
	return &FocalLoss{Gamma: gamma, Alpha: alpha}
}

func (l *FocalLoss) Name() string { return "FocalLoss" }

func (l *FocalLoss) alpha(class int32) float64 {
	if l.Alpha == nil {
		return 1
	}
	return l.Alpha[class]
}

// Forward returns the mean focal loss.
func (l *FocalLoss) Forward(logits [][]float32, labels []int32) float64 {
	var total float64
	for i, row := range logits {
		p := softmax(row)
		pt := math.Max(p[labels[i]], 1e-12)
		total += l.alpha(labels[i]) * math.Pow(1-pt, l.Gamma) * -math.Log(pt)
	}
	return total / float64(len(logits))
}

// Backward returns dL/dlogits for the mean-reduced focal loss.
func (l *FocalLoss) Backward(logits [][]float32, labels []int32) [][]float32 {
	n := float64(len(logits))
	grad := make([][]float32, len(logits))
	for i, row := range logits {
		p := softmax(row)
		y := labels[i]
		pt := math.Max(p[y], 1e-12)

		// dL/dpt for L = alpha*(1-pt)^g * -ln(pt)
		dldpt := l.alpha(y) * (l.Gamma*math.Pow(1-pt, l.Gamma-1)*math.Log(pt) -
			math.Pow(1-pt, l.Gamma)/pt)

		g := make([]float32, len(row))
		for j := range row {
			// dpt/dz_j = pt * (1{j==y} - p_j)
			indicator := 0.0
			if int32(j) == y {
				indicator = 1
			}
			g[j] = float32(dldpt * pt * (indicator - p[j]) / n)
		}
		grad[i] = g
	}
	return grad
}

// softmax computes a numerically stable softmax in float64.
func softmax(logits []float32) []float64 {
	maxVal := float64(logits[0])
	for _, v := range logits[1:] {
		if float64(v) > maxVal {
			maxVal = float64(v)
		}
	}
	exp := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		exp[i] = math.Exp(float64(v) - maxVal)
		sum += exp[i]
	}
	for i := range exp {
		exp[i] /= sum
	}
	return exp
}

// Softmax exposes the stable softmax for inference-side consumers.
func Softmax(logits []float32) []float64 { return softmax(logits) }
