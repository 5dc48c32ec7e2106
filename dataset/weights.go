package dataset

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// ClassWeights computes inverse-frequency loss weights over the realized
// index: weight[c] = total / (NumClasses * count[c]). The product
// weight[c] * count[c] is constant across classes, so a perfectly balanced
// dataset yields all-ones. A class with zero samples is rejected here, before
// training starts, rather than surfacing as a division blowup in the first
// loss computation.
func ClassWeights(idx *Index) ([]float64, error) {
	counts := idx.ClassCounts()
	total := float64(idx.Len())

	weights := make([]float64, NumClasses)
	for c, count := range counts {
		if count == 0 {
			return nil, fmt.Errorf("%w: %s", ErrDegenerateClass, ClassNames[c])
		}
		weights[c] = total / (NumClasses * float64(count))
	}
	return weights, nil
}

// SampleWeights expands class weights to one weight per sample, normalized to
// sum to 1 for use as a sampling distribution.
func SampleWeights(idx *Index, classWeights []float64) []float64 {
	weights := make([]float64, idx.Len())
	for i := 0; i < idx.Len(); i++ {
		weights[i] = classWeights[idx.Entry(i).Class]
	}
	if sum := floats.Sum(weights); sum > 0 {
		floats.Scale(1/sum, weights)
	}
	return weights
}
