package checkpoints

import (
	"fmt"

	"github.com/retinalab/drgrade/model"
)

// BuildModel reconstructs a classifier from a checkpoint's weight tensors.
// The architecture is recovered from the parameter names and shapes, so a
// checkpoint is self-describing for the reference classifiers.
func BuildModel(c *Checkpoint) (model.Trainable, error) {
	if c.IsSentinel() {
		return nil, fmt.Errorf("checkpoint carries no weights")
	}

	byName := make(map[string]*WeightTensor, len(c.Weights))
	for i := range c.Weights {
		byName[c.Weights[i].Name] = &c.Weights[i]
	}

	fc, ok := byName["fc.weight"]
	if !ok || len(fc.Shape) != 2 {
		return nil, fmt.Errorf("checkpoint has no usable fc.weight tensor")
	}
	numClasses := fc.Shape[0]

	var m model.Trainable
	if hidden, ok := byName["hidden.weight"]; ok {
		if len(hidden.Shape) != 2 {
			return nil, fmt.Errorf("checkpoint has malformed hidden.weight tensor")
		}
		mlp, err := model.NewMLPClassifier(hidden.Shape[1], hidden.Shape[0], numClasses, 0)
		if err != nil {
			return nil, err
		}
		m = mlp
	} else {
		linear, err := model.NewLinearClassifier(fc.Shape[1], numClasses, 0)
		if err != nil {
			return nil, err
		}
		m = linear
	}

	if err := RestoreWeights(c.Weights, m); err != nil {
		return nil, err
	}
	return m, nil
}
