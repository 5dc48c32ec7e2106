// Package model defines the capability boundary between the training
// pipeline and whatever network actually computes logits. The orchestrator
// is architecture-agnostic: anything satisfying Trainable can be trained,
// clipped, checkpointed, and served. Reference engines (softmax regression
// and a small MLP) ship in this package so the pipeline is runnable end to
// end; heavyweight convolutional backbones plug in behind the same
// interfaces.
package model

// Parameter is one flat trainable tensor with its accumulated gradient.
// Optimizers, gradient clipping, and checkpointing all operate on this
// representation.
type Parameter struct {
	Name  string
	Shape []int
	Data  []float32
	Grad  []float32
}

// NumElements returns the flat length implied by Shape.
func (p *Parameter) NumElements() int {
	n := 1
	for _, d := range p.Shape {
		n *= d
	}
	return n
}

// Model is the inference-only capability: a forward pass from a flat NCHW
// batch to per-sample logits.
type Model interface {
	// Forward computes logits for a batch. inputs is flat data with shape
	// [n, c, h, w]; the result holds one logit vector per sample.
	Forward(inputs []float32, shape []int) ([][]float32, error)

	// NumClasses returns the width of the logit vectors.
	NumClasses() int
}

// Trainable extends Model with the backward half of a training step. The
// caller computes the loss gradient with respect to the logits; the engine
// propagates it and accumulates parameter gradients.
type Trainable interface {
	Model

	// TrainForward runs a forward pass retaining whatever activations the
	// backward pass needs.
	TrainForward(inputs []float32, shape []int) ([][]float32, error)

	// Backward consumes dL/dlogits for the most recent TrainForward batch
	// and accumulates gradients into Parameters.
	Backward(gradLogits [][]float32) error

	// Parameters exposes the trainable tensors.
	Parameters() []*Parameter

	// ZeroGrad clears accumulated gradients.
	ZeroGrad()
}

func batchSize(shape []int) (n, features int) {
	if len(shape) == 0 {
		return 0, 0
	}
	n = shape[0]
	features = 1
	for _, d := range shape[1:] {
		features *= d
	}
	return n, features
}
